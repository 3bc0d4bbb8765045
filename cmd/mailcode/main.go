package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/mailcode/internal/application"
	"github.com/ericfisherdev/mailcode/internal/config"
	"github.com/ericfisherdev/mailcode/internal/contract"
	"github.com/ericfisherdev/mailcode/internal/domain/model"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "mailcode",
	Short:         "Watch a mailbox for verification codes",
	Long:          "mailcode polls a mailbox for one-time verification codes and pushes the latest code to connected popup and overlay clients.",
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordinator and its HTTP and WebSocket API",
	RunE:  runServe,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize mailbox access interactively",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOneShot(cmd, model.InboundMessage{Action: model.ActionAcquireCredential})
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch the latest verification code once using the stored credential",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOneShot(cmd, model.InboundMessage{Action: model.ActionFetchNow})
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke the stored credential and forget the latest code",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOneShot(cmd, model.InboundMessage{Action: model.ActionRevokeCredential})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file path (YAML)")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		slog.Warn("failed to bind config flag", "error", err)
	}
	if err := viper.BindEnv("config", "MAILCODE_CONFIG"); err != nil {
		slog.Warn("failed to bind config env", "error", err)
	}

	rootCmd.AddCommand(serveCmd, loginCmd, fetchCmd, revokeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration and installs the configured default logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	slog.SetDefault(newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat))
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	// 1. Load configuration (fail fast on invalid values).
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"poll_interval", cfg.PollInterval,
		"provider", cfg.Provider,
		"credential_backend", cfg.CredentialBackend,
		"notifier", cfg.Notifier,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Wire storage, adapters and services.
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// 4. Run the poll scheduler for the process lifetime.
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		a.scheduler.Run(ctx)
	}()

	// 5. Serve the API.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.httpHandler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	slog.Info("mailcode started",
		"listen_addr", cfg.ListenAddr,
		"service", cfg.ServiceID,
	)

	// 6. Wait for shutdown signal or a server failure.
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		slog.Error("http server error", "error", err)
		stop()
	}
	slog.Info("shutting down")

	// 7. Graceful shutdown with 10s timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	<-schedulerDone

	slog.Info("shutdown complete")
	return nil
}

// runOneShot wires the coordinator, handles a single message and prints its
// reply as JSON.
func runOneShot(cmd *cobra.Command, msg model.InboundMessage) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	reply, ok := a.router.Handle(ctx, msg)
	if !ok {
		return nil
	}

	out, err := json.MarshalIndent(contract.ReplyData(reply), "", "  ")
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if e, isErr := reply.(application.ErrorReply); isErr {
		return errors.New(e.Error)
	}
	return nil
}
