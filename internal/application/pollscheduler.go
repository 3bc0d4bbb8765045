package application

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ericfisherdev/mailcode/internal/domain/model"
	"github.com/ericfisherdev/mailcode/internal/domain/port/driven"
)

// TickOutcome classifies how a poll tick ended.
type TickOutcome string

const (
	TickSkipped        TickOutcome = "skipped"
	TickAuthPending    TickOutcome = "auth-pending"
	TickNoMessages     TickOutcome = "no-messages"
	TickTransportError TickOutcome = "transport-error"
	TickNoCode         TickOutcome = "no-code"
	TickUnchanged      TickOutcome = "unchanged"
	TickUpdated        TickOutcome = "updated"
	TickFailed         TickOutcome = "error"
)

// PollScheduler fires a recurring tick while in the Polling state. Start and
// Stop are its only mutators. The first tick fires one interval after Start.
//
// Every Start bumps a generation counter; a tick that finds itself from an
// older generation does nothing, and a self-stop only applies to the
// generation that observed the missing credential.
type PollScheduler struct {
	creds    *CredentialService
	fetcher  *FetchService
	state    driven.StateStore
	interval time.Duration
	observer Observer

	mu      sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
	gen     uint64
	polling bool
	loops   sync.WaitGroup
}

// NewPollScheduler creates a stopped scheduler.
func NewPollScheduler(
	creds *CredentialService,
	fetcher *FetchService,
	state driven.StateStore,
	interval time.Duration,
	observer Observer,
) *PollScheduler {
	return &PollScheduler{
		creds:    creds,
		fetcher:  fetcher,
		state:    state,
		interval: interval,
		observer: observerOrNop(observer),
	}
}

// Run binds the scheduler to the process lifetime ctx, resumes polling if it
// was left enabled, and blocks until ctx is canceled. Shutdown stops the
// timer without clearing the persisted flag.
func (s *PollScheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	enabled, err := s.state.PollingEnabled(ctx)
	if err != nil {
		slog.Error("failed to read polling state", "error", err)
	}
	if enabled {
		slog.Info("resuming polling", "interval", s.interval)
		s.startTimer()
	}

	<-ctx.Done()

	s.mu.Lock()
	s.stopTimerLocked()
	s.mu.Unlock()
	s.loops.Wait()
	slog.Info("poll scheduler stopped")
}

// Start enters the Polling state. Calling Start while polling replaces the
// timer instead of adding a second one.
func (s *PollScheduler) Start(ctx context.Context) {
	s.startTimer()
	if err := s.state.SetPollingEnabled(ctx, true); err != nil {
		slog.Error("failed to persist polling state", "enabled", true, "error", err)
	}
	slog.Info("polling started", "interval", s.interval)
}

// Stop enters the Stopped state. An in-flight tick runs to completion.
func (s *PollScheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	s.stopTimerLocked()
	s.mu.Unlock()

	if err := s.state.SetPollingEnabled(ctx, false); err != nil {
		slog.Error("failed to persist polling state", "enabled", false, "error", err)
	}
	slog.Info("polling stopped")
}

// State reports the current scheduler state.
func (s *PollScheduler) State() model.SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.polling {
		return model.SchedulerPolling
	}
	return model.SchedulerStopped
}

// Tick runs one tick immediately in the current generation. It returns
// TickSkipped when the scheduler is stopped.
func (s *PollScheduler) Tick(ctx context.Context) TickOutcome {
	s.mu.Lock()
	gen, polling := s.gen, s.polling
	s.mu.Unlock()
	if !polling {
		return TickSkipped
	}
	return s.tick(ctx, gen)
}

func (s *PollScheduler) startTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopTimerLocked()
	s.gen++
	s.polling = true

	base := s.baseCtx
	if base == nil {
		base = context.Background()
	}
	loopCtx, cancel := context.WithCancel(base)
	s.cancel = cancel

	s.loops.Add(1)
	go s.loop(loopCtx, base, s.gen)
}

// stopTimerLocked cancels the current timer. Caller holds s.mu.
func (s *PollScheduler) stopTimerLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	s.polling = false
}

// loop fires ticks until loopCtx is canceled. Ticks run on tickCtx so
// stopping the timer never cancels a tick mid-flight.
func (s *PollScheduler) loop(loopCtx, tickCtx context.Context, gen uint64) {
	defer s.loops.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-loopCtx.Done():
			return
		case <-ticker.C:
			s.tick(tickCtx, gen)
		}
	}
}

func (s *PollScheduler) tick(ctx context.Context, gen uint64) TickOutcome {
	if !s.current(gen) {
		return TickSkipped
	}

	start := time.Now()
	outcome := s.runTick(ctx, gen)
	elapsed := time.Since(start)

	s.observer.ObserveTick(string(outcome), elapsed)
	slog.Info("poll tick complete",
		"outcome", string(outcome),
		"duration", elapsed.Round(time.Millisecond),
	)
	return outcome
}

func (s *PollScheduler) runTick(ctx context.Context, gen uint64) TickOutcome {
	cred, err := s.creds.Resolve(ctx)
	if err != nil {
		slog.Error("credential lookup failed", "error", err)
		return TickFailed
	}
	if cred == nil {
		s.selfStop(ctx, gen)
		return TickAuthPending
	}

	res, err := s.fetcher.FetchLatest(ctx, *cred)
	if err != nil {
		if driven.IsUnauthorized(err) {
			if ierr := s.creds.Invalidate(ctx); ierr != nil {
				slog.Error("failed to invalidate rejected credential", "error", ierr)
			}
		}
		if driven.IsTransportError(err) {
			slog.Warn("mail provider request failed", "error", err)
			return TickTransportError
		}
		slog.Error("poll tick failed", "error", err)
		return TickFailed
	}

	switch {
	case res.Messages == 0:
		return TickNoMessages
	case !res.Found:
		return TickNoCode
	case res.Updated:
		return TickUpdated
	default:
		return TickUnchanged
	}
}

// selfStop leaves the Polling state when no credential is available, unless
// a newer Start already replaced the generation that observed it.
func (s *PollScheduler) selfStop(ctx context.Context, gen uint64) {
	s.mu.Lock()
	if gen != s.gen || !s.polling {
		s.mu.Unlock()
		return
	}
	s.stopTimerLocked()
	s.mu.Unlock()

	if err := s.state.SetPollingEnabled(ctx, false); err != nil {
		slog.Error("failed to persist polling state", "enabled", false, "error", err)
	}
	slog.Info("polling stopped: no credential available", "service", s.creds.ServiceID())
}

func (s *PollScheduler) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polling && gen == s.gen
}
