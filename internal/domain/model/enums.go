package model

// Action identifies an inbound request on the coordinator's message channel.
type Action string

const (
	ActionFetchNow           Action = "fetch-now"
	ActionAcquireCredential  Action = "acquire-credential"
	ActionStartPolling       Action = "start-polling"
	ActionStopPolling        Action = "stop-polling"
	ActionResetIndicator     Action = "reset-indicator"
	ActionRevokeCredential   Action = "revoke-credential"
	ActionMarkShown          Action = "mark-shown"
	ActionNotificationAction Action = "notification-action"
)

// BroadcastAction identifies an unsolicited message sent to every subscriber.
type BroadcastAction string

const (
	BroadcastRecordUpdated BroadcastAction = "record-updated"
	BroadcastCopyRequested BroadcastAction = "copy-requested"
	BroadcastBadgeUpdated  BroadcastAction = "badge-updated"
	BroadcastOpenPopup     BroadcastAction = "open-popup"
)

// NotificationAction is a user action raised from a desktop or push notification.
type NotificationAction string

const (
	NotificationActionCopy     NotificationAction = "copy"
	NotificationActionActivate NotificationAction = "activate"
)

// NotificationPermission is the host's permission level for desktop notifications.
type NotificationPermission string

const (
	PermissionUndetermined NotificationPermission = "default"
	PermissionGranted      NotificationPermission = "granted"
	PermissionDenied       NotificationPermission = "denied"
)

// SchedulerState is the state of the poll scheduler.
type SchedulerState string

const (
	SchedulerStopped SchedulerState = "stopped"
	SchedulerPolling SchedulerState = "polling"
)
