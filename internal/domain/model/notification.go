package model

// Badge is the visible indicator shown on the extension icon.
type Badge struct {
	Text  string
	Color string
}

var (
	BadgeNew     = Badge{Text: "NEW", Color: "#4caf50"}
	BadgeOff     = Badge{Text: "OFF", Color: "#9e9e9e"}
	BadgeCleared = Badge{}
)

// Notification is a desktop or push notification raised for a new code.
type Notification struct {
	ID      string
	Title   string
	Body    string
	Code    string
	Actions []NotificationAction
}

// InboundMessage is one request received on the message channel. Only the
// field matching Action is populated.
type InboundMessage struct {
	Action Action

	// MarkShown payload.
	Code string

	// NotificationAction payload.
	NotificationID     string
	NotificationAction NotificationAction
}

// Broadcast is an unsolicited state-change message fanned out to every
// subscribed context. Only the fields matching Action are populated.
type Broadcast struct {
	Action BroadcastAction
	Record *VerificationRecord
	Code   string
	Badge  *Badge
}
