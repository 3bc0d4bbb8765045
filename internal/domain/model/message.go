package model

import "time"

// MessageRef identifies a message returned by a mailbox search.
type MessageRef struct {
	ID       string
	ThreadID string
}

// MessagePart is one node of a message's MIME tree. Data holds the part's
// payload exactly as the provider delivered it (base64url for Gmail); decoding
// is left to the consumer so a malformed part can be skipped on its own.
type MessagePart struct {
	MimeType string
	Filename string
	Data     string
	Parts    []MessagePart
}

// MessageBody is a fully fetched message: the provider's plain-text snippet,
// the provider-reported sent time, and the MIME tree.
type MessageBody struct {
	ID      string
	Snippet string
	SentAt  time.Time
	Payload *MessagePart
}
