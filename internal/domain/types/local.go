package types

import "time"

// Owner says who wrote a local message.
type Owner string

const (
	OwnerSelf    Owner = "SELF"
	OwnerPartner Owner = "PARTNER"
)

// MessageState is the delivery state of a local message.
type MessageState string

const (
	// StateSending marks messages not yet confirmed on any recipient device.
	StateSending  MessageState = "SENDING"
	StateSent     MessageState = "SENT"
	StateReceived MessageState = "RECEIVED"
	// StateUnknown is used for inbound messages; this client never "sent" them.
	StateUnknown MessageState = "UNKNOWN"
)

// MessageID is the local row id of a stored message.
type MessageID int64

// LocalMessage is one entry of a conversation's history.
type LocalMessage struct {
	ID        MessageID    `json:"id"`
	Owner     Owner        `json:"owner"`
	Data      []byte       `json:"data"`
	Type      MessageType  `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	FileInfo  *FileInfo    `json:"fileInfo,omitempty"`
	State     MessageState `json:"state"`
	Attempts  int          `json:"attempts"`
}

// PendingMessage pairs a stored message with its conversation's handle.
type PendingMessage struct {
	Handle  Handle       `json:"handle"`
	Message LocalMessage `json:"message"`
}
