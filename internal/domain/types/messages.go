package types

import "time"

// CipherType tells the receiver how to open a ciphertext.
type CipherType int

const (
	// CipherStandard is a message on an established ratchet.
	CipherStandard CipherType = 2
	// CipherPreKey carries the X3DH handshake material alongside the ratchet
	// message.
	CipherPreKey CipherType = 3
)

// String implements fmt.Stringer.
func (t CipherType) String() string {
	switch t {
	case CipherStandard:
		return "STANDARD"
	case CipherPreKey:
		return "PREKEY"
	default:
		return "UNKNOWN"
	}
}

// CipherMessage is the engine's output for one address.
type CipherMessage struct {
	Type    CipherType `json:"type"`
	Payload []byte     `json:"cipher"`
}

// MessageType is the application-level kind of an envelope.
type MessageType int

const (
	MessageText  MessageType = 0
	MessageImage MessageType = 1
	// MessageEmpty is the recovery message. It carries no user content and is
	// never persisted.
	MessageEmpty MessageType = 2
)

// String implements fmt.Stringer.
func (t MessageType) String() string {
	switch t {
	case MessageText:
		return "TEXT"
	case MessageImage:
		return "IMAGE"
	case MessageEmpty:
		return "EMPTY"
	default:
		return "UNKNOWN"
	}
}

// FileInfo describes an attachment carried by an IMAGE message.
type FileInfo struct {
	Name     string `json:"fileName"`
	MIMEType string `json:"fileType"`
	Size     int64  `json:"fileSize"`
}

// Envelope is the wire message exchanged through the relay.
type Envelope struct {
	Data      CipherMessage `json:"data"`
	Type      MessageType   `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	FileInfo  *FileInfo     `json:"fileInfo,omitempty"`
}

// Mail is an envelope the relay held while this device was offline.
type Mail struct {
	Sender  Address  `json:"sender"`
	Message Envelope `json:"message"`
}

// HeldMail is a mail drained from the relay and kept locally until it has
// been processed.
type HeldMail struct {
	ID   int64
	Mail Mail
}

// SendResult is the relay's verdict on one outgoing message. Failed mirrors
// the relay's FAILED marker; otherwise SentAt is set.
type SendResult struct {
	SentAt time.Time `json:"sentAt"`
	Failed bool      `json:"failed"`
}

// Sent reports whether the relay acknowledged the message as sent.
func (r SendResult) Sent() bool { return !r.Failed && !r.SentAt.IsZero() }

// IncomingAck answers an inComingMessage push.
type IncomingAck struct {
	IsProcessed bool `json:"isProcessed"`
}
