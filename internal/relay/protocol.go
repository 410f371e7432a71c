package relay

import (
	"encoding/json"

	"ciphersync/internal/domain"
)

// Events exchanged with the relay. Client requests first, server pushes last.
const (
	EventCheckMailbox       = "checkMailbox"
	EventUploadIdentityKey  = "uploadIdentityKey"
	EventUploadSignedPreKey = "uploadSignedPreKey"
	EventUploadPreKeys      = "uploadPreKeys"
	EventGetAddresses       = "getAddresses"
	EventGetPreKeyBundle    = "getPreKeyBundle"
	EventOutGoingMessage    = "outGoingMessage"
	EventAcknowledgeReceipt = "acknowledgeReceipt"

	EventInComingMessage   = "inComingMessage"
	EventBundleRequirement = "bundleRequirement"
)

// Query parameters of the websocket endpoint.
const (
	paramName           = "name"
	paramDeviceID       = "deviceId"
	paramRegistrationID = "registrationId"
)

// frame is a request when Event is set and an answer when Ack is set.
type frame struct {
	ID     uint64          `json:"id"`
	Event  string          `json:"event,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
	Ack    bool            `json:"ack,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type handleArgs struct {
	Name domain.Handle `json:"name"`
}

type outGoingArgs struct {
	From    domain.Address  `json:"from"`
	To      domain.Address  `json:"to"`
	Message domain.Envelope `json:"message"`
}

type inComingArgs struct {
	Sender  domain.Address  `json:"sender"`
	Message domain.Envelope `json:"message"`
}
