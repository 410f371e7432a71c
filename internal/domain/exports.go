package domain

import (
	interfaces "ciphersync/internal/domain/interfaces"
	types "ciphersync/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	Handle               = types.Handle
	DeviceID             = types.DeviceID
	Address              = types.Address
	Fingerprint          = types.Fingerprint
	RegistrationID       = types.RegistrationID
	AccountProfile       = types.AccountProfile
	Identity             = types.Identity
	IdentityKey          = types.IdentityKey
	SignedPreKeyID       = types.SignedPreKeyID
	OneTimePreKeyID      = types.OneTimePreKeyID
	SignedPreKey         = types.SignedPreKey
	OneTimePreKey        = types.OneTimePreKey
	OneTimePreKeyPair    = types.OneTimePreKeyPair
	KeyBundleRequirement = types.KeyBundleRequirement
	PreKeyBundle         = types.PreKeyBundle
	PreKeyMessage        = types.PreKeyMessage
	CipherType           = types.CipherType
	CipherMessage        = types.CipherMessage
	MessageType          = types.MessageType
	FileInfo             = types.FileInfo
	Envelope             = types.Envelope
	Mail                 = types.Mail
	HeldMail             = types.HeldMail
	SendResult           = types.SendResult
	IncomingAck          = types.IncomingAck
	Owner                = types.Owner
	MessageState         = types.MessageState
	MessageID            = types.MessageID
	LocalMessage         = types.LocalMessage
	PendingMessage       = types.PendingMessage
	RatchetHeader        = types.RatchetHeader
	RatchetState         = types.RatchetState
	RatchetFrame         = types.RatchetFrame
	SessionRecord        = types.SessionRecord
	DecryptOutcome       = types.DecryptOutcome
	Plaintext            = types.Plaintext
	RecoveryNeeded       = types.RecoveryNeeded
	Failed               = types.Failed
	X25519Public         = types.X25519Public
	X25519Private        = types.X25519Private
	Ed25519Public        = types.Ed25519Public
	Ed25519Private       = types.Ed25519Private
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	IdentityService     = interfaces.IdentityService
	Provisioner         = interfaces.Provisioner
	SessionSynchronizer = interfaces.SessionSynchronizer
	CipherGateway       = interfaces.CipherGateway
	Sender              = interfaces.Sender
	DeliveryOutcome     = interfaces.DeliveryOutcome
	AddressResult       = interfaces.AddressResult
	Transport           = interfaces.Transport
	SessionEngine       = interfaces.SessionEngine
	MessageStore        = interfaces.MessageStore
	MailBacklog         = interfaces.MailBacklog
	IdentityStore       = interfaces.IdentityStore
	PreKeyStore         = interfaces.PreKeyStore
	SessionStore        = interfaces.SessionStore
	AccountStore        = interfaces.AccountStore
)

// Re-exported enum values.
const (
	CipherStandard = types.CipherStandard
	CipherPreKey   = types.CipherPreKey

	MessageText  = types.MessageText
	MessageImage = types.MessageImage
	MessageEmpty = types.MessageEmpty

	OwnerSelf    = types.OwnerSelf
	OwnerPartner = types.OwnerPartner

	StateSending  = types.StateSending
	StateSent     = types.StateSent
	StateReceived = types.StateReceived
	StateUnknown  = types.StateUnknown
)

// NewAddress builds an Address.
func NewAddress(handle Handle, device DeviceID) Address {
	return types.NewAddress(handle, device)
}
