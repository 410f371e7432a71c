package types

// DecryptOutcome is the result of one decrypt attempt. It is one of
// Plaintext, RecoveryNeeded or Failed.
type DecryptOutcome interface {
	isDecryptOutcome()
}

// Plaintext is a successful decrypt.
type Plaintext []byte

// RecoveryNeeded reports that the peer re-initiated a handshake on a
// conversation that already has history. Decrypting it as-is would
// desynchronise the ratchet.
type RecoveryNeeded struct{}

// Failed is a decrypt that could not produce plaintext.
type Failed struct {
	Reason error
}

func (Plaintext) isDecryptOutcome()      {}
func (RecoveryNeeded) isDecryptOutcome() {}
func (Failed) isDecryptOutcome()         {}
