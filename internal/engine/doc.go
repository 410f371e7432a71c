// Package engine is the concrete session engine. Sessions are bootstrapped
// with X3DH, carried by the Double Ratchet and persisted in the file stores.
//
// Every CipherMessage payload is a JSON RatchetFrame. An initiator keeps
// sending PREKEY-typed frames that carry the handshake until the first reply
// from the peer decrypts; the responder recognises retransmitted handshakes by
// their ephemeral key and keeps using the session it already built.
//
// The engine is not safe for concurrent use on the same address. Callers
// serialise per address (see internal/util/addrlock).
package engine
