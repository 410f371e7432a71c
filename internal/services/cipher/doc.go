// Package cipher is the single entry point for encrypting to and decrypting
// from one address.
//
// Every engine call runs under the per-address lock. When a peer
// re-initiates a handshake on a conversation that already has history, the
// gateway does not decrypt straight away: it sends one EMPTY message back so
// the peer's next messages are framed against the reset session, then
// decrypts the original message again without the history check.
package cipher
