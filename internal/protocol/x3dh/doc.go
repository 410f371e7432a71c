// Package x3dh derives the initial root key of a session from a published
// prekey bundle.
//
// The initiator verifies the signed prekey, draws an ephemeral key and hashes
// DH(IKa, SPKb), DH(EKa, IKb), DH(EKa, SPKb) and, when the bundle carried one,
// DH(EKa, OPKb). The responder recomputes the same transcript from the
// PreKeyMessage, consuming the named one-time prekey.
//
// ErrBadSPK reports a signed prekey whose signature does not verify, and
// ErrLowOrderKey a degenerate peer key.
package x3dh
