// Package crypto wraps the curve primitives the protocol packages build on:
// X25519 agreement, Ed25519 signatures, identity fingerprints and random
// registration ids. Keys travel as the fixed-size arrays from internal/domain.
package crypto
