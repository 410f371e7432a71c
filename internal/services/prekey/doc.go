// Package prekey keeps the relay stocked with this device's key material.
//
// When the relay reports a KeyBundleRequirement the Provisioner generates the
// missing identity key, signed prekey or batch of one-time prekeys through the
// session engine and uploads each kind. Callers treat any error as fatal for
// the connection: a relay that advertises keys this device cannot answer
// breaks every future session.
package prekey
