// Package identity creates the long-term identity of this device, seals it
// under the user's passphrase and records which relay account it belongs to.
package identity
