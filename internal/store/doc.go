// Package store implements the domain key-material stores as JSON files
// under the client's home directory. Each store guards its files with its own
// mutex and replaces them atomically.
//
// The identity file is sealed with a key derived from the passphrase.
// Message history lives in the sqlite-backed messagedb subpackage.
package store
