// Package domain is the shared vocabulary of ciphersync: addresses, key
// bundles, envelopes, stored messages and the decrypt outcome, the contracts
// between services and the adapters behind them, and the sentinel errors
// matched with errors.Is.
//
// Types live in domain/types and interfaces in domain/interfaces; this
// package re-exports both so callers import a single path.
package domain
