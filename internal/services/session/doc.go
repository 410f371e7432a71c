// Package session keeps sessions in place for every device of a recipient.
//
// It fetches device lists and prekey bundles from the relay and hands bundles
// to the session engine, one address at a time under the shared address lock.
package session
