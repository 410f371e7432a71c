// Package resend retries unconfirmed outgoing messages after a reconnect.
package resend
