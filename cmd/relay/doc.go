// Package main runs the in-memory websocket relay used by ciphersync during
// development and tests.
//
// Endpoints
//
//	GET /ws?name={handle}&deviceId={n}&registrationId={n}
//	    Upgrade to a websocket for one device. Frames are JSON requests
//	    {"id","event","args"} answered by {"id","ack":true,"result"|"error"}.
//
//	GET /metrics
//	    Prometheus metrics (online connections, mailbox and push counters).
//
// Behaviour
//
//   - All state is held in memory and lost on process exit.
//   - A device that connects without an identity, a signed prekey or enough
//     one-time prekeys is sent a bundleRequirement push.
//   - Each getPreKeyBundle consumes one one-time prekey of the target device.
//   - outGoingMessage is pushed live when the recipient is online and answers
//     isProcessed=true; otherwise it waits in the recipient's mailbox until the
//     next checkMailbox, which drains it.
//
// The relay never sees plaintext or private keys; it only stores ciphertext
// and public key material.
package main
