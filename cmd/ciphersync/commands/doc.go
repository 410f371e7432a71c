// Package commands defines the ciphersync CLI.
//
// Commands
//
//   - init         Create the identity and register this device's address
//   - fingerprint  Print the identity fingerprint and address
//   - connect      Stay online: publish keys on demand, receive pushes,
//     resend pending messages and drain the mailbox on every reconnect
//   - send         Encrypt and send a text or image to every device of a handle
//   - history      Show a stored conversation
//   - pending      List messages still waiting for a device to confirm
//
// # Configuration
//
// Settings come from flags, CIPHERSYNC_* environment variables and an
// optional YAML file (--config, default ~/.ciphersync/config.yaml), in that
// order of precedence. Keys mirror app.Config, for example relay.url or
// resend.max_attempts.
package commands
