// Package app wires application dependencies for the CLI.
//
// Config is resolved through viper. NewWire builds the file stores, the
// SQLite message database and the session engine from it. Connect dials the
// relay and builds the core services on top of the connection: the
// provisioner answers bundleRequirement pushes, the inbound path answers
// inComingMessage pushes and OnConnect runs the resend and mailbox passes
// side by side. Run keeps a connection alive across drops.
package app
