// Package mailbox processes inbound mail: the store-and-forward backlog
// drained at connect (Reconciler) and live pushes (Inbound).
package mailbox
