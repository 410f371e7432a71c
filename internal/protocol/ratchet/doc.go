// Package ratchet is the Double Ratchet that carries a session after X3DH.
//
// A RatchetState holds a root key plus a sending and a receiving chain. Each
// message advances its chain, and a new ratchet key from the peer turns the
// root. Keys for messages that arrive out of order are kept in a bounded map.
//
// RatchetState is a plain value and is not safe for concurrent use; the
// engine serialises access per address.
package ratchet
