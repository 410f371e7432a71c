// Package delivery sends one logical message to every device of a recipient.
//
// Delivery follows at-least-one-device semantics: the message counts as
// delivered once any device's copy was confirmed by the relay.
package delivery
