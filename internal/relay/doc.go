// Package relay implements domain.Transport over a websocket and ships a
// small in-memory relay server for development and tests.
//
// Every exchange is a JSON frame. A request carries an id, an event name and
// its arguments; the answer echoes the id with "ack": true and a result or
// an error string. Either side may send requests: the client asks the relay
// to store keys, hand out bundles and route envelopes, and the relay pushes
// inComingMessage and bundleRequirement to the client.
//
// The relay answers getPreKeyBundle with null when the device has not
// published an identity and a signed prekey; Client turns that into
// domain.ErrBundleNotFound. Each bundle handed out consumes one one-time
// prekey. A routed envelope is pushed live when the recipient is online and
// parked in its mailbox otherwise, or when the recipient answers
// isProcessed=false.
package relay
