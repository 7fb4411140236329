// Package transport bootstraps the secure multiplexed connection to a
// CommuCat server: URL validation, DNS resolution, per-candidate TCP
// dialing, TLS with ALPN negotiation, and the HTTP/2 application connection
// with its background driver goroutine.
//
// The package knows nothing about frames or handshakes; it hands the engine
// a bidirectional byte stream over a single POST request.
package transport
