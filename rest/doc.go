// Package rest implements the management API client: server discovery,
// device pairing, device and friend administration. These endpoints sit
// next to the CCP-1 stream on the same server but speak plain JSON over
// HTTPS, authenticated with the session token issued during the handshake.
package rest
