package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
)

// Dialer bootstraps TCP, TLS, and the HTTP/2 application connection.
type Dialer struct {
	// CAPath optionally points at a PEM file replacing the platform trust
	// roots.
	CAPath string
	// Insecure disables all certificate verification. Development only.
	Insecure bool
}

// Dial resolves the endpoint, connects to the first reachable candidate
// address, performs the TLS and HTTP/2 handshakes, and starts the
// connection driver. Cancelling ctx aborts the attempt and, later, tears
// the whole connection down.
func (d *Dialer) Dial(ctx context.Context, endpoint *Endpoint) (*Session, error) {
	addrs, err := net.DefaultResolver.LookupHost(ctx, endpoint.Host)
	if err != nil {
		return nil, fmt.Errorf("dns lookup failed: %w", err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no address for server %s", endpoint.Host)
	}

	tcp, err := dialCandidates(ctx, addrs, endpoint.Port)
	if err != nil {
		return nil, err
	}

	tlsConfig, err := d.tlsConfig(endpoint.Host)
	if err != nil {
		tcp.Close()
		return nil, err
	}
	tlsConn := tls.Client(tcp, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		tcp.Close()
		return nil, fmt.Errorf("tls connect failed: %w", err)
	}

	h2 := &http2.Transport{}
	clientConn, err := h2.NewClientConn(tlsConn)
	if err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("h2 handshake failed: %w", err)
	}

	session := &Session{conn: tlsConn, clientConn: clientConn}
	go session.runDriver(ctx)
	return session, nil
}

// HTTPClient returns a plain HTTPS client with the dialer's trust
// settings, for the management API living beside the stream.
func (d *Dialer) HTTPClient() (*http.Client, error) {
	cfg, err := d.tlsConfig("")
	if err != nil {
		return nil, err
	}
	cfg.ServerName = ""
	cfg.NextProtos = nil
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig:   cfg,
			ForceAttemptHTTP2: true,
		},
	}, nil
}

// dialCandidates attempts a TCP connection to every resolved address in
// order and keeps the first that succeeds, with Nagle buffering disabled.
func dialCandidates(ctx context.Context, addrs []string, port string) (net.Conn, error) {
	var lastErr error
	dialer := &net.Dialer{}
	for _, addr := range addrs {
		target := net.JoinHostPort(addr, port)
		conn, err := dialer.DialContext(ctx, "tcp", target)
		if err != nil {
			lastErr = err
			logrus.WithFields(logrus.Fields{
				"function": "dialCandidates",
				"target":   target,
				"error":    err.Error(),
			}).Debug("connect attempt failed")
			continue
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			tcp.SetNoDelay(true)
		}
		logrus.WithFields(logrus.Fields{
			"function": "dialCandidates",
			"target":   target,
		}).Debug("connected")
		return conn, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("all sockets failed")
	}
	return nil, fmt.Errorf("tcp connect failed: %w", lastErr)
}

// tlsConfig builds the client TLS configuration: the multiplexed protocol
// is offered first with a single-stream fallback behind it.
func (d *Dialer) tlsConfig(serverName string) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName: serverName,
		NextProtos: []string{"h2", "http/1.1"},
	}
	if d.CAPath != "" {
		pem, err := os.ReadFile(d.CAPath)
		if err != nil {
			return nil, fmt.Errorf("open tls ca: %w", err)
		}
		roots := x509.NewCertPool()
		if !roots.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates loaded from %s", d.CAPath)
		}
		cfg.RootCAs = roots
	}
	if d.Insecure {
		// Accept any certificate and signature. Explicitly unsafe; meant
		// for development against self-signed deployments.
		cfg.InsecureSkipVerify = true
	}
	return cfg, nil
}
