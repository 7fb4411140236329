package transport

import (
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ErrSchemeNotSupported is returned for any server URL scheme but https.
var ErrSchemeNotSupported = errors.New("only https is supported")

// Endpoint is a validated server address.
type Endpoint struct {
	// Host is the DNS name or IP literal to resolve and dial.
	Host string
	// Port is the TCP port, defaulted to 443.
	Port string
	// Authority is the host[:port] used in the request URI.
	Authority string
	// Path is the request path and query; "/connect" unless the URL names
	// a different non-root path.
	Path string
}

// ParseServerURL validates a server URL from the profile.
func ParseServerURL(raw string) (*Endpoint, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w, got %q", ErrSchemeNotSupported, parsed.Scheme)
	}
	host := parsed.Hostname()
	if host == "" {
		return nil, errors.New("server url host missing")
	}
	port := parsed.Port()
	if port == "" {
		port = "443"
	}
	path := parsed.RequestURI()
	if path == "" || path == "/" {
		path = "/connect"
	}
	return &Endpoint{
		Host:      host,
		Port:      port,
		Authority: parsed.Host,
		Path:      path,
	}, nil
}

// Address returns the host:port dial target.
func (e *Endpoint) Address() string {
	return net.JoinHostPort(e.Host, e.Port)
}

// RequestURL returns the absolute URL for the connect request.
func (e *Endpoint) RequestURL() string {
	return "https://" + e.Authority + e.Path
}
