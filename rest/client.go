package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/commucat/client-go/config"
)

const userAgent = "CommuCat-Go/0.1"

var (
	// ErrInvalidServerURL indicates the base URL could not be parsed.
	ErrInvalidServerURL = errors.New("invalid server url")
)

// Client talks to the server's management endpoints.
type Client struct {
	base *url.URL
	http *http.Client
}

// New creates a client rooted at the given server URL. Any path, query or
// fragment on the URL is discarded since the API lives at fixed paths.
func New(serverURL string) (*Client, error) {
	return NewWithHTTPClient(serverURL, &http.Client{Timeout: 30 * time.Second})
}

// NewWithHTTPClient creates a client with a caller-supplied transport,
// for custom TLS roots or test servers.
func NewWithHTTPClient(serverURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidServerURL, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: missing scheme or host", ErrInvalidServerURL)
	}
	base := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host}
	return &Client{base: base, http: httpClient}, nil
}

// ServerInfo holds the public facts a client needs before connecting,
// notably the server's static Noise key.
type ServerInfo struct {
	Domain            string       `json:"domain"`
	NoisePublic       string       `json:"noise_public"`
	DeviceCAPublic    string       `json:"device_ca_public,omitempty"`
	SupportedPatterns []string     `json:"supported_patterns,omitempty"`
	SupportedVersions []uint16     `json:"supported_versions,omitempty"`
	Pairing           *PairingInfo `json:"pairing,omitempty"`
}

// PairingInfo describes the server's pairing policy.
type PairingInfo struct {
	AutoApprove    bool  `json:"auto_approve"`
	PairingTTL     int64 `json:"pairing_ttl"`
	MaxAutoDevices int64 `json:"max_auto_devices"`
}

// PairingTicket is an issued pairing code a second device can claim.
type PairingTicket struct {
	PairCode       string `json:"pair_code"`
	IssuedAt       string `json:"issued_at"`
	ExpiresAt      string `json:"expires_at"`
	TTL            int64  `json:"ttl"`
	DeviceSeed     string `json:"device_seed"`
	IssuerDeviceID string `json:"issuer_device_id,omitempty"`
}

// PairingClaim is the identity material handed to a claiming device.
type PairingClaim struct {
	DeviceID       string      `json:"device_id"`
	PrivateKey     string      `json:"private_key"`
	PublicKey      string      `json:"public_key"`
	Seed           string      `json:"seed"`
	IssuerDeviceID string      `json:"issuer_device_id"`
	User           UserSummary `json:"user"`
	DeviceName     string      `json:"device_name,omitempty"`
	DeviceCAPublic string      `json:"device_ca_public,omitempty"`
}

// UserSummary is the account the claimed device now belongs to.
type UserSummary struct {
	ID          string `json:"id"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// DeviceEntry is one device registered to the account.
type DeviceEntry struct {
	DeviceID  string `json:"device_id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	PublicKey string `json:"public_key"`
	Current   bool   `json:"current,omitempty"`
}

type pairingRequest struct {
	TTL *int64 `json:"ttl"`
}

type pairingClaimRequest struct {
	PairCode   string `json:"pair_code"`
	DeviceName string `json:"device_name,omitempty"`
}

type devicesEnvelope struct {
	Devices []DeviceEntry `json:"devices"`
}

type friendsEnvelope struct {
	Friends []config.FriendEntry `json:"friends"`
}

type deviceRevokeRequest struct {
	DeviceID string `json:"device_id"`
}

type problemDetails struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// ServerInfo fetches /api/server-info. No authentication required.
func (c *Client) ServerInfo(ctx context.Context) (*ServerInfo, error) {
	var info ServerInfo
	if err := c.call(ctx, http.MethodGet, "/api/server-info", "", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// CreatePairing asks the server to issue a pairing code. A nil ttl leaves
// the lifetime to the server's policy.
func (c *Client) CreatePairing(ctx context.Context, session string, ttl *int64) (*PairingTicket, error) {
	var ticket PairingTicket
	if err := c.call(ctx, http.MethodPost, "/api/pair", session, pairingRequest{TTL: ttl}, &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

// ClaimPairing redeems a pairing code for device credentials. It is the
// one mutating call that needs no session, since the claiming device has
// none yet.
func (c *Client) ClaimPairing(ctx context.Context, code, deviceName string) (*PairingClaim, error) {
	var claim PairingClaim
	request := pairingClaimRequest{PairCode: code, DeviceName: deviceName}
	if err := c.call(ctx, http.MethodPost, "/api/pair/claim", "", request, &claim); err != nil {
		return nil, err
	}
	return &claim, nil
}

// ListDevices fetches the devices registered to the session's account.
func (c *Client) ListDevices(ctx context.Context, session string) ([]DeviceEntry, error) {
	var envelope devicesEnvelope
	if err := c.call(ctx, http.MethodGet, "/api/devices", session, nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Devices, nil
}

// RevokeDevice invalidates a device's credentials server side.
func (c *Client) RevokeDevice(ctx context.Context, session, deviceID string) error {
	var discard json.RawMessage
	request := deviceRevokeRequest{DeviceID: deviceID}
	return c.call(ctx, http.MethodPost, "/api/devices/revoke", session, request, &discard)
}

// ListFriends fetches the account's contact list.
func (c *Client) ListFriends(ctx context.Context, session string) ([]config.FriendEntry, error) {
	var envelope friendsEnvelope
	if err := c.call(ctx, http.MethodGet, "/api/friends", session, nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Friends, nil
}

// UpdateFriends replaces the account's contact list with the given one.
func (c *Client) UpdateFriends(ctx context.Context, session string, friends []config.FriendEntry) error {
	var discard json.RawMessage
	if friends == nil {
		friends = []config.FriendEntry{}
	}
	return c.call(ctx, http.MethodPut, "/api/friends", session, friendsEnvelope{Friends: friends}, &discard)
}

// call performs one request against the API. A nil body sends no payload,
// an empty session sends no Authorization header. Non-200 responses are
// turned into errors, preferring the server's problem document when one
// is present.
func (c *Client) call(ctx context.Context, method, path, session string, body, out interface{}) error {
	endpoint := *c.base
	endpoint.Path = path

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("User-Agent", userAgent)
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if session != "" {
		request.Header.Set("Authorization", "Bearer "+session)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Client.call",
		"method":   method,
		"path":     path,
	}).Debug("api request")

	response, err := c.http.Do(request)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response for %s: %w", path, err)
	}
	if response.StatusCode != http.StatusOK {
		return apiError(path, response.StatusCode, payload)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response for %s: %w", path, err)
	}
	return nil
}

// apiError extracts a human-readable failure from an RFC 7807 problem
// document, falling back to the bare status code.
func apiError(path string, status int, payload []byte) error {
	var problem problemDetails
	if err := json.Unmarshal(payload, &problem); err == nil {
		if problem.Detail != "" {
			return fmt.Errorf("%s: %s", path, problem.Detail)
		}
		if problem.Title != "" {
			return fmt.Errorf("%s: %s", path, problem.Title)
		}
	}
	return fmt.Errorf("%s: request failed with status %d", path, status)
}
