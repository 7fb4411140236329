// Package config manages the on-disk client profile: device identity, server
// coordinates, handshake parameters, and user identity fields learned from
// the server. The profile is a single JSON file, by default at
// ~/.config/commucat/client.json, overridable with COMMUCAT_CLIENT_HOME.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/commucat/client-go/crypto"
)

// EnvHome overrides the directory holding the profile file.
const EnvHome = "COMMUCAT_CLIENT_HOME"

const profileFile = "client.json"

// ErrProfileNotFound indicates no profile file exists yet.
var ErrProfileNotFound = errors.New("profile not found")

// FriendEntry is one saved contact.
type FriendEntry struct {
	UserID string `json:"user_id"`
	Handle string `json:"handle,omitempty"`
	Alias  string `json:"alias,omitempty"`
}

// Profile is the persistent client state. The connection engine reads it for
// every connect attempt and only writes back user identity fields it learned
// during the handshake.
type Profile struct {
	DeviceID             string `json:"device_id"`
	ServerURL            string `json:"server_url"`
	Domain               string `json:"domain"`
	PrivateKey           string `json:"private_key"`
	PublicKey            string `json:"public_key"`
	NoisePattern         string `json:"noise_pattern"`
	Prologue             string `json:"prologue"`
	TLSCAPath            string `json:"tls_ca_path,omitempty"`
	ServerStatic         string `json:"server_static,omitempty"`
	Insecure             bool   `json:"insecure"`
	PresenceState        string `json:"presence_state"`
	PresenceIntervalSecs uint64 `json:"presence_interval_secs"`
	Traceparent          string `json:"traceparent,omitempty"`

	UserHandle      string `json:"user_handle,omitempty"`
	UserDisplayName string `json:"user_display_name,omitempty"`
	UserAvatarURL   string `json:"user_avatar_url,omitempty"`
	UserID          string `json:"user_id,omitempty"`

	SessionToken string `json:"session_token,omitempty"`
	DeviceName   string `json:"device_name,omitempty"`

	LastPairingCode           string `json:"last_pairing_code,omitempty"`
	LastPairingExpiresAt      string `json:"last_pairing_expires_at,omitempty"`
	LastPairingIssuerDeviceID string `json:"last_pairing_issuer_device_id,omitempty"`

	Friends []FriendEntry `json:"friends"`
}

// UserIdentity carries the user fields a server may report during the
// handshake.
type UserIdentity struct {
	ID          string
	Handle      string
	DisplayName string
	AvatarURL   string
}

// StatePath returns the location of the profile file.
func StatePath() (string, error) {
	if base := os.Getenv(EnvHome); base != "" {
		return filepath.Join(base, profileFile), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "commucat", profileFile), nil
}

// Load reads the profile from its default location and applies defaults for
// fields older profiles may lack.
func Load() (*Profile, error) {
	path, err := StatePath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads a profile from an explicit path.
func LoadFrom(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w at %s", ErrProfileNotFound, path)
		}
		return nil, fmt.Errorf("read profile: %w", err)
	}
	profile := &Profile{}
	if err := json.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}
	profile.applyDefaults()
	return profile, nil
}

// Save writes the profile to its default location, creating the directory
// when necessary.
func (p *Profile) Save() error {
	path, err := StatePath()
	if err != nil {
		return err
	}
	return p.SaveTo(path)
}

// SaveTo writes the profile to an explicit path.
func (p *Profile) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create profile directory: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize profile: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "Profile.SaveTo",
		"path":     path,
	}).Debug("profile saved")
	return nil
}

func (p *Profile) applyDefaults() {
	if p.NoisePattern == "" {
		p.NoisePattern = "XK"
	}
	if p.Prologue == "" {
		p.Prologue = "commucat"
	}
	if p.PresenceState == "" {
		p.PresenceState = "online"
	}
	if p.PresenceIntervalSecs == 0 {
		p.PresenceIntervalSecs = 30
	}
}

// DeviceKeyPair decodes the stored device keys.
func (p *Profile) DeviceKeyPair() (*crypto.KeyPair, error) {
	private, err := crypto.DecodeKey(p.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("device private key: %w", err)
	}
	public, err := crypto.DecodeKey(p.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("device public key: %w", err)
	}
	pair := &crypto.KeyPair{Private: private, Public: public}
	return pair, nil
}

// ServerStaticKey decodes the pinned server static key, if configured.
// The second return value reports whether the key is present.
func (p *Profile) ServerStaticKey() ([crypto.KeySize]byte, bool, error) {
	var key [crypto.KeySize]byte
	if p.ServerStatic == "" {
		return key, false, nil
	}
	key, err := crypto.DecodeKey(p.ServerStatic)
	if err != nil {
		return key, false, fmt.Errorf("server static key: %w", err)
	}
	return key, true, nil
}

// MergeUserIdentity folds server-reported user fields into the profile and
// reports whether anything changed. Empty fields never overwrite.
func (p *Profile) MergeUserIdentity(identity UserIdentity) bool {
	changed := false
	if identity.ID != "" && identity.ID != p.UserID {
		p.UserID = identity.ID
		changed = true
	}
	if identity.Handle != "" && identity.Handle != p.UserHandle {
		p.UserHandle = identity.Handle
		changed = true
	}
	if identity.DisplayName != "" && identity.DisplayName != p.UserDisplayName {
		p.UserDisplayName = identity.DisplayName
		changed = true
	}
	if identity.AvatarURL != "" && identity.AvatarURL != p.UserAvatarURL {
		p.UserAvatarURL = identity.AvatarURL
		changed = true
	}
	return changed
}

// UpsertFriend replaces the entry with the same user id or appends.
func (p *Profile) UpsertFriend(entry FriendEntry) {
	for i := range p.Friends {
		if p.Friends[i].UserID == entry.UserID {
			p.Friends[i] = entry
			return
		}
	}
	p.Friends = append(p.Friends, entry)
}

// RemoveFriend drops the entry with the given user id, reporting whether an
// entry was removed.
func (p *Profile) RemoveFriend(userID string) bool {
	for i := range p.Friends {
		if p.Friends[i].UserID == userID {
			p.Friends = append(p.Friends[:i], p.Friends[i+1:]...)
			return true
		}
	}
	return false
}
