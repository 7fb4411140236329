// Package crypto implements the key material handling for CommuCat device
// identities: Curve25519 key pairs and the hex encoding used for keys on the
// wire and in the profile file.
//
// Example:
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Public key:", crypto.EncodeKey(keys.Public))
package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// KeySize is the length of Curve25519 public and private keys.
const KeySize = 32

// KeyPair is a Curve25519 device key pair.
type KeyPair struct {
	Public  [KeySize]byte
	Private [KeySize]byte
}

// GenerateKeyPair creates a new random Curve25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	publicKey, privateKey, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}
	return &KeyPair{Public: *publicKey, Private: *privateKey}, nil
}

// FromSecretKey derives the full key pair from an existing private key.
func FromSecretKey(secretKey [KeySize]byte) (*KeyPair, error) {
	if isZeroKey(secretKey) {
		return nil, errors.New("invalid secret key: all zeros")
	}
	public, err := curve25519.X25519(secretKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	pair := &KeyPair{Private: secretKey}
	copy(pair.Public[:], public)
	return pair, nil
}

// EncodeKey returns the lowercase hex form of a key.
func EncodeKey(key [KeySize]byte) string {
	return hex.EncodeToString(key[:])
}

// DecodeKey parses a hex-encoded 32-byte key.
func DecodeKey(input string) ([KeySize]byte, error) {
	var key [KeySize]byte
	raw, err := hex.DecodeString(input)
	if err != nil {
		return key, fmt.Errorf("decode key: %w", err)
	}
	if len(raw) != KeySize {
		return key, fmt.Errorf("expected %d key bytes, got %d", KeySize, len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// ZeroBytes overwrites the slice with zeros. Used to wipe copies of private
// key material once they are no longer needed.
func ZeroBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

func isZeroKey(key [KeySize]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
