package hashlock

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// Size is the byte length of both the secret and its digest
const Size = 32

// Secret is the preimage that unlocks both escrows of a swap.
// It prints as [redacted]; use Hex when it must go into a claim transaction.
type Secret [Size]byte

// Hash is the SHA-256 digest of a Secret
type Hash [Size]byte

// GenerateSecret draws a fresh secret from the system CSPRNG
func GenerateSecret() (Secret, error) {
	var s Secret
	if _, err := rand.Read(s[:]); err != nil {
		return Secret{}, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return s, nil
}

// Generate returns a fresh secret together with its hashlock
func Generate() (Secret, Hash, error) {
	s, err := GenerateSecret()
	if err != nil {
		return Secret{}, Hash{}, err
	}
	return s, Digest(s), nil
}

// Digest computes the hashlock committed to on both chains
func Digest(s Secret) Hash {
	return sha256.Sum256(s[:])
}

// Verify reports whether secret is the preimage of hashlock.
// Wrong length or wrong preimage yield false.
func Verify(secret []byte, hashlock Hash) bool {
	if len(secret) != Size {
		return false
	}
	sum := sha256.Sum256(secret)
	return subtle.ConstantTimeCompare(sum[:], hashlock[:]) == 1
}

// Hex returns the lowercase hex encoding of the secret
func (s Secret) Hex() string {
	return hex.EncodeToString(s[:])
}

// IsZero reports whether the secret is unset
func (s Secret) IsZero() bool {
	return s == Secret{}
}

func (s Secret) String() string {
	return "[redacted]"
}

// MarshalText keeps the secret out of JSON and text encoders
func (s Secret) MarshalText() ([]byte, error) {
	return []byte("[redacted]"), nil
}

// Hex returns the lowercase hex encoding of the hash
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether the hash is unset
func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) String() string {
	return h.Hex()
}

// ParseHash decodes a 32-byte hex hash, with or without 0x prefix
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := decodeHex32(s)
	if err != nil {
		return h, fmt.Errorf("invalid hashlock: %w", err)
	}
	copy(h[:], b)
	return h, nil
}

// ParseSecret decodes a 32-byte hex secret, with or without 0x prefix
func ParseSecret(s string) (Secret, error) {
	var sec Secret
	b, err := decodeHex32(s)
	if err != nil {
		return sec, fmt.Errorf("invalid secret: %w", err)
	}
	copy(sec[:], b)
	return sec, nil
}

// SecretFromBytes copies a 32-byte slice into a Secret
func SecretFromBytes(b []byte) (Secret, error) {
	var s Secret
	if len(b) != Size {
		return s, fmt.Errorf("invalid secret length: %d", len(b))
	}
	copy(s[:], b)
	return s, nil
}

func decodeHex32(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != Size {
		return nil, fmt.Errorf("expected %d bytes, got %d", Size, len(b))
	}
	return b, nil
}
