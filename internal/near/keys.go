package near

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// KeyType identifies the curve of a key. Only ed25519 is supported.
type KeyType byte

const (
	KeyTypeED25519 KeyType = 0
)

const ed25519Prefix = "ed25519"

func (k KeyType) String() string {
	switch k {
	case KeyTypeED25519:
		return ed25519Prefix
	default:
		return "unknown"
	}
}

// ErrInvalidKey is returned when a key string or key bytes are malformed.
var ErrInvalidKey = errors.New("invalid key")

// PublicKey is a NEAR public key, encoded as "ed25519:<base58>".
type PublicKey struct {
	Type KeyType
	Data [ed25519.PublicKeySize]byte
}

// ParsePublicKey parses "ed25519:<base58>" (a bare base58 string is also accepted).
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey

	encoded, err := stripKeyPrefix(s)
	if err != nil {
		return pk, err
	}

	raw, err := base58.Decode(encoded)
	if err != nil {
		return pk, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return pk, fmt.Errorf("%w: public key must be %d bytes, got %d", ErrInvalidKey, ed25519.PublicKeySize, len(raw))
	}

	pk.Type = KeyTypeED25519
	copy(pk.Data[:], raw)
	return pk, nil
}

// String returns the canonical "ed25519:<base58>" form.
func (pk PublicKey) String() string {
	return ed25519Prefix + ":" + base58.Encode(pk.Data[:])
}

// Verify checks an ed25519 signature over message.
func (pk PublicKey) Verify(message, signature []byte) bool {
	return ed25519.Verify(pk.Data[:], message, signature)
}

// MarshalText implements encoding.TextMarshaler so keys serialize as strings in JSON.
func (pk PublicKey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (pk *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}

// KeyPair is an ed25519 signing key with its public half.
type KeyPair struct {
	private ed25519.PrivateKey
	public  PublicKey
}

// GenerateKeyPair creates a random ed25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return newKeyPair(priv), nil
}

// KeyPairFromSeed builds a key pair from a 32-byte ed25519 seed.
func KeyPairFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d bytes, got %d", ErrInvalidKey, ed25519.SeedSize, len(seed))
	}
	return newKeyPair(ed25519.NewKeyFromSeed(seed)), nil
}

// KeyPairFromString parses a secret key in "ed25519:<base58>" form. Both the
// 64-byte expanded form and a 32-byte seed are accepted.
func KeyPairFromString(s string) (*KeyPair, error) {
	encoded, err := stripKeyPrefix(s)
	if err != nil {
		return nil, err
	}

	raw, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	switch len(raw) {
	case ed25519.PrivateKeySize:
		priv := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
		if string(priv[ed25519.SeedSize:]) != string(raw[ed25519.SeedSize:]) {
			return nil, fmt.Errorf("%w: public half does not match seed", ErrInvalidKey)
		}
		return newKeyPair(priv), nil
	case ed25519.SeedSize:
		return newKeyPair(ed25519.NewKeyFromSeed(raw)), nil
	default:
		return nil, fmt.Errorf("%w: secret key must be %d or %d bytes, got %d",
			ErrInvalidKey, ed25519.PrivateKeySize, ed25519.SeedSize, len(raw))
	}
}

func newKeyPair(priv ed25519.PrivateKey) *KeyPair {
	kp := &KeyPair{private: priv}
	kp.public.Type = KeyTypeED25519
	copy(kp.public.Data[:], priv.Public().(ed25519.PublicKey))
	return kp
}

// PublicKey returns the public half.
func (kp *KeyPair) PublicKey() PublicKey {
	return kp.public
}

// Sign signs message with the private key.
func (kp *KeyPair) Sign(message []byte) []byte {
	return ed25519.Sign(kp.private, message)
}

// String returns the secret key in "ed25519:<base58>" form.
func (kp *KeyPair) String() string {
	return ed25519Prefix + ":" + base58.Encode(kp.private)
}

func stripKeyPrefix(s string) (string, error) {
	s = strings.TrimSpace(s)
	prefix, rest, found := strings.Cut(s, ":")
	if !found {
		return s, nil
	}
	if strings.ToLower(prefix) != ed25519Prefix {
		return "", fmt.Errorf("%w: unsupported key type %q", ErrInvalidKey, prefix)
	}
	return rest, nil
}
