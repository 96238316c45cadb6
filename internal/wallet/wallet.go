package wallet

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tyler-smith/go-bip39"

	"github.com/0xmhha/guestprof/internal/near"
)

// DefaultDerivationPath is the SLIP-10 path NEAR wallets use for seed phrases.
const DefaultDerivationPath = "m/44'/397'/0'"

const hardenedOffset uint32 = 0x80000000

// ErrInvalidPath is returned for malformed or non-hardened derivation paths.
var ErrInvalidPath = errors.New("invalid derivation path")

// Wallet manages the keys used during a profiling run.
type Wallet struct {
	network string
	store   KeyStore
}

// New creates a wallet for network backed by store.
func New(network string, store KeyStore) *Wallet {
	if store == nil {
		store = NewInMemoryKeyStore()
	}
	return &Wallet{network: network, store: store}
}

// Key returns the signing key for accountID.
func (w *Wallet) Key(accountID string) (*near.KeyPair, error) {
	return w.store.GetKey(w.network, accountID)
}

// SetKey replaces the signing key for accountID.
func (w *Wallet) SetKey(accountID string, kp *near.KeyPair) error {
	return w.store.SetKey(w.network, accountID, kp)
}

// ImportSecretKey stores an "ed25519:..." secret key for accountID.
func (w *Wallet) ImportSecretKey(accountID, secret string) (*near.KeyPair, error) {
	kp, err := near.KeyPairFromString(secret)
	if err != nil {
		return nil, fmt.Errorf("invalid secret key for %s: %w", accountID, err)
	}
	if err := w.SetKey(accountID, kp); err != nil {
		return nil, err
	}
	return kp, nil
}

// ImportSeedPhrase derives a key from a BIP39 seed phrase and stores it for accountID.
func (w *Wallet) ImportSeedPhrase(accountID, phrase string) (*near.KeyPair, error) {
	kp, err := KeyPairFromSeedPhrase(phrase, DefaultDerivationPath)
	if err != nil {
		return nil, fmt.Errorf("invalid seed phrase for %s: %w", accountID, err)
	}
	if err := w.SetKey(accountID, kp); err != nil {
		return nil, err
	}
	return kp, nil
}

// GenerateKey creates a fresh random key for accountID and stores it.
func (w *Wallet) GenerateKey(accountID string) (*near.KeyPair, error) {
	kp, err := near.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := w.SetKey(accountID, kp); err != nil {
		return nil, err
	}
	return kp, nil
}

// NormalizeSeedPhrase lowercases and collapses whitespace.
func NormalizeSeedPhrase(phrase string) string {
	return strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
}

// GenerateSeedPhrase creates a 12-word seed phrase and its derived key pair.
func GenerateSeedPhrase() (string, *near.KeyPair, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate entropy: %w", err)
	}
	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate mnemonic: %w", err)
	}
	kp, err := KeyPairFromSeedPhrase(phrase, DefaultDerivationPath)
	if err != nil {
		return "", nil, err
	}
	return phrase, kp, nil
}

// KeyPairFromSeedPhrase derives an ed25519 key pair from a BIP39 phrase along path.
func KeyPairFromSeedPhrase(phrase, path string) (*near.KeyPair, error) {
	seed, err := bip39.NewSeedWithErrorChecking(NormalizeSeedPhrase(phrase), "")
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}

	indexes, err := parseDerivationPath(path)
	if err != nil {
		return nil, err
	}

	return near.KeyPairFromSeed(deriveED25519(seed, indexes))
}

// deriveED25519 implements SLIP-10 private key derivation for ed25519, which
// only defines hardened children.
func deriveED25519(seed []byte, indexes []uint32) []byte {
	mac := hmac.New(sha512.New, []byte("ed25519 seed"))
	mac.Write(seed)
	sum := mac.Sum(nil)
	key, chainCode := sum[:32], sum[32:]

	for _, index := range indexes {
		data := make([]byte, 0, 37)
		data = append(data, 0x00)
		data = append(data, key...)
		data = binary.BigEndian.AppendUint32(data, index)

		mac = hmac.New(sha512.New, chainCode)
		mac.Write(data)
		sum = mac.Sum(nil)
		key, chainCode = sum[:32], sum[32:]
	}

	return key
}

func parseDerivationPath(path string) ([]uint32, error) {
	parts := strings.Split(strings.TrimSpace(path), "/")
	if len(parts) == 0 || parts[0] != "m" {
		return nil, fmt.Errorf("%w: %q must start with m", ErrInvalidPath, path)
	}

	indexes := make([]uint32, 0, len(parts)-1)
	for _, part := range parts[1:] {
		if !strings.HasSuffix(part, "'") {
			return nil, fmt.Errorf("%w: ed25519 requires hardened segments, got %q", ErrInvalidPath, part)
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(part, "'"), 10, 31)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPath, part, err)
		}
		indexes = append(indexes, uint32(n)+hardenedOffset)
	}
	return indexes, nil
}
