// Package testing provides test utilities and helpers for guestprof tests.
package testing

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xmhha/guestprof/internal/near"
)

// TestSeedPhrase is a well-known BIP39 test phrase (DO NOT use in production)
const TestSeedPhrase = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// TestContractID is the contract account used by offline tests
const TestContractID = "guest.test.near"

// TestKeyPair returns a deterministic key pair whose seed is n repeated.
func TestKeyPair(t *testing.T, n byte) *near.KeyPair {
	t.Helper()
	kp, err := near.KeyPairFromSeed(bytes.Repeat([]byte{n}, 32))
	require.NoError(t, err, "failed to derive test key")
	return kp
}

// GenerateTestKey generates a random key pair for testing
func GenerateTestKey(t *testing.T) *near.KeyPair {
	t.Helper()
	kp, err := near.GenerateKeyPair()
	require.NoError(t, err, "failed to generate test key")
	return kp
}

// GenerateTestKeys generates multiple random key pairs for testing
func GenerateTestKeys(t *testing.T, count int) []*near.KeyPair {
	t.Helper()
	keys := make([]*near.KeyPair, count)
	for i := 0; i < count; i++ {
		keys[i] = GenerateTestKey(t)
	}
	return keys
}

// NEAR parses a human readable NEAR amount or fails the test
func NEAR(t *testing.T, amount string) *big.Int {
	t.Helper()
	v, err := near.ParseNearAmount(amount)
	require.NoError(t, err, "failed to parse amount %q", amount)
	return v
}
