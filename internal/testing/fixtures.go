package testing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/0xmhha/guestprof/internal/config"
)

// Seeds of the deterministic keys fixtures use.
const (
	ContractKeySeed byte = 1
	GuestsKeySeed   byte = 2
)

// TestConfig creates a valid test configuration for TestContractID
func TestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.NetworkID = string(config.NetworkLocalnet)
	cfg.ContractName = TestContractID
	cfg.ContractKey = TestKeyPair(t, ContractKeySeed).String()
	cfg.GuestsSecret = TestKeyPair(t, GuestsKeySeed).String()
	cfg.CredentialsDir = t.TempDir()
	cfg.OutputDir = t.TempDir()
	cfg.ExportReport = false
	cfg.CaseTimeout = 5 * time.Second
	require.NoError(t, cfg.Validate(), "invalid test config")
	return cfg
}

// TestConfigWithRounds creates a test configuration with a specific number of transfer rounds
func TestConfigWithRounds(t *testing.T, rounds int) *config.Config {
	t.Helper()
	cfg := TestConfig(t)
	cfg.TransferRounds = rounds
	return cfg
}

// TestChain creates a MockChain whose contract account is controlled by the
// TestConfig contract key.
func TestChain(t *testing.T) *MockChain {
	t.Helper()
	return NewMockChain(TestContractID, TestKeyPair(t, ContractKeySeed).PublicKey())
}
