package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmhha/guestprof/internal/near"
	"github.com/0xmhha/guestprof/internal/txbuilder"
)

func testSecret(t *testing.T, n byte) string {
	t.Helper()
	kp, err := near.KeyPairFromSeed(bytes.Repeat([]byte{n}, 32))
	require.NoError(t, err)
	return kp.String()
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := Default()
	cfg.ContractName = "guest.testnet"
	cfg.GuestsSecret = testSecret(t, 2)
	cfg.CredentialsDir = t.TempDir()
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			modify: func(c *Config) {},
		},
		{
			name:   "valid config with contract key",
			modify: func(c *Config) { c.ContractKey = testSecret(t, 1) },
		},
		{
			name:   "valid config with seed phrase",
			modify: func(c *Config) { c.ContractSeedPhrase = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about" },
		},
		{
			name:   "valid localnet",
			modify: func(c *Config) { c.NetworkID = "localnet" },
		},
		{
			name: "custom network with node url",
			modify: func(c *Config) {
				c.NetworkID = "shardnet"
				c.NodeURL = "https://rpc.shardnet.example.org"
			},
		},
		{
			name:    "custom network without node url",
			modify:  func(c *Config) { c.NetworkID = "shardnet" },
			wantErr: true,
			errMsg:  "node-url is required",
		},
		{
			name:    "invalid node url",
			modify:  func(c *Config) { c.NodeURL = "ws://localhost:3030" },
			wantErr: true,
			errMsg:  "node-url must be a valid HTTP URL",
		},
		{
			name:    "missing contract",
			modify:  func(c *Config) { c.ContractName = "" },
			wantErr: true,
			errMsg:  "contract is required",
		},
		{
			name:    "invalid contract account id",
			modify:  func(c *Config) { c.ContractName = "Guest..Testnet" },
			wantErr: true,
			errMsg:  "not a valid account id",
		},
		{
			name: "key and seed phrase together",
			modify: func(c *Config) {
				c.ContractKey = testSecret(t, 1)
				c.ContractSeedPhrase = "abandon"
			},
			wantErr: true,
			errMsg:  "mutually exclusive",
		},
		{
			name:    "invalid contract key",
			modify:  func(c *Config) { c.ContractKey = "ed25519:notbase58!" },
			wantErr: true,
			errMsg:  "contract-key",
		},
		{
			name:    "missing guests secret",
			modify:  func(c *Config) { c.GuestsSecret = "" },
			wantErr: true,
			errMsg:  "guests-secret is required",
		},
		{
			name:    "invalid amount",
			modify:  func(c *Config) { c.FundAmount = "-1" },
			wantErr: true,
			errMsg:  "fund-amount",
		},
		{
			name:    "too many fractional digits",
			modify:  func(c *Config) { c.ExpectedUpgradeBalance = "0.0000000000000000000000001" },
			wantErr: true,
			errMsg:  "expected-upgrade-balance",
		},
		{
			name:    "negative rate limit",
			modify:  func(c *Config) { c.RateLimit = -1 },
			wantErr: true,
			errMsg:  "rate-limit must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorContains(t, err, tt.errMsg)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestConfig_NetworkPresets(t *testing.T) {
	tests := []struct {
		network string
		want    string
	}{
		{"testnet", "https://rpc.testnet.near.org"},
		{"TESTNET", "https://rpc.testnet.near.org"},
		{"mainnet", "https://rpc.mainnet.near.org"},
		{"localnet", "http://127.0.0.1:3030"},
		{"", "https://rpc.testnet.near.org"},
	}

	for _, tt := range tests {
		t.Run(tt.network, func(t *testing.T) {
			cfg := validConfig(t)
			cfg.NetworkID = tt.network
			require.NoError(t, cfg.Validate())
			assert.Equal(t, tt.want, cfg.NodeURL)
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := &Config{
		ContractName: "guest.testnet",
		GuestsSecret: testSecret(t, 2),
		// Everything else left zero
	}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, txbuilder.DefaultGas, cfg.Gas)
	assert.Equal(t, 1, cfg.TransferRounds)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, 50*time.Second, cfg.CaseTimeout)
	assert.Equal(t, "0.5", cfg.ExpectedUpgradeBalance)
	assert.Equal(t, "0.1", cfg.GuestKeyAllowance)
	assert.Equal(t, NetworkTestnet, cfg.GetNetwork())
}

func TestConfig_GuestsAccountID(t *testing.T) {
	cfg := &Config{ContractName: "guest.testnet"}
	assert.Equal(t, "guests.guest.testnet", cfg.GuestsAccountID())
}

func TestConfig_ApplyEnv(t *testing.T) {
	t.Setenv("NEAR_ENV", "localnet")
	t.Setenv("NEAR_CONTRACT_NAME", "env.testnet")
	t.Setenv("GUESTS_ACCOUNT_SECRET", "ed25519:env")
	t.Setenv("NEAR_NODE_URL", "")

	cfg := &Config{ContractName: "flag.testnet"}
	cfg.ApplyEnv()

	assert.Equal(t, "localnet", cfg.NetworkID)
	assert.Equal(t, "flag.testnet", cfg.ContractName, "explicit value must win over env")
	assert.Equal(t, "ed25519:env", cfg.GuestsSecret)
	assert.Empty(t, cfg.NodeURL)
}

func TestConfig_NetworkFromEnvOverDefaults(t *testing.T) {
	t.Setenv("NEAR_ENV", "localnet")
	t.Setenv("NEAR_NODE_URL", "")

	cfg := Default()
	cfg.ContractName = "guest.test.near"
	cfg.GuestsSecret = testSecret(t, 2)
	cfg.CredentialsDir = t.TempDir()
	cfg.ApplyEnv()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "localnet", cfg.NetworkID)
	assert.Equal(t, "http://127.0.0.1:3030", cfg.NodeURL)
}

func TestConfig_NetworkFallsBackToTestnet(t *testing.T) {
	t.Setenv("NEAR_ENV", "")
	t.Setenv("NEAR_NODE_URL", "")

	cfg := Default()
	assert.Empty(t, cfg.NetworkID, "Default() must leave the network for NEAR_ENV")

	cfg.ContractName = "guest.testnet"
	cfg.GuestsSecret = testSecret(t, 2)
	cfg.CredentialsDir = t.TempDir()
	cfg.ApplyEnv()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, NetworkTestnet, cfg.GetNetwork())
	assert.Equal(t, "https://rpc.testnet.near.org", cfg.NodeURL)
}

func TestConfig_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guestprof.yaml")
	data := `
network_id: localnet
contract_name: guest.test.near
guests_account_secret: ` + testSecret(t, 2) + `
transfer_rounds: 3
case_timeout: 20s
metrics_enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg := Default()
	require.NoError(t, cfg.LoadFile(path))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "guest.test.near", cfg.ContractName)
	assert.Equal(t, 3, cfg.TransferRounds)
	assert.Equal(t, 20*time.Second, cfg.CaseTimeout)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, "http://127.0.0.1:3030", cfg.NodeURL, "localnet preset")
	// untouched fields keep their defaults
	assert.Equal(t, DefaultFundAmount, cfg.FundAmount)
	assert.Equal(t, DefaultMetricsPort, cfg.MetricsPort)
}

func TestConfig_LoadFileErrors(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")), "missing file")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transfer_rounds: [1"), 0o600))
	assert.Error(t, cfg.LoadFile(path), "malformed yaml")
}

func TestIsValidAccountID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"guest.testnet", true},
		{"g1700000000000.guest.testnet", true},
		{"my-token_1.near", true},
		{"a", false},
		{"Upper.near", false},
		{"double..dot", false},
		{"-leading.near", false},
		{strings.Repeat("a", 65), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsValidAccountID(tt.id), "IsValidAccountID(%q)", tt.id)
	}
}
