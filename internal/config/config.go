package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/0xmhha/guestprof/internal/near"
	"github.com/0xmhha/guestprof/internal/txbuilder"
)

// Network identifies a NEAR network preset.
type Network string

const (
	NetworkTestnet  Network = "testnet"
	NetworkMainnet  Network = "mainnet"
	NetworkLocalnet Network = "localnet"
)

// nodeURLs are the default RPC endpoints per network.
var nodeURLs = map[Network]string{
	NetworkTestnet:  "https://rpc.testnet.near.org",
	NetworkMainnet:  "https://rpc.mainnet.near.org",
	NetworkLocalnet: "http://127.0.0.1:3030",
}

// Defaults for amounts, expressed in NEAR.
const (
	DefaultFundAmount             = "100"
	DefaultTransferAmount         = "1"
	DefaultGuestKeyAllowance      = "0.1"
	DefaultExpectedUpgradeBalance = "0.5"
	DefaultAliceDeposit           = "5"
	DefaultGuestsDeposit          = "5"

	DefaultCaseTimeout = 50 * time.Second
	DefaultTimeout     = 5 * time.Minute
	DefaultMetricsPort = 9090
)

// Config holds all configuration for a profiling run
type Config struct {
	// Network connection
	NetworkID string `yaml:"network_id"`
	NodeURL   string `yaml:"node_url"`

	// Contract under test and its owner credentials
	ContractName       string `yaml:"contract_name"`
	CredentialsDir     string `yaml:"credentials_dir"`
	ContractKey        string `yaml:"contract_key"`
	ContractSeedPhrase string `yaml:"contract_seed_phrase"`

	// Secret of the shared guests account (guests.<contract>)
	GuestsSecret string `yaml:"guests_account_secret"`

	// Attached gas for change calls
	Gas uint64 `yaml:"gas"`

	// Amounts in NEAR
	AliceDeposit           string `yaml:"alice_deposit"`
	GuestsDeposit          string `yaml:"guests_deposit"`
	GuestKeyAllowance      string `yaml:"guest_key_allowance"`
	FundAmount             string `yaml:"fund_amount"`
	TransferAmount         string `yaml:"transfer_amount"`
	ExpectedUpgradeBalance string `yaml:"expected_upgrade_balance"`
	TransferRounds         int    `yaml:"transfer_rounds"`

	// Timeouts
	Timeout     time.Duration `yaml:"timeout"`
	CaseTimeout time.Duration `yaml:"case_timeout"`

	// Max RPC requests per second (0 = unlimited)
	RateLimit float64 `yaml:"rate_limit"`

	// Prometheus metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`
	MetricsPort    int  `yaml:"metrics_port"`

	// Output
	OutputDir    string `yaml:"output_dir"`
	ExportReport bool   `yaml:"export_report"`
	Verbose      bool   `yaml:"verbose"`
}

var (
	httpRegex      = regexp.MustCompile(`^https?://`)
	accountIDRegex = regexp.MustCompile(`^(([a-z\d]+[-_])*[a-z\d]+\.)*([a-z\d]+[-_])*[a-z\d]+$`)
)

// Default returns a configuration with every optional field populated.
// NetworkID stays empty so NEAR_ENV can still apply; Validate falls back to testnet.
func Default() *Config {
	return &Config{
		Gas:                    txbuilder.DefaultGas,
		AliceDeposit:           DefaultAliceDeposit,
		GuestsDeposit:          DefaultGuestsDeposit,
		GuestKeyAllowance:      DefaultGuestKeyAllowance,
		FundAmount:             DefaultFundAmount,
		TransferAmount:         DefaultTransferAmount,
		ExpectedUpgradeBalance: DefaultExpectedUpgradeBalance,
		TransferRounds:         1,
		Timeout:                DefaultTimeout,
		CaseTimeout:            DefaultCaseTimeout,
		MetricsPort:            DefaultMetricsPort,
		OutputDir:              "./reports",
		ExportReport:           true,
	}
}

// LoadFile overlays the YAML file at path onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv fills empty fields from the environment variables near-cli uses.
func (c *Config) ApplyEnv() {
	setIfEmpty(&c.NetworkID, os.Getenv("NEAR_ENV"))
	setIfEmpty(&c.NodeURL, os.Getenv("NEAR_NODE_URL"))
	setIfEmpty(&c.ContractName, os.Getenv("NEAR_CONTRACT_NAME"))
	setIfEmpty(&c.CredentialsDir, os.Getenv("NEAR_CREDENTIALS_DIR"))
	setIfEmpty(&c.ContractKey, os.Getenv("NEAR_CONTRACT_KEY"))
	setIfEmpty(&c.ContractSeedPhrase, os.Getenv("NEAR_CONTRACT_SEED_PHRASE"))
	setIfEmpty(&c.GuestsSecret, os.Getenv("GUESTS_ACCOUNT_SECRET"))
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}

// Validate validates the configuration and fills derived defaults
func (c *Config) Validate() error {
	if c.NetworkID == "" {
		c.NetworkID = string(NetworkTestnet)
	}
	c.NetworkID = strings.ToLower(c.NetworkID)

	// Resolve node URL
	if c.NodeURL == "" {
		url, ok := nodeURLs[Network(c.NetworkID)]
		if !ok {
			return fmt.Errorf("node-url is required for network %q", c.NetworkID)
		}
		c.NodeURL = url
	}
	if !httpRegex.MatchString(c.NodeURL) {
		return errors.New("node-url must be a valid HTTP URL")
	}

	// Validate contract
	if c.ContractName == "" {
		return errors.New("contract is required")
	}
	if !IsValidAccountID(c.ContractName) {
		return fmt.Errorf("contract %q is not a valid account id", c.ContractName)
	}

	// Validate credentials
	if c.ContractKey != "" && c.ContractSeedPhrase != "" {
		return errors.New("contract-key and contract-seed-phrase are mutually exclusive")
	}
	if c.ContractKey != "" {
		if _, err := near.KeyPairFromString(c.ContractKey); err != nil {
			return fmt.Errorf("contract-key: %w", err)
		}
	}
	if c.GuestsSecret == "" {
		return errors.New("guests-secret is required")
	}
	if _, err := near.KeyPairFromString(c.GuestsSecret); err != nil {
		return fmt.Errorf("guests-secret: %w", err)
	}
	if c.CredentialsDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.CredentialsDir = filepath.Join(home, ".near-credentials")
		}
	}

	// Validate numeric values
	if c.Gas == 0 {
		c.Gas = txbuilder.DefaultGas
	}
	if c.TransferRounds <= 0 {
		c.TransferRounds = 1
	}

	// Validate amounts
	amounts := []struct {
		name string
		val  *string
		def  string
	}{
		{"alice-deposit", &c.AliceDeposit, DefaultAliceDeposit},
		{"guests-deposit", &c.GuestsDeposit, DefaultGuestsDeposit},
		{"guest-key-allowance", &c.GuestKeyAllowance, DefaultGuestKeyAllowance},
		{"fund-amount", &c.FundAmount, DefaultFundAmount},
		{"transfer-amount", &c.TransferAmount, DefaultTransferAmount},
		{"expected-upgrade-balance", &c.ExpectedUpgradeBalance, DefaultExpectedUpgradeBalance},
	}
	for _, a := range amounts {
		if *a.val == "" {
			*a.val = a.def
		}
		if _, err := near.ParseNearAmount(*a.val); err != nil {
			return fmt.Errorf("%s: %w", a.name, err)
		}
	}

	// Set default timeouts
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.CaseTimeout == 0 {
		c.CaseTimeout = DefaultCaseTimeout
	}
	if c.RateLimit < 0 {
		return errors.New("rate-limit must not be negative")
	}

	// Set default metrics port
	if c.MetricsEnabled && c.MetricsPort == 0 {
		c.MetricsPort = DefaultMetricsPort
	}

	return nil
}

// GetNetwork returns the parsed network
func (c *Config) GetNetwork() Network {
	return Network(strings.ToLower(c.NetworkID))
}

// GuestsAccountID returns the shared guests account id, guests.<contract>.
func (c *Config) GuestsAccountID() string {
	return "guests." + c.ContractName
}

// Amount parses one of the NEAR amount fields; it must have passed Validate.
func (c *Config) Amount(v string) *big.Int {
	return near.MustParseNearAmount(v)
}

// IsValidAccountID reports whether id follows NEAR account id rules.
func IsValidAccountID(id string) bool {
	return len(id) >= 2 && len(id) <= 64 && accountIDRegex.MatchString(id)
}
