package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/0xmhha/guestprof/internal/client"
	"github.com/0xmhha/guestprof/internal/config"
	"github.com/0xmhha/guestprof/internal/logging"
	"github.com/0xmhha/guestprof/internal/metrics"
	"github.com/0xmhha/guestprof/internal/pipeline"
)

var (
	version    = "dev"
	cfg        = config.Default()
	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "guestprof",
		Short: "NEAR guest account cost profiler",
		Long: `guestprof drives a guest-enabled fungible token contract through guest
creation, token transfers, claim_drop and upgrade_guest, and reports the gas
burnt and storage consumed by each step.`,
		Version:      version,
		SilenceUsage: true,
		RunE:         run,
	}

	// Register flags
	registerFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func registerFlags(cmd *cobra.Command) {
	flags := cmd.Flags()

	flags.StringVar(&configPath, "config", "", "YAML configuration file; explicit flags take precedence")

	// Network
	flags.StringVar(&cfg.NetworkID, "network", "", "Network: testnet, mainnet or localnet (default: testnet, env NEAR_ENV)")
	flags.StringVar(&cfg.NodeURL, "node-url", "", "RPC endpoint URL (default: network preset, env NEAR_NODE_URL)")

	// Contract and credentials
	flags.StringVar(&cfg.ContractName, "contract", "", "Contract account id (env NEAR_CONTRACT_NAME)")
	flags.StringVar(&cfg.CredentialsDir, "credentials-dir", "", "near-cli credentials directory (default: ~/.near-credentials)")
	flags.StringVar(&cfg.ContractKey, "contract-key", "", "Contract account secret key, ed25519:...")
	flags.StringVar(&cfg.ContractSeedPhrase, "contract-seed-phrase", "", "Contract account seed phrase (alternative to contract-key)")
	flags.StringVar(&cfg.GuestsSecret, "guests-secret", "", "Secret key of guests.<contract> (env GUESTS_ACCOUNT_SECRET)")

	// Scenario
	flags.Uint64Var(&cfg.Gas, "gas", cfg.Gas, "Gas attached to change calls")
	flags.StringVar(&cfg.AliceDeposit, "alice-deposit", cfg.AliceDeposit, "NEAR funding the test account")
	flags.StringVar(&cfg.GuestsDeposit, "guests-deposit", cfg.GuestsDeposit, "NEAR funding guests.<contract> when it is created")
	flags.StringVar(&cfg.GuestKeyAllowance, "guest-key-allowance", cfg.GuestKeyAllowance, "NEAR allowance of the guest access key")
	flags.StringVar(&cfg.FundAmount, "fund-amount", cfg.FundAmount, "Tokens the owner sends to the test account")
	flags.StringVar(&cfg.TransferAmount, "transfer-amount", cfg.TransferAmount, "Tokens sent per measured ft_transfer")
	flags.StringVar(&cfg.ExpectedUpgradeBalance, "expected-upgrade-balance", cfg.ExpectedUpgradeBalance, "NEAR the upgraded guest account must hold")
	flags.IntVar(&cfg.TransferRounds, "rounds", cfg.TransferRounds, "Measured ft_transfer calls per sender")

	// Advanced
	flags.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Timeout for the whole run")
	flags.DurationVar(&cfg.CaseTimeout, "case-timeout", cfg.CaseTimeout, "Timeout per stage")
	flags.Float64Var(&cfg.RateLimit, "rate-limit", 0, "Max RPC requests per second (0 = unlimited)")

	// Output
	flags.BoolVar(&cfg.ExportReport, "export", cfg.ExportReport, "Export report to files")
	flags.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "Output directory for reports")
	flags.BoolVar(&cfg.Verbose, "verbose", false, "Enable verbose logging")

	// Prometheus metrics flags
	flags.BoolVar(&cfg.MetricsEnabled, "metrics", false, "Enable Prometheus metrics endpoint")
	flags.IntVar(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "Port for Prometheus metrics endpoint")
}

// loadConfig layers the config file and environment under explicitly set flags.
func loadConfig(flags *pflag.FlagSet) error {
	if configPath != "" {
		explicit := make(map[string]string)
		flags.Visit(func(f *pflag.Flag) {
			explicit[f.Name] = f.Value.String()
		})

		if err := cfg.LoadFile(configPath); err != nil {
			return err
		}

		for name, value := range explicit {
			if err := flags.Set(name, value); err != nil {
				return fmt.Errorf("flag --%s: %w", name, err)
			}
		}
	}

	cfg.ApplyEnv()
	return cfg.Validate()
}

func run(cmd *cobra.Command, args []string) error {
	if err := loadConfig(cmd.Flags()); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logging.New(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	// Create context with cancellation
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Println("\nReceived interrupt signal, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	cli, err := client.New(ctx, cfg.NodeURL, client.Options{RateLimit: cfg.RateLimit, Logger: log})
	if err != nil {
		return err
	}
	defer cli.Close()

	status, err := cli.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", cfg.NodeURL, err)
	}
	log.Info("connected",
		zap.String("node", cfg.NodeURL),
		zap.String("chain", status.ChainID),
		zap.Uint64("height", status.SyncInfo.LatestBlockHeight),
	)

	w, err := pipeline.NewWallet(cfg)
	if err != nil {
		return err
	}

	opts := []pipeline.Option{pipeline.WithLogger(log)}
	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.NewMetrics("guestprof")
		opts = append(opts, pipeline.WithMetrics(m))
	}
	runner := pipeline.New(cfg, cli, w, opts...)

	g, gctx := errgroup.WithContext(ctx)
	metricsCtx, stopMetrics := context.WithCancel(gctx)
	defer stopMetrics()

	if m != nil {
		g.Go(func() error {
			log.Info("serving metrics", zap.Int("port", cfg.MetricsPort))
			return m.Serve(metricsCtx, cfg.MetricsPort)
		})
	}

	var result *pipeline.Result
	g.Go(func() error {
		defer stopMetrics()
		var runErr error
		result, runErr = runner.Run(gctx)
		return runErr
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("profiling failed: %w", err)
	}

	// Exit with error if any stage failed
	if result == nil || !result.Success() {
		return errors.New("profiling completed with errors")
	}

	return nil
}
