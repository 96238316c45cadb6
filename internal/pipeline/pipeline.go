package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/0xmhha/guestprof/internal/account"
	"github.com/0xmhha/guestprof/internal/config"
	"github.com/0xmhha/guestprof/internal/contract"
	"github.com/0xmhha/guestprof/internal/metrics"
	"github.com/0xmhha/guestprof/internal/near"
	"github.com/0xmhha/guestprof/internal/profile"
	"github.com/0xmhha/guestprof/internal/util/mathutil"
	"github.com/0xmhha/guestprof/internal/util/progress"
	"github.com/0xmhha/guestprof/internal/wallet"
)

var oneYocto = big.NewInt(1)

// Runner drives the guest profiling scenario against one contract.
type Runner struct {
	cfg     *config.Config
	conn    *account.Connection
	ledger  *profile.Ledger
	metrics *metrics.Metrics
	log     *zap.Logger
	out     io.Writer
	now     func() time.Time
	runID   string

	// Populated by Setup
	ready          bool
	owner          *account.Account
	ownerProxy     *contract.Contract
	alice          *account.Account
	aliceProxy     *contract.Contract
	guests         *account.Account
	guestProxy     *contract.Contract
	guest          Guest
	storageMinimum *big.Int

	optional []OptionalFailure
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the diagnostic logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// WithMetrics records outcomes, costs and stage timings on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithOutput redirects the human-readable progress output.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) { r.out = w }
}

// WithClock overrides the time source used for account ids.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) Option {
	return func(r *Runner) { r.runID = id }
}

// New creates a runner talking to rpc and signing with w. cfg must have been validated.
func New(cfg *config.Config, rpc account.RPC, w *wallet.Wallet, opts ...Option) *Runner {
	r := &Runner{
		cfg: cfg,
		log: zap.NewNop(),
		out: os.Stdout,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.runID == "" {
		r.runID = uuid.NewString()
	}
	r.log = r.log.With(zap.String("run", r.runID))

	r.conn = account.NewConnection(rpc, w, cfg.Gas, r.log)
	r.ledger = profile.NewLedger(rpc)

	if r.metrics != nil {
		r.conn.OnOutcome(func(_ string, o *near.FinalExecutionOutcome) {
			r.metrics.RecordOutcome(o.GasBurnt(), o.Err() != nil)
		})
		r.ledger.OnCost(func(c profile.Cost) {
			r.metrics.RecordCost(c.Key, c.Kind.String(), r.ledger.Costs(c.Key))
		})
	}

	return r
}

// NewWallet builds the run's wallet: an in-memory store in front of the
// credentials directory, holding the contract key when one is configured.
func NewWallet(cfg *config.Config) (*wallet.Wallet, error) {
	var store wallet.KeyStore = wallet.NewInMemoryKeyStore()
	if cfg.CredentialsDir != "" {
		store = wallet.NewMergeKeyStore(store, wallet.NewFileKeyStore(cfg.CredentialsDir))
	}
	w := wallet.New(cfg.NetworkID, store)

	switch {
	case cfg.ContractKey != "":
		if _, err := w.ImportSecretKey(cfg.ContractName, cfg.ContractKey); err != nil {
			return nil, err
		}
	case cfg.ContractSeedPhrase != "":
		if _, err := w.ImportSeedPhrase(cfg.ContractName, cfg.ContractSeedPhrase); err != nil {
			return nil, err
		}
	}

	if _, err := w.Key(cfg.ContractName); err != nil {
		return nil, fmt.Errorf("no key for contract account %s: %w", cfg.ContractName, err)
	}
	return w, nil
}

// RunID returns the id tagging this run's logs and reports.
func (r *Runner) RunID() string {
	return r.runID
}

// Ledger returns the cost ledger.
func (r *Runner) Ledger() *profile.Ledger {
	return r.ledger
}

// Guest returns a copy of the current guest state.
func (r *Runner) Guest() Guest {
	return r.guest
}

// AliceID returns the funded test account id once Setup has run.
func (r *Runner) AliceID() string {
	if r.alice == nil {
		return ""
	}
	return r.alice.ID()
}

// Run executes setup and every case, then prints and exports the report.
// A failing case is recorded and the next case still runs; a failing setup aborts.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	result := NewResult(r.runID)
	result.ContractID = r.cfg.ContractName

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, "╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(r.out, "║                         guestprof                            ║")
	fmt.Fprintln(r.out, "║           NEAR guest account gas & storage profiler          ║")
	fmt.Fprintln(r.out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintf(r.out, "  Run ID: %s\n", r.runID)

	if err := r.runStage(ctx, result, StageSetup, r.Setup); err != nil {
		r.finish(result)
		return result, err
	}

	cases := []struct {
		stage Stage
		fn    func(context.Context) error
	}{
		{StageFundAlice, r.FundAlice},
		{StageAliceTransfer, r.MeasureAliceTransfer},
		{StageOwnerTransfer, r.MeasureOwnerTransfer},
		{StageClaimDrop, r.ClaimDrop},
		{StageUpgradeGuest, r.UpgradeGuest},
	}
	for _, c := range cases {
		if ctx.Err() != nil {
			break
		}
		_ = r.runStage(ctx, result, c.stage, c.fn)
	}

	_ = r.runStage(ctx, result, StageReport, func(ctx context.Context) error {
		return r.report(ctx, result)
	})

	r.finish(result)
	return result, nil
}

func (r *Runner) finish(result *Result) {
	result.AliceID = r.AliceID()
	result.GuestsID = r.cfg.GuestsAccountID()
	result.Guest = r.guest
	result.Optional = append([]OptionalFailure(nil), r.optional...)
	result.Finalize()
	r.printFinalSummary(result)
}

// runStage executes a stage with timing and error handling
func (r *Runner) runStage(ctx context.Context, result *Result, stage Stage, fn func(context.Context) error) error {
	fmt.Fprintf(r.out, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(r.out, "  Stage %d: %s\n", stage+1, stage.String())
	fmt.Fprintf(r.out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")

	stageCtx, cancel := context.WithTimeout(ctx, r.cfg.CaseTimeout)
	defer cancel()

	start := time.Now()
	err := fn(stageCtx)
	duration := time.Since(start)

	sr := &StageResult{
		Stage:    stage,
		Success:  err == nil,
		Duration: duration,
	}

	if err != nil {
		sr.Error = fmt.Errorf("%s: %w", stage, err)
		sr.Message = fmt.Sprintf("Failed: %v", err)
		fmt.Fprintf(r.out, "\n❌ Stage %s failed: %v\n", stage, err)
		r.log.Error("stage failed", zap.Stringer("stage", stage), zap.Error(err))
	} else {
		sr.Message = fmt.Sprintf("Completed in %s", duration)
		fmt.Fprintf(r.out, "\n✅ Stage %s completed in %s\n", stage, duration)
		r.log.Debug("stage completed", zap.Stringer("stage", stage), zap.Duration("duration", duration))
	}

	if r.metrics != nil {
		r.metrics.RecordStage(stage.String(), duration, err != nil)
	}

	result.AddStageResult(sr)
	return err
}

// Optional runs a step whose failure is logged and recorded but not returned.
// The step is never retried.
func (r *Runner) Optional(ctx context.Context, stage Stage, step string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		r.log.Warn("optional step failed, continuing",
			zap.Stringer("stage", stage),
			zap.String("step", step),
			zap.Error(err),
		)
		fmt.Fprintf(r.out, "⚠️  %s failed, continuing: %v\n", step, err)
		r.optional = append(r.optional, OptionalFailure{Stage: stage, Step: step, Error: err})
	}
}

// Setup creates the accounts the cases share and registers the guest.
func (r *Runner) Setup(ctx context.Context) error {
	contractID := r.cfg.ContractName
	r.ready = false
	r.optional = nil
	r.guest = Guest{}

	r.owner = r.conn.Account(contractID)
	if _, err := r.owner.State(ctx); err != nil {
		return fmt.Errorf("failed to load contract account %s: %w", contractID, err)
	}
	r.ownerProxy = contract.New(r.owner, contractID, contract.GuestMethods)

	ts := r.now().UnixMilli()

	alice, err := r.conn.CreateAccountWithRandomKey(ctx, r.owner,
		fmt.Sprintf("t%d.%s", ts, contractID), r.cfg.Amount(r.cfg.AliceDeposit))
	if err != nil {
		return fmt.Errorf("failed to create alice: %w", err)
	}
	r.alice = alice
	r.aliceProxy = contract.New(alice, contractID, contract.GuestMethods)
	fmt.Fprintf(r.out, "\n  Alice accountId: %s\n", alice.ID())

	var minimum near.BigInt
	if err := r.ownerProxy.View(ctx, "storage_minimum_balance", nil, &minimum); err != nil {
		return fmt.Errorf("failed to read storage minimum: %w", err)
	}
	r.storageMinimum = new(big.Int).Set(&minimum.Int)
	fmt.Fprintf(r.out, "  storageMinimum:  %s\n", r.storageMinimum)

	guestID := fmt.Sprintf("g%d.%s", ts, contractID)
	fmt.Fprintf(r.out, "  Guest accountId: %s\n", guestID)

	guestKey, err := near.GenerateKeyPair()
	if err != nil {
		return err
	}
	publicKey := guestKey.PublicKey().String()

	guests, err := r.conn.CreateOrInitAccount(ctx, r.owner, r.cfg.GuestsAccountID(), r.cfg.GuestsSecret,
		r.cfg.Amount(r.cfg.GuestsDeposit))
	if err != nil {
		return fmt.Errorf("failed to init guests account: %w", err)
	}
	r.guests = guests

	r.ledger.Reset()

	_, err = r.measure(ctx, guests.ID(), profile.GlobalKey, profile.KindBurn, func(ctx context.Context) error {
		_, err := guests.AddKey(ctx, guestKey.PublicKey(), contractID,
			contract.GuestMethods.Change, r.cfg.Amount(r.cfg.GuestKeyAllowance))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to add guest access key: %w", err)
	}

	r.Optional(ctx, StageSetup, "add_guest", func(ctx context.Context) error {
		_, err := r.measure(ctx, contractID, profile.GlobalKey, profile.KindBurnAndStorage, func(ctx context.Context) error {
			_, err := r.ownerProxy.Call(ctx, "add_guest", addGuestArgs{
				AccountID: guestID,
				PublicKey: publicKey,
			}, r.callOpts(nil))
			return err
		})
		return err
	})

	// the guests account signs with the guest key from here on
	if err := r.conn.Wallet().SetKey(guests.ID(), guestKey); err != nil {
		return err
	}
	r.guestProxy = contract.New(guests, contractID, contract.GuestMethods)

	r.guest = Guest{ID: guestID, KeyPair: guestKey}
	if err := r.guest.advance(GuestRegistered); err != nil {
		return err
	}

	// informational only; a missing guest surfaces in the claim_drop case
	var info json.RawMessage
	if err := r.ownerProxy.View(ctx, "get_guest", publicKeyArgs{PublicKey: publicKey}, &info); err != nil {
		r.log.Warn("get_guest failed", zap.String("guest", guestID), zap.Error(err))
	} else {
		r.log.Info("guest registered", zap.String("guest", guestID), zap.ByteString("get_guest", info))
		fmt.Fprintf(r.out, "  get_guest:       %s\n", info)
	}

	r.ready = true
	return nil
}

// FundAlice pays Alice's storage deposit, sends her FundAmount tokens from the
// owner and checks her token balance.
func (r *Runner) FundAlice(ctx context.Context) error {
	if !r.ready {
		return ErrNotReady
	}

	if _, err := r.aliceProxy.Call(ctx, "storage_deposit", nil, r.callOpts(r.storageMinimum)); err != nil {
		return fmt.Errorf("storage_deposit: %w", err)
	}

	amount := r.cfg.Amount(r.cfg.FundAmount)
	if _, err := r.ownerProxy.Call(ctx, "ft_transfer", ftTransferArgs{
		ReceiverID: r.alice.ID(),
		Amount:     amount.String(),
	}, r.callOpts(oneYocto)); err != nil {
		return fmt.Errorf("ft_transfer to alice: %w", err)
	}

	var balance string
	if err := r.ownerProxy.View(ctx, "ft_balance_of", accountIDArgs{AccountID: r.alice.ID()}, &balance); err != nil {
		return fmt.Errorf("ft_balance_of: %w", err)
	}
	if balance != amount.String() {
		return fmt.Errorf("%w: ft_balance_of(%s) = %s, want %s", ErrAssertion, r.alice.ID(), balance, amount)
	}

	fmt.Fprintf(r.out, "  ft_balance_of(%s) = %s\n", r.alice.ID(), balance)
	return nil
}

// MeasureAliceTransfer measures Alice's ft_transfer to the guest into AliceTxsKey.
func (r *Runner) MeasureAliceTransfer(ctx context.Context) error {
	if !r.ready {
		return ErrNotReady
	}
	return r.measureTransfers(ctx, r.aliceProxy, AliceTxsKey, "alice ft_transfer")
}

// MeasureOwnerTransfer measures the owner's ft_transfer to the guest into OwnerTxsKey.
func (r *Runner) MeasureOwnerTransfer(ctx context.Context) error {
	if !r.ready {
		return ErrNotReady
	}
	return r.measureTransfers(ctx, r.ownerProxy, OwnerTxsKey, "owner transfers")
}

func (r *Runner) measureTransfers(ctx context.Context, proxy *contract.Contract, key, label string) error {
	amount := r.cfg.Amount(r.cfg.TransferAmount).String()
	rounds := r.cfg.TransferRounds
	signer := proxy.Caller().ID()

	bar := progress.New(r.out, rounds, label)
	for i := 0; i < rounds; i++ {
		_, err := r.measure(ctx, signer, key, profile.KindBurn, func(ctx context.Context) error {
			_, err := proxy.Call(ctx, "ft_transfer", ftTransferArgs{
				ReceiverID: r.guest.ID,
				Amount:     amount,
			}, r.callOpts(oneYocto))
			return err
		})
		if err != nil {
			return fmt.Errorf("round %d: %w", i+1, err)
		}
		progress.Add(bar, 1, r.log)
	}
	progress.Finish(bar)

	r.printCost(fmt.Sprintf("%d %s", rounds, label), r.ledger.Costs(key))
	return nil
}

// ClaimDrop has the guest claim its token drop, charging the burn to the global accumulator.
func (r *Runner) ClaimDrop(ctx context.Context) error {
	if !r.ready {
		return ErrNotReady
	}
	if err := r.guest.check(GuestClaimed); err != nil {
		return err
	}

	_, err := r.measure(ctx, r.guests.ID(), profile.GlobalKey, profile.KindBurn, func(ctx context.Context) error {
		_, err := r.guestProxy.Call(ctx, "claim_drop", struct{}{}, r.callOpts(nil))
		return err
	})
	if err != nil {
		return fmt.Errorf("claim_drop: %w", err)
	}
	if err := r.guest.advance(GuestClaimed); err != nil {
		return err
	}

	r.printCost("total cost of guest claiming drop", r.ledger.Costs(profile.GlobalKey))
	return nil
}

// UpgradeGuest turns the guest into a full account owned by a fresh key and
// checks the upgraded account holds ExpectedUpgradeBalance. Gas burnt by the
// guests account and storage released on the contract go to the global accumulator.
//
// The guest must have claimed its drop: when ClaimDrop failed the call is not
// sent and ErrInvalidTransition is returned, instead of upgrading a guest in an
// unknown state.
func (r *Runner) UpgradeGuest(ctx context.Context) error {
	if !r.ready {
		return ErrNotReady
	}
	if err := r.guest.check(GuestUpgraded); err != nil {
		return err
	}

	ownerKey, err := near.GenerateKeyPair()
	if err != nil {
		return err
	}
	accessKey, err := near.GenerateKeyPair()
	if err != nil {
		return err
	}

	guestsMark, err := r.ledger.Mark(ctx, r.guests.ID())
	if err != nil {
		return err
	}
	contractMark, err := r.ledger.Mark(ctx, r.owner.ID())
	if err != nil {
		if _, cerr := guestsMark.Burn(ctx, profile.GlobalKey); cerr != nil {
			r.log.Warn("failed to close measurement", zap.String("account", r.guests.ID()), zap.Error(cerr))
		}
		return err
	}

	outcome, callErr := r.guestProxy.Call(ctx, "upgrade_guest", upgradeGuestArgs{
		PublicKey:   ownerKey.PublicKey().String(),
		AccessKey:   accessKey.PublicKey().String(),
		MethodNames: "",
	}, r.callOpts(nil))
	if outcome != nil {
		var result json.RawMessage
		if err := outcome.DecodeResult(&result); err != nil {
			r.log.Warn("failed to decode upgrade_guest result", zap.Error(err))
		}
		r.log.Info("upgrade_guest outcome",
			zap.String("tx", outcome.TxHash()),
			zap.Float64("tgas_burnt", mathutil.GasToTera(outcome.GasBurnt())),
			zap.Strings("logs", outcome.Logs()),
			zap.ByteString("result", result),
		)
	}

	_, burnErr := guestsMark.Burn(ctx, profile.GlobalKey)
	_, storageErr := contractMark.Storage(ctx, profile.GlobalKey)
	if callErr != nil {
		return fmt.Errorf("upgrade_guest: %w", callErr)
	}
	if burnErr != nil {
		return burnErr
	}
	if storageErr != nil {
		return storageErr
	}

	if err := r.guest.advance(GuestUpgraded); err != nil {
		return err
	}
	r.guest.KeyPair = ownerKey

	// the upgraded account now pays its own gas
	if err := r.conn.Wallet().SetKey(r.guest.ID, ownerKey); err != nil {
		return err
	}

	balance, err := r.conn.GetAccountBalance(ctx, r.guest.ID)
	if err != nil {
		return fmt.Errorf("failed to read balance of %s: %w", r.guest.ID, err)
	}
	want := r.cfg.Amount(r.cfg.ExpectedUpgradeBalance)
	if balance.Total.Cmp(want) != 0 {
		return fmt.Errorf("%w: balance of %s = %s, want %s", ErrAssertion, r.guest.ID, balance.Total, want)
	}

	r.printCost("total cost of guest claiming drop and then upgrading", r.ledger.Costs(profile.GlobalKey))
	return nil
}

// measure marks accountID, runs call and closes the measurement as kind into
// key. The measurement is closed even when call fails, since failed calls burn gas.
func (r *Runner) measure(ctx context.Context, accountID, key string, kind profile.Kind, call func(context.Context) error) (profile.Cost, error) {
	m, err := r.ledger.Mark(ctx, accountID)
	if err != nil {
		return profile.Cost{}, err
	}

	callErr := call(ctx)

	cost, err := m.Close(ctx, kind, key)
	if callErr != nil {
		return cost, callErr
	}
	if err != nil {
		return cost, err
	}

	r.log.Debug("measured",
		zap.String("account", accountID),
		zap.String("key", cost.Key),
		zap.Stringer("kind", kind),
		zap.String("accumulated", cost.Accumulated.String()),
	)
	return cost, nil
}

func (r *Runner) callOpts(deposit *big.Int) contract.CallOptions {
	return contract.CallOptions{Gas: r.cfg.Gas, Deposit: deposit}
}

func (r *Runner) printCost(label string, yocto *big.Int) {
	fmt.Fprintf(r.out, "\n  %s: %s\n", label, near.FormatNearAmount(yocto, profile.DisplayDigits))
}

// report prints the cost tables and exports them when configured.
func (r *Runner) report(_ context.Context, result *Result) error {
	if pending := r.ledger.Pending(); len(pending) > 0 {
		r.log.Warn("unclosed measurements", zap.Strings("accounts", pending))
	}

	report := profile.NewReport(r.ledger, r.runID, r.cfg.NetworkID, r.cfg.ContractName, result.StartTime)
	result.Report = report
	report.PrintTable(r.out)

	if !r.cfg.ExportReport || r.cfg.OutputDir == "" {
		return nil
	}

	files, err := profile.NewExporter(r.cfg.OutputDir).ExportAll(report)
	if err != nil {
		return fmt.Errorf("failed to export report: %w", err)
	}
	fmt.Fprintf(r.out, "\n📁 Reports exported to:\n")
	for _, f := range files {
		fmt.Fprintf(r.out, "  - %s\n", f)
	}
	return nil
}

// printFinalSummary prints the final execution summary
func (r *Runner) printFinalSummary(result *Result) {
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, "╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(r.out, "║                     📊 Execution Summary 📊                   ║")
	fmt.Fprintln(r.out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(r.out)

	fmt.Fprintf(r.out, "Stage Results:\n")
	for _, sr := range result.StageResults {
		status := "✅"
		if !sr.Success {
			status = "❌"
		}
		fmt.Fprintf(r.out, "  %s Stage %d (%s): %s\n", status, sr.Stage+1, sr.Stage, sr.Duration)
	}

	if len(result.Optional) > 0 {
		fmt.Fprintf(r.out, "\nSkipped optional steps:\n")
		for _, o := range result.Optional {
			fmt.Fprintf(r.out, "  - %s (%s): %v\n", o.Step, o.Stage, o.Error)
		}
	}

	fmt.Fprintf(r.out, "\nGuest:          %s (%s)\n", result.Guest.ID, result.Guest.State)
	fmt.Fprintf(r.out, "Total cost:     %s NEAR\n",
		near.FormatNearAmount(r.ledger.Costs(profile.GlobalKey), profile.DisplayDigits))
	fmt.Fprintf(r.out, "Total Duration: %s\n", result.Duration)

	if result.Success() {
		fmt.Fprintln(r.out, "\n🎉 Profiling completed successfully!")
	} else {
		fmt.Fprintln(r.out, "\n⚠️  Profiling completed with errors")
		for _, err := range result.Errors {
			fmt.Fprintf(r.out, "  - %v\n", err)
		}
	}
}

type addGuestArgs struct {
	AccountID string `json:"account_id"`
	PublicKey string `json:"public_key"`
}

type publicKeyArgs struct {
	PublicKey string `json:"public_key"`
}

type accountIDArgs struct {
	AccountID string `json:"account_id"`
}

type ftTransferArgs struct {
	ReceiverID string `json:"receiver_id"`
	Amount     string `json:"amount"`
}

type upgradeGuestArgs struct {
	PublicKey   string `json:"public_key"`
	AccessKey   string `json:"access_key"`
	MethodNames string `json:"method_names"`
}
