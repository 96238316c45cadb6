package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/0xmhha/guestprof/internal/near"
	"github.com/0xmhha/guestprof/internal/profile"
)

var (
	// ErrAssertion is returned when an on-chain value differs from the expected one.
	ErrAssertion = errors.New("assertion failed")
	// ErrInvalidTransition is returned when a guest step runs out of order.
	ErrInvalidTransition = errors.New("invalid guest state transition")
	// ErrNotReady is returned when a case runs before Setup completed.
	ErrNotReady = errors.New("runner not set up")
)

// Accumulator keys used by the transfer cases.
const (
	AliceTxsKey = "aliceTxs"
	OwnerTxsKey = "ownertxs"
)

// Stage represents a pipeline stage
type Stage int

const (
	StageSetup Stage = iota
	StageFundAlice
	StageAliceTransfer
	StageOwnerTransfer
	StageClaimDrop
	StageUpgradeGuest
	StageReport
)

func (s Stage) String() string {
	switch s {
	case StageSetup:
		return "SETUP"
	case StageFundAlice:
		return "FUND ALICE"
	case StageAliceTransfer:
		return "ALICE FT_TRANSFER"
	case StageOwnerTransfer:
		return "OWNER FT_TRANSFER"
	case StageClaimDrop:
		return "CLAIM DROP"
	case StageUpgradeGuest:
		return "UPGRADE GUEST"
	case StageReport:
		return "REPORT"
	default:
		return "UNKNOWN"
	}
}

// GuestState tracks how far the guest has progressed.
type GuestState int

const (
	GuestNone GuestState = iota
	GuestRegistered
	GuestClaimed
	GuestUpgraded
)

func (s GuestState) String() string {
	switch s {
	case GuestNone:
		return "none"
	case GuestRegistered:
		return "registered"
	case GuestClaimed:
		return "claimed"
	case GuestUpgraded:
		return "upgraded"
	default:
		return "unknown"
	}
}

// Guest is the profiled guest account.
type Guest struct {
	ID      string
	KeyPair *near.KeyPair
	State   GuestState
}

// check reports whether the guest may move to state to. Only single forward
// steps are allowed.
func (g *Guest) check(to GuestState) error {
	if to > GuestUpgraded || to != g.State+1 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, g.State, to)
	}
	return nil
}

func (g *Guest) advance(to GuestState) error {
	if err := g.check(to); err != nil {
		return err
	}
	g.State = to
	return nil
}

// OptionalFailure records an optional step that failed without failing its stage.
type OptionalFailure struct {
	Stage Stage
	Step  string
	Error error
}

// StageResult represents the result of a pipeline stage
type StageResult struct {
	Stage    Stage
	Success  bool
	Duration time.Duration
	Message  string
	Error    error
}

// Result represents the complete run result
type Result struct {
	RunID string

	// Execution info
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	// Stage results
	StageResults []*StageResult
	Optional     []OptionalFailure

	// Accounts involved
	ContractID string
	AliceID    string
	GuestsID   string
	Guest      Guest

	// Cost report
	Report *profile.Report

	// Errors encountered
	Errors []error
}

// NewResult creates a new run result
func NewResult(runID string) *Result {
	return &Result{
		RunID:        runID,
		StartTime:    time.Now(),
		StageResults: make([]*StageResult, 0),
		Errors:       make([]error, 0),
	}
}

// AddStageResult adds a stage result
func (r *Result) AddStageResult(sr *StageResult) {
	r.StageResults = append(r.StageResults, sr)
	if sr.Error != nil {
		r.Errors = append(r.Errors, sr.Error)
	}
}

// Stage returns the result recorded for stage, or nil.
func (r *Result) Stage(stage Stage) *StageResult {
	for _, sr := range r.StageResults {
		if sr.Stage == stage {
			return sr
		}
	}
	return nil
}

// Finalize completes the result
func (r *Result) Finalize() {
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
}

// Success returns true if all stages succeeded
func (r *Result) Success() bool {
	for _, sr := range r.StageResults {
		if !sr.Success {
			return false
		}
	}
	return true
}
