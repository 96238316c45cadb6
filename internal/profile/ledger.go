// Package profile attributes gas burn and storage cost to contract calls by
// diffing account snapshots taken before and after each call.
//
// A Ledger owns the accumulators for one run. Ledger.Mark snapshots an account
// and returns a Measurement that must be closed exactly once with Burn,
// Storage or BurnAndStorage; closing takes the second snapshot and adds the
// delta to a named accumulator, or to GlobalKey when no name is given.
package profile

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/0xmhha/guestprof/internal/near"
	"github.com/0xmhha/guestprof/internal/util/mathutil"
)

// GlobalKey is the accumulator used when a measurement is closed without a key.
const GlobalKey = "total"

// ErrMeasurementClosed is returned when a measurement is closed twice.
var ErrMeasurementClosed = errors.New("measurement already closed")

// Snapshotter reads the account state a measurement diffs.
type Snapshotter interface {
	ViewAccount(ctx context.Context, accountID string) (*near.AccountView, error)
}

// Snapshot is the cost-relevant state of an account at one point in time.
type Snapshot struct {
	AccountID    string
	Amount       *big.Int
	Locked       *big.Int
	StorageUsage uint64
	BlockHeight  uint64
	TakenAt      time.Time
}

// Kind selects which deltas a measurement accumulates.
type Kind int

const (
	KindBurn Kind = iota
	KindStorage
	KindBurnAndStorage
)

func (k Kind) String() string {
	switch k {
	case KindBurn:
		return "burn"
	case KindStorage:
		return "storage"
	case KindBurnAndStorage:
		return "burn+storage"
	default:
		return "unknown"
	}
}

// Cost is the result of one closed measurement.
type Cost struct {
	Label string
	Key   string
	Kind  Kind

	// Burn is the drop in the account's liquid balance, floored at zero.
	Burn *big.Int
	// StorageBytes is the signed change in storage usage.
	StorageBytes int64
	// Storage is StorageBytes priced in yoctoNEAR; negative when released.
	Storage *big.Int
	// Accumulated is what was added to the accumulator; never negative.
	Accumulated *big.Int

	Before   Snapshot
	After    Snapshot
	Duration time.Duration
}

// Entry is the running state of one accumulator.
type Entry struct {
	Key      string
	Total    *big.Int
	Burn     *big.Int
	Storage  *big.Int
	Released *big.Int
	Count    int
}

func newEntry(key string) *Entry {
	return &Entry{
		Key:      key,
		Total:    new(big.Int),
		Burn:     new(big.Int),
		Storage:  new(big.Int),
		Released: new(big.Int),
	}
}

func (e *Entry) clone() Entry {
	return Entry{
		Key:      e.Key,
		Total:    new(big.Int).Set(e.Total),
		Burn:     new(big.Int).Set(e.Burn),
		Storage:  new(big.Int).Set(e.Storage),
		Released: new(big.Int).Set(e.Released),
		Count:    e.Count,
	}
}

// Ledger holds the cost accumulators for one profiling run.
type Ledger struct {
	snap Snapshotter

	mu      sync.Mutex
	entries map[string]*Entry
	history []Cost
	open    map[*Measurement]struct{}
	onCost  func(Cost)
}

// NewLedger creates an empty ledger reading snapshots from snap.
func NewLedger(snap Snapshotter) *Ledger {
	l := &Ledger{snap: snap}
	l.Reset()
	return l
}

// Reset clears every accumulator and forgets open measurements.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = make(map[string]*Entry)
	l.history = nil
	l.open = make(map[*Measurement]struct{})
}

// OnCost registers a callback invoked after every closed measurement.
func (l *Ledger) OnCost(fn func(Cost)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onCost = fn
}

// Mark snapshots label's account and opens a measurement on it.
func (l *Ledger) Mark(ctx context.Context, label string) (*Measurement, error) {
	before, err := l.snapshot(ctx, label)
	if err != nil {
		return nil, fmt.Errorf("mark %s: %w", label, err)
	}

	m := &Measurement{ledger: l, label: label, before: before}

	l.mu.Lock()
	l.open[m] = struct{}{}
	l.mu.Unlock()

	return m, nil
}

// Costs returns a copy of the accumulated total for key, or GlobalKey when key is empty.
func (l *Ledger) Costs(key string) *big.Int {
	if key == "" {
		key = GlobalKey
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries[key]; ok {
		return new(big.Int).Set(e.Total)
	}
	return new(big.Int)
}

// Entries returns copies of all accumulators sorted by key, GlobalKey last.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if (out[i].Key == GlobalKey) != (out[j].Key == GlobalKey) {
			return out[j].Key == GlobalKey
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// History returns every closed measurement in order.
func (l *Ledger) History() []Cost {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Cost(nil), l.history...)
}

// Pending returns the labels of measurements that were marked but never closed.
func (l *Ledger) Pending() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	labels := make([]string, 0, len(l.open))
	for m := range l.open {
		labels = append(labels, m.label)
	}
	sort.Strings(labels)
	return labels
}

func (l *Ledger) snapshot(ctx context.Context, accountID string) (Snapshot, error) {
	view, err := l.snap.ViewAccount(ctx, accountID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		AccountID:    accountID,
		Amount:       new(big.Int).Set(&view.Amount.Int),
		Locked:       new(big.Int).Set(&view.Locked.Int),
		StorageUsage: view.StorageUsage,
		BlockHeight:  view.BlockHeight,
		TakenAt:      time.Now(),
	}, nil
}

func (l *Ledger) record(m *Measurement, cost Cost) {
	l.mu.Lock()
	delete(l.open, m)

	e, ok := l.entries[cost.Key]
	if !ok {
		e = newEntry(cost.Key)
		l.entries[cost.Key] = e
	}
	e.Total.Add(e.Total, cost.Accumulated)
	if cost.Kind != KindStorage {
		e.Burn.Add(e.Burn, cost.Burn)
	}
	if cost.Kind != KindBurn {
		if cost.Storage.Sign() > 0 {
			e.Storage.Add(e.Storage, cost.Storage)
		} else {
			e.Released.Sub(e.Released, cost.Storage)
		}
	}
	e.Count++

	l.history = append(l.history, cost)
	onCost := l.onCost
	l.mu.Unlock()

	if onCost != nil {
		onCost(cost)
	}
}

func (l *Ledger) discard(m *Measurement) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.open, m)
}

// Measurement is an open mark on one account.
type Measurement struct {
	ledger *Ledger
	label  string
	before Snapshot

	mu     sync.Mutex
	closed bool
}

// Label returns the account id the measurement was marked on.
func (m *Measurement) Label() string {
	return m.label
}

// Before returns the snapshot taken at mark time.
func (m *Measurement) Before() Snapshot {
	return m.before
}

// Burn closes the measurement, accumulating gas burn into key.
func (m *Measurement) Burn(ctx context.Context, key string) (Cost, error) {
	return m.Close(ctx, KindBurn, key)
}

// Storage closes the measurement, accumulating storage growth into key.
func (m *Measurement) Storage(ctx context.Context, key string) (Cost, error) {
	return m.Close(ctx, KindStorage, key)
}

// BurnAndStorage closes the measurement, accumulating both into key.
func (m *Measurement) BurnAndStorage(ctx context.Context, key string) (Cost, error) {
	return m.Close(ctx, KindBurnAndStorage, key)
}

// Close closes the measurement with an explicit kind. A measurement is
// closed at most once; later calls return ErrMeasurementClosed.
func (m *Measurement) Close(ctx context.Context, kind Kind, key string) (Cost, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Cost{}, fmt.Errorf("%w: %s", ErrMeasurementClosed, m.label)
	}
	m.closed = true
	m.mu.Unlock()

	if key == "" {
		key = GlobalKey
	}

	after, err := m.ledger.snapshot(ctx, m.label)
	if err != nil {
		m.ledger.discard(m)
		return Cost{}, fmt.Errorf("measure %s: %w", m.label, err)
	}

	cost, err := diff(m.before, after, kind)
	if err != nil {
		m.ledger.discard(m)
		return Cost{}, fmt.Errorf("measure %s: %w", m.label, err)
	}
	cost.Label = m.label
	cost.Key = key

	m.ledger.record(m, cost)
	return cost, nil
}

func diff(before, after Snapshot, kind Kind) (Cost, error) {
	burn := new(big.Int).Sub(before.Amount, after.Amount)
	if burn.Sign() < 0 {
		burn.SetInt64(0)
	}

	storageBytes, err := mathutil.Delta(before.StorageUsage, after.StorageUsage)
	if err != nil {
		return Cost{}, err
	}
	storage := near.StorageCost(storageBytes)

	accumulated := new(big.Int)
	if kind != KindStorage {
		accumulated.Add(accumulated, burn)
	}
	if kind != KindBurn && storage.Sign() > 0 {
		accumulated.Add(accumulated, storage)
	}

	return Cost{
		Kind:         kind,
		Burn:         burn,
		StorageBytes: storageBytes,
		Storage:      storage,
		Accumulated:  accumulated,
		Before:       before,
		After:        after,
		Duration:     after.TakenAt.Sub(before.TakenAt),
	}, nil
}
