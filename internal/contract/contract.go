// Package contract binds a fixed set of method names on one contract to the
// account that calls them.
package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"

	"github.com/0xmhha/guestprof/internal/near"
)

// ErrUnknownMethod is returned for a method outside the bound sets.
var ErrUnknownMethod = errors.New("method not bound to contract")

// Methods lists the view and change methods a proxy may call.
type Methods struct {
	View   []string
	Change []string
}

// GuestMethods is the guest token contract surface used by the profiler.
var GuestMethods = Methods{
	View: []string{
		"storage_minimum_balance",
		"ft_balance_of",
		"ft_total_supply",
		"get_guest",
	},
	Change: []string{
		"storage_deposit",
		"ft_transfer",
		"add_guest",
		"claim_drop",
		"upgrade_guest",
	},
}

// Caller is the account surface a proxy calls through.
type Caller interface {
	ID() string
	ViewFunction(ctx context.Context, contractID, method string, args, out any) error
	FunctionCall(ctx context.Context, contractID, method string, args any, gas uint64, deposit *big.Int) (*near.FinalExecutionOutcome, error)
}

// CallOptions sets gas and deposit for a change call. Zero gas uses the
// account default; nil deposit attaches nothing.
type CallOptions struct {
	Gas     uint64
	Deposit *big.Int
}

// Contract is a proxy for one contract scoped to one calling account.
type Contract struct {
	caller     Caller
	contractID string
	methods    Methods
}

// New binds methods on contractID to caller.
func New(caller Caller, contractID string, methods Methods) *Contract {
	return &Contract{
		caller:     caller,
		contractID: contractID,
		methods:    methods,
	}
}

// ID returns the contract account id.
func (c *Contract) ID() string {
	return c.contractID
}

// Caller returns the account the proxy signs with.
func (c *Contract) Caller() Caller {
	return c.caller
}

// View calls a bound view method and decodes the result into out.
func (c *Contract) View(ctx context.Context, method string, args, out any) error {
	if !slices.Contains(c.methods.View, method) {
		return fmt.Errorf("%w: view %s on %s", ErrUnknownMethod, method, c.contractID)
	}
	return c.caller.ViewFunction(ctx, c.contractID, method, args, out)
}

// Call invokes a bound change method.
func (c *Contract) Call(ctx context.Context, method string, args any, opts CallOptions) (*near.FinalExecutionOutcome, error) {
	if !slices.Contains(c.methods.Change, method) {
		return nil, fmt.Errorf("%w: change %s on %s", ErrUnknownMethod, method, c.contractID)
	}
	return c.caller.FunctionCall(ctx, c.contractID, method, args, opts.Gas, opts.Deposit)
}
