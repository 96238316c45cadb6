package txbuilder

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/0xmhha/guestprof/internal/near"
)

// DefaultGas is the attached gas for function calls when none is configured (200 Tgas).
const DefaultGas uint64 = 200_000_000_000_000

// Factory builds actions with the configured default gas.
type Factory struct {
	gas uint64
}

// NewFactory creates an action factory; gas of zero selects DefaultGas.
func NewFactory(gas uint64) *Factory {
	if gas == 0 {
		gas = DefaultGas
	}
	return &Factory{gas: gas}
}

// FunctionCall builds a call with JSON-encoded args. A nil args encodes as {}.
// A zero gas uses the factory default.
func (f *Factory) FunctionCall(method string, args any, gas uint64, deposit *big.Int) (FunctionCall, error) {
	if args == nil {
		args = struct{}{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return FunctionCall{}, fmt.Errorf("failed to encode args for %s: %w", method, err)
	}
	if gas == 0 {
		gas = f.gas
	}
	if deposit == nil {
		deposit = new(big.Int)
	}
	return FunctionCall{
		MethodName: method,
		Args:       encoded,
		Gas:        gas,
		Deposit:    deposit,
	}, nil
}

// Transfer builds a native token transfer.
func (f *Factory) Transfer(amount *big.Int) Transfer {
	return Transfer{Deposit: amount}
}

// FullAccessKey builds an AddKey action with full-access permission.
func (f *Factory) FullAccessKey(pk near.PublicKey) AddKey {
	return AddKey{PublicKey: pk}
}

// FunctionCallKey builds an AddKey action restricted to contractID and methodNames.
func (f *Factory) FunctionCallKey(pk near.PublicKey, contractID string, methodNames []string, allowance *big.Int) AddKey {
	return AddKey{
		PublicKey: pk,
		AccessKey: AccessKey{
			FunctionCall: &FunctionCallPermission{
				Allowance:   allowance,
				ReceiverID:  contractID,
				MethodNames: methodNames,
			},
		},
	}
}

// CreateSubAccount builds the actions that create an account funded with
// amount and controlled by pk.
func (f *Factory) CreateSubAccount(pk near.PublicKey, amount *big.Int) []Action {
	return []Action{
		CreateAccount{},
		f.Transfer(amount),
		f.FullAccessKey(pk),
	}
}
