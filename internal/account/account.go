package account

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/0xmhha/guestprof/internal/near"
	"github.com/0xmhha/guestprof/internal/txbuilder"
)

// Balance is an account's native balance broken down the way wallets show it.
type Balance struct {
	Total       *big.Int
	StateStaked *big.Int
	Staked      *big.Int
	Available   *big.Int
}

// Account signs and sends transactions for one account id.
type Account struct {
	id   string
	conn *Connection
}

// ID returns the account id.
func (a *Account) ID() string {
	return a.id
}

// State returns the raw on-chain account view.
func (a *Account) State(ctx context.Context) (*near.AccountView, error) {
	return a.conn.rpc.ViewAccount(ctx, a.id)
}

// Balance returns the account's balance breakdown.
func (a *Account) Balance(ctx context.Context) (*Balance, error) {
	state, err := a.State(ctx)
	if err != nil {
		return nil, err
	}
	return BalanceFromState(state), nil
}

// BalanceFromState derives a Balance from a view_account result:
// total = amount + locked, state staked = storage_usage * storage price,
// available = total - max(staked, state staked).
func BalanceFromState(state *near.AccountView) *Balance {
	staked := new(big.Int).Set(&state.Locked.Int)
	total := new(big.Int).Add(&state.Amount.Int, staked)

	stateStaked := new(big.Int).Mul(new(big.Int).SetUint64(state.StorageUsage), near.StorageCostPerByte)

	reserved := staked
	if stateStaked.Cmp(staked) > 0 {
		reserved = stateStaked
	}

	return &Balance{
		Total:       total,
		StateStaked: stateStaked,
		Staked:      staked,
		Available:   new(big.Int).Sub(total, reserved),
	}
}

// ViewFunction calls a view method and decodes its JSON result into out.
// A nil out discards the result.
func (a *Account) ViewFunction(ctx context.Context, contractID, method string, args, out any) error {
	if args == nil {
		args = struct{}{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode args for %s: %w", method, err)
	}

	result, err := a.conn.rpc.CallFunction(ctx, contractID, method, encoded)
	if err != nil {
		return err
	}
	if out == nil || len(result.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(result.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s.%s result: %w", contractID, method, err)
	}
	return nil
}

// FunctionCall invokes a change method on contractID. A zero gas uses the
// connection default.
func (a *Account) FunctionCall(ctx context.Context, contractID, method string, args any, gas uint64, deposit *big.Int) (*near.FinalExecutionOutcome, error) {
	action, err := a.conn.factory.FunctionCall(method, args, gas, deposit)
	if err != nil {
		return nil, err
	}
	return a.SignAndSend(ctx, contractID, action)
}

// AddKey adds pk to this account. With an empty contractID the key gets full
// access; otherwise it may only call methodNames on contractID, paying gas
// from allowance.
func (a *Account) AddKey(ctx context.Context, pk near.PublicKey, contractID string, methodNames []string, allowance *big.Int) (*near.FinalExecutionOutcome, error) {
	if contractID == "" {
		return a.SignAndSend(ctx, a.id, a.conn.factory.FullAccessKey(pk))
	}
	return a.SignAndSend(ctx, a.id, a.conn.factory.FunctionCallKey(pk, contractID, methodNames, allowance))
}

// DeleteKey removes pk from this account.
func (a *Account) DeleteKey(ctx context.Context, pk near.PublicKey) (*near.FinalExecutionOutcome, error) {
	return a.SignAndSend(ctx, a.id, txbuilder.DeleteKey{PublicKey: pk})
}

// SendMoney transfers native tokens to receiverID.
func (a *Account) SendMoney(ctx context.Context, receiverID string, amount *big.Int) (*near.FinalExecutionOutcome, error) {
	return a.SignAndSend(ctx, receiverID, a.conn.factory.Transfer(amount))
}

// CreateAccount creates newID funded with amount and controlled by pk.
func (a *Account) CreateAccount(ctx context.Context, newID string, pk near.PublicKey, amount *big.Int) (*near.FinalExecutionOutcome, error) {
	return a.SignAndSend(ctx, newID, a.conn.factory.CreateSubAccount(pk, amount)...)
}

// SignAndSend signs actions with this account's stored key and waits for the
// final outcome.
func (a *Account) SignAndSend(ctx context.Context, receiverID string, actions ...txbuilder.Action) (*near.FinalExecutionOutcome, error) {
	kp, err := a.conn.wallet.Key(a.id)
	if err != nil {
		return nil, fmt.Errorf("no signing key for %s: %w", a.id, err)
	}

	accessKey, err := a.conn.rpc.ViewAccessKey(ctx, a.id, kp.PublicKey())
	if err != nil {
		return nil, err
	}

	blockHash, err := txbuilder.DecodeBlockHash(accessKey.BlockHash)
	if err != nil {
		return nil, err
	}

	signed, err := txbuilder.Sign(&txbuilder.Transaction{
		SignerID:   a.id,
		PublicKey:  kp.PublicKey(),
		Nonce:      accessKey.Nonce + 1,
		ReceiverID: receiverID,
		BlockHash:  blockHash,
		Actions:    actions,
	}, kp)
	if err != nil {
		return nil, err
	}

	a.conn.log.Debug("sending transaction",
		zap.String("signer", a.id),
		zap.String("receiver", receiverID),
		zap.Int("actions", len(actions)),
		zap.String("hash", signed.Hash),
	)

	outcome, err := a.conn.rpc.BroadcastTxCommit(ctx, signed)
	// failed executions still burn gas
	if outcome != nil && a.conn.observer != nil {
		a.conn.observer(a.id, outcome)
	}
	return outcome, err
}
