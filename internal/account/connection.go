package account

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/0xmhha/guestprof/internal/client"
	"github.com/0xmhha/guestprof/internal/near"
	"github.com/0xmhha/guestprof/internal/txbuilder"
	"github.com/0xmhha/guestprof/internal/wallet"
)

// RPC is the node surface accounts need.
type RPC interface {
	ViewAccount(ctx context.Context, accountID string) (*near.AccountView, error)
	ViewAccessKey(ctx context.Context, accountID string, pk near.PublicKey) (*near.AccessKeyView, error)
	CallFunction(ctx context.Context, contractID, method string, args []byte) (*near.CallResult, error)
	BroadcastTxCommit(ctx context.Context, tx *txbuilder.SignedTx) (*near.FinalExecutionOutcome, error)
}

// OutcomeObserver is notified of every committed transaction.
type OutcomeObserver func(signerID string, outcome *near.FinalExecutionOutcome)

// Connection ties an RPC endpoint to a wallet.
type Connection struct {
	rpc      RPC
	wallet   *wallet.Wallet
	factory  *txbuilder.Factory
	log      *zap.Logger
	observer OutcomeObserver
}

// NewConnection creates a connection. A zero gas selects txbuilder.DefaultGas.
func NewConnection(rpc RPC, w *wallet.Wallet, gas uint64, log *zap.Logger) *Connection {
	if log == nil {
		log = zap.NewNop()
	}
	return &Connection{
		rpc:     rpc,
		wallet:  w,
		factory: txbuilder.NewFactory(gas),
		log:     log,
	}
}

// OnOutcome registers an observer for committed transactions.
func (c *Connection) OnOutcome(fn OutcomeObserver) {
	c.observer = fn
}

// Wallet returns the key wallet.
func (c *Connection) Wallet() *wallet.Wallet {
	return c.wallet
}

// Account returns a handle for accountID. No network call is made.
func (c *Connection) Account(accountID string) *Account {
	return &Account{id: accountID, conn: c}
}

// AccountExists reports whether accountID exists on chain.
func (c *Connection) AccountExists(ctx context.Context, accountID string) (bool, error) {
	_, err := c.rpc.ViewAccount(ctx, accountID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, client.ErrUnknownAccount):
		return false, nil
	default:
		return false, err
	}
}

// GetAccountBalance returns the balance breakdown of accountID.
func (c *Connection) GetAccountBalance(ctx context.Context, accountID string) (*Balance, error) {
	return c.Account(accountID).Balance(ctx)
}

// CreateOrInitAccount returns accountID signing with secret, creating it from
// creator with amount when it does not exist yet.
func (c *Connection) CreateOrInitAccount(ctx context.Context, creator *Account, accountID, secret string, amount *big.Int) (*Account, error) {
	kp, err := c.wallet.ImportSecretKey(accountID, secret)
	if err != nil {
		return nil, err
	}

	exists, err := c.AccountExists(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if exists {
		c.log.Info("account already exists", zap.String("account", accountID))
		return c.Account(accountID), nil
	}

	if _, err := creator.CreateAccount(ctx, accountID, kp.PublicKey(), amount); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", accountID, err)
	}
	c.log.Info("account created", zap.String("account", accountID), zap.String("creator", creator.ID()))
	return c.Account(accountID), nil
}

// CreateAccountWithRandomKey creates accountID from creator with a fresh key
// stored in the wallet.
func (c *Connection) CreateAccountWithRandomKey(ctx context.Context, creator *Account, accountID string, amount *big.Int) (*Account, error) {
	kp, err := c.wallet.GenerateKey(accountID)
	if err != nil {
		return nil, err
	}
	if _, err := creator.CreateAccount(ctx, accountID, kp.PublicKey(), amount); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", accountID, err)
	}
	c.log.Info("account created", zap.String("account", accountID), zap.String("creator", creator.ID()))
	return c.Account(accountID), nil
}
