package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/0xmhha/guestprof/internal/near"
	"github.com/0xmhha/guestprof/internal/txbuilder"
)

var (
	// ErrUnknownAccount is returned when a queried account does not exist.
	ErrUnknownAccount = errors.New("unknown account")
	// ErrUnknownAccessKey is returned when a queried access key does not exist.
	ErrUnknownAccessKey = errors.New("unknown access key")
	// ErrViewFailed is returned when a view call panics inside the contract.
	ErrViewFailed = errors.New("view call failed")
)

// Options configures the client.
type Options struct {
	// RateLimit caps requests per second; zero disables limiting.
	RateLimit float64
	Logger    *zap.Logger
}

// Client wraps a JSON-RPC connection to a NEAR node.
type Client struct {
	rpc     *rpc.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// New creates a new client instance
func New(ctx context.Context, url string, opts Options) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	return NewWithRPC(rpcClient, opts), nil
}

// NewWithRPC wraps an existing RPC connection.
func NewWithRPC(rpcClient *rpc.Client, opts Options) *Client {
	c := &Client{
		rpc: rpcClient,
		log: opts.Logger,
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c
}

// Close closes the client connection
func (c *Client) Close() {
	c.rpc.Close()
}

func (c *Client) call(ctx context.Context, result any, method string, args ...any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	c.log.Debug("rpc call", zap.String("method", method), zap.Any("args", args))
	if err := c.rpc.CallContext(ctx, result, method, args...); err != nil {
		return classifyError(err)
	}
	return nil
}

// NodeVersion is the node build information.
type NodeVersion struct {
	Version string `json:"version"`
	Build   string `json:"build"`
}

// SyncInfo is the node's view of the chain head.
type SyncInfo struct {
	LatestBlockHash   string `json:"latest_block_hash"`
	LatestBlockHeight uint64 `json:"latest_block_height"`
	Syncing           bool   `json:"syncing"`
}

// NodeStatus is the subset of the status response the tool uses.
type NodeStatus struct {
	ChainID  string      `json:"chain_id"`
	Version  NodeVersion `json:"version"`
	SyncInfo SyncInfo    `json:"sync_info"`
}

// Status returns the node status.
func (c *Client) Status(ctx context.Context) (*NodeStatus, error) {
	var status NodeStatus
	if err := c.call(ctx, &status, "status"); err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	return &status, nil
}

// ViewAccount returns the on-chain state of accountID.
func (c *Client) ViewAccount(ctx context.Context, accountID string) (*near.AccountView, error) {
	var view near.AccountView
	if err := c.query(ctx, &view, "account/"+accountID, ""); err != nil {
		return nil, fmt.Errorf("view account %s: %w", accountID, err)
	}
	return &view, nil
}

// ViewAccessKey returns the nonce and permission of a key on accountID.
func (c *Client) ViewAccessKey(ctx context.Context, accountID string, pk near.PublicKey) (*near.AccessKeyView, error) {
	var view near.AccessKeyView
	if err := c.query(ctx, &view, "access_key/"+accountID+"/"+pk.String(), ""); err != nil {
		return nil, fmt.Errorf("view access key %s on %s: %w", pk, accountID, err)
	}
	return &view, nil
}

// CallFunction runs a view method on contractID with JSON-encoded args.
func (c *Client) CallFunction(ctx context.Context, contractID, method string, args []byte) (*near.CallResult, error) {
	var result near.CallResult
	if err := c.query(ctx, &result, "call/"+contractID+"/"+method, base58.Encode(args)); err != nil {
		return nil, fmt.Errorf("call %s.%s: %w", contractID, method, err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("call %s.%s: %w: %s", contractID, method, ErrViewFailed, result.Error)
	}
	return &result, nil
}

// BroadcastTxCommit sends a signed transaction and waits for its final outcome.
// A failed execution is returned together with the outcome.
func (c *Client) BroadcastTxCommit(ctx context.Context, tx *txbuilder.SignedTx) (*near.FinalExecutionOutcome, error) {
	var outcome near.FinalExecutionOutcome
	if err := c.call(ctx, &outcome, "broadcast_tx_commit", tx.Base64()); err != nil {
		return nil, fmt.Errorf("broadcast tx %s: %w", tx.Hash, err)
	}

	c.log.Debug("transaction committed",
		zap.String("hash", tx.Hash),
		zap.String("signer", tx.Transaction.SignerID),
		zap.String("receiver", tx.Transaction.ReceiverID),
		zap.Uint64("gas_burnt", outcome.GasBurnt()),
	)

	if err := outcome.Err(); err != nil {
		return &outcome, err
	}
	return &outcome, nil
}

// query issues the path-style query, which takes positional [path, data] params.
func (c *Client) query(ctx context.Context, result any, path, data string) error {
	var raw json.RawMessage
	if err := c.call(ctx, &raw, "query", path, data); err != nil {
		return err
	}

	// Some nodes report query failures inside the result body.
	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && probe.Error != "" && !strings.HasPrefix(path, "call/") {
		if sentinel := classifyMessage(probe.Error); sentinel != nil {
			return fmt.Errorf("%w: %s", sentinel, probe.Error)
		}
		return errors.New(probe.Error)
	}

	return json.Unmarshal(raw, result)
}

func classifyError(err error) error {
	msg := err.Error()
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		msg += " " + fmt.Sprint(dataErr.ErrorData())
	}
	if sentinel := classifyMessage(msg); sentinel != nil {
		return fmt.Errorf("%w: %v", sentinel, err)
	}
	return err
}

// classifyMessage maps node error text onto sentinel errors, or returns nil.
func classifyMessage(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "unknown_access_key"),
		strings.Contains(lower, "access key") && strings.Contains(lower, "does not exist"):
		return ErrUnknownAccessKey
	case strings.Contains(lower, "unknown_account"),
		strings.Contains(lower, "does not exist while viewing"),
		strings.Contains(lower, "account id") && strings.Contains(lower, "does not exist"):
		return ErrUnknownAccount
	default:
		return nil
	}
}
