package testing

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"

	"github.com/mr-tron/base58"

	"github.com/0xmhha/guestprof/internal/client"
	"github.com/0xmhha/guestprof/internal/near"
	"github.com/0xmhha/guestprof/internal/txbuilder"
)

// Storage and gas parameters of the simulated chain.
const (
	AccountStorageBytes = 100
	KeyStorageBytes     = 82
	GuestStorageBytes   = 240
	FTAccountBytes      = 125

	TxBaseGas       = 2_428_000_000_000
	ActionGas       = 3_000_000_000_000
	GasPriceYocto   = 100_000_000
	StorageMinimum  = "1250000000000000000000"
	defaultDropNEAR = "100"
	defaultUpgrade  = "0.5"
)

// ErrRejected is returned for transactions the simulated node refuses before execution.
var ErrRejected = errors.New("transaction rejected")

type mockKey struct {
	nonce      uint64
	permission *txbuilder.FunctionCallPermission
}

type mockAccount struct {
	amount  *big.Int
	locked  *big.Int
	storage uint64
	keys    map[near.PublicKey]*mockKey
}

type mockGuest struct {
	accountID string
	balance   *big.Int
	claimed   bool
}

// MockChain is an in-memory NEAR node hosting one guest token contract. It
// implements the node surface used by accounts and the profiling runner.
type MockChain struct {
	mu sync.Mutex

	contractID string
	height     uint64
	blockHash  string

	accounts map[string]*mockAccount

	// token contract state
	ftBalances map[string]*big.Int
	registered map[string]bool
	guests     map[string]*mockGuest

	// DropAmount is credited to a guest on claim_drop.
	DropAmount *big.Int
	// UpgradeAmount is the native balance an upgraded guest account starts with.
	UpgradeAmount *big.Int

	// MethodErrors makes the named contract method fail at execution.
	MethodErrors map[string]string

	// Sent transactions tracking
	Sent []*txbuilder.SignedTx

	// Call counters
	CallCounts map[string]int
}

// NewMockChain creates a chain where contractID exists with ownerKey as full
// access key and 1000 NEAR of balance. The owner holds 1,000,000 tokens.
func NewMockChain(contractID string, ownerKey near.PublicKey) *MockChain {
	hash := sha256.Sum256([]byte(contractID))
	c := &MockChain{
		contractID:    contractID,
		height:        1000,
		blockHash:     base58.Encode(hash[:]),
		accounts:      make(map[string]*mockAccount),
		ftBalances:    make(map[string]*big.Int),
		registered:    make(map[string]bool),
		guests:        make(map[string]*mockGuest),
		DropAmount:    near.MustParseNearAmount(defaultDropNEAR),
		UpgradeAmount: near.MustParseNearAmount(defaultUpgrade),
		MethodErrors:  make(map[string]string),
		CallCounts:    make(map[string]int),
	}
	c.addAccount(contractID, near.MustParseNearAmount("1000"), ownerKey, nil)
	c.accounts[contractID].storage += 200_000 // contract code
	c.registered[contractID] = true
	c.ftBalances[contractID] = near.MustParseNearAmount("1000000")
	return c
}

// AddAccount creates accountID with a full access key.
func (c *MockChain) AddAccount(accountID string, amount *big.Int, pk near.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addAccount(accountID, amount, pk, nil)
}

func (c *MockChain) addAccount(accountID string, amount *big.Int, pk near.PublicKey, perm *txbuilder.FunctionCallPermission) {
	c.accounts[accountID] = &mockAccount{
		amount:  new(big.Int).Set(amount),
		locked:  new(big.Int),
		storage: AccountStorageBytes + KeyStorageBytes,
		keys:    map[near.PublicKey]*mockKey{pk: {permission: perm}},
	}
}

// HasAccount reports whether accountID exists.
func (c *MockChain) HasAccount(accountID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.accounts[accountID]
	return ok
}

// HasKey reports whether pk is an access key of accountID.
func (c *MockChain) HasKey(accountID string, pk near.PublicKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	acc, ok := c.accounts[accountID]
	if !ok {
		return false
	}
	_, ok = acc.keys[pk]
	return ok
}

// FTBalance returns the token balance of accountID.
func (c *MockChain) FTBalance(accountID string) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.ftBalances[accountID]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// GuestCount returns the number of registered, not yet upgraded guests.
func (c *MockChain) GuestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.guests)
}

// GetCallCount returns how many times an RPC method was called
func (c *MockChain) GetCallCount(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCounts[method]
}

// ViewAccount implements the account query.
func (c *MockChain) ViewAccount(_ context.Context, accountID string) (*near.AccountView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCounts["view_account"]++

	acc, ok := c.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", client.ErrUnknownAccount, accountID)
	}
	return &near.AccountView{
		Amount:       near.NewBigInt(acc.amount),
		Locked:       near.NewBigInt(acc.locked),
		StorageUsage: acc.storage,
		BlockHeight:  c.height,
		BlockHash:    c.blockHash,
	}, nil
}

// ViewAccessKey implements the access key query.
func (c *MockChain) ViewAccessKey(_ context.Context, accountID string, pk near.PublicKey) (*near.AccessKeyView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCounts["view_access_key"]++

	acc, ok := c.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", client.ErrUnknownAccount, accountID)
	}
	key, ok := acc.keys[pk]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", client.ErrUnknownAccessKey, pk, accountID)
	}

	permission := json.RawMessage(`"FullAccess"`)
	if key.permission != nil {
		permission = json.RawMessage(`{"FunctionCall":{}}`)
	}
	return &near.AccessKeyView{
		Nonce:       key.nonce,
		Permission:  permission,
		BlockHeight: c.height,
		BlockHash:   c.blockHash,
	}, nil
}

// CallFunction implements view calls on the token contract.
func (c *MockChain) CallFunction(_ context.Context, contractID, method string, args []byte) (*near.CallResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCounts["call_function"]++

	if contractID != c.contractID {
		return nil, fmt.Errorf("%w: %s has no contract code", client.ErrViewFailed, contractID)
	}

	var params struct {
		AccountID string `json:"account_id"`
		PublicKey string `json:"public_key"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, fmt.Errorf("%w: %v", client.ErrViewFailed, err)
		}
	}

	var out any
	switch method {
	case "storage_minimum_balance":
		out = StorageMinimum
	case "ft_balance_of":
		b, ok := c.ftBalances[params.AccountID]
		if !ok {
			b = new(big.Int)
		}
		out = b.String()
	case "ft_total_supply":
		total := new(big.Int)
		for _, b := range c.ftBalances {
			total.Add(total, b)
		}
		for _, g := range c.guests {
			total.Add(total, g.balance)
		}
		out = total.String()
	case "get_guest":
		g, ok := c.guests[params.PublicKey]
		if !ok {
			return nil, fmt.Errorf("%w: no guest for %s", client.ErrViewFailed, params.PublicKey)
		}
		out = map[string]string{"account_id": g.accountID, "balance": g.balance.String()}
	default:
		return nil, fmt.Errorf("%w: method %s not found", client.ErrViewFailed, method)
	}

	result, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return &near.CallResult{Result: result, BlockHeight: c.height, BlockHash: c.blockHash}, nil
}

// BroadcastTxCommit validates, executes and commits tx in one block.
func (c *MockChain) BroadcastTxCommit(_ context.Context, tx *txbuilder.SignedTx) (*near.FinalExecutionOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCounts["broadcast_tx_commit"]++

	t := tx.Transaction
	hash, _, err := t.Hash()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if !t.PublicKey.Verify(hash[:], tx.Signature) {
		return nil, fmt.Errorf("%w: invalid signature", ErrRejected)
	}

	signer, ok := c.accounts[t.SignerID]
	if !ok {
		return nil, fmt.Errorf("%w: signer %s does not exist", ErrRejected, t.SignerID)
	}
	key, ok := signer.keys[t.PublicKey]
	if !ok {
		return nil, fmt.Errorf("%w: access key %s not found on %s", ErrRejected, t.PublicKey, t.SignerID)
	}
	if t.Nonce <= key.nonce {
		return nil, fmt.Errorf("%w: invalid nonce %d", ErrRejected, t.Nonce)
	}
	if err := checkPermission(key.permission, t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	gas := uint64(TxBaseGas + ActionGas*len(t.Actions))
	fee := new(big.Int).Mul(new(big.Int).SetUint64(gas), big.NewInt(GasPriceYocto))
	if signer.amount.Cmp(fee) < 0 {
		return nil, fmt.Errorf("%w: %s cannot cover fee", ErrRejected, t.SignerID)
	}
	key.nonce = t.Nonce
	signer.amount.Sub(signer.amount, fee)
	if key.permission != nil && key.permission.Allowance != nil {
		key.permission.Allowance.Sub(key.permission.Allowance, fee)
	}

	c.height++
	c.Sent = append(c.Sent, tx)

	outcome := &near.FinalExecutionOutcome{
		TransactionOutcome: near.OutcomeWithID{
			ID: tx.Hash,
			Outcome: near.Outcome{
				GasBurnt:    gas,
				TokensBurnt: near.NewBigInt(fee),
				ExecutorID:  t.SignerID,
			},
		},
	}

	value, execErr := c.execute(t)
	if execErr != nil {
		failure, _ := json.Marshal(map[string]string{"ActionError": execErr.Error()})
		outcome.Status.Failure = failure
		return outcome, outcome.Err()
	}

	encoded := base64.StdEncoding.EncodeToString(value)
	outcome.Status.SuccessValue = &encoded
	return outcome, nil
}

func checkPermission(perm *txbuilder.FunctionCallPermission, t *txbuilder.Transaction) error {
	if perm == nil {
		return nil
	}
	if t.ReceiverID != perm.ReceiverID {
		return fmt.Errorf("function call key cannot call %s", t.ReceiverID)
	}
	for _, a := range t.Actions {
		call, ok := a.(txbuilder.FunctionCall)
		if !ok {
			return fmt.Errorf("function call key cannot sign %s", a.Kind())
		}
		if call.Deposit != nil && call.Deposit.Sign() > 0 {
			return errors.New("function call key cannot attach deposit")
		}
		if len(perm.MethodNames) > 0 && !slices.Contains(perm.MethodNames, call.MethodName) {
			return fmt.Errorf("method %s not allowed", call.MethodName)
		}
	}
	return nil
}

// execute applies the actions atomically enough for tests: state changes made
// before a failing action are kept, as with receipts on a real node.
func (c *MockChain) execute(t *txbuilder.Transaction) ([]byte, error) {
	var value []byte
	for _, a := range t.Actions {
		var err error
		switch action := a.(type) {
		case txbuilder.CreateAccount:
			if _, exists := c.accounts[t.ReceiverID]; exists {
				return nil, fmt.Errorf("account %s already exists", t.ReceiverID)
			}
			c.accounts[t.ReceiverID] = &mockAccount{
				amount:  new(big.Int),
				locked:  new(big.Int),
				storage: AccountStorageBytes,
				keys:    make(map[near.PublicKey]*mockKey),
			}
		case txbuilder.Transfer:
			err = c.transfer(t.SignerID, t.ReceiverID, action.Deposit)
		case txbuilder.AddKey:
			err = c.addKey(t, action)
		case txbuilder.DeleteKey:
			acc := c.accounts[t.SignerID]
			if _, ok := acc.keys[action.PublicKey]; !ok {
				err = fmt.Errorf("key %s does not exist", action.PublicKey)
			} else {
				delete(acc.keys, action.PublicKey)
				acc.storage -= KeyStorageBytes
			}
		case txbuilder.FunctionCall:
			value, err = c.functionCall(t, action)
		default:
			err = fmt.Errorf("unsupported action %s", a.Kind())
		}
		if err != nil {
			return nil, err
		}
	}
	return value, nil
}

func (c *MockChain) transfer(from, to string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	src := c.accounts[from]
	dst, ok := c.accounts[to]
	if !ok {
		return fmt.Errorf("account %s does not exist", to)
	}
	if src.amount.Cmp(amount) < 0 {
		return fmt.Errorf("%s has not enough balance", from)
	}
	src.amount.Sub(src.amount, amount)
	dst.amount.Add(dst.amount, amount)
	return nil
}

func (c *MockChain) addKey(t *txbuilder.Transaction, action txbuilder.AddKey) error {
	if t.SignerID != t.ReceiverID {
		if _, fresh := c.accounts[t.ReceiverID]; !fresh {
			return fmt.Errorf("account %s does not exist", t.ReceiverID)
		}
	}
	acc := c.accounts[t.ReceiverID]
	if _, exists := acc.keys[action.PublicKey]; exists {
		return fmt.Errorf("key %s already exists", action.PublicKey)
	}

	var perm *txbuilder.FunctionCallPermission
	if fc := action.AccessKey.FunctionCall; fc != nil {
		perm = &txbuilder.FunctionCallPermission{
			ReceiverID:  fc.ReceiverID,
			MethodNames: append([]string(nil), fc.MethodNames...),
		}
		if fc.Allowance != nil {
			perm.Allowance = new(big.Int).Set(fc.Allowance)
		}
	}
	acc.keys[action.PublicKey] = &mockKey{nonce: action.AccessKey.Nonce, permission: perm}
	acc.storage += KeyStorageBytes
	return nil
}

func (c *MockChain) functionCall(t *txbuilder.Transaction, call txbuilder.FunctionCall) ([]byte, error) {
	if t.ReceiverID != c.contractID {
		return nil, fmt.Errorf("%s has no contract code", t.ReceiverID)
	}
	if msg, ok := c.MethodErrors[call.MethodName]; ok {
		return nil, fmt.Errorf("smart contract panicked: %s", msg)
	}
	if err := c.transfer(t.SignerID, c.contractID, call.Deposit); err != nil {
		return nil, err
	}

	var args struct {
		AccountID   string  `json:"account_id"`
		PublicKey   string  `json:"public_key"`
		ReceiverID  string  `json:"receiver_id"`
		Amount      string  `json:"amount"`
		AccessKey   string  `json:"access_key"`
		MethodNames *string `json:"method_names"`
	}
	if err := json.Unmarshal(call.Args, &args); err != nil {
		return nil, fmt.Errorf("failed to parse args: %w", err)
	}

	predecessor := t.SignerID
	contract := c.accounts[c.contractID]

	switch call.MethodName {
	case "storage_deposit":
		minimum, _ := new(big.Int).SetString(StorageMinimum, 10)
		if call.Deposit == nil || call.Deposit.Cmp(minimum) < 0 {
			return nil, errors.New("requires minimum storage deposit")
		}
		accountID := args.AccountID
		if accountID == "" {
			accountID = predecessor
		}
		if !c.registered[accountID] {
			c.registered[accountID] = true
			c.ftBalances[accountID] = new(big.Int)
			contract.storage += FTAccountBytes
		}
		return nil, nil

	case "ft_transfer":
		if call.Deposit == nil || call.Deposit.Cmp(big.NewInt(1)) != 0 {
			return nil, errors.New("requires attached deposit of exactly 1 yoctoNEAR")
		}
		amount, ok := new(big.Int).SetString(args.Amount, 10)
		if !ok || amount.Sign() <= 0 {
			return nil, fmt.Errorf("invalid amount %q", args.Amount)
		}
		from, ok := c.ftBalances[predecessor]
		if !ok {
			return nil, fmt.Errorf("account %s is not registered", predecessor)
		}
		if from.Cmp(amount) < 0 {
			return nil, errors.New("the account doesn't have enough balance")
		}
		if g := c.guestByAccount(args.ReceiverID); g != nil {
			from.Sub(from, amount)
			g.balance.Add(g.balance, amount)
			return nil, nil
		}
		to, ok := c.ftBalances[args.ReceiverID]
		if !ok {
			return nil, fmt.Errorf("account %s is not registered", args.ReceiverID)
		}
		from.Sub(from, amount)
		to.Add(to, amount)
		return nil, nil

	case "add_guest":
		if predecessor != c.contractID {
			return nil, errors.New("method is private")
		}
		pk, err := near.ParsePublicKey(args.PublicKey)
		if err != nil {
			return nil, err
		}
		if _, exists := c.guests[pk.String()]; exists {
			return nil, errors.New("guest exists")
		}
		c.guests[pk.String()] = &mockGuest{accountID: args.AccountID, balance: new(big.Int)}
		contract.storage += GuestStorageBytes
		return nil, nil

	case "claim_drop":
		g, err := c.guestForSigner(t)
		if err != nil {
			return nil, err
		}
		if g.claimed {
			return nil, errors.New("drop already claimed")
		}
		g.claimed = true
		g.balance.Add(g.balance, c.DropAmount)
		return nil, nil

	case "upgrade_guest":
		g, err := c.guestForSigner(t)
		if err != nil {
			return nil, err
		}
		owner, err := near.ParsePublicKey(args.PublicKey)
		if err != nil {
			return nil, err
		}
		access, err := near.ParsePublicKey(args.AccessKey)
		if err != nil {
			return nil, err
		}
		if _, exists := c.accounts[g.accountID]; exists {
			return nil, fmt.Errorf("account %s already exists", g.accountID)
		}
		if contract.amount.Cmp(c.UpgradeAmount) < 0 {
			return nil, errors.New("contract cannot fund upgrade")
		}

		contract.amount.Sub(contract.amount, c.UpgradeAmount)
		c.addAccount(g.accountID, c.UpgradeAmount, owner, nil)
		upgraded := c.accounts[g.accountID]
		upgraded.keys[access] = &mockKey{permission: &txbuilder.FunctionCallPermission{ReceiverID: c.contractID}}
		upgraded.storage += KeyStorageBytes

		c.registered[g.accountID] = true
		c.ftBalances[g.accountID] = new(big.Int).Set(g.balance)
		delete(c.guests, t.PublicKey.String())
		contract.storage -= GuestStorageBytes
		return []byte("true"), nil

	default:
		return nil, fmt.Errorf("method %s not found", call.MethodName)
	}
}

func (c *MockChain) guestByAccount(accountID string) *mockGuest {
	for _, g := range c.guests {
		if g.accountID == accountID {
			return g
		}
	}
	return nil
}

// guestForSigner resolves the guest from the key that signed a call on the
// shared guests account.
func (c *MockChain) guestForSigner(t *txbuilder.Transaction) (*mockGuest, error) {
	if t.SignerID != "guests."+c.contractID {
		return nil, errors.New("only guests can call this method")
	}
	g, ok := c.guests[t.PublicKey.String()]
	if !ok {
		return nil, errors.New("guest not found")
	}
	return g, nil
}
