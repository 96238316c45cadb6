package txbuilder

import (
	"math/big"

	"github.com/0xmhha/guestprof/internal/near"
)

// ActionKind is the borsh variant index of an action.
type ActionKind uint8

const (
	ActionCreateAccount  ActionKind = 0
	ActionDeployContract ActionKind = 1
	ActionFunctionCall   ActionKind = 2
	ActionTransfer       ActionKind = 3
	ActionStake          ActionKind = 4
	ActionAddKey         ActionKind = 5
	ActionDeleteKey      ActionKind = 6
	ActionDeleteAccount  ActionKind = 7
)

func (k ActionKind) String() string {
	switch k {
	case ActionCreateAccount:
		return "CreateAccount"
	case ActionDeployContract:
		return "DeployContract"
	case ActionFunctionCall:
		return "FunctionCall"
	case ActionTransfer:
		return "Transfer"
	case ActionStake:
		return "Stake"
	case ActionAddKey:
		return "AddKey"
	case ActionDeleteKey:
		return "DeleteKey"
	case ActionDeleteAccount:
		return "DeleteAccount"
	default:
		return "Unknown"
	}
}

// Action is one step of a transaction.
type Action interface {
	Kind() ActionKind
	encode(e *encoder)
}

// CreateAccount creates the receiver account.
type CreateAccount struct{}

func (CreateAccount) Kind() ActionKind { return ActionCreateAccount }
func (CreateAccount) encode(*encoder)  {}

// FunctionCall invokes a contract method on the receiver.
type FunctionCall struct {
	MethodName string
	Args       []byte
	Gas        uint64
	Deposit    *big.Int
}

func (FunctionCall) Kind() ActionKind { return ActionFunctionCall }

func (a FunctionCall) encode(e *encoder) {
	e.string(a.MethodName)
	e.bytes(a.Args)
	e.u64(a.Gas)
	e.u128(a.Deposit)
}

// Transfer moves native tokens to the receiver.
type Transfer struct {
	Deposit *big.Int
}

func (Transfer) Kind() ActionKind { return ActionTransfer }

func (a Transfer) encode(e *encoder) {
	e.u128(a.Deposit)
}

// AddKey adds an access key to the receiver account.
type AddKey struct {
	PublicKey near.PublicKey
	AccessKey AccessKey
}

func (AddKey) Kind() ActionKind { return ActionAddKey }

func (a AddKey) encode(e *encoder) {
	encodePublicKey(e, a.PublicKey)
	e.u64(a.AccessKey.Nonce)
	a.AccessKey.encodePermission(e)
}

// DeleteKey removes an access key from the receiver account.
type DeleteKey struct {
	PublicKey near.PublicKey
}

func (DeleteKey) Kind() ActionKind { return ActionDeleteKey }

func (a DeleteKey) encode(e *encoder) {
	encodePublicKey(e, a.PublicKey)
}

// DeleteAccount deletes the receiver and sends its balance to the beneficiary.
type DeleteAccount struct {
	BeneficiaryID string
}

func (DeleteAccount) Kind() ActionKind { return ActionDeleteAccount }

func (a DeleteAccount) encode(e *encoder) {
	e.string(a.BeneficiaryID)
}

// FunctionCallPermission restricts a key to calling methods on one contract.
// An empty MethodNames allows every method; a nil Allowance is unlimited.
type FunctionCallPermission struct {
	Allowance   *big.Int
	ReceiverID  string
	MethodNames []string
}

// AccessKey is a key's nonce and permission. A nil FunctionCall means full access.
type AccessKey struct {
	Nonce        uint64
	FunctionCall *FunctionCallPermission
}

func (k AccessKey) encodePermission(e *encoder) {
	if k.FunctionCall == nil {
		e.u8(1)
		return
	}

	e.u8(0)
	if k.FunctionCall.Allowance == nil {
		e.u8(0)
	} else {
		e.u8(1)
		e.u128(k.FunctionCall.Allowance)
	}
	e.string(k.FunctionCall.ReceiverID)
	e.strings(k.FunctionCall.MethodNames)
}

func encodePublicKey(e *encoder, pk near.PublicKey) {
	e.u8(uint8(pk.Type))
	e.fixed(pk.Data[:])
}
