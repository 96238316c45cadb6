package near

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
)

// ErrExecutionFailed is returned when a transaction or one of its receipts failed.
var ErrExecutionFailed = errors.New("execution failed")

// AccountView is the result of a view_account query.
type AccountView struct {
	Amount        BigInt `json:"amount"`
	Locked        BigInt `json:"locked"`
	CodeHash      string `json:"code_hash"`
	StorageUsage  uint64 `json:"storage_usage"`
	StoragePaidAt uint64 `json:"storage_paid_at"`
	BlockHeight   uint64 `json:"block_height"`
	BlockHash     string `json:"block_hash"`
}

// AccessKeyView is the result of a view_access_key query.
type AccessKeyView struct {
	Nonce       uint64          `json:"nonce"`
	Permission  json.RawMessage `json:"permission"`
	BlockHeight uint64          `json:"block_height"`
	BlockHash   string          `json:"block_hash"`
}

// IsFullAccess reports whether the key carries full-access permission.
func (v *AccessKeyView) IsFullAccess() bool {
	var s string
	if err := json.Unmarshal(v.Permission, &s); err != nil {
		return false
	}
	return s == "FullAccess"
}

// CallResult is the result of a call_function query.
type CallResult struct {
	Result      []byte   `json:"result"`
	Logs        []string `json:"logs"`
	Error       string   `json:"error,omitempty"`
	BlockHeight uint64   `json:"block_height"`
	BlockHash   string   `json:"block_hash"`
}

// BigInt decodes the decimal strings NEAR uses for u128 values.
type BigInt struct {
	big.Int
}

// NewBigInt wraps v.
func NewBigInt(v *big.Int) BigInt {
	var b BigInt
	if v != nil {
		b.Set(v)
	}
	return b
}

// UnmarshalJSON accepts both "123" and 123.
func (b *BigInt) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		s = string(data)
	}
	if _, ok := b.SetString(s, 10); !ok {
		return fmt.Errorf("invalid integer %q", s)
	}
	return nil
}

// MarshalJSON encodes as a decimal string.
func (b BigInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// ExecutionStatus is the status of a transaction or receipt outcome.
type ExecutionStatus struct {
	SuccessValue     *string         `json:"SuccessValue,omitempty"`
	SuccessReceiptID *string         `json:"SuccessReceiptId,omitempty"`
	Failure          json.RawMessage `json:"Failure,omitempty"`
	Unknown          bool            `json:"-"`
}

// UnmarshalJSON handles the bare-string "Unknown" status.
func (s *ExecutionStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		s.Unknown = true
		return nil
	}
	type plain ExecutionStatus
	return json.Unmarshal(data, (*plain)(s))
}

// Failed reports whether the status carries a failure.
func (s *ExecutionStatus) Failed() bool {
	return len(s.Failure) > 0 && string(s.Failure) != "null"
}

// Outcome is the execution outcome of a transaction or receipt.
type Outcome struct {
	Logs        []string        `json:"logs"`
	ReceiptIDs  []string        `json:"receipt_ids"`
	GasBurnt    uint64          `json:"gas_burnt"`
	TokensBurnt BigInt          `json:"tokens_burnt"`
	ExecutorID  string          `json:"executor_id"`
	Status      ExecutionStatus `json:"status"`
}

// OutcomeWithID pairs an outcome with its transaction or receipt id.
type OutcomeWithID struct {
	ID      string  `json:"id"`
	Outcome Outcome `json:"outcome"`
}

// FinalExecutionOutcome is the result of broadcast_tx_commit.
type FinalExecutionOutcome struct {
	Status             ExecutionStatus `json:"status"`
	Transaction        json.RawMessage `json:"transaction"`
	TransactionOutcome OutcomeWithID   `json:"transaction_outcome"`
	ReceiptsOutcome    []OutcomeWithID `json:"receipts_outcome"`
}

// TxHash returns the transaction hash.
func (o *FinalExecutionOutcome) TxHash() string {
	return o.TransactionOutcome.ID
}

// Err returns ErrExecutionFailed wrapped with the failure payload, or nil.
func (o *FinalExecutionOutcome) Err() error {
	if o.Status.Failed() {
		return fmt.Errorf("%w: tx %s: %s", ErrExecutionFailed, o.TxHash(), string(o.Status.Failure))
	}
	for _, r := range o.ReceiptsOutcome {
		if r.Outcome.Status.Failed() {
			return fmt.Errorf("%w: receipt %s: %s", ErrExecutionFailed, r.ID, string(r.Outcome.Status.Failure))
		}
	}
	return nil
}

// SuccessValue returns the decoded return value of the transaction, or nil
// when it returned nothing.
func (o *FinalExecutionOutcome) SuccessValue() ([]byte, error) {
	if o.Status.SuccessValue == nil {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(*o.Status.SuccessValue)
	if err != nil {
		return nil, fmt.Errorf("failed to decode success value: %w", err)
	}
	return raw, nil
}

// DecodeResult unmarshals the JSON return value into v. An empty value leaves v untouched.
func (o *FinalExecutionOutcome) DecodeResult(v any) error {
	raw, err := o.SuccessValue()
	if err != nil || len(raw) == 0 {
		return err
	}
	return json.Unmarshal(raw, v)
}

// GasBurnt sums gas burnt across the transaction and all receipts.
func (o *FinalExecutionOutcome) GasBurnt() uint64 {
	total := o.TransactionOutcome.Outcome.GasBurnt
	for _, r := range o.ReceiptsOutcome {
		total += r.Outcome.GasBurnt
	}
	return total
}

// TokensBurnt sums tokens burnt across the transaction and all receipts.
func (o *FinalExecutionOutcome) TokensBurnt() *big.Int {
	total := new(big.Int).Set(&o.TransactionOutcome.Outcome.TokensBurnt.Int)
	for _, r := range o.ReceiptsOutcome {
		total.Add(total, &r.Outcome.TokensBurnt.Int)
	}
	return total
}

// Logs collects logs from all receipts in execution order.
func (o *FinalExecutionOutcome) Logs() []string {
	logs := append([]string(nil), o.TransactionOutcome.Outcome.Logs...)
	for _, r := range o.ReceiptsOutcome {
		logs = append(logs, r.Outcome.Logs...)
	}
	return logs
}
