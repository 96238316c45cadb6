package txbuilder

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/0xmhha/guestprof/internal/near"
)

// ErrNoActions is returned when a transaction carries no actions.
var ErrNoActions = errors.New("transaction has no actions")

// Transaction is an unsigned NEAR transaction.
type Transaction struct {
	SignerID   string
	PublicKey  near.PublicKey
	Nonce      uint64
	ReceiverID string
	BlockHash  [32]byte
	Actions    []Action
}

// SignedTx is a transaction ready to broadcast.
type SignedTx struct {
	Transaction *Transaction
	Signature   []byte
	Raw         []byte
	Hash        string
}

// Base64 returns the encoded form expected by broadcast_tx_commit.
func (s *SignedTx) Base64() string {
	return base64.StdEncoding.EncodeToString(s.Raw)
}

// Encode returns the borsh serialization of the transaction.
func (tx *Transaction) Encode() ([]byte, error) {
	if len(tx.Actions) == 0 {
		return nil, ErrNoActions
	}

	e := &encoder{}
	e.string(tx.SignerID)
	encodePublicKey(e, tx.PublicKey)
	e.u64(tx.Nonce)
	e.string(tx.ReceiverID)
	e.fixed(tx.BlockHash[:])
	e.u32(uint32(len(tx.Actions)))
	for _, action := range tx.Actions {
		e.u8(uint8(action.Kind()))
		action.encode(e)
	}
	return e.result()
}

// Hash returns sha256 of the encoded transaction, which is what gets signed.
func (tx *Transaction) Hash() ([32]byte, []byte, error) {
	encoded, err := tx.Encode()
	if err != nil {
		return [32]byte{}, nil, err
	}
	return sha256.Sum256(encoded), encoded, nil
}

// Sign signs the transaction with kp. The key must match tx.PublicKey.
func Sign(tx *Transaction, kp *near.KeyPair) (*SignedTx, error) {
	if kp.PublicKey() != tx.PublicKey {
		return nil, fmt.Errorf("signing key %s does not match transaction key %s", kp.PublicKey(), tx.PublicKey)
	}

	hash, encoded, err := tx.Hash()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}

	signature := kp.Sign(hash[:])

	raw := make([]byte, 0, len(encoded)+1+len(signature))
	raw = append(raw, encoded...)
	raw = append(raw, byte(near.KeyTypeED25519))
	raw = append(raw, signature...)

	return &SignedTx{
		Transaction: tx,
		Signature:   signature,
		Raw:         raw,
		Hash:        base58.Encode(hash[:]),
	}, nil
}

// DecodeBlockHash decodes the base58 block hash returned by RPC queries.
func DecodeBlockHash(s string) ([32]byte, error) {
	var hash [32]byte
	raw, err := base58.Decode(s)
	if err != nil {
		return hash, fmt.Errorf("invalid block hash %q: %w", s, err)
	}
	if len(raw) != len(hash) {
		return hash, fmt.Errorf("invalid block hash %q: expected 32 bytes, got %d", s, len(raw))
	}
	copy(hash[:], raw)
	return hash, nil
}
