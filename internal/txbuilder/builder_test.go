package txbuilder

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"math/big"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmhha/guestprof/internal/near"
)

func newTestKey(t *testing.T, n byte) *near.KeyPair {
	t.Helper()
	kp, err := near.KeyPairFromSeed(bytes.Repeat([]byte{n}, 32))
	require.NoError(t, err)
	return kp
}

func le32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func le64(v uint64) []byte {
	out := make([]byte, 8)
	for i := range out {
		out[i] = byte(v >> (8 * i))
	}
	return out
}

func borshString(s string) []byte {
	return append(le32(uint32(len(s))), s...)
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestEncoder_U128(t *testing.T) {
	u128Max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

	tests := []struct {
		name    string
		value   *big.Int
		want    []byte
		wantErr bool
	}{
		{"nil is zero", nil, make([]byte, 16), false},
		{"one", big.NewInt(1), append([]byte{1}, make([]byte, 15)...), false},
		{"256", big.NewInt(256), append([]byte{0, 1}, make([]byte, 14)...), false},
		{"max", u128Max, bytes.Repeat([]byte{0xff}, 16), false},
		{"overflow", new(big.Int).Add(u128Max, big.NewInt(1)), nil, true},
		{"negative", big.NewInt(-1), nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &encoder{}
			e.u128(tt.value)
			got, err := e.result()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrU128Overflow)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncoder_ErrorIsSticky(t *testing.T) {
	e := &encoder{}
	e.u128(big.NewInt(-5))
	e.u128(big.NewInt(1))
	_, err := e.result()
	assert.Error(t, err, "first error must survive later writes")
}

func TestTransaction_EncodeTransfer(t *testing.T) {
	kp := newTestKey(t, 1)
	var blockHash [32]byte
	blockHash[0] = 0xab

	tx := &Transaction{
		SignerID:   "a.near",
		PublicKey:  kp.PublicKey(),
		Nonce:      7,
		ReceiverID: "b.near",
		BlockHash:  blockHash,
		Actions:    []Action{Transfer{Deposit: big.NewInt(1)}},
	}

	got, err := tx.Encode()
	require.NoError(t, err)

	pk := kp.PublicKey()
	want := concat(
		borshString("a.near"),
		[]byte{0}, pk.Data[:],
		le64(7),
		borshString("b.near"),
		blockHash[:],
		le32(1),
		[]byte{byte(ActionTransfer)},
		append([]byte{1}, make([]byte, 15)...),
	)
	assert.Equal(t, want, got)
}

func TestTransaction_EncodeActions(t *testing.T) {
	kp := newTestKey(t, 2)
	pk := kp.PublicKey()
	f := NewFactory(0)

	call, err := f.FunctionCall("claim_drop", nil, 0, nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		action Action
		want   []byte
	}{
		{
			name:   "create account",
			action: CreateAccount{},
			want:   []byte{byte(ActionCreateAccount)},
		},
		{
			name:   "function call",
			action: call,
			want: concat(
				[]byte{byte(ActionFunctionCall)},
				borshString("claim_drop"),
				le32(2), []byte("{}"),
				le64(DefaultGas),
				make([]byte, 16),
			),
		},
		{
			name:   "full access key",
			action: f.FullAccessKey(pk),
			want:   concat([]byte{byte(ActionAddKey), 0}, pk.Data[:], le64(0), []byte{1}),
		},
		{
			name:   "function call key without allowance",
			action: f.FunctionCallKey(pk, "guest.near", []string{"claim_drop"}, nil),
			want: concat(
				[]byte{byte(ActionAddKey), 0}, pk.Data[:], le64(0),
				[]byte{0, 0},
				borshString("guest.near"),
				le32(1), borshString("claim_drop"),
			),
		},
		{
			name:   "function call key with allowance",
			action: f.FunctionCallKey(pk, "guest.near", nil, big.NewInt(2)),
			want: concat(
				[]byte{byte(ActionAddKey), 0}, pk.Data[:], le64(0),
				[]byte{0, 1}, append([]byte{2}, make([]byte, 15)...),
				borshString("guest.near"),
				le32(0),
			),
		},
		{
			name:   "delete key",
			action: DeleteKey{PublicKey: pk},
			want:   concat([]byte{byte(ActionDeleteKey), 0}, pk.Data[:]),
		},
		{
			name:   "delete account",
			action: DeleteAccount{BeneficiaryID: "guest.near"},
			want:   concat([]byte{byte(ActionDeleteAccount)}, borshString("guest.near")),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := &Transaction{SignerID: "s", PublicKey: pk, ReceiverID: "r", Actions: []Action{tt.action}}
			got, err := tx.Encode()
			require.NoError(t, err)
			// header: signer(5) + key(33) + nonce(8) + receiver(5) + hash(32) + count(4)
			header := 5 + 33 + 8 + 5 + 32 + 4
			assert.Equal(t, tt.want, got[header:])
		})
	}
}

func TestTransaction_EncodeErrors(t *testing.T) {
	kp := newTestKey(t, 1)

	tx := &Transaction{SignerID: "a", PublicKey: kp.PublicKey(), ReceiverID: "b"}
	_, err := tx.Encode()
	assert.ErrorIs(t, err, ErrNoActions)

	tx.Actions = []Action{Transfer{Deposit: new(big.Int).Lsh(big.NewInt(1), 130)}}
	_, err = tx.Encode()
	assert.ErrorIs(t, err, ErrU128Overflow)
}

func TestSign(t *testing.T) {
	kp := newTestKey(t, 3)
	tx := &Transaction{
		SignerID:   "guests.guest.near",
		PublicKey:  kp.PublicKey(),
		Nonce:      42,
		ReceiverID: "guest.near",
		Actions:    []Action{Transfer{Deposit: big.NewInt(10)}},
	}

	signed, err := Sign(tx, kp)
	require.NoError(t, err)

	encoded, err := tx.Encode()
	require.NoError(t, err)
	hash := sha256.Sum256(encoded)

	assert.Equal(t, base58.Encode(hash[:]), signed.Hash)
	assert.True(t, kp.PublicKey().Verify(hash[:], signed.Signature), "signature does not verify against the transaction hash")

	wantRaw := concat(encoded, []byte{byte(near.KeyTypeED25519)}, signed.Signature)
	assert.Equal(t, wantRaw, signed.Raw, "Raw is not transaction || key type || signature")

	decoded, err := base64.StdEncoding.DecodeString(signed.Base64())
	require.NoError(t, err)
	assert.Equal(t, signed.Raw, decoded)
}

func TestSign_KeyMismatch(t *testing.T) {
	tx := &Transaction{
		SignerID:  "a",
		PublicKey: newTestKey(t, 1).PublicKey(),
		Actions:   []Action{CreateAccount{}},
	}
	_, err := Sign(tx, newTestKey(t, 2))
	assert.Error(t, err)
}

func TestDecodeBlockHash(t *testing.T) {
	want := sha256.Sum256([]byte("block"))

	got, err := DecodeBlockHash(base58.Encode(want[:]))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = DecodeBlockHash(base58.Encode([]byte{1, 2, 3}))
	assert.Error(t, err, "short hash")
	_, err = DecodeBlockHash("0OIl")
	assert.Error(t, err, "invalid base58")
}

func TestFactory(t *testing.T) {
	f := NewFactory(0)

	call, err := f.FunctionCall("ft_transfer", map[string]string{"receiver_id": "g.near", "amount": "1"}, 5, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, `{"amount":"1","receiver_id":"g.near"}`, string(call.Args))
	assert.Equal(t, uint64(5), call.Gas)
	assert.Equal(t, int64(1), call.Deposit.Int64())

	defaulted, err := f.FunctionCall("claim_drop", nil, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultGas, defaulted.Gas)
	assert.Zero(t, defaulted.Deposit.Sign())

	explicit, err := NewFactory(30_000_000_000_000).FunctionCall("claim_drop", nil, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(30_000_000_000_000), explicit.Gas)

	_, err = f.FunctionCall("bad", make(chan int), 0, nil)
	assert.Error(t, err, "unencodable args")

	pk := newTestKey(t, 4).PublicKey()
	actions := f.CreateSubAccount(pk, big.NewInt(9))
	kinds := []ActionKind{ActionCreateAccount, ActionTransfer, ActionAddKey}
	require.Len(t, actions, len(kinds))
	for i, a := range actions {
		assert.Equal(t, kinds[i], a.Kind(), "action %d", i)
	}
}
