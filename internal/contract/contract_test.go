package contract

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmhha/guestprof/internal/near"
)

type call struct {
	contractID string
	method     string
	gas        uint64
	deposit    *big.Int
}

type fakeCaller struct {
	views   []call
	changes []call
}

func (f *fakeCaller) ID() string { return "alice.guest.testnet" }

func (f *fakeCaller) ViewFunction(_ context.Context, contractID, method string, _, out any) error {
	f.views = append(f.views, call{contractID: contractID, method: method})
	if s, ok := out.(*string); ok {
		*s = "100"
	}
	return nil
}

func (f *fakeCaller) FunctionCall(_ context.Context, contractID, method string, _ any, gas uint64, deposit *big.Int) (*near.FinalExecutionOutcome, error) {
	f.changes = append(f.changes, call{contractID, method, gas, deposit})
	return &near.FinalExecutionOutcome{}, nil
}

func TestContract_View(t *testing.T) {
	caller := &fakeCaller{}
	c := New(caller, "guest.testnet", GuestMethods)

	var balance string
	require.NoError(t, c.View(context.Background(), "ft_balance_of", map[string]string{"account_id": "x"}, &balance))
	assert.Equal(t, "100", balance)
	require.Len(t, caller.views, 1)
	assert.Equal(t, "guest.testnet", caller.views[0].contractID)

	// Change methods are not callable as views
	err := c.View(context.Background(), "ft_transfer", nil, nil)
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestContract_Call(t *testing.T) {
	caller := &fakeCaller{}
	c := New(caller, "guest.testnet", GuestMethods)

	assert.Equal(t, "guest.testnet", c.ID())
	assert.Equal(t, "alice.guest.testnet", c.Caller().ID())

	_, err := c.Call(context.Background(), "ft_transfer", nil, CallOptions{Gas: 7, Deposit: big.NewInt(1)})
	require.NoError(t, err)
	require.Len(t, caller.changes, 1)
	got := caller.changes[0]
	assert.Equal(t, "ft_transfer", got.method)
	assert.Equal(t, uint64(7), got.gas)
	assert.Equal(t, int64(1), got.deposit.Int64())

	for _, method := range []string{"ft_balance_of", "delete_guest", ""} {
		_, err := c.Call(context.Background(), method, nil, CallOptions{})
		assert.ErrorIs(t, err, ErrUnknownMethod, "Call(%q)", method)
	}
	assert.Len(t, caller.changes, 1, "unbound methods reached the caller")
}
