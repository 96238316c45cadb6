package account_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmhha/guestprof/internal/account"
	"github.com/0xmhha/guestprof/internal/near"
	testutils "github.com/0xmhha/guestprof/internal/testing"
	"github.com/0xmhha/guestprof/internal/wallet"
)

const network = "localnet"

type fixture struct {
	chain  *testutils.MockChain
	wallet *wallet.Wallet
	conn   *account.Connection
	owner  *account.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	chain := testutils.TestChain(t)
	w := wallet.New(network, nil)
	require.NoError(t, w.SetKey(testutils.TestContractID, testutils.TestKeyPair(t, testutils.ContractKeySeed)))

	conn := account.NewConnection(chain, w, 0, nil)
	return &fixture{
		chain:  chain,
		wallet: w,
		conn:   conn,
		owner:  conn.Account(testutils.TestContractID),
	}
}

func TestBalanceFromState(t *testing.T) {
	tests := []struct {
		name          string
		amount        string
		locked        string
		storage       uint64
		wantTotal     string
		wantAvailable string
	}{
		{
			name:          "storage reserve dominates",
			amount:        "5000000000000000000000000",
			locked:        "0",
			storage:       182,
			wantTotal:     "5000000000000000000000000",
			wantAvailable: "4998180000000000000000000",
		},
		{
			name:          "stake dominates",
			amount:        "1000000000000000000000000",
			locked:        "2000000000000000000000000",
			storage:       100,
			wantTotal:     "3000000000000000000000000",
			wantAvailable: "1000000000000000000000000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, _ := new(big.Int).SetString(tt.amount, 10)
			locked, _ := new(big.Int).SetString(tt.locked, 10)
			b := account.BalanceFromState(&near.AccountView{
				Amount:       near.NewBigInt(amount),
				Locked:       near.NewBigInt(locked),
				StorageUsage: tt.storage,
			})

			assert.Equal(t, tt.wantTotal, b.Total.String())
			assert.Equal(t, tt.wantAvailable, b.Available.String())
			assert.Equal(t, near.StorageCost(int64(tt.storage)).String(), b.StateStaked.String())
			assert.Equal(t, tt.locked, b.Staked.String())
		})
	}
}

func TestConnection_AccountExists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exists, err := f.conn.AccountExists(ctx, testutils.TestContractID)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = f.conn.AccountExists(ctx, "nobody.test.near")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestConnection_CreateAccountWithRandomKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	amount := testutils.NEAR(t, "5")

	alice, err := f.conn.CreateAccountWithRandomKey(ctx, f.owner, "alice.guest.test.near", amount)
	require.NoError(t, err)
	assert.Equal(t, "alice.guest.test.near", alice.ID())
	assert.True(t, f.chain.HasAccount(alice.ID()))

	kp, err := f.wallet.Key(alice.ID())
	require.NoError(t, err)
	assert.True(t, f.chain.HasKey(alice.ID(), kp.PublicKey()))

	balance, err := f.conn.GetAccountBalance(ctx, alice.ID())
	require.NoError(t, err)
	assert.Equal(t, amount.String(), balance.Total.String())

	_, err = f.conn.CreateAccountWithRandomKey(ctx, f.owner, "alice.guest.test.near", amount)
	assert.ErrorIs(t, err, near.ErrExecutionFailed, "creating an existing account fails at execution")
}

func TestConnection_CreateOrInitAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	secret := testutils.TestKeyPair(t, testutils.GuestsKeySeed)
	guestsID := "guests." + testutils.TestContractID

	guests, err := f.conn.CreateOrInitAccount(ctx, f.owner, guestsID, secret.String(), testutils.NEAR(t, "5"))
	require.NoError(t, err)
	assert.True(t, f.chain.HasKey(guestsID, secret.PublicKey()))
	sent := f.chain.GetCallCount("broadcast_tx_commit")

	again, err := f.conn.CreateOrInitAccount(ctx, f.owner, guestsID, secret.String(), testutils.NEAR(t, "5"))
	require.NoError(t, err)
	assert.Equal(t, guests.ID(), again.ID())
	assert.Equal(t, sent, f.chain.GetCallCount("broadcast_tx_commit"), "existing account must not be recreated")

	_, err = f.conn.CreateOrInitAccount(ctx, f.owner, guestsID, "ed25519:bad", testutils.NEAR(t, "5"))
	assert.Error(t, err)
}

func TestAccount_SignAndSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bob := testutils.GenerateTestKey(t)
	f.chain.AddAccount("bob.test.near", testutils.NEAR(t, "1"), bob.PublicKey())

	var observed []string
	f.conn.OnOutcome(func(signerID string, outcome *near.FinalExecutionOutcome) {
		observed = append(observed, signerID)
		assert.NotZero(t, outcome.GasBurnt())
	})

	// Consecutive sends pick up the committed nonce
	for i := 0; i < 3; i++ {
		_, err := f.owner.SendMoney(ctx, "bob.test.near", testutils.NEAR(t, "1"))
		require.NoError(t, err)
	}

	balance, err := f.conn.GetAccountBalance(ctx, "bob.test.near")
	require.NoError(t, err)
	assert.Equal(t, testutils.NEAR(t, "4").String(), balance.Total.String())
	assert.Equal(t, []string{testutils.TestContractID, testutils.TestContractID, testutils.TestContractID}, observed)

	// Failed executions are observed too
	_, err = f.owner.SendMoney(ctx, "missing.test.near", testutils.NEAR(t, "1"))
	assert.ErrorIs(t, err, near.ErrExecutionFailed)
	assert.Len(t, observed, 4)
}

func TestAccount_SignAndSend_NoKey(t *testing.T) {
	f := newFixture(t)
	_, err := f.conn.Account("stranger.test.near").SendMoney(context.Background(), testutils.TestContractID, big.NewInt(1))
	assert.ErrorIs(t, err, wallet.ErrKeyNotFound)
}

func TestAccount_Keys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	full := testutils.GenerateTestKey(t)
	_, err := f.owner.AddKey(ctx, full.PublicKey(), "", nil, nil)
	require.NoError(t, err)
	assert.True(t, f.chain.HasKey(testutils.TestContractID, full.PublicKey()))

	limited := testutils.GenerateTestKey(t)
	_, err = f.owner.AddKey(ctx, limited.PublicKey(), testutils.TestContractID, []string{"claim_drop"}, testutils.NEAR(t, "0.1"))
	require.NoError(t, err)

	// The limited key may not move native tokens
	require.NoError(t, f.wallet.SetKey(testutils.TestContractID, limited))
	_, err = f.owner.SendMoney(ctx, testutils.TestContractID, big.NewInt(1))
	assert.ErrorIs(t, err, testutils.ErrRejected)

	require.NoError(t, f.wallet.SetKey(testutils.TestContractID, full))
	_, err = f.owner.DeleteKey(ctx, limited.PublicKey())
	require.NoError(t, err)
	assert.False(t, f.chain.HasKey(testutils.TestContractID, limited.PublicKey()))
}

func TestAccount_Functions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var supply string
	require.NoError(t, f.owner.ViewFunction(ctx, testutils.TestContractID, "ft_total_supply", nil, &supply))
	assert.Equal(t, testutils.NEAR(t, "1000000").String(), supply)

	require.NoError(t, f.owner.ViewFunction(ctx, testutils.TestContractID, "ft_total_supply", nil, nil))

	err := f.owner.ViewFunction(ctx, testutils.TestContractID, "nope", nil, &supply)
	assert.Error(t, err)

	var wrongType int
	err = f.owner.ViewFunction(ctx, testutils.TestContractID, "ft_total_supply", nil, &wrongType)
	assert.Error(t, err)

	outcome, err := f.owner.FunctionCall(ctx, testutils.TestContractID, "ft_transfer",
		map[string]string{"receiver_id": testutils.TestContractID, "amount": "1"}, 0, nil)
	assert.ErrorIs(t, err, near.ErrExecutionFailed, "ft_transfer requires one yocto")
	require.NotNil(t, outcome)
	assert.True(t, errors.Is(outcome.Err(), near.ErrExecutionFailed))
}
