package account

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jstz-dev/jstz-core/internal/address"
	"github.com/jstz-dev/jstz-core/internal/host"
	"github.com/jstz-dev/jstz-core/internal/txn"
	"github.com/jstz-dev/jstz-core/pkg/jstzerr"
)

func newUser(t *testing.T) address.Address {
	t.Helper()
	_, pub, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	return address.NewUserAddress(address.NewPublicKey(address.SchemeEd25519, pub))
}

func TestGet_UnknownAccountIsZeroValue(t *testing.T) {
	ctx := context.Background()
	tm := txn.New(host.NewMemory())
	tm.Begin()

	rec, err := Get(ctx, tm, newUser(t))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rec.Amount)
	assert.Nil(t, rec.PublicKey)
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	tm := txn.New(host.NewMemory())
	tm.Begin()

	alice, bob := newUser(t), newUser(t)
	require.NoError(t, Credit(ctx, tm, alice, 100))

	l := New(tm, alice)
	require.NoError(t, l.Transfer(ctx, bob, 40))

	aliceBal, err := l.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), aliceBal)

	bobBal, err := l.Balance(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), bobBal)
}

func TestTransfer_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	tm := txn.New(host.NewMemory())
	tm.Begin()

	alice, bob := newUser(t), newUser(t)
	l := New(tm, alice)

	err := l.Transfer(ctx, bob, 1)
	require.Error(t, err)
	assert.Equal(t, jstzerr.KindInsufficientFunds, jstzerr.KindOf(err))
}

func TestTransfer_NegativeAmountRejected(t *testing.T) {
	ctx := context.Background()
	tm := txn.New(host.NewMemory())
	tm.Begin()

	alice, bob := newUser(t), newUser(t)
	l := New(tm, alice)

	err := l.Transfer(ctx, bob, 0)
	require.Error(t, err)
	assert.Equal(t, jstzerr.KindNegativeAmount, jstzerr.KindOf(err))
}

func TestNextNonce_FirstOpRevealsKey(t *testing.T) {
	ctx := context.Background()
	tm := txn.New(host.NewMemory())
	tm.Begin()

	_, pub, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	pk := address.NewPublicKey(address.SchemeEd25519, pub)

	addr := address.NewUserAddress(pk)

	err = NextNonce(ctx, tm, addr, 0, &pk)
	require.NoError(t, err)

	rec, err := Get(ctx, tm, addr)
	require.NoError(t, err)
	require.NotNil(t, rec.PublicKey)
	assert.Equal(t, uint64(1), rec.Nonce)
}

func TestNextNonce_UnrevealedWithoutKey(t *testing.T) {
	ctx := context.Background()
	tm := txn.New(host.NewMemory())
	tm.Begin()

	addr := newUser(t)

	err := NextNonce(ctx, tm, addr, 0, nil)
	require.Error(t, err)
	assert.Equal(t, jstzerr.KindUnrevealedWithoutKey, jstzerr.KindOf(err))
}

func TestNextNonce_BadNonceAfterReveal(t *testing.T) {
	ctx := context.Background()
	tm := txn.New(host.NewMemory())
	tm.Begin()

	_, pub, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	pk := address.NewPublicKey(address.SchemeEd25519, pub)
	addr := address.NewUserAddress(pk)

	require.NoError(t, NextNonce(ctx, tm, addr, 0, &pk))

	err = NextNonce(ctx, tm, addr, 5, nil)
	require.Error(t, err)
	assert.Equal(t, jstzerr.KindBadNonce, jstzerr.KindOf(err))

	require.NoError(t, NextNonce(ctx, tm, addr, 1, nil))
}

func TestIncrementDeployNonce(t *testing.T) {
	ctx := context.Background()
	tm := txn.New(host.NewMemory())
	tm.Begin()

	addr := newUser(t)

	n0, err := IncrementDeployNonce(ctx, tm, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n0)

	n1, err := IncrementDeployNonce(ctx, tm, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n1)
}

// Any sequence of transfers (successful or rejected) between a fixed
// set of accounts preserves the sum of balances.
func TestTransferPreservesTotalSupply(t *testing.T) {
	ctx := context.Background()

	property := func(seed []uint16) bool {
		tm := txn.New(host.NewMemory())
		tm.Begin()

		accounts := []address.Address{newUser(t), newUser(t), newUser(t)}

		const initial = uint64(5000)
		for _, a := range accounts {
			if err := Credit(ctx, tm, a, initial); err != nil {
				return false
			}
		}

		total := initial * uint64(len(accounts))

		for _, s := range seed {
			from := accounts[int(s)%len(accounts)]
			to := accounts[int(s>>2)%len(accounts)]
			amount := uint64(s >> 4)

			// Rejections (zero amount, insufficient funds, self
			// transfer shuffles) must leave the sum intact too.
			_ = transfer(ctx, tm, from, to, amount)
		}

		if err := tm.Commit(ctx); err != nil {
			return false
		}

		tm.Begin()
		defer func() { _ = tm.Rollback() }()

		var sum uint64

		for _, a := range accounts {
			rec, err := Get(ctx, tm, a)
			if err != nil {
				return false
			}

			sum += rec.Amount
		}

		return sum == total
	}

	require.NoError(t, quick.Check(property, &quick.Config{MaxCount: 50}))
}
