package smartfunction

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jstz-dev/jstz-core/internal/account"
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

func TestDeploy_ThenResolve(t *testing.T) {
	ctx := context.Background()
	tm := txn.New(host.NewMemory())
	tm.Begin()

	deployer := newUser(t)
	require.NoError(t, account.Credit(ctx, tm, deployer, 1000))

	const code = "export default () => new Response('ok')"

	addr, err := Deploy(ctx, tm, deployer, code, 100)
	require.NoError(t, err)
	assert.Equal(t, address.KindSmartFunction, addr.Kind())

	got, err := Resolve(ctx, tm, addr)
	require.NoError(t, err)
	assert.Equal(t, code, got)

	bal, err := account.Get(ctx, tm, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), bal.Amount)

	deployerRec, err := account.Get(ctx, tm, deployer)
	require.NoError(t, err)
	assert.Equal(t, uint64(900), deployerRec.Amount)
}

func TestDeploy_SameDeployerAndCodeYieldsDistinctAddresses(t *testing.T) {
	// Each Deploy call advances the deployer's in-runtime deploy nonce,
	// so redeploying the same code from the same deployer never
	// collides in ordinary use. Address reproducibility for literally
	// identical (deployer, code_hash, deployer_nonce) is covered in
	// address_test.go.
	ctx := context.Background()
	tm := txn.New(host.NewMemory())
	tm.Begin()

	deployer := newUser(t)
	require.NoError(t, account.Credit(ctx, tm, deployer, 1000))

	const code = "export default () => new Response('ok')"

	a1, err := Deploy(ctx, tm, deployer, code, 0)
	require.NoError(t, err)

	a2, err := Deploy(ctx, tm, deployer, code, 0)
	require.NoError(t, err)
	assert.False(t, a1.Equal(a2))
}

func TestDeploy_AlreadyDeployedAtDerivedAddress(t *testing.T) {
	ctx := context.Background()
	tm := txn.New(host.NewMemory())
	tm.Begin()

	deployer := newUser(t)
	require.NoError(t, account.Credit(ctx, tm, deployer, 1000))

	const code = "export default () => {}"
	codeHash := address.HashBytes([]byte(code))

	// The deployer's deploy nonce is currently 0, so this is exactly
	// the address Deploy would derive on its first call.
	collision := address.NewSmartFunctionAddress(deployer, codeHash, 0)
	h := codeHash
	require.NoError(t, account.Put(ctx, tm, collision, account.Record{FunctionCodeHash: &h}))

	_, err := Deploy(ctx, tm, deployer, code, 0)
	require.Error(t, err)
	assert.Equal(t, jstzerr.KindAlreadyDeployed, jstzerr.KindOf(err))
}

func TestResolve_UnknownFunction(t *testing.T) {
	ctx := context.Background()
	tm := txn.New(host.NewMemory())
	tm.Begin()

	_, err := Resolve(ctx, tm, newUser(t))
	require.Error(t, err)
	assert.Equal(t, jstzerr.KindUnknownFunction, jstzerr.KindOf(err))
}

func TestDeploy_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	tm := txn.New(host.NewMemory())
	tm.Begin()

	deployer := newUser(t)

	_, err := Deploy(ctx, tm, deployer, "export default () => {}", 50)
	require.Error(t, err)
	assert.Equal(t, jstzerr.KindInsufficientFunds, jstzerr.KindOf(err))
}
