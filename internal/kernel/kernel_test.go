package kernel

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jstz-dev/jstz-core/internal/account"
	"github.com/jstz-dev/jstz-core/internal/address"
	"github.com/jstz-dev/jstz-core/internal/host"
	"github.com/jstz-dev/jstz-core/internal/operation"
	"github.com/jstz-dev/jstz-core/internal/oracle"
	"github.com/jstz-dev/jstz-core/internal/storage"
	"github.com/jstz-dev/jstz-core/internal/txn"
	"github.com/jstz-dev/jstz-core/pkg/jstzerr"
	"github.com/jstz-dev/jstz-core/pkg/mlog"
)

const testRollup = "sr1TestRollupAddr"

type signer struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
	addr address.Address
}

func newSigner(t *testing.T) *signer {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	pk := address.NewPublicKey(address.SchemeEd25519, pub)

	return &signer{pub: pub, priv: priv, addr: address.NewUserAddress(pk)}
}

func (s *signer) publicKey() address.PublicKey {
	return address.NewPublicKey(address.SchemeEd25519, s.pub)
}

// signedOp builds a fully signed envelope. reveal attaches the public
// key, required for an account's first operation.
func (s *signer) signedOp(nonce uint64, content operation.Content, reveal bool) []byte {
	env := &operation.Envelope{Source: s.addr, Nonce: nonce, Content: content}
	if reveal {
		pk := s.publicKey()
		env.PublicKey = &pk
	}

	h := operation.Hash(env)
	env.Signature = address.NewSignature(address.SchemeEd25519, ed25519.Sign(s.priv, h[:]))

	return operation.Encode(env)
}

func opMessage(raw []byte) Message {
	return Message{RollupAddress: testRollup, Payload: append([]byte{TagOperation}, raw...)}
}

func newKernel(h host.Host, oracleKey *address.PublicKey) *Kernel {
	return New(h, testRollup, oracleKey, &mlog.NoneLogger{}, func() time.Time { return time.Unix(0, 0) })
}

const counterCode = `
export default function handler(request) {
  const n = Kv.get("counter");
  const next = (n === null ? -1 : n) + 1;
  Kv.set("counter", next);
  console.log("counter", next);
  return new Response(String(next), { status: 200 });
}
`

func TestProcessLevel_DeployAndRun(t *testing.T) {
	ctx := context.Background()
	h := host.NewMemory()
	k := newKernel(h, nil)
	alice := newSigner(t)

	deploy := alice.signedOp(0, operation.DeployFunction{Code: counterCode}, true)

	receipts, err := k.ProcessLevel(ctx, 1, []Message{opMessage(deploy)})
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	require.True(t, receipts[0].IsSuccess())
	require.NotNil(t, receipts[0].NewAddress)

	sf := *receipts[0].NewAddress

	run := alice.signedOp(1, operation.RunFunction{URI: "jstz://" + sf.String() + "/", Method: "GET"}, false)

	receipts, err = k.ProcessLevel(ctx, 2, []Message{opMessage(run)})
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	require.True(t, receipts[0].IsSuccess())
	assert.Equal(t, "0", string(receipts[0].Success.Body))

	// Receipts land in the log at /jstz_receipt/<level>/<index>.
	s := storage.New(h)

	logged, ok, err := storage.Read[operation.Receipt](ctx, s, operation.ReceiptPath(2, 0))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0", string(logged.Success.Body))

	last, ok, err := k.LastProcessedLevel(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(2), last)
}

func TestProcessLevel_SkipsForeignRollupAndUnknownTags(t *testing.T) {
	ctx := context.Background()
	h := host.NewMemory()
	k := newKernel(h, nil)
	alice := newSigner(t)

	deploy := alice.signedOp(0, operation.DeployFunction{Code: counterCode}, true)

	msgs := []Message{
		{RollupAddress: "sr1SomebodyElse", Payload: append([]byte{TagOperation}, deploy...)},
		{RollupAddress: testRollup, Payload: []byte{0x7f, 1, 2, 3}},
	}

	receipts, err := k.ProcessLevel(ctx, 1, msgs)
	require.NoError(t, err)
	assert.Empty(t, receipts)

	// The foreign-rollup deploy must not have touched our state.
	rec, err := accountAt(ctx, h, alice.addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rec.Nonce)
	assert.Nil(t, rec.PublicKey)
}

func accountAt(ctx context.Context, h host.Host, addr address.Address) (account.Record, error) {
	tm := txn.New(h)
	tm.Begin()

	defer func() { _ = tm.Rollback() }()

	return account.Get(ctx, tm, addr)
}

func TestProcessLevel_MalformedDroppedSilently(t *testing.T) {
	ctx := context.Background()
	h := host.NewMemory()
	k := newKernel(h, nil)

	receipts, err := k.ProcessLevel(ctx, 1, []Message{opMessage([]byte{0xff, 0x00})})
	require.NoError(t, err)
	assert.Empty(t, receipts)

	// The level still counts as processed.
	last, ok, err := k.LastProcessedLevel(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(1), last)
}

func TestProcessLevel_RedeliveredLevelIsNoOp(t *testing.T) {
	ctx := context.Background()
	h := host.NewMemory()
	k := newKernel(h, nil)
	alice := newSigner(t)

	deploy := alice.signedOp(0, operation.DeployFunction{Code: counterCode}, true)

	receipts, err := k.ProcessLevel(ctx, 1, []Message{opMessage(deploy)})
	require.NoError(t, err)
	require.Len(t, receipts, 1)

	// Redelivery after a restart: same level, same messages.
	receipts, err = k.ProcessLevel(ctx, 1, []Message{opMessage(deploy)})
	require.NoError(t, err)
	assert.Empty(t, receipts)

	rec, err := accountAt(ctx, h, alice.addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Nonce)
}

func TestDrain_DecodesFramedInbox(t *testing.T) {
	ctx := context.Background()
	h := host.NewMemory()
	k := newKernel(h, nil)
	alice := newSigner(t)

	deploy := alice.signedOp(0, operation.DeployFunction{Code: counterCode}, true)
	raw := EncodeInbox([]Message{opMessage(deploy)})

	receipts, err := k.Drain(ctx, 1, raw)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.True(t, receipts[0].IsSuccess())
}

func TestInbox_RoundTrip(t *testing.T) {
	msgs := []Message{
		{RollupAddress: testRollup, Payload: []byte{TagOperation, 1, 2, 3}},
		{RollupAddress: "sr1Other", Payload: []byte{TagOracleResponse}},
	}

	decoded, err := DecodeInbox(EncodeInbox(msgs))
	require.NoError(t, err)
	assert.Equal(t, msgs, decoded)
}

func TestInbox_TruncatedStream(t *testing.T) {
	raw := EncodeInbox([]Message{{RollupAddress: testRollup, Payload: []byte{TagOperation, 1}}})

	_, err := DecodeInbox(raw[:len(raw)-1])
	require.Error(t, err)
	assert.Equal(t, jstzerr.KindMalformed, jstzerr.KindOf(err))
}

func TestProcessLevel_OracleResponseResumes(t *testing.T) {
	ctx := context.Background()
	h := host.NewMemory()

	oraclePub, oraclePriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	oracleKey := address.NewPublicKey(address.SchemeEd25519, oraclePub)
	k := newKernel(h, &oracleKey)

	pending := oracle.Pending{
		RequestID:   oracle.NewRequestID(),
		OpHash:      address.HashBytes([]byte("suspended-op")),
		Caller:      newSigner(t).addr,
		URI:         "https://example.com/price",
		Method:      "GET",
		IssuedLevel: 1,
	}
	require.NoError(t, oracle.Register(ctx, storage.New(h), pending))

	resp := oracle.Response{Status: 200, Body: []byte(`{"price":42}`)}
	respHash := address.HashBytes(oracle.SignedBytes(resp))
	sig := address.NewSignature(address.SchemeEd25519, ed25519.Sign(oraclePriv, respHash[:]))

	payload := append([]byte{TagOracleResponse}, pending.RequestID[:]...)
	payload = append(payload, oracle.EncodeResponse(resp, sig)...)

	receipts, err := k.ProcessLevel(ctx, 2, []Message{{RollupAddress: testRollup, Payload: payload}})
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	require.True(t, receipts[0].IsSuccess())
	assert.Equal(t, `{"price":42}`, string(receipts[0].Success.Body))

	// The pending record is consumed.
	_, found, err := oracle.Find(ctx, storage.New(h), pending.RequestID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestProcessLevel_ExpiredOracleRequestFails(t *testing.T) {
	ctx := context.Background()
	h := host.NewMemory()
	k := newKernel(h, nil)

	pending := oracle.Pending{
		RequestID:   oracle.NewRequestID(),
		OpHash:      address.HashBytes([]byte("slow-op")),
		IssuedLevel: 1,
	}
	require.NoError(t, oracle.Register(ctx, storage.New(h), pending))

	receipts, err := k.ProcessLevel(ctx, 1+oracle.TTLLevels+1, nil)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	require.NotNil(t, receipts[0].Failure)
	assert.Equal(t, jstzerr.KindJsException, receipts[0].Failure.Kind)
}

func TestProcessLevel_BadSignatureGetsFailureReceipt(t *testing.T) {
	ctx := context.Background()
	h := host.NewMemory()
	k := newKernel(h, nil)
	alice := newSigner(t)
	mallory := newSigner(t)

	env := &operation.Envelope{Source: alice.addr, Nonce: 0, Content: operation.DeployFunction{Code: counterCode}}
	pk := alice.publicKey()
	env.PublicKey = &pk

	// Signed by the wrong key.
	opHash := operation.Hash(env)
	env.Signature = address.NewSignature(address.SchemeEd25519, ed25519.Sign(mallory.priv, opHash[:]))

	receipts, err := k.ProcessLevel(ctx, 1, []Message{opMessage(operation.Encode(env))})
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	require.NotNil(t, receipts[0].Failure)
	assert.Equal(t, jstzerr.KindBadSignature, receipts[0].Failure.Kind)

	rec, err := accountAt(ctx, h, alice.addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rec.Nonce)
}
