package address

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jstz-dev/jstz-core/pkg/jstzerr"
)

func TestAddressRoundTrip(t *testing.T) {
	_, pub, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	pk := NewPublicKey(SchemeEd25519, pub)
	addr := NewUserAddress(pk)

	parsed, err := Parse(addr.String())
	require.NoError(t, err)
	assert.True(t, addr.Equal(parsed))
	assert.Equal(t, KindUser, parsed.Kind())
}

func TestSmartFunctionAddressIsDeterministic(t *testing.T) {
	_, pub, _ := ed25519.GenerateKey(rand.Reader)
	deployer := NewUserAddress(NewPublicKey(SchemeEd25519, pub))
	codeHash := HashBytes([]byte("export default () => {}"))

	a1 := NewSmartFunctionAddress(deployer, codeHash, 3)
	a2 := NewSmartFunctionAddress(deployer, codeHash, 3)
	a3 := NewSmartFunctionAddress(deployer, codeHash, 4)

	assert.True(t, a1.Equal(a2))
	assert.False(t, a1.Equal(a3))
	assert.Equal(t, KindSmartFunction, a1.Kind())
}

func TestParse_RejectsUnknownPrefix(t *testing.T) {
	_, err := Parse("xy9somejunk")
	require.Error(t, err)
	assert.Equal(t, jstzerr.KindInvalidAddress, jstzerr.KindOf(err))
}

func TestParse_RejectsBadLength(t *testing.T) {
	_, err := Parse("tz1" + "1") // decodes to far fewer than 20 bytes
	require.Error(t, err)
	assert.Equal(t, jstzerr.KindInvalidAddress, jstzerr.KindOf(err))
}

func TestVerify_Ed25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	msg := []byte("deploy-me")
	sig := ed25519.Sign(priv, msg)

	pk := NewPublicKey(SchemeEd25519, pub)
	s := NewSignature(SchemeEd25519, sig)

	require.NoError(t, Verify(pk, msg, s))

	bad := NewSignature(SchemeEd25519, append([]byte{}, sig...))
	bad.raw[0] ^= 0xFF
	err = Verify(pk, msg, bad)
	require.Error(t, err)
	assert.Equal(t, jstzerr.KindBadSignature, jstzerr.KindOf(err))
}

func TestVerify_Secp256r1(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	msg := []byte("call-me")
	digest := sha256.Sum256(msg)

	rawSig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	require.NoError(t, err)

	rawKey := elliptic.Marshal(elliptic.P256(), priv.PublicKey.X, priv.PublicKey.Y)

	pk := NewPublicKey(SchemeSecp256r1, rawKey)
	s := NewSignature(SchemeSecp256r1, rawSig)

	require.NoError(t, Verify(pk, msg, s))
}

func TestVerify_Secp256k1(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	msg := []byte("run-me")
	digest := sha256.Sum256(msg)

	sig := btcecdsa.Sign(priv, digest[:])

	pk := NewPublicKey(SchemeSecp256k1, priv.PubKey().SerializeCompressed())
	s := NewSignature(SchemeSecp256k1, sig.Serialize())

	require.NoError(t, Verify(pk, msg, s))
}

func TestVerify_SchemeMismatchIsHardError(t *testing.T) {
	_, pub, _ := ed25519.GenerateKey(rand.Reader)
	pk := NewPublicKey(SchemeEd25519, pub)
	s := NewSignature(SchemeSecp256k1, make([]byte, 64))

	err := Verify(pk, []byte("x"), s)
	require.Error(t, err)
	assert.Equal(t, jstzerr.KindBadSignature, jstzerr.KindOf(err))
}
