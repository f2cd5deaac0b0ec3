package operation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jstz-dev/jstz-core/pkg/jstzerr"
)

func TestReceiptEncodeDecode_Success(t *testing.T) {
	r := NewSuccess(200, map[string]string{"X-Foo": "bar"}, []byte("hello"))

	raw, err := EncodeReceipt(r)
	require.NoError(t, err)

	decoded, err := DecodeReceipt(raw)
	require.NoError(t, err)

	assert.True(t, decoded.IsSuccess())
	assert.Equal(t, 200, decoded.Success.Status)
	assert.Equal(t, []byte("hello"), decoded.Success.Body)
}

func TestReceiptEncodeDecode_Failure(t *testing.T) {
	r := NewFailure(jstzerr.New(jstzerr.KindInsufficientFunds, "not enough mutez"))

	raw, err := EncodeReceipt(r)
	require.NoError(t, err)

	decoded, err := DecodeReceipt(raw)
	require.NoError(t, err)

	assert.False(t, decoded.IsSuccess())
	assert.Equal(t, jstzerr.KindInsufficientFunds, decoded.Failure.Kind)
}

func TestNewFailure_ClassifiesPlainError(t *testing.T) {
	r := NewFailure(errors.New("boom"))
	assert.Equal(t, jstzerr.KindJsException, r.Failure.Kind)
}

func TestReceiptPath(t *testing.T) {
	assert.Equal(t, "/jstz_receipt/12/7", ReceiptPath(12, 7))
	assert.Equal(t, "/jstz_receipt/0/0", ReceiptPath(0, 0))
}
