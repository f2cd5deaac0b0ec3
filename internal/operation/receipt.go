package operation

import (
	"encoding/json"

	"github.com/jstz-dev/jstz-core/internal/address"
	"github.com/jstz-dev/jstz-core/internal/storage"
	"github.com/jstz-dev/jstz-core/pkg/jstzerr"
)

// Receipt is the per-operation result of spec.md §3/§6: a tagged union
// of Success (an HTTP-shaped response) or Failure (an error kind and
// message). Exactly one is ever populated.
type Receipt struct {
	Success *SuccessReceipt `json:"success,omitempty"`
	Failure *FailureReceipt `json:"failure,omitempty"`

	// NewAddress is set on a successful DeployFunction so the caller
	// can learn where its code landed without re-deriving it.
	NewAddress *address.Address `json:"new_address,omitempty"`
}

// SuccessReceipt carries the callee's Response for a successful
// RunFunction; for a successful DeployFunction it carries only Status
// 200, with no headers or body.
type SuccessReceipt struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

// FailureReceipt carries the classified error for a failed operation.
type FailureReceipt struct {
	Kind    jstzerr.Kind `json:"kind"`
	Message string       `json:"message"`
}

// NewSuccess builds a success Receipt from a RunFunction response.
func NewSuccess(status int, headers map[string]string, body []byte) Receipt {
	return Receipt{Success: &SuccessReceipt{Status: status, Headers: headers, Body: body}}
}

// NewDeploySuccess builds a success Receipt for a DeployFunction,
// carrying the newly derived address.
func NewDeploySuccess(addr address.Address) Receipt {
	return Receipt{Success: &SuccessReceipt{Status: 200}, NewAddress: &addr}
}

// NewFailure builds a failure Receipt from any pipeline error, via
// jstzerr.Classify so callers never have to hand-map error values.
func NewFailure(err error) Receipt {
	classified := jstzerr.Classify(err)

	return Receipt{Failure: &FailureReceipt{Kind: classified.Kind, Message: classified.Message}}
}

// IsSuccess reports whether r represents a successful operation.
func (r Receipt) IsSuccess() bool { return r.Success != nil }

// ReceiptPath is the storage path a receipt is logged at (spec.md §6:
// /jstz_receipt/<level>/<index>), keeping the kernel's receipt log and
// this package's own codec in the same namespace.
func ReceiptPath(level, index uint32) string {
	return storage.JoinPath("jstz_receipt", itoa(level), itoa(index))
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}

	var digits [10]byte
	i := len(digits)

	for v > 0 {
		i--
		digits[i] = byte('0' + v%10)
		v /= 10
	}

	return string(digits[i:])
}

// EncodeReceipt/DecodeReceipt serialize a Receipt for storage.Write/Read.
func EncodeReceipt(r Receipt) ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, jstzerr.Wrap(jstzerr.KindStorageCodec, err, "encode receipt")
	}

	return raw, nil
}

func DecodeReceipt(raw []byte) (Receipt, error) {
	var r Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return Receipt{}, jstzerr.Wrap(jstzerr.KindStorageCodec, err, "decode receipt")
	}

	return r, nil
}
