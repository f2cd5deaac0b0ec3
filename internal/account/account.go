// Package account implements the Account record and Ledger host-call
// surface of spec.md §4.3: balances, nonces, and the reveal-on-first-
// signed-op public key slot, all read and written through the active
// transaction snapshot so balance checks see in-flight transfers from
// the same operation's call tree.
package account

import (
	"context"
	"encoding/json"

	"github.com/jstz-dev/jstz-core/internal/address"
	"github.com/jstz-dev/jstz-core/internal/storage"
	"github.com/jstz-dev/jstz-core/internal/txn"
	"github.com/jstz-dev/jstz-core/pkg/jstzerr"
)

// encodeRecord/decodeRecord serialize a Record for the txn.Manager's
// raw-byte Read/Write, mirroring storage's JSON body format without
// its schema-version tag: account records are never read outside an
// active transaction, so there is no cross-process wire-compatibility
// concern to guard with a tag here.
func encodeRecord(rec Record) ([]byte, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, jstzerr.Wrap(jstzerr.KindStorageCodec, err, "encode account record")
	}

	return raw, nil
}

func decodeRecord(raw []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, jstzerr.Wrap(jstzerr.KindStorageCodec, err, "decode account record")
	}

	return rec, nil
}

// Record is the account shape of spec.md §3, stored at
// /jstz_account/<address>. PublicKey and FunctionCodeHash model
// Option<T> as Go nil.
type Record struct {
	Amount    uint64           `json:"amount"`
	Nonce     uint64           `json:"nonce"`
	PublicKey *StoredPublicKey `json:"public_key,omitempty"`
	// DeployNonce is the in-runtime counter SmartFunction.create keys
	// address derivation on — distinct from Nonce, which only the outer
	// operation pipeline advances.
	DeployNonce      uint64        `json:"deploy_nonce,omitempty"`
	FunctionCodeHash *address.Hash `json:"function_code_hash,omitempty"`
}

// StoredPublicKey is the JSON-safe encoding of an address.PublicKey —
// the scheme tag plus raw key bytes.
type StoredPublicKey struct {
	Scheme address.Scheme `json:"scheme"`
	Raw    []byte         `json:"raw"`
}

func toStored(pk address.PublicKey) *StoredPublicKey {
	return &StoredPublicKey{Scheme: pk.Scheme(), Raw: pk.Bytes()}
}

func (p *StoredPublicKey) toPublicKey() address.PublicKey {
	return address.NewPublicKey(p.Scheme, p.Raw)
}

func path(addr address.Address) string {
	return storage.JoinPath("jstz_account", addr.String())
}

// Ledger is the Ledger global's backing implementation: balance
// queries and transfers scoped to one operation's active transaction.
type Ledger struct {
	tm   *txn.Manager
	self address.Address
}

// New returns a Ledger acting on behalf of self (the currently
// executing smart function or, at the top level, the operation's
// source account).
func New(tm *txn.Manager, self address.Address) *Ledger {
	return &Ledger{tm: tm, self: self}
}

// SelfAddress is Ledger.selfAddress.
func (l *Ledger) SelfAddress() address.Address { return l.self }

// Get reads the account record at addr, returning the zero Record
// (amount 0, nonce 0) if the account has never been created — account
// records are created lazily (spec.md §3 Lifecycles).
func Get(ctx context.Context, tm *txn.Manager, addr address.Address) (Record, error) {
	raw, ok, err := tm.Read(ctx, path(addr))
	if err != nil {
		return Record{}, err
	}

	if !ok {
		return Record{}, nil
	}

	return decodeRecord(raw)
}

// Put durably (within the active snapshot) stores rec at addr.
func Put(ctx context.Context, tm *txn.Manager, addr address.Address, rec Record) error {
	raw, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	return tm.Write(path(addr), raw)
}

// Balance is Ledger.balance(addr).
func (l *Ledger) Balance(ctx context.Context, addr address.Address) (uint64, error) {
	rec, err := Get(ctx, l.tm, addr)
	if err != nil {
		return 0, err
	}

	return rec.Amount, nil
}

// Transfer is Ledger.transfer(to, amount): debits l.self and credits
// to. Both accounts are read and written within the caller's active
// snapshot, so reentrant calls in the same operation observe the
// updated balances immediately.
func (l *Ledger) Transfer(ctx context.Context, to address.Address, amount uint64) error {
	return transfer(ctx, l.tm, l.self, to, amount)
}

// transfer is the shared debit/credit primitive used by both
// Ledger.transfer and the implicit X-JSTZ-TRANSFER handling in the
// call/deploy pipeline (spec.md §4.3/§4.4).
func transfer(ctx context.Context, tm *txn.Manager, from, to address.Address, amount uint64) error {
	if amount == 0 {
		return jstzerr.New(jstzerr.KindNegativeAmount, "transfer amount must be positive")
	}

	fromRec, err := Get(ctx, tm, from)
	if err != nil {
		return err
	}

	if fromRec.Amount < amount {
		return jstzerr.New(jstzerr.KindInsufficientFunds, "account %s has %d, needs %d", from, fromRec.Amount, amount)
	}

	// A self-transfer is a funded no-op; reading the account twice and
	// writing both records back would double-count it.
	if from.Equal(to) {
		return nil
	}

	toRec, err := Get(ctx, tm, to)
	if err != nil {
		return err
	}

	fromRec.Amount -= amount
	toRec.Amount += amount

	if err := Put(ctx, tm, from, fromRec); err != nil {
		return err
	}

	return Put(ctx, tm, to, toRec)
}

// Credit adds amount to addr's balance unconditionally, with no matching
// debit. Nothing outside the tests calls it; Deploy funds a new smart
// function account by writing its Record with Put.
func Credit(ctx context.Context, tm *txn.Manager, addr address.Address, amount uint64) error {
	rec, err := Get(ctx, tm, addr)
	if err != nil {
		return err
	}

	rec.Amount += amount

	return Put(ctx, tm, addr, rec)
}

// Debit subtracts amount from addr's balance, failing with
// InsufficientFunds if that would go negative.
func Debit(ctx context.Context, tm *txn.Manager, addr address.Address, amount uint64) error {
	rec, err := Get(ctx, tm, addr)
	if err != nil {
		return err
	}

	if rec.Amount < amount {
		return jstzerr.New(jstzerr.KindInsufficientFunds, "account %s has %d, needs %d", addr, rec.Amount, amount)
	}

	rec.Amount -= amount

	return Put(ctx, tm, addr, rec)
}

// NextNonce validates and advances addr's nonce for a new operation,
// revealing pk the first time a signed operation arrives from an
// account with no stored public key (spec.md §3 "Nonce" /
// UnrevealedWithoutKey).
func NextNonce(ctx context.Context, tm *txn.Manager, addr address.Address, opNonce uint64, pk *address.PublicKey) error {
	rec, err := Get(ctx, tm, addr)
	if err != nil {
		return err
	}

	if rec.PublicKey == nil {
		if pk == nil {
			return jstzerr.New(jstzerr.KindUnrevealedWithoutKey, "account %s has no revealed public key", addr)
		}

		if opNonce != 0 {
			return jstzerr.New(jstzerr.KindBadNonce, "first operation for %s must have nonce 0, got %d", addr, opNonce)
		}

		rec.PublicKey = toStored(*pk)
	} else if opNonce != rec.Nonce {
		// rec.Nonce counts successful operations, so it is also the
		// next expected envelope nonce.
		return jstzerr.New(jstzerr.KindBadNonce, "account %s expected nonce %d, got %d", addr, rec.Nonce, opNonce)
	}

	rec.Nonce++

	return Put(ctx, tm, addr, rec)
}

// IncrementDeployNonce advances the in-runtime deploy counter used for
// SmartFunction address derivation (spec.md §4.4 step 5) — distinct
// from the outer operation nonce NextNonce manages.
func IncrementDeployNonce(ctx context.Context, tm *txn.Manager, addr address.Address) (uint64, error) {
	rec, err := Get(ctx, tm, addr)
	if err != nil {
		return 0, err
	}

	cur := rec.DeployNonce
	rec.DeployNonce++

	if err := Put(ctx, tm, addr, rec); err != nil {
		return 0, err
	}

	return cur, nil
}

func (r *Record) RevealedPublicKey() *address.PublicKey {
	if r.PublicKey == nil {
		return nil
	}

	pk := r.PublicKey.toPublicKey()

	return &pk
}
