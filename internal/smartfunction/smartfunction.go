// Package smartfunction implements SmartFunction.create of spec.md §4.4
// and the code lookup behind SmartFunction.call: code-blob storage,
// address derivation, and deployment. The call lifecycle itself
// (snapshots, evaluation) lives in internal/executor.
package smartfunction

import (
	"context"

	"github.com/jstz-dev/jstz-core/internal/account"
	"github.com/jstz-dev/jstz-core/internal/address"
	"github.com/jstz-dev/jstz-core/internal/storage"
	"github.com/jstz-dev/jstz-core/internal/txn"
	"github.com/jstz-dev/jstz-core/pkg/jstzerr"
)

func codePath(hash address.Hash) string {
	return storage.JoinPath("jstz_code", hash.String())
}

// Code reads the immutable source blob deployed at hash.
func Code(ctx context.Context, tm *txn.Manager, hash address.Hash) (string, bool, error) {
	raw, ok, err := tm.Read(ctx, codePath(hash))
	if err != nil || !ok {
		return "", ok, err
	}

	return string(raw), true, nil
}

// Deploy runs the SmartFunction.create contract (spec.md §4.4 steps
// 1-5): hash the code, derive the new address from (deployer,
// code_hash, deployer's in-runtime deploy nonce), reject if an account
// already exists there, persist the code blob if new, create the
// callee account funded by initialBalance, and debit the deployer.
func Deploy(ctx context.Context, tm *txn.Manager, deployer address.Address, code string, initialBalance uint64) (address.Address, error) {
	codeHash := address.HashBytes([]byte(code))

	deployNonce, err := account.IncrementDeployNonce(ctx, tm, deployer)
	if err != nil {
		return address.Address{}, err
	}

	newAddr := address.NewSmartFunctionAddress(deployer, codeHash, deployNonce)

	existing, err := account.Get(ctx, tm, newAddr)
	if err != nil {
		return address.Address{}, err
	}

	if existing.FunctionCodeHash != nil {
		return address.Address{}, jstzerr.New(jstzerr.KindAlreadyDeployed, "smart function already deployed at %s", newAddr)
	}

	if _, ok, err := Code(ctx, tm, codeHash); err != nil {
		return address.Address{}, err
	} else if !ok {
		if err := tm.Write(codePath(codeHash), []byte(code)); err != nil {
			return address.Address{}, err
		}
	}

	if initialBalance > 0 {
		if err := account.Debit(ctx, tm, deployer, initialBalance); err != nil {
			return address.Address{}, err
		}
	}

	h := codeHash
	newRec := account.Record{Amount: initialBalance, FunctionCodeHash: &h}
	if err := account.Put(ctx, tm, newAddr, newRec); err != nil {
		return address.Address{}, err
	}

	return newAddr, nil
}

// Resolve loads the code blob for target, failing with UnknownFunction
// if no smart function is deployed there (spec.md §4.4 call step 2).
func Resolve(ctx context.Context, tm *txn.Manager, target address.Address) (string, error) {
	rec, err := account.Get(ctx, tm, target)
	if err != nil {
		return "", err
	}

	if rec.FunctionCodeHash == nil {
		return "", jstzerr.New(jstzerr.KindUnknownFunction, "no smart function deployed at %s", target)
	}

	code, ok, err := Code(ctx, tm, *rec.FunctionCodeHash)
	if err != nil {
		return "", err
	}

	if !ok {
		return "", jstzerr.New(jstzerr.KindUnknownFunction, "code blob missing for %s", target)
	}

	return code, nil
}
