// Package kernel is the execution core's entry point (spec.md §4.8): it
// drains the host inbox one rollup level at a time, feeds each
// recognized message through the operation executor, appends receipts
// to the receipt log, and tracks the last processed level so a
// restarted rollup instance resumes where it left off.
package kernel

import (
	"context"
	"time"

	"github.com/jstz-dev/jstz-core/internal/address"
	"github.com/jstz-dev/jstz-core/internal/executor"
	"github.com/jstz-dev/jstz-core/internal/host"
	"github.com/jstz-dev/jstz-core/internal/operation"
	"github.com/jstz-dev/jstz-core/internal/oracle"
	"github.com/jstz-dev/jstz-core/internal/storage"
	"github.com/jstz-dev/jstz-core/internal/txn"
	"github.com/jstz-dev/jstz-core/pkg/jstzerr"
	"github.com/jstz-dev/jstz-core/pkg/mlog"
)

const lastLevelPath = "/jstz_last_level"

// Kernel owns the per-level drain loop. It is single-threaded by
// construction: ProcessLevel runs operations strictly in receive order
// and never overlaps two levels (spec.md §5).
type Kernel struct {
	h      host.Host
	store  *storage.Store
	exec   *executor.Executor
	log    mlog.Logger
	rollup string

	// oracleKey, when set, is the off-chain oracle node's public key;
	// tag-0x02 messages are dropped unless their signature verifies
	// against it. A kernel with no oracle key drops every tag-0x02
	// message; expiry of pending requests still runs.
	oracleKey *address.PublicKey

	now func() time.Time
}

// New wires a Kernel over h. rollup is this instance's own address;
// inbox messages addressed elsewhere are silently ignored.
func New(h host.Host, rollup string, oracleKey *address.PublicKey, log mlog.Logger, now func() time.Time) *Kernel {
	return &Kernel{
		h:         h,
		store:     storage.New(h),
		exec:      executor.New(txn.New(h), log, now),
		log:       log,
		rollup:    rollup,
		oracleKey: oracleKey,
		now:       now,
	}
}

// LastProcessedLevel returns the resume counter, with ok=false on a
// fresh chain that has never completed a level.
func (k *Kernel) LastProcessedLevel(ctx context.Context) (uint32, bool, error) {
	return storage.Read[uint32](ctx, k.store, lastLevelPath)
}

// Drain decodes one level's raw inbox stream and processes it.
func (k *Kernel) Drain(ctx context.Context, level uint32, rawInbox []byte) ([]operation.Receipt, error) {
	msgs, err := DecodeInbox(rawInbox)
	if err != nil {
		return nil, err
	}

	return k.ProcessLevel(ctx, level, msgs)
}

// ProcessLevel runs every recognized message of one level through the
// executor, in receive order, emitting receipts at
// /jstz_receipt/<level>/<index>. A level at or below the resume counter
// is a no-op — the host may redeliver levels after a restart, and
// reprocessing would double-apply effects.
func (k *Kernel) ProcessLevel(ctx context.Context, level uint32, msgs []Message) ([]operation.Receipt, error) {
	if last, ok, err := k.LastProcessedLevel(ctx); err != nil {
		return nil, err
	} else if ok && level <= last {
		k.log.Debugf("level %d already processed (last=%d), skipping", level, last)
		return nil, nil
	}

	var (
		receipts []operation.Receipt
		index    uint32
	)

	emit := func(r operation.Receipt) error {
		if err := storage.Write(ctx, k.store, operation.ReceiptPath(level, index), r); err != nil {
			return err
		}

		receipts = append(receipts, r)
		index++

		return nil
	}

	// Expired oracle requests surface as failure receipts before the
	// level's own messages, so a suspended operation's outcome is
	// totally ordered with everything else (spec.md §3 invariant 5).
	expired, err := oracle.ExpireBefore(ctx, k.store, level)
	if err != nil {
		return nil, err
	}

	for _, p := range expired {
		k.log.Warnf("oracle request %s for op %s expired", p.RequestID, p.OpHash)

		if err := emit(operation.NewFailure(jstzerr.New(jstzerr.KindJsException, "oracle request %s timed out", p.RequestID))); err != nil {
			return nil, err
		}
	}

	for _, m := range msgs {
		if m.RollupAddress != k.rollup {
			continue
		}

		switch m.Tag() {
		case TagOperation:
			receipt, err := k.exec.Execute(ctx)(m.Body())
			if err != nil {
				return nil, err
			}

			if receipt == nil {
				// Malformed: dropped with no receipt, no state change.
				k.log.Debugf("dropping malformed operation at level %d", level)
				continue
			}

			if err := emit(*receipt); err != nil {
				return nil, err
			}

		case TagOracleResponse:
			receipt, ok, err := k.resumeOracle(ctx, m.Body())
			if err != nil {
				return nil, err
			}

			if ok {
				if err := emit(receipt); err != nil {
					return nil, err
				}
			}

		default:
			// Unknown tag: ignored per spec.md §6.
		}
	}

	if err := storage.Write(ctx, k.store, lastLevelPath, level); err != nil {
		return nil, err
	}

	k.log.Infof("level %d processed: %d receipts", level, len(receipts))

	return receipts, nil
}

// resumeOracle handles a tag-0x02 message: verify the oracle node's
// signature, look up the matching pending request, and turn the signed
// response into the suspended operation's Success receipt. ok=false
// means the message didn't correspond to anything resumable and was
// dropped without a receipt.
func (k *Kernel) resumeOracle(ctx context.Context, body []byte) (operation.Receipt, bool, error) {
	if k.oracleKey == nil {
		k.log.Warn("oracle response received but no oracle key configured, dropping")
		return operation.Receipt{}, false, nil
	}

	if len(body) < oracle.RequestIDLen {
		k.log.Debug("oracle response shorter than a request id, dropping")
		return operation.Receipt{}, false, nil
	}

	var id oracle.RequestID
	copy(id[:], body[:oracle.RequestIDLen])

	resp, sig, err := oracle.DecodeResponse(body[oracle.RequestIDLen:])
	if err != nil {
		k.log.Debugf("undecodable oracle response for request %s: %v", id, err)
		return operation.Receipt{}, false, nil
	}

	if err := oracle.Verify(resp, sig, *k.oracleKey); err != nil {
		k.log.Warnf("oracle response for request %s failed signature verification", id)
		return operation.Receipt{}, false, nil
	}

	pending, found, err := oracle.Find(ctx, k.store, id)
	if err != nil {
		return operation.Receipt{}, false, err
	}

	if !found {
		k.log.Debugf("oracle response for unknown or expired request %s, dropping", id)
		return operation.Receipt{}, false, nil
	}

	if err := oracle.Remove(ctx, k.store, pending.OpHash); err != nil {
		return operation.Receipt{}, false, err
	}

	return operation.NewSuccess(resp.Status, resp.Headers, resp.Body), true, nil
}
