// Package executor implements the operation pipeline of spec.md §4.7:
// parse, identity/signature/nonce checks, dispatch (DeployFunction or
// RunFunction), commit/rollback, receipt. It collapses the teacher's
// CQRS command/query UseCase split into one synchronous pipeline, since
// spec.md §5 rules out concurrent dispatch — there is nothing to
// parallelize between a "command" half and a "query" half here.
package executor

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jstz-dev/jstz-core/internal/account"
	"github.com/jstz-dev/jstz-core/internal/address"
	"github.com/jstz-dev/jstz-core/internal/operation"
	"github.com/jstz-dev/jstz-core/internal/runtime"
	"github.com/jstz-dev/jstz-core/internal/smartfunction"
	"github.com/jstz-dev/jstz-core/internal/txn"
	"github.com/jstz-dev/jstz-core/pkg/jstzerr"
	"github.com/jstz-dev/jstz-core/pkg/mlog"
	"github.com/jstz-dev/jstz-core/pkg/mtrace"
)

// headerTransfer/headerAmount/headerReferer are the canonical lowercase
// header names spec.md §4.3/§4.7 assigns special meaning to; bridge's
// bootstrap.go Headers class lowercases every key it stores, so the
// executor normalizes to the same case before reading or writing them.
const (
	headerTransfer = "x-jstz-transfer"
	headerAmount   = "x-jstz-amount"
	headerReferer  = "referer"
)

// defaultGasLimit is used when a RunFunction doesn't set one (0).
const defaultGasLimit = 10_000_000

// Executor turns one inbox operation into one Receipt, per spec.md
// §4.7. It is not safe for concurrent use, matching txn.Manager and
// spec.md §5's single-threaded execution model.
type Executor struct {
	tm  *txn.Manager
	log mlog.Logger
	now func() time.Time
}

// New returns an Executor over tm. now supplies the timestamp frozen
// into Date.now(): execute reads it once per operation and every JS
// evaluation in that operation's nested call tree sees that same value.
func New(tm *txn.Manager, log mlog.Logger, now func() time.Time) *Executor {
	return &Executor{tm: tm, log: log, now: now}
}

// Execute runs one raw inbox message through the full pipeline. A nil
// Receipt with a nil error means the message was Malformed and must be
// silently dropped (spec.md §4.7 step 1 / §7): no receipt, no state
// change, no nonce consumption. A non-nil error is an infrastructure
// failure (storage I/O), not an operation-level failure — those are
// always reported as a Failure receipt instead.
func (e *Executor) Execute(ctx context.Context) func(raw []byte) (*operation.Receipt, error) {
	return func(raw []byte) (*operation.Receipt, error) {
		return e.execute(ctx, raw)
	}
}

func (e *Executor) execute(ctx context.Context, raw []byte) (*operation.Receipt, error) {
	env, err := operation.Decode(raw)
	if err != nil {
		return nil, nil
	}

	// Hold the clock fixed for the whole operation, nested calls included.
	frozen := e.now()
	prevNow := e.now
	e.now = func() time.Time { return frozen }
	defer func() { e.now = prevNow }()

	tracer := mtrace.FromContext(ctx)

	ctx, span := tracer.Start(ctx, "executor.execute", trace.WithAttributes(
		attribute.String("jstz.source", env.Source.String()),
		attribute.Int64("jstz.nonce", int64(env.Nonce)),
	))
	defer span.End()

	e.tm.Begin()

	source, ierr := account.Get(ctx, e.tm, env.Source)
	if ierr != nil {
		e.tm.Rollback()
		return nil, ierr
	}

	if verr := verifyIdentity(env, source); verr != nil {
		e.tm.Rollback()
		receipt := operation.NewFailure(verr)
		return &receipt, nil
	}

	// account.NextNonce both validates (BadNonce/UnrevealedWithoutKey)
	// and, only once validation passes, advances the nonce and records
	// a first-reveal public key — on any validation error it returns
	// before writing anything, so rolling back here is a true no-op
	// and matches §7's "nonce not advanced, state unchanged" for these
	// two kinds.
	if nerr := account.NextNonce(ctx, e.tm, env.Source, env.Nonce, env.PublicKey); nerr != nil {
		e.tm.Rollback()
		receipt := operation.NewFailure(nerr)
		return &receipt, nil
	}

	// From here the nonce advance (and reveal) just written is always
	// carried to storage: the outer snapshot's eventual Commit below
	// is unconditional. Only the dispatch's own effects are scoped to
	// the nested snapshot opened inside dispatch, so a dispatch
	// failure rolls back *its* writes while still landing the nonce
	// advance — spec.md §4.7 step 7's "commit on success, rollback on
	// failure, either way increment source nonce".
	e.tm.Begin()

	receipt, derr := e.dispatch(ctx, env)
	if derr != nil {
		mtrace.HandleSpanError(span, "operation dispatch failed", derr)
		e.tm.Rollback()
		receipt = operation.NewFailure(derr)
	} else if cerr := e.tm.Commit(ctx); cerr != nil {
		// A nested Commit only merges into its parent (OCC revalidation
		// runs solely at top level), so it fails only when the snapshot
		// is no longer Active.
		receipt = operation.NewFailure(cerr)
	}

	if cerr := e.tm.Commit(ctx); cerr != nil {
		return nil, cerr
	}

	return &receipt, nil
}

// verifyIdentity performs spec.md §4.7 steps 2-3: the account must
// either already have a revealed key (checked against env.PublicKey
// only implicitly, via signature verification against whichever key
// the caller asserts) or the envelope must carry one. Signature
// verification always runs against whichever public key is in play —
// the freshly revealed one or the one on record.
func verifyIdentity(env *operation.Envelope, source account.Record) error {
	pk := source.RevealedPublicKey()
	if pk == nil {
		if env.PublicKey == nil {
			return jstzerr.New(jstzerr.KindUnrevealedWithoutKey, "account %s has no revealed public key", env.Source)
		}

		pk = env.PublicKey
	}

	if !address.NewUserAddress(*pk).Equal(env.Source) {
		return jstzerr.New(jstzerr.KindInvalidAddress, "public key does not match source address %s", env.Source)
	}

	if err := operation.Verify(env, *pk); err != nil {
		return err
	}

	return nil
}

// dispatch performs spec.md §4.7 step 6, inside the nested snapshot
// execute opened for it.
func (e *Executor) dispatch(ctx context.Context, env *operation.Envelope) (operation.Receipt, error) {
	switch content := env.Content.(type) {
	case operation.DeployFunction:
		addr, err := smartfunction.Deploy(ctx, e.tm, env.Source, content.Code, content.InitialBalance)
		if err != nil {
			return operation.Receipt{}, err
		}

		return operation.NewDeploySuccess(addr), nil

	case operation.RunFunction:
		return e.dispatchRun(ctx, env.Source, content)

	default:
		return operation.Receipt{}, jstzerr.New(jstzerr.KindMalformed, "unknown operation content type")
	}
}

func (e *Executor) dispatchRun(ctx context.Context, source address.Address, content operation.RunFunction) (operation.Receipt, error) {
	target, err := targetOf(content.URI)
	if err != nil {
		return operation.Receipt{}, err
	}

	headers := cloneHeaders(content.Headers)
	headers[headerReferer] = source.String()

	gasLimit := content.GasLimit
	if gasLimit == 0 {
		gasLimit = defaultGasLimit
	}

	meter := runtime.NewMeter(gasLimit)

	resp, err := e.call(ctx, source, target, meter, runtime.Request{
		URI:     content.URI,
		Method:  content.Method,
		Headers: headers,
		Body:    content.Body,
	})
	if err != nil {
		return operation.Receipt{}, err
	}

	return operation.NewSuccess(resp.Status, resp.Headers, resp.Body), nil
}

// call runs one smart function invocation: it applies any implicit
// X-JSTZ-TRANSFER, instantiates a Bridge scoped to target with a
// Dispatcher that recurses back into call for nested
// SmartFunction.call/fetch(jstz://…), and commits or rolls back its
// own nested snapshot around the transfer + evaluation per spec.md
// §4.4 steps 3-8. Shared by the top-level RunFunction dispatch and
// every nested call the Bridge's Dispatcher triggers.
func (e *Executor) call(ctx context.Context, caller, target address.Address, meter *runtime.Meter, req runtime.Request) (*runtime.Response, error) {
	// One span per reentry, so a nested call tree shows up as a span
	// tree: caller → callee → callee's callees.
	ctx, span := mtrace.FromContext(ctx).Start(ctx, "executor.call", trace.WithAttributes(
		attribute.String("jstz.caller", caller.String()),
		attribute.String("jstz.target", target.String()),
	))
	defer span.End()

	resolved, rerr := smartfunction.Resolve(ctx, e.tm, target)
	if rerr != nil {
		mtrace.HandleSpanError(span, "failed to resolve smart function", rerr)
		return nil, rerr
	}

	e.tm.Begin()

	if transfer, ok := headerUint64(req.Headers, headerTransfer); ok && transfer > 0 {
		if terr := transferFunds(ctx, e.tm, caller, target, transfer); terr != nil {
			e.tm.Rollback()
			return nil, terr
		}

		req.Headers[headerAmount] = itoaUint64(transfer)
	}

	bridge := runtime.New(e.tm, target, meter, e.now(), e.log)
	bridge.WithDispatcher(func(ctx context.Context, jsReq map[string]any) (map[string]any, error) {
		return e.dispatchNested(ctx, target, jsReq, meter)
	})

	resp, rerr := bridge.Run(ctx, resolved, req)
	if rerr != nil {
		mtrace.HandleSpanError(span, "smart function failed", rerr)
		e.tm.Rollback()

		return nil, rerr
	}

	if refund, ok := headerUint64(resp.Headers, headerTransfer); ok && refund > 0 {
		if terr := transferFunds(ctx, e.tm, target, caller, refund); terr != nil {
			e.tm.Rollback()
			return nil, terr
		}

		if resp.Headers == nil {
			resp.Headers = map[string]string{}
		}

		resp.Headers[headerAmount] = itoaUint64(refund)
	}

	if cerr := e.tm.Commit(ctx); cerr != nil {
		return nil, cerr
	}

	return resp, nil
}

// dispatchNested is the runtime.Dispatcher installed on every Bridge:
// it decodes the plain request object a nested SmartFunction.call/
// fetch(jstz://…) produced, resolves the new target, recurses into
// call, and re-encodes the Response as the plain object bootstrap.go's
// toResponse expects — errors are returned as-is so the calling
// Bridge's native function re-throws them as a catchable JS exception
// in the caller, per spec.md §4.4 step 8.
func (e *Executor) dispatchNested(ctx context.Context, caller address.Address, jsReq map[string]any, meter *runtime.Meter) (map[string]any, error) {
	uri, _ := jsReq["url"].(string)

	target, err := targetOf(uri)
	if err != nil {
		return nil, err
	}

	method, _ := jsReq["method"].(string)

	headers := map[string]string{}
	if raw, ok := jsReq["headers"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				headers[strings.ToLower(k)] = s
			}
		}
	}

	var body []byte
	if b, ok := jsReq["body"].(string); ok {
		body = []byte(b)
	}

	resp, err := e.call(ctx, caller, target, meter, runtime.Request{
		URI:     uri,
		Method:  method,
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		return nil, err
	}

	respHeaders := make(map[string]any, len(resp.Headers))
	for k, v := range resp.Headers {
		respHeaders[k] = v
	}

	return map[string]any{
		"status":  float64(resp.Status),
		"headers": respHeaders,
		"body":    string(resp.Body),
	}, nil
}

func transferFunds(ctx context.Context, tm *txn.Manager, from, to address.Address, amount uint64) error {
	ledger := account.New(tm, from)
	return ledger.Transfer(ctx, to, amount)
}

// targetOf parses a jstz://<address>/... URI's host into an Address.
func targetOf(uri string) (address.Address, error) {
	const scheme = "jstz://"

	if !strings.HasPrefix(uri, scheme) {
		return address.Address{}, jstzerr.New(jstzerr.KindInvalidAddress, "%q is not a jstz:// URI", uri)
	}

	rest := uri[len(scheme):]
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}

	return address.Parse(rest)
}

func cloneHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h)+1)
	for k, v := range h {
		out[strings.ToLower(k)] = v
	}

	return out
}

func headerUint64(h map[string]string, name string) (uint64, bool) {
	v, ok := h[name]
	if !ok {
		return 0, false
	}

	var n uint64
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0, false
		}

		n = n*10 + uint64(c-'0')
	}

	return n, true
}

func itoaUint64(v uint64) string {
	if v == 0 {
		return "0"
	}

	var digits [20]byte
	i := len(digits)

	for v > 0 {
		i--
		digits[i] = byte('0' + v%10)
		v /= 10
	}

	return string(digits[i:])
}
