// Package runtime is the goja-backed JS engine bridge of spec.md §4.6:
// deterministic primitives, the Kv/Ledger/SmartFunction/fetch globals,
// gas metering, and module instantiation/invocation.
package runtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/jstz-dev/jstz-core/internal/account"
	"github.com/jstz-dev/jstz-core/internal/address"
	"github.com/jstz-dev/jstz-core/internal/kv"
	"github.com/jstz-dev/jstz-core/internal/smartfunction"
	"github.com/jstz-dev/jstz-core/internal/txn"
	"github.com/jstz-dev/jstz-core/pkg/jstzerr"
	"github.com/jstz-dev/jstz-core/pkg/mlog"
)

// Request is the Go-side shape of the incoming call, built by the
// executor from the operation envelope (spec.md §4.7 step 6) or by a
// caller's nested SmartFunction.call/fetch.
type Request struct {
	URI     string
	Method  string
	Headers map[string]string
	Body    []byte
}

// Response is the Go-side shape of a completed call's result.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// deterministicRandom is the fixed value spec.md §4.6 requires in
// place of Math.random.
const deterministicRandom = 0.42

// Bridge runs exactly one module invocation: a fresh goja.Runtime with
// the globals of spec.md §4.6 installed, scoped to one smart function
// (self) and sharing the operation-wide gas Meter and transaction
// Manager with the rest of the call tree.
type Bridge struct {
	tm       *txn.Manager
	self     address.Address
	meter    *Meter
	now      time.Time
	log      mlog.Logger
	vm       *goja.Runtime
	dispatch Dispatcher
	hostErr  error
}

// New constructs a Bridge for one smart function's evaluation scope.
// now is the timestamp Date.now() is frozen to — derived once per
// operation so every nested call observes the same instant.
func New(tm *txn.Manager, self address.Address, meter *Meter, now time.Time, log mlog.Logger) *Bridge {
	return &Bridge{tm: tm, self: self, meter: meter, now: now, log: log}
}

// Run compiles code as an ES-module-shaped script (it must assign its
// default export to `__jstz_default`, which wrapModule arranges) and
// invokes it with req, returning the
// Response the default export produced or an error classified into a
// jstzerr.Kind.
func (b *Bridge) Run(ctx context.Context, code string, req Request) (*Response, error) {
	b.vm = goja.New()
	defer func() { b.vm = nil }()

	b.installDeterminism()
	b.installHostFunctions(ctx)

	if _, err := b.vm.RunString(bootstrapSource); err != nil {
		return nil, jstzerr.Wrap(jstzerr.KindJsException, err, "bootstrap globals")
	}

	done := make(chan struct{})
	defer close(done)
	go b.watchdog(done)

	wrapped := wrapModule(code)

	if _, err := b.vm.RunString(wrapped); err != nil {
		return nil, b.classifyJSError(err)
	}

	reqVal, err := b.toJSRequest(req)
	if err != nil {
		return nil, err
	}

	entry, ok := goja.AssertFunction(b.vm.Get("__jstz_invoke"))
	if !ok {
		return nil, jstzerr.New(jstzerr.KindJsException, "module has no default export")
	}

	if _, err := entry(goja.Undefined(), reqVal); err != nil {
		return nil, b.classifyJSError(err)
	}

	errVal := b.vm.Get("__jstz_error")
	if errVal != nil && !goja.IsUndefined(errVal) && !goja.IsNull(errVal) {
		msg := errVal.String()

		// A rejection whose value is exactly the message throwHost
		// panicked with is that host error resurfacing through an
		// async handler; return it with its original Kind instead of
		// collapsing to JsException.
		if b.hostErr != nil && b.hostErr.Error() == msg {
			hostErr := b.hostErr
			b.hostErr = nil

			return nil, hostErr
		}

		return nil, jstzerr.New(jstzerr.KindJsException, "%s", msg)
	}

	return b.fromJSResponse(b.vm.Get("__jstz_result"))
}

// wrapModule turns a module body (its last top-level expression is
// expected to be `export default fn`, rewritten below to a plain
// assignment since this Bridge evaluates one file at a time rather
// than through an ES module loader) into a self-running script that
// stashes its resolved/rejected Promise outcome in globals the Go side
// reads back after the call — goja drains the job queue before
// RunProgram/RunString returns, so a synchronously-settled promise
// chain is fully resolved by the time Run continues.
func wrapModule(code string) string {
	body := stripDefaultExport(code)

	return body + `
var __jstz_result, __jstz_error;
function __jstz_invoke(request) {
  Promise.resolve(__jstz_default(request)).then(
    function(r) { __jstz_result = r; },
    function(e) { __jstz_error = e; }
  );
}
`
}

// stripDefaultExport rewrites `export default <expr>` into
// `var __jstz_default = <expr>`, the one ES-module construct this
// bridge special-cases rather than routing through a full module
// loader, since spec.md §4.6 only requires "a default export callable
// with a Request".
func stripDefaultExport(code string) string {
	const marker = "export default"

	idx := indexOf(code, marker)
	if idx == -1 {
		return code + "\nvar __jstz_default = undefined;\n"
	}

	return code[:idx] + "var __jstz_default =" + code[idx+len(marker):]
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}

	return -1
}

// throwHost records err's Kind before panicking with its message as a
// catchable JS value, so classifyJSError can recover the original Kind
// (GasExhausted, InsufficientFunds, ...) instead of collapsing every
// host-call failure into JsException once goja re-surfaces the panic as
// a *goja.Exception.
func (b *Bridge) throwHost(err error) {
	b.hostErr = err
	panic(b.vm.ToValue(err.Error()))
}

// classifyJSError maps an error returned from running/calling into the
// VM to a jstzerr.Kind. A hostErr recorded by throwHost during this call
// takes priority over the generic goja.Exception classification, since
// it carries the real Kind the host call failed with.
func (b *Bridge) classifyJSError(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := err.(*goja.Exception); ok {
		if b.hostErr != nil {
			hostErr := b.hostErr
			b.hostErr = nil

			return hostErr
		}

		return jstzerr.New(jstzerr.KindJsException, "%s", err.Error())
	}

	if _, ok := err.(*goja.InterruptedError); ok {
		return jstzerr.New(jstzerr.KindGasExhausted, "execution interrupted: gas exhausted")
	}

	return jstzerr.Wrap(jstzerr.KindJsException, err, "script execution failed")
}

// installDeterminism replaces Math.random and Date.now with the fixed
// primitives spec.md §4.6 requires and disables host randomness.
func (b *Bridge) installDeterminism() {
	mathObj := b.vm.Get("Math")
	if m, ok := mathObj.(*goja.Object); ok {
		_ = m.Set("random", func(goja.FunctionCall) goja.Value {
			return b.vm.ToValue(deterministicRandom)
		})
	}

	nowMillis := b.now.UnixMilli()

	dateObj, ok := b.vm.Get("Date").(*goja.Object)
	if ok {
		_ = dateObj.Set("now", func(goja.FunctionCall) goja.Value {
			return b.vm.ToValue(nowMillis)
		})
	}
}

// watchdog is the wall-clock backstop for the "interpreter step" half
// of spec.md §4.6's gas metering: goja has no public bytecode-step
// counter to bill per instruction, so remaining gas is translated into
// a time budget (1ms per 1000 gas units, floor 50ms) and the Runtime is
// asynchronously interrupted if it runs past that — the host-call
// metering in gas.go remains the precise half of the budget.
func (b *Bridge) watchdog(done <-chan struct{}) {
	budget := b.meter.Remaining()

	millis := budget / 1000
	if millis < 50 {
		millis = 50
	}

	select {
	case <-done:
	case <-time.After(time.Duration(millis) * time.Millisecond):
		b.vm.Interrupt("gas exhausted")
	}
}

func (b *Bridge) installHostFunctions(ctx context.Context) {
	vm := b.vm

	must := func(name string, fn func(goja.FunctionCall) goja.Value) {
		_ = vm.Set(name, fn)
	}

	k := kv.New(b.tm, b.self)

	must("__jstz_console", func(call goja.FunctionCall) goja.Value {
		_ = b.meter.Charge(OpConsole)
		level := call.Argument(0).String()
		msg := call.Argument(1).String()
		logByLevel(b.log, level, msg)

		return goja.Undefined()
	})

	must("__jstz_kv_get", func(call goja.FunctionCall) goja.Value {
		if err := b.meter.Charge(OpKvGet); err != nil {
			b.throwHost(err)
		}

		key := call.Argument(0).String()

		var doc any
		ok, err := k.Get(ctx, key, &doc)
		if err != nil {
			b.throwHost(err)
		}

		if !ok {
			return goja.Null()
		}

		raw, _ := json.Marshal(doc)

		return vm.ToValue(string(raw))
	})

	must("__jstz_kv_set", func(call goja.FunctionCall) goja.Value {
		if err := b.meter.Charge(OpKvSet); err != nil {
			b.throwHost(err)
		}

		key := call.Argument(0).String()
		raw := call.Argument(1).String()

		var doc any
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			b.throwHost(err)
		}

		if err := k.Set(ctx, key, doc); err != nil {
			b.throwHost(err)
		}

		return goja.Undefined()
	})

	must("__jstz_kv_delete", func(call goja.FunctionCall) goja.Value {
		if err := b.meter.Charge(OpKvDelete); err != nil {
			b.throwHost(err)
		}

		if err := k.Delete(call.Argument(0).String()); err != nil {
			b.throwHost(err)
		}

		return goja.Undefined()
	})

	must("__jstz_kv_has", func(call goja.FunctionCall) goja.Value {
		if err := b.meter.Charge(OpKvHas); err != nil {
			b.throwHost(err)
		}

		ok, err := k.Has(ctx, call.Argument(0).String())
		if err != nil {
			b.throwHost(err)
		}

		return vm.ToValue(ok)
	})

	must("__jstz_kv_list_subkeys", func(call goja.FunctionCall) goja.Value {
		if err := b.meter.Charge(OpKvListSubkeys); err != nil {
			b.throwHost(err)
		}

		keys, err := k.ListSubkeys(ctx, call.Argument(0).String())
		if err != nil {
			b.throwHost(err)
		}

		return vm.ToValue(keys)
	})

	must("__jstz_ledger_self", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(b.self.String())
	})

	must("__jstz_ledger_balance", func(call goja.FunctionCall) goja.Value {
		if err := b.meter.Charge(OpLedgerBalance); err != nil {
			b.throwHost(err)
		}

		addr, err := address.Parse(call.Argument(0).String())
		if err != nil {
			b.throwHost(err)
		}

		ledger := account.New(b.tm, b.self)

		bal, err := ledger.Balance(ctx, addr)
		if err != nil {
			b.throwHost(err)
		}

		return vm.ToValue(bal)
	})

	must("__jstz_ledger_transfer", func(call goja.FunctionCall) goja.Value {
		if err := b.meter.Charge(OpLedgerTransfer); err != nil {
			b.throwHost(err)
		}

		to, err := address.Parse(call.Argument(0).String())
		if err != nil {
			b.throwHost(err)
		}

		amount := call.Argument(1).ToInteger()
		if amount <= 0 {
			b.throwHost(jstzerr.New(jstzerr.KindNegativeAmount, "transfer amount must be positive"))
		}

		ledger := account.New(b.tm, b.self)
		if err := ledger.Transfer(ctx, to, uint64(amount)); err != nil {
			b.throwHost(err)
		}

		return goja.Undefined()
	})

	must("__jstz_sf_create", func(call goja.FunctionCall) goja.Value {
		if err := b.meter.Charge(OpSmartFnCreate); err != nil {
			b.throwHost(err)
		}

		code := call.Argument(0).String()
		initial := uint64(call.Argument(1).ToInteger())

		addr, err := smartfunction.Deploy(ctx, b.tm, b.self, code, initial)
		if err != nil {
			b.throwHost(err)
		}

		return vm.ToValue(addr.String())
	})

	must("__jstz_sf_call", func(call goja.FunctionCall) goja.Value {
		if err := b.meter.Charge(OpSmartFnCall); err != nil {
			b.throwHost(err)
		}
		// Actual nested-call dispatch (begin child snapshot, resolve
		// target code, run a nested Bridge, commit/rollback per
		// spec.md §4.4) is orchestrated by internal/executor, which
		// owns the snapshot lifecycle this Bridge must not reach into
		// directly. This stub exists so SmartFunction.call/fetch
		// resolve to a callable from JS; the executor replaces it with
		// a real dispatcher via WithDispatcher before Run.
		if b.dispatch == nil {
			b.throwHost(jstzerr.New(jstzerr.KindJsException, "no dispatcher installed for SmartFunction.call"))
		}

		reqObj, _ := call.Argument(0).Export().(map[string]any)

		resp, err := b.dispatch(ctx, reqObj)
		if err != nil {
			b.throwHost(err)
		}

		return vm.ToValue(resp)
	})

	must("__jstz_fetch", func(call goja.FunctionCall) goja.Value {
		if err := b.meter.Charge(OpFetch); err != nil {
			b.throwHost(err)
		}
		// Off-chain (http(s)://) fetch fails inline with a JsException;
		// it does not suspend the operation, and Bridge never talks to
		// internal/oracle.
		b.throwHost(jstzerr.New(jstzerr.KindJsException, "http(s) fetch is handled out-of-band via the oracle, not inline"))

		return goja.Undefined()
	})

	must("__jstz_base64_decode", func(call goja.FunctionCall) goja.Value {
		raw, err := base64.StdEncoding.DecodeString(call.Argument(0).String())
		if err != nil {
			b.throwHost(err)
		}

		return vm.ToValue(string(raw))
	})

	must("__jstz_base64_encode", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(base64.StdEncoding.EncodeToString([]byte(call.Argument(0).String())))
	})

	must("__jstz_text_encode", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue([]byte(call.Argument(0).String()))
	})

	must("__jstz_text_decode", func(call goja.FunctionCall) goja.Value {
		raw, _ := call.Argument(0).Export().([]byte)
		return vm.ToValue(string(raw))
	})
}

// Dispatcher lets the executor plug in the real nested-call pipeline
// (new snapshot, target resolution, nested Bridge, commit/rollback)
// without this package reaching into txn/smartfunction lifecycle
// decisions that belong to the executor (spec.md §4.4/§4.7).
type Dispatcher func(ctx context.Context, req map[string]any) (map[string]any, error)

// WithDispatcher installs fn as the SmartFunction.call/fetch(jstz://…)
// handler for this Bridge's invocation.
func (b *Bridge) WithDispatcher(fn Dispatcher) *Bridge {
	b.dispatch = fn
	return b
}

func (b *Bridge) toJSRequest(req Request) (goja.Value, error) {
	headers := make(map[string]any, len(req.Headers))
	for k, v := range req.Headers {
		headers[k] = v
	}

	obj := map[string]any{
		"url":     req.URI,
		"method":  req.Method,
		"headers": headers,
		"body":    string(req.Body),
	}

	ctorVal := b.vm.Get("Request")

	ctor, ok := goja.AssertConstructor(ctorVal)
	if !ok {
		return nil, jstzerr.New(jstzerr.KindJsException, "Request constructor missing")
	}

	inst, err := ctor(nil, b.vm.ToValue(req.URI), b.vm.ToValue(obj))
	if err != nil {
		return nil, b.classifyJSError(err)
	}

	return inst, nil
}

func (b *Bridge) fromJSResponse(v goja.Value) (*Response, error) {
	if v == nil || goja.IsUndefined(v) {
		return nil, jstzerr.New(jstzerr.KindJsException, "default export returned no value")
	}

	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, jstzerr.New(jstzerr.KindJsException, "default export did not return a Response")
	}

	status := int(obj.Get("status").ToInteger())

	headersVal := obj.Get("headers")
	headers := map[string]string{}

	if headersObj, ok := headersVal.(*goja.Object); ok {
		if toObj, ok := goja.AssertFunction(headersObj.Get("toObject")); ok {
			if result, err := toObj(headersVal); err == nil {
				if m, ok := result.Export().(map[string]any); ok {
					for k, val := range m {
						headers[k] = fmt.Sprint(val)
					}
				}
			}
		}
	}

	var body []byte

	bodyField := obj.Get("_body")
	if bodyField != nil && !goja.IsUndefined(bodyField) && !goja.IsNull(bodyField) {
		body = []byte(bodyField.String())
	}

	return &Response{Status: status, Headers: headers, Body: body}, nil
}

func logByLevel(log mlog.Logger, level, msg string) {
	switch level {
	case "error":
		log.Error(msg)
	case "warn":
		log.Warn(msg)
	case "debug":
		log.Debug(msg)
	default:
		log.Info(msg)
	}
}
