package runtime

import "github.com/jstz-dev/jstz-core/pkg/jstzerr"

// Op identifies a billable unit of work for the gas table of spec.md
// §4.6. Host calls are billed per invocation. Interpreter steps are not
// metered: OpInstruction has a table cost, but nothing charges it, and a
// long-running evaluation is stopped only by Bridge's wall-clock watchdog.
type Op string

const (
	OpKvGet          Op = "kv.get"
	OpKvSet          Op = "kv.set"
	OpKvDelete       Op = "kv.delete"
	OpKvHas          Op = "kv.has"
	OpKvListSubkeys  Op = "kv.listSubkeys"
	OpLedgerBalance  Op = "ledger.balance"
	OpLedgerTransfer Op = "ledger.transfer"
	OpSmartFnCreate  Op = "smartfunction.create"
	OpSmartFnCall    Op = "smartfunction.call"
	OpFetch          Op = "fetch"
	OpConsole        Op = "console"
	OpInstruction    Op = "instruction"
)

// gasTable is the fixed per-operation cost table. Costs are flat
// integers, not mutez; they are never persisted (see DESIGN.md's
// GasTableVersion note), only compared against a per-operation budget.
var gasTable = map[Op]uint64{
	OpKvGet:          10,
	OpKvSet:          50,
	OpKvDelete:       20,
	OpKvHas:          5,
	OpKvListSubkeys:  20,
	OpLedgerBalance:  5,
	OpLedgerTransfer: 100,
	OpSmartFnCreate:  500,
	OpSmartFnCall:    200,
	OpFetch:          200,
	OpConsole:        1,
	OpInstruction:    1,
}

// GasTableVersion is exported for observability (structured log
// fields); it is never persisted alongside a receipt since gas cost
// itself isn't part of any committed state.
const GasTableVersion = 1

// Meter tracks gas consumption against a fixed budget for one
// operation's entire execution graph, shared by the top-level call and
// every nested SmartFunction.call — gas is a single pool that does not
// reset on rollback (spec.md §4.6: "Gas is never restored on rollback").
type Meter struct {
	budget   uint64
	consumed uint64
}

// NewMeter returns a Meter with budget gas units available.
func NewMeter(budget uint64) *Meter {
	return &Meter{budget: budget}
}

// Remaining reports how much budget is left.
func (m *Meter) Remaining() uint64 {
	if m.consumed >= m.budget {
		return 0
	}

	return m.budget - m.consumed
}

// Consumed reports how much gas has been spent so far.
func (m *Meter) Consumed() uint64 { return m.consumed }

// Charge bills op's table cost against the meter, returning
// GasExhausted if doing so would exceed the budget. The charge is
// still recorded on failure — gas spent attempting work that then
// fails is not refunded.
func (m *Meter) Charge(op Op) error {
	return m.ChargeN(op, 1)
}

// ChargeN bills n units of op's table cost. Charge is its only caller,
// with n = 1.
func (m *Meter) ChargeN(op Op, n uint64) error {
	cost := gasTable[op] * n
	m.consumed += cost

	if m.consumed > m.budget {
		return jstzerr.New(jstzerr.KindGasExhausted, "gas budget of %d exhausted after %s (consumed %d)", m.budget, op, m.consumed)
	}

	return nil
}
