package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jstz-dev/jstz-core/pkg/jstzerr"
)

func TestMeter_ChargeWithinBudget(t *testing.T) {
	m := NewMeter(100)
	require.NoError(t, m.Charge(OpKvGet))
	assert.Equal(t, uint64(10), m.Consumed())
	assert.Equal(t, uint64(90), m.Remaining())
}

func TestMeter_ChargeExhausted(t *testing.T) {
	m := NewMeter(5)
	err := m.Charge(OpKvGet)
	require.Error(t, err)
	assert.Equal(t, jstzerr.KindGasExhausted, jstzerr.KindOf(err))
	assert.Equal(t, uint64(0), m.Remaining())
}

func TestMeter_GasNotRestoredOnFailedCharge(t *testing.T) {
	m := NewMeter(15)
	require.NoError(t, m.Charge(OpKvGet)) // consumed 10
	err := m.Charge(OpKvSet)              // would need 50 more, fails
	require.Error(t, err)
	assert.Equal(t, uint64(60), m.Consumed(), "failed charge still records consumption")
}
