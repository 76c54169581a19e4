package gpio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockDriver_WriteThenRead(t *testing.T) {
	m := NewMockDriver()
	require.NoError(t, m.SetupPin(18, Output))
	require.NoError(t, m.WritePin(18, High))

	lvl, err := m.ReadPin(18)
	require.NoError(t, err)
	assert.Equal(t, High, lvl)
	assert.Equal(t, 1, m.Writes())

	mode, ok := m.Mode(18)
	assert.True(t, ok)
	assert.Equal(t, Output, mode)
}

func TestMockDriver_WriteImpliesOutput(t *testing.T) {
	m := NewMockDriver()
	require.NoError(t, m.WritePin(4, Low))
	mode, ok := m.Mode(4)
	assert.True(t, ok)
	assert.Equal(t, Output, mode)
}

func TestMockDriver_RejectsOutOfRangePins(t *testing.T) {
	m := NewMockDriver()
	for _, pin := range []int{-1, MaxBCMPin + 1, 40} {
		assert.Error(t, m.SetupPin(pin, Output), "pin %d", pin)
		assert.Error(t, m.WritePin(pin, High), "pin %d", pin)
		_, err := m.ReadPin(pin)
		assert.Error(t, err, "pin %d", pin)
	}
}

func TestMockDriver_ClosedRejectsWrites(t *testing.T) {
	m := NewMockDriver()
	require.NoError(t, m.Close())
	assert.Error(t, m.WritePin(18, High))
	assert.Error(t, m.SetupPin(18, Output))
}

func TestNewDriver_Mock(t *testing.T) {
	d, err := NewDriver(true)
	require.NoError(t, err)
	_, ok := d.(*MockDriver)
	assert.True(t, ok, "expected *MockDriver, got %T", d)
}

func TestLevelAndModeStrings(t *testing.T) {
	assert.Equal(t, "HIGH", High.String())
	assert.Equal(t, "LOW", Low.String())
	assert.Equal(t, "output", Output.String())
	assert.Equal(t, "PinMode(7)", PinMode(7).String())
}
