package debug

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureOutput(t *testing.T, lvl int) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	Init(lvl)
	SetOutput(&buf)
	t.Cleanup(func() {
		Init(LevelOff)
		SetOutput(os.Stdout)
	})
	return &buf
}

func TestInit_ClampsLevel(t *testing.T) {
	captureOutput(t, 9)
	assert.Equal(t, LevelTrace, Level())

	Init(-3)
	assert.Equal(t, LevelOff, Level())
}

func TestLevelGating(t *testing.T) {
	buf := captureOutput(t, LevelLive)

	Info("motor %s", "ready")
	Live("moving %d", 10)
	Verbose("hidden %d", 1)
	Trace("hidden trace")

	out := buf.String()
	assert.Contains(t, out, "motor ready")
	assert.Contains(t, out, "moving 10")
	assert.NotContains(t, out, "hidden")
}

func TestOffSilencesEverything(t *testing.T) {
	buf := captureOutput(t, LevelOff)

	Info("x")
	Warn("y")
	Error(errors.New("z"))

	assert.Empty(t, buf.String())
	assert.False(t, IsEnabled(LevelOff))
	assert.Empty(t, Fmt("%d", 1))
}

func TestTraceHelpers(t *testing.T) {
	buf := captureOutput(t, LevelTrace)

	GPIO("WritePin", 18, true)
	Serial("tx", []byte{0xe0, 0xf3, 0x01, 0xd4})
	Move(200, "forward", 60)

	out := buf.String()
	assert.Contains(t, out, "pin=18")
	assert.Contains(t, out, "e0 f3 01 d4")
	assert.Contains(t, out, "steps=200")
}

func TestStartupBanner(t *testing.T) {
	buf := captureOutput(t, LevelVerbose)

	Summary("SmartStepper on http://0.0.0.0:8080")
	Step(2, "Opening motor session")

	out := buf.String()
	assert.Contains(t, out, "SmartStepper on http://0.0.0.0:8080")
	assert.Contains(t, out, "Step 2: Opening motor session")
	assert.Equal(t, "0xE0", Fmt("0x%02X", 0xE0))
}
