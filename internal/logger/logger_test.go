package logger

import (
	"bytes"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithAttachesFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)
	SetLevel("info")

	With("trade_id", "t-1").With("symbol", "BTCUSDT").Warnf("fill rejected: %s", "timeline")

	out := buf.String()
	assert.Contains(t, out, "fill rejected: timeline")
	assert.Contains(t, out, "trade_id=t-1")
	assert.Contains(t, out, "symbol=BTCUSDT")
}

func TestSetLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	SetLevel("warn")
	defer SetLevel("info")
	Debugf("hidden")
	Infof("hidden too")
	Errorf("visible")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible")
	assert.False(t, Enabled(slog.LevelInfo))
	assert.True(t, Enabled(slog.LevelError))
}

func TestLogExchangeWritesSections(t *testing.T) {
	var buf bytes.Buffer
	assert.False(t, ExchangeDumpEnabled())
	LogExchange([]string{"skip"}, "{}", "{}")

	SetExchangeWriter(&buf)
	defer SetExchangeWriter(nil)
	assert.True(t, ExchangeDumpEnabled())
	LogExchange([]string{"pairs", "", "t-1"}, `{"trade_id":"t-1"}`, `{"should_exit":false}`)

	out := buf.String()
	assert.Contains(t, out, "[EXIT][pairs][t-1]")
	assert.Contains(t, out, "--- REQUEST ---\n{\"trade_id\":\"t-1\"}\n")
	assert.Contains(t, out, "--- RESPONSE ---\n{\"should_exit\":false}\n")
	assert.Contains(t, out, "=====")
}
