package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONOutputCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: slog.LevelDebug, Format: "json", Output: &buf})

	logger.WithComponent("manager").With("prompt", "greeting").
		Info(context.Background(), "hot update applied", "recompiled", 3)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "hot update applied", record["msg"])
	assert.Equal(t, "manager", record["component"])
	assert.Equal(t, "greeting", record["prompt"])
	assert.Equal(t, float64(3), record["recompiled"])
}

func TestErrorFieldAttached(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: slog.LevelDebug, Format: "json", Output: &buf})

	logger.Error(context.Background(), fmt.Errorf("boom"), "failed")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "boom", record["error"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: slog.LevelWarn, Format: "text", Output: &buf})

	logger.Debug(context.Background(), "invisible")
	logger.Info(context.Background(), "also invisible")
	assert.Zero(t, buf.Len())

	logger.Warn(context.Background(), nil, "visible")
	assert.NotZero(t, buf.Len())
}

func TestDiscardDoesNotPanic(t *testing.T) {
	logger := Discard()
	logger.Info(context.Background(), "dropped", "k", "v")
	logger.Error(context.Background(), fmt.Errorf("x"), "dropped")
	logger.With("a", 1).WithComponent("c").Debug(context.Background(), "dropped")
}
