package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldsAreEmitted(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf).With("component", "orchestrator")

	l.Warn("step failed",
		String("symbol", "ACME"),
		Int("pending", 3),
		Duration("took", 1500*time.Millisecond),
		Error(errors.New("boom")),
	)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "step failed", entry["message"])
	assert.Equal(t, "orchestrator", entry["component"])
	assert.Equal(t, "ACME", entry["symbol"])
	assert.EqualValues(t, 3, entry["pending"])
	assert.Equal(t, "boom", entry["error"])
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(&Config{Level: "verbose"})
	assert.Error(t, err)
}

func TestNewDefaults(t *testing.T) {
	l, err := New(nil)
	require.NoError(t, err)
	assert.NotNil(t, l)
}
