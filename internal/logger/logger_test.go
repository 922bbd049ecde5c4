package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")

	cfg := DefaultConfig()
	cfg.LogFile = logFile
	log, err := New(cfg)
	require.NoError(t, err)

	log.Info("engine started")
	require.NoError(t, Sync(log))

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "engine started", entry["msg"])
	assert.Equal(t, "INFO", entry["level"])
	assert.NotEmpty(t, entry["timestamp"])
}

func TestWithRequest_AttachesCorrelationID(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")

	cfg := DefaultConfig()
	cfg.LogFile = logFile
	log, err := New(cfg)
	require.NoError(t, err)

	WithRequest(log).Info("handled")
	require.NoError(t, Sync(log))

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.NotEmpty(t, entry["request_id"])
	assert.NotEmpty(t, entry["start_time"])
}
