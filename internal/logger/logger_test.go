package logger_test

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"adventure-bot/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	log, err := logger.New(logger.Config{Level: "warn", Encoding: "json", OutputPath: path})
	require.NoError(t, err)

	log.Info("dropped")
	log.Warn("kept")
	require.NoError(t, log.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(raw, &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "adventure-bot", entry["service"])
	assert.Contains(t, entry, "timestamp")
}

func TestNew_FallsBackOnBadInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	log, err := logger.New(logger.Config{Level: "chatty", Encoding: "xml", OutputPath: path})
	require.NoError(t, err)

	log.Debug("dropped")
	log.Info("kept")
	require.NoError(t, log.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(raw, &entry))
	assert.Equal(t, "INFO", entry["level"])
}

func readEntries(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}
	require.NoError(t, scanner.Err())
	return entries
}

func TestNew_ServiceAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	log, err := logger.New(logger.Config{Encoding: "json", OutputPath: path, Service: "adventure-bot-eu", Env: "staging"})
	require.NoError(t, err)

	log.Info("hello")
	require.NoError(t, log.Sync())

	entries := readEntries(t, path)
	require.Len(t, entries, 1)
	assert.Equal(t, "adventure-bot-eu", entries[0]["service"])
	assert.Equal(t, "staging", entries[0]["env"])
	assert.NotContains(t, entries[0], "caller")
}

func TestNew_Sampling(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	log, err := logger.New(logger.Config{Encoding: "json", OutputPath: path, SampleInitial: 2, SampleThereafter: 1000})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		log.Info("turn resolved")
	}
	require.NoError(t, log.Sync())

	assert.Len(t, readEntries(t, path), 2)
}

func TestNew_Development(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	log, err := logger.New(logger.Config{Level: "debug", Encoding: "json", OutputPath: path, Development: true, SampleInitial: 1})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		log.Debug("verbose")
	}
	require.NoError(t, log.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(raw)
	assert.Equal(t, 3, strings.Count(out, "verbose"))
	// Console lines are not JSON and carry the caller.
	assert.False(t, json.Valid([]byte(strings.SplitN(out, "\n", 2)[0])))
	assert.Contains(t, out, "logger_test.go")
}
