package logx

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(nil) })
	return &buf
}

func withDebug(t *testing.T, enabled bool, domains ...string) {
	t.Helper()
	debugMutex.RLock()
	prevEnabled := debugConfig.Enabled
	prevDomains := debugConfig.Domains
	debugMutex.RUnlock()

	SetDebugConfig(enabled, domains)
	t.Cleanup(func() {
		debugMutex.Lock()
		debugConfig.Enabled = prevEnabled
		debugConfig.Domains = prevDomains
		debugMutex.Unlock()
	})
}

func TestLogFormat(t *testing.T) {
	buf := captureOutput(t)

	NewLogger("conversation").Info("moved to %s", "AWAITING_ANSWER")

	out := buf.String()
	assert.Contains(t, out, "[conversation] INFO: moved to AWAITING_ANSWER")
	assert.True(t, strings.HasPrefix(out, "["))
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestLevels(t *testing.T) {
	buf := captureOutput(t)
	withDebug(t, true)

	l := NewLogger("apiclient")
	l.Debug("d")
	l.Info("i")
	l.Warn("w")
	l.Error("e")

	out := buf.String()
	for _, level := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		assert.Contains(t, out, string(level)+":")
	}
}

func TestDebugDisabledByDefault(t *testing.T) {
	buf := captureOutput(t)
	withDebug(t, false)

	NewLogger("conversation").Debug("hidden")
	Debug(context.Background(), "conversation", "hidden too")

	assert.Empty(t, buf.String())
}

func TestDebugDomainFiltering(t *testing.T) {
	buf := captureOutput(t)
	withDebug(t, true, "conversation")

	ctx := WithComponent(context.Background(), "cli")
	Debug(ctx, "conversation", "kept %d", 1)
	Debug(ctx, "apiclient", "dropped")
	NewLogger("apiclient").Debug("dropped too")

	out := buf.String()
	assert.Contains(t, out, "[cli] DEBUG: [conversation] kept 1")
	assert.NotContains(t, out, "dropped")
	assert.True(t, IsDebugEnabledForDomain("conversation"))
	assert.False(t, IsDebugEnabledForDomain("apiclient"))
}

func TestWrapAndErrorf(t *testing.T) {
	buf := captureOutput(t)
	base := errors.New("disk full")

	assert.NoError(t, Wrap(nil, "ignored"))

	err := Wrap(base, "save recovery")
	require.Error(t, err)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "save recovery: disk full", err.Error())

	err = Errorf("open %s: %w", "store", base)
	assert.ErrorIs(t, err, base)
	assert.Contains(t, buf.String(), "ERROR: open store: disk full")
}

func TestInitializeLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "surveychat.log")
	require.NoError(t, InitializeLogFile(path))
	t.Cleanup(func() { _ = CloseLogFile() })

	NewLogger("storage").Warn("falling back to memory")
	require.NoError(t, CloseLogFile())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[storage] WARN: falling back to memory")
}
