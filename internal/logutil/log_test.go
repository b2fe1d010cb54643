package logutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerFromContext(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ReplaceLogger(zap.New(core))
	defer ReplaceLogger(nil)

	ctx := WithSession(context.Background(), 42)
	Logger(ctx).Info("hello")
	BgLogger().Info("background")

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, int64(42), entries[0].ContextMap()["session"])
	require.NotContains(t, entries[1].ContextMap(), "session")
}

func TestLoggerNilContext(t *testing.T) {
	//nolint:staticcheck
	require.NotNil(t, Logger(nil))
}

func TestInitLoggerFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "xdb.log")
	require.NoError(t, InitLogger(NewLogConfig("debug", "json", file)))
	defer ReplaceLogger(nil)

	BgLogger().Debug("written to file", zap.String("k", "v"))
	require.NoError(t, BgLogger().Sync())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	require.Contains(t, string(data), "written to file")
}

func TestInitLoggerBadLevel(t *testing.T) {
	require.Error(t, InitLogger(NewLogConfig("loud", "text", "")))
}
