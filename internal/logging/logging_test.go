package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nhle/notifier/internal/model"
)

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "notifier.log")
	log, err := New(model.LogConfig{Path: path, Level: "debug", MaxSizeMB: 1})
	require.NoError(t, err)

	log.Info("inbox loaded", zap.String("user_id", "u1"), zap.Int("unread", 2))
	_ = log.Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"msg":"inbox loaded"`)
	assert.Contains(t, string(raw), `"user_id":"u1"`)
	assert.Contains(t, string(raw), `"ts":`)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(model.LogConfig{Level: "chatty"})
	assert.ErrorContains(t, err, "parsing log level")
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := zap.NewExample()
	assert.Same(t, l, OrNop(l))
}
