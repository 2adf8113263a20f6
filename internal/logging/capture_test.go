package logging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestCaptureRecordsWarningsAndForwards(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.DebugLevel)
	base := zap.New(baseCore)

	c := NewCapture(base)
	c.Logger().Info("progress")
	c.Logger().Warn("large file", zap.String("file", "bg.js"), zap.Int("bytes", 42))
	c.Logger().Error("hook failed", zap.Error(errors.New("boom")))

	assert.Equal(t, 3, baseLogs.Len())
	require.Equal(t, 2, c.Len())

	warnings := c.Warnings()
	assert.Equal(t, "large file", warnings[0].Message)
	assert.Equal(t, "warn", warnings[0].Level)
	assert.Equal(t, "bg.js", warnings[0].Fields["file"])
	assert.Equal(t, "42", warnings[0].Fields["bytes"])
	assert.Equal(t, "boom", warnings[1].Fields["error"])
}

func TestCapturesAreIsolated(t *testing.T) {
	base := zap.NewNop()
	first := NewCapture(base)
	second := NewCapture(base)

	first.Logger().Warn("only first")

	assert.Equal(t, 1, first.Len())
	assert.Equal(t, 0, second.Len())
}

func TestNewCaptureNilBase(t *testing.T) {
	c := NewCapture(nil)
	c.Logger().Warn("x")
	assert.Equal(t, 1, c.Len())
}
