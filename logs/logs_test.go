package logs_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/delaneyj/resumable/logs"
	"github.com/stretchr/testify/assert"
)

func TestFanout(t *testing.T) {
	var a, b bytes.Buffer
	l := logs.New(&a, slog.LevelWarn, slog.NewJSONHandler(&b, nil))

	l.Info("quiet")
	l.Warn("loud", "k", 1)

	assert.NotContains(t, a.String(), "quiet")
	assert.Contains(t, a.String(), "loud")
	assert.Contains(t, b.String(), `"msg":"quiet"`)
	assert.Contains(t, b.String(), `"msg":"loud"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, logs.ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, logs.ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, logs.ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, logs.ParseLevel("bogus"))
}

func TestDiscard(t *testing.T) {
	l := logs.Discard()
	assert.False(t, l.Enabled(context.Background(), slog.LevelError))
	l.Error("nothing")
}
