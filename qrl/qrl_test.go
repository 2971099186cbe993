package qrl_test

import (
	"context"
	"testing"

	"github.com/delaneyj/resumable/qrl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStringify(t *testing.T) {
	q := qrl.New("chunk-a.js", "onClick")
	assert.Equal(t, "chunk-a.js#onClick", q.Stringify(nil))
	assert.Equal(t, "chunk-a.js#onClick[0 1z]", q.Stringify([]string{"0", "1z"}))

	parsed, err := qrl.Parse("chunk-a.js#onClick[0 1z]")
	require.NoError(t, err)
	assert.Equal(t, "chunk-a.js", parsed.Chunk)
	assert.Equal(t, "onClick", parsed.Symbol)
	assert.Equal(t, []string{"0", "1z"}, parsed.CaptureRefs)

	parsed, err = qrl.Parse("app#render")
	require.NoError(t, err)
	assert.Empty(t, parsed.CaptureRefs)
}

func TestParseInvalid(t *testing.T) {
	for _, s := range []string{"", "nohash", "chunk#", "chunk#sym0]"} {
		_, err := qrl.Parse(s)
		assert.ErrorIs(t, err, qrl.ErrInvalid, s)
	}
}

func TestRegistryResolve(t *testing.T) {
	ctx := context.Background()
	reg := qrl.NewRegistry()
	calls := 0
	q := reg.Handle("app", "inc", func() { calls++ }, 42)
	assert.Equal(t, []any{42}, q.Captured)

	_, ok := q.Resolved()
	assert.False(t, ok)

	v, err := q.Resolve(ctx, reg)
	require.NoError(t, err)
	v.(func())()
	assert.Equal(t, 1, calls)

	_, ok = q.Resolved()
	assert.True(t, ok)

	_, err = qrl.New("app", "missing").Resolve(ctx, reg)
	assert.ErrorIs(t, err, qrl.ErrNotFound)

	_, err = qrl.New("app", "inc").Resolve(ctx, nil)
	assert.ErrorIs(t, err, qrl.ErrNotFound)
}

func TestSymbolHashStable(t *testing.T) {
	assert.Equal(t, qrl.SymbolHash("a", "b"), qrl.SymbolHash("a", "b"))
	assert.NotEqual(t, qrl.SymbolHash("a", "b"), qrl.SymbolHash("a", "c"))
}
