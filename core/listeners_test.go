package core_test

import (
	"context"
	"errors"
	"testing"

	"github.com/delaneyj/resumable/core"
	"github.com/delaneyj/resumable/dom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenerAttributeAndDispatch(t *testing.T) {
	f := newFixture(t)
	store := f.c.NewStore(0, "count", 0)
	btn := dom.NewElement("button")
	f.root.AppendChild(btn)

	inc := core.ListenerFn(func(ctx context.Context, ev *core.ListenerEvent) error {
		s := ev.Captured[0].(*core.Store)
		return s.Set("count", s.Peek("count").(int)+1)
	})
	f.c.AddListener(btn, "click", f.reg.Handle("app.js", "inc", inc, store))

	v, ok := btn.Attr("on:click")
	require.True(t, ok)
	assert.Equal(t, "app.js#inc[0]", v)
	id, _ := btn.Attr(core.AttrElementID)
	assert.Equal(t, "0", id)

	require.NoError(t, f.c.Dispatch(context.Background(), btn, "click", nil))
	require.NoError(t, f.c.Dispatch(context.Background(), btn, "click", nil))
	assert.Equal(t, 2, store.Peek("count"))

	// other events are ignored
	require.NoError(t, f.c.Dispatch(context.Background(), btn, "keyup", nil))
	assert.Equal(t, 2, store.Peek("count"))
}

func TestMultipleListenersShareAttribute(t *testing.T) {
	f := newFixture(t)
	btn := dom.NewElement("button")
	f.root.AppendChild(btn)
	var calls []string
	mk := func(name string) core.ListenerFn {
		return func(ctx context.Context, ev *core.ListenerEvent) error {
			calls = append(calls, name)
			return nil
		}
	}
	shared := f.c.NewStore(0)
	f.c.AddListener(btn, "click", f.reg.Handle("app.js", "a", mk("a"), shared))
	f.c.AddListener(btn, "click", f.reg.Handle("app.js", "b", mk("b"), shared, "lit"))

	v, _ := btn.Attr("on:click")
	assert.Equal(t, "app.js#a[0]\napp.js#b[0 1]", v)

	require.NoError(t, f.c.Dispatch(context.Background(), btn, "click", nil))
	assert.Equal(t, []string{"a", "b"}, calls)
}

func TestParseListenersRebindsCaptures(t *testing.T) {
	f := newFixture(t)
	btn := dom.NewElement("button", dom.Attr{Name: "on:click", Value: "app.js#go[1 0]"})
	f.root.AppendChild(btn)
	nc := f.c.NodeContext(btn)
	nc.RefMap = []any{"zero", "one"}

	require.NoError(t, f.c.ParseListeners(nc))
	require.Len(t, nc.Listeners, 1)
	q := nc.Listeners[0].QRL
	assert.Equal(t, "click", nc.Listeners[0].Event)
	assert.Equal(t, []any{"one", "zero"}, q.Captured)
	assert.Nil(t, q.CaptureRefs)
}

func TestParseListenersRejectsBadCapture(t *testing.T) {
	f := newFixture(t)
	btn := dom.NewElement("button", dom.Attr{Name: "on:click", Value: "app.js#go[5]"})
	nc := f.c.NodeContext(btn)
	assert.ErrorIs(t, f.c.ParseListeners(nc), core.ErrCorruptSnapshot)
}

func TestDispatchJoinsErrors(t *testing.T) {
	f := newFixture(t)
	btn := dom.NewElement("button")
	f.root.AppendChild(btn)
	f.c.AddListener(btn, "click", f.reg.Handle("app.js", "fail", core.ListenerFn(func(ctx context.Context, ev *core.ListenerEvent) error {
		return errors.New("nope")
	})))
	f.c.AddListener(btn, "click", f.reg.Handle("app.js", "wrong", "not a function"))

	err := f.c.Dispatch(context.Background(), btn, "click", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
	assert.Contains(t, err.Error(), "unexpected type")
}

func TestDispatchResumesPausedContainer(t *testing.T) {
	resumes := 0
	f := newFixture(t, core.WithResumer(func(ctx context.Context, c *core.Container) error {
		resumes++
		c.Root().SetAttr(core.AttrContainer, core.StateResumed)
		return nil
	}))
	f.root.SetAttr(core.AttrContainer, core.StatePaused)
	assert.True(t, f.c.IsPaused())

	require.NoError(t, f.c.Dispatch(context.Background(), f.root, "click", nil))
	require.NoError(t, f.c.Dispatch(context.Background(), f.root, "click", nil))
	assert.Equal(t, 1, resumes)
	assert.Equal(t, core.StateResumed, f.c.State())
}
