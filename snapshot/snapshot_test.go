package snapshot_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/delaneyj/resumable/core"
	"github.com/delaneyj/resumable/dom"
	"github.com/delaneyj/resumable/logs"
	"github.com/delaneyj/resumable/qrl"
	"github.com/delaneyj/resumable/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	doc      *dom.Node
	root     *dom.Node
	c        *core.Container
	platform *core.ManualPlatform
	reg      *qrl.Registry
	logs     *bytes.Buffer
}

func newEnv(t *testing.T, reg *qrl.Registry, opts ...core.Option) *env {
	t.Helper()
	doc := dom.NewDocument()
	html := dom.NewElement("html")
	body := dom.NewElement("body")
	root := dom.NewElement("div")
	doc.AppendChild(html)
	html.AppendChild(body)
	body.AppendChild(root)
	return attach(doc, root, reg, opts...)
}

func attach(doc, root *dom.Node, reg *qrl.Registry, opts ...core.Option) *env {
	e := &env{
		doc:      doc,
		root:     root,
		platform: core.NewManualPlatform(),
		reg:      reg,
		logs:     &bytes.Buffer{},
	}
	base := []core.Option{
		core.WithPlatform(e.platform),
		core.WithResolver(reg),
		core.WithResumer(snapshot.Resume),
		core.WithLogger(logs.New(e.logs, slog.LevelDebug)),
	}
	e.c = core.New(root, append(base, opts...)...)
	return e
}

// reload writes the document out as HTML and attaches a fresh container to
// the parsed copy, the way a client picks up a server response.
func reload(t *testing.T, e *env, opts ...core.Option) *env {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, dom.WriteHTML(&buf, e.doc))
	doc, err := dom.Parse(&buf)
	require.NoError(t, err)
	var root *dom.Node
	dom.Walk(doc, func(n *dom.Node) dom.WalkAction {
		if root == nil && n.IsElement() && n.HasAttr(core.AttrContainer) {
			root = n
		}
		return dom.Accept
	})
	require.NotNil(t, root)
	return attach(doc, root, e.reg, opts...)
}

func byID(t *testing.T, root *dom.Node, id string) *dom.Node {
	t.Helper()
	var found *dom.Node
	dom.Walk(root, func(n *dom.Node) dom.WalkAction {
		if v, ok := n.Attr(core.AttrElementID); ok && v == id {
			found = n
		}
		return dom.Accept
	})
	require.NotNil(t, found, "no element with id %s", id)
	return found
}

func payload(t *testing.T, e *env) string {
	t.Helper()
	script := snapshot.FindScript(e.root)
	require.NotNil(t, script)
	return script.TextContent()
}

func TestScenarioCounterCheckpoint(t *testing.T) {
	reg := qrl.NewRegistry()
	e := newEnv(t, reg)
	state := e.c.NewStore(0, "count", 0, "label", "x")

	hostEl := dom.NewElement("section")
	btn := dom.NewElement("button")
	e.root.AppendChild(hostEl)
	hostEl.AppendChild(btn)

	host := e.c.NodeContext(hostEl)
	host.RenderQRL = reg.Handle("app.js", "App_render", core.RenderFn(func(ctx context.Context, rc *core.RenderContext, host *core.NodeContext) error {
		state.Get("count")
		state.Get("label")
		return nil
	}))
	e.c.AddListener(btn, "click", reg.Handle("app.js", "inc", core.ListenerFn(func(ctx context.Context, ev *core.ListenerEvent) error {
		return nil
	}), state))

	e.c.NotifyRender(host)
	e.platform.Flush()

	require.NoError(t, state.Set("count", 5))
	assert.Equal(t, 1, e.platform.Pending())
	e.platform.Flush()
	assert.Equal(t, 2, e.c.Passes())
	assert.Equal(t, []core.Subscriber{host}, e.c.Subscribers(state))

	res, err := snapshot.Pause(context.Background(), e.c)
	require.NoError(t, err)
	assert.Equal(t, snapshot.ModeRender, res.Mode)
	require.Len(t, res.Listeners, 1)
	assert.Equal(t, "click", res.Listeners[0].Key)
	assert.Same(t, state.Target(), res.Objs[0])
	require.Len(t, res.State.Subs, 1)

	assert.Equal(t,
		`{"ctx":{"#0":{"r":"0!"}},"objs":[{"count":"2","label":"3"},"\u0002app.js#App_render",5,"x"],"subs":[{"#1":["count","label"]}]}`,
		payload(t, e))
	assert.Equal(t, core.StatePaused, e.c.State())
}

func TestStaticCheckpoint(t *testing.T) {
	e := newEnv(t, qrl.NewRegistry())
	e.root.AppendChild(dom.NewElement("p"))
	e.c.NewStore(0, "unused", 1)

	res, err := snapshot.Pause(context.Background(), e.c)
	require.NoError(t, err)
	assert.Equal(t, snapshot.ModeStatic, res.Mode)
	assert.Empty(t, res.State.Objs)
	assert.Empty(t, res.State.Subs)
	assert.Empty(t, res.State.Ctx)
	assert.Equal(t, `{"ctx":{},"objs":[],"subs":[]}`, payload(t, e))
}

func TestPauseTwiceFails(t *testing.T) {
	e := newEnv(t, qrl.NewRegistry())
	_, err := snapshot.Pause(context.Background(), e.c)
	require.NoError(t, err)
	_, err = snapshot.Pause(context.Background(), e.c)
	assert.ErrorIs(t, err, core.ErrContainerAlreadyPaused)
}

func TestPayloadGoesToBodyForDocumentContainer(t *testing.T) {
	doc := dom.NewDocument()
	html := dom.NewElement("html")
	body := dom.NewElement("body")
	doc.AppendChild(html)
	html.AppendChild(body)
	e := attach(doc, html, qrl.NewRegistry())

	_, err := snapshot.Pause(context.Background(), e.c)
	require.NoError(t, err)
	assert.NotNil(t, snapshot.FindScript(body))
	assert.Nil(t, snapshot.FindScript(html))
}

func TestRoundTripKeepsSharedReferencesAndCycles(t *testing.T) {
	reg := qrl.NewRegistry()
	e := newEnv(t, reg)

	shared := core.NewRecord("n", 1)
	twin := core.NewRecord("n", 1)
	list := core.NewList(shared, shared, twin)
	root := core.NewRecord("list", list)
	root.Set("self", root)
	store := e.c.GetOrCreateProxy(root, 0)

	btn := dom.NewElement("button")
	e.root.AppendChild(btn)
	e.c.AddListener(btn, "click", reg.Handle("app.js", "noop", core.ListenerFn(func(ctx context.Context, ev *core.ListenerEvent) error {
		return nil
	}), store, shared))

	res, err := snapshot.Pause(context.Background(), e.c)
	require.NoError(t, err)
	assert.Equal(t, snapshot.ModeListeners, res.Mode)
	// root, list, shared, twin and the number 1
	assert.Len(t, res.Objs, 5)

	e2 := reload(t, e)
	require.NoError(t, snapshot.Resume(context.Background(), e2.c))

	nc := e2.c.TryNodeContext(byID(t, e2.root, "0"))
	require.NotNil(t, nc)
	require.Len(t, nc.Listeners, 1)
	captured := nc.Listeners[0].QRL.Captured
	require.Len(t, captured, 2)

	s2, ok := captured[0].(*core.Store)
	require.True(t, ok)
	root2 := s2.Target().(*core.Record)
	self, _ := root2.Get("self")
	assert.Same(t, root2, self)

	list2v, _ := root2.Get("list")
	items := list2v.(*core.List).Items()
	require.Len(t, items, 3)
	assert.Same(t, items[0], items[1])
	assert.NotSame(t, items[0], items[2])
	assert.Same(t, items[0], captured[1])
	n, _ := items[2].(*core.Record).Get("n")
	assert.Equal(t, 1, n)
}

func TestCollectingTwiceIsStable(t *testing.T) {
	reg := qrl.NewRegistry()
	e := newEnv(t, reg)
	a := e.c.NewStore(0, "v", "same")
	b := e.c.NewStore(0, "v", "same")
	btn := dom.NewElement("button")
	e.root.AppendChild(btn)
	e.c.AddListener(btn, "click", reg.Handle("app.js", "noop", core.ListenerFn(func(ctx context.Context, ev *core.ListenerEvent) error {
		return nil
	}), a, b))

	first, err := snapshot.FromContainer(context.Background(), e.c)
	require.NoError(t, err)
	second, err := snapshot.FromContainer(context.Background(), e.c)
	require.NoError(t, err)

	t1, err := snapshot.Encode(first.State, false)
	require.NoError(t, err)
	t2, err := snapshot.Encode(second.State, false)
	require.NoError(t, err)
	assert.Equal(t, t1, t2)
	// two distinct records sharing one string value
	assert.Len(t, first.Objs, 3)
}

func TestWireForms(t *testing.T) {
	reg := qrl.NewRegistry()
	e := newEnv(t, reg, core.WithDev(true))
	when := time.Date(2024, 3, 1, 12, 30, 0, 5, time.UTC)
	link, err := url.Parse("https://example.com/a?b=1")
	require.NoError(t, err)
	store := e.c.NewStore(core.FlagRecursive, "k", "v")
	nested := reg.Handle("app.js", "nested", "behavior", "cap")

	values := []any{
		core.NewMutable(store),
		core.Resolved("ok"),
		core.Rejected(errors.New("bad")),
		core.Undefined,
		core.NoSerialize(func() {}),
		when,
		link,
		nil,
		1.5,
		7,
		true,
		"\u0001literal",
		"</script><script>alert(1)",
		nested,
		e.doc,
	}
	btn := dom.NewElement("button")
	e.root.AppendChild(btn)
	e.c.AddListener(btn, "click", reg.Handle("app.js", "all", "behavior", values...))

	_, err = snapshot.Pause(context.Background(), e.c)
	require.NoError(t, err)
	text := payload(t, e)
	assert.Contains(t, text, `\x3C/script>\x3Cscript>`)
	assert.NotContains(t, text, "</script")
	assert.Contains(t, text, "\n  ", "dev payloads are indented")

	e2 := reload(t, e)
	require.NoError(t, snapshot.Resume(context.Background(), e2.c))
	nc := e2.c.TryNodeContext(byID(t, e2.root, "0"))
	require.NotNil(t, nc)
	require.Len(t, nc.Listeners, 1)
	got := nc.Listeners[0].QRL.Captured
	require.Len(t, got, len(values))

	m, ok := got[0].(*core.Mutable)
	require.True(t, ok)
	s2, ok := m.V.(*core.Store)
	require.True(t, ok)
	assert.Equal(t, "v", s2.Peek("k"))
	assert.Equal(t, core.FlagRecursive, s2.Flags())

	v, resolved, settled := got[1].(*core.Promise).Settled()
	assert.True(t, settled)
	assert.True(t, resolved)
	assert.Equal(t, "ok", v)

	v, resolved, settled = got[2].(*core.Promise).Settled()
	assert.True(t, settled)
	assert.False(t, resolved)
	assert.EqualError(t, v.(error), "bad")

	assert.True(t, core.IsUndefined(got[3]))
	assert.True(t, core.IsUndefined(got[4]))
	assert.True(t, when.Equal(got[5].(time.Time)))
	assert.Equal(t, link.String(), got[6].(*url.URL).String())
	assert.Nil(t, got[7])
	assert.Equal(t, 1.5, got[8])
	assert.Equal(t, 7, got[9])
	assert.Equal(t, true, got[10])
	assert.Equal(t, "\u0001literal", got[11])
	assert.Equal(t, "</script><script>alert(1)", got[12])

	q, ok := got[13].(*qrl.QRL)
	require.True(t, ok)
	assert.Equal(t, "app.js#nested", q.String())
	assert.Equal(t, []any{"cap"}, q.Captured)
	assert.Same(t, e2.doc, got[14])
}

func TestResumeRevivesLiveComponent(t *testing.T) {
	reg := qrl.NewRegistry()
	var rendered []any
	var effects []any
	render := core.RenderFn(func(ctx context.Context, rc *core.RenderContext, host *core.NodeContext) error {
		props := host.Props.(*core.Store)
		state := host.Seq[0].(*core.Store)
		props.Get("title")
		rendered = append(rendered, state.Get("count"))
		return nil
	})
	effect := core.WatchFn(func(ctx context.Context, wc *core.WatchContext) error {
		state := wc.Captured()[0].(*core.Store)
		effects = append(effects, wc.Track(state, "count"))
		return nil
	})
	inc := core.ListenerFn(func(ctx context.Context, ev *core.ListenerEvent) error {
		s := ev.Captured[0].(*core.Store)
		return s.Set("count", s.Peek("count").(int)+1)
	})

	e := newEnv(t, reg)
	hostEl := dom.NewElement("section")
	btn := dom.NewElement("button")
	e.root.AppendChild(hostEl)
	hostEl.AppendChild(btn)

	host := e.c.NodeContext(hostEl)
	host.Props = e.c.NewStore(0, "title", "counter")
	host.RenderQRL = reg.Handle("app.js", "Counter_render", render)
	state := host.Slot(0, func() any { return e.c.NewStore(0, "count", 0) }).(*core.Store)
	host.SetContext("theme", "dark")
	e.c.UseEffect(host, reg.Handle("app.js", "Counter_effect", effect, state))
	e.c.AddListener(btn, "click", reg.Handle("app.js", "Counter_inc", inc, state))

	e.c.NotifyRender(host)
	e.platform.Flush()
	require.NoError(t, e.c.Dispatch(context.Background(), btn, "click", nil))
	e.platform.Flush()
	assert.Equal(t, []any{0, 1}, rendered)
	assert.Equal(t, []any{0, 1}, effects)

	res, err := snapshot.Pause(context.Background(), e.c)
	require.NoError(t, err)
	assert.Equal(t, snapshot.ModeRender, res.Mode)
	assert.Len(t, res.State.Subs, 2)

	e2 := reload(t, e)
	assert.True(t, e2.c.IsPaused())
	resumed := 0
	e2.root.AddEventListener(core.EventResume, func(dom.Event) { resumed++ })

	rendered, effects = nil, nil
	btn2 := byID(t, e2.root, "0")
	require.NoError(t, e2.c.Dispatch(context.Background(), btn2, "click", nil))
	assert.Equal(t, 1, resumed)
	assert.Equal(t, core.StateResumed, e2.c.State())
	assert.Nil(t, snapshot.FindScript(e2.root))

	e2.platform.Flush()
	assert.Equal(t, []any{2}, rendered)
	assert.Equal(t, []any{2}, effects)

	host2 := e2.c.TryNodeContext(byID(t, e2.root, "1"))
	require.NotNil(t, host2)
	theme, _ := host2.Contexts.Get("theme")
	assert.Equal(t, "dark", theme)
	assert.Equal(t, "app.js#Counter_render", host2.RenderQRL.String())
	require.Len(t, host2.Watches, 1)
	assert.Equal(t, core.WatchIsEffect, host2.Watches[0].Flags)

	// ids handed out after resume never collide with revived ones
	fresh := dom.NewElement("span")
	e2.root.AppendChild(fresh)
	assert.Equal(t, "2", e2.c.ElementID(e2.c.NodeContext(fresh)))
}

func TestResumeCorruptSnapshot(t *testing.T) {
	for name, text := range map[string]string{
		"missing element": `{"ctx":{"#9":{"r":"0"}},"objs":[1],"subs":[]}`,
		"index":           `{"ctx":{},"objs":[{"a":"5"}],"subs":[]}`,
		"not json":        `{"ctx":`,
		"bad watch":       `{"ctx":{},"objs":["\u0003x"],"subs":[]}`,
	} {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t, qrl.NewRegistry())
			script := dom.NewElement("script", dom.Attr{Name: "type", Value: snapshot.ScriptType})
			script.SetTextContent(text)
			e.root.AppendChild(script)
			e.root.SetAttr(core.AttrContainer, core.StatePaused)

			err := snapshot.Resume(context.Background(), e.c)
			assert.ErrorIs(t, err, core.ErrCorruptSnapshot)
		})
	}
}

func TestResumeDropsMissingSubscriber(t *testing.T) {
	e := newEnv(t, qrl.NewRegistry(), core.WithDev(true))
	script := dom.NewElement("script", dom.Attr{Name: "type", Value: snapshot.ScriptType})
	script.SetTextContent(`{"ctx":{},"objs":[{"a":"1"},1],"subs":[{"$":1,"#7":null}]}`)
	e.root.AppendChild(script)
	e.root.SetAttr(core.AttrContainer, core.StatePaused)

	require.NoError(t, snapshot.Resume(context.Background(), e.c))
	assert.Contains(t, e.logs.String(), "missing element")
	assert.Contains(t, e.logs.String(), "container resumed")
	assert.Equal(t, core.StateResumed, e.c.State())
}

func TestResumeWithoutPayloadIsSkipped(t *testing.T) {
	e := newEnv(t, qrl.NewRegistry())
	require.NoError(t, snapshot.Resume(context.Background(), e.c))
	assert.Contains(t, e.logs.String(), "snapshot script was not found")
	assert.Equal(t, "", e.c.State())
}

func TestUnserializableValue(t *testing.T) {
	reg := qrl.NewRegistry()
	e := newEnv(t, reg)
	btn := dom.NewElement("button")
	e.root.AppendChild(btn)
	e.c.AddListener(btn, "click", reg.Handle("app.js", "bad", "behavior", make(chan int)))

	_, err := snapshot.Pause(context.Background(), e.c)
	assert.ErrorIs(t, err, core.ErrVerifySerializable)
	assert.NotEqual(t, core.StatePaused, e.c.State())
}

func TestNonFiniteNumbersAreRejected(t *testing.T) {
	for name, v := range map[string]float64{
		"nan":  math.NaN(),
		"+inf": math.Inf(1),
		"-inf": math.Inf(-1),
	} {
		t.Run(name, func(t *testing.T) {
			reg := qrl.NewRegistry()
			e := newEnv(t, reg)
			btn := dom.NewElement("button")
			e.root.AppendChild(btn)
			e.c.AddListener(btn, "click", reg.Handle("app.js", "num", "behavior", v))

			_, err := snapshot.Pause(context.Background(), e.c)
			assert.ErrorIs(t, err, core.ErrVerifySerializable)
		})
	}
}

func TestCaptureFreeListenerSurvivesResume(t *testing.T) {
	reg := qrl.NewRegistry()
	e := newEnv(t, reg)
	calls := 0
	btn := dom.NewElement("button")
	e.root.AppendChild(btn)
	e.c.AddListener(btn, "click", reg.Handle("app.js", "ping", core.ListenerFn(func(ctx context.Context, ev *core.ListenerEvent) error {
		calls++
		return nil
	})))

	res, err := snapshot.Pause(context.Background(), e.c)
	require.NoError(t, err)
	assert.Equal(t, snapshot.ModeListeners, res.Mode)

	e2 := reload(t, e)
	require.NoError(t, e2.c.Dispatch(context.Background(), byID(t, e2.root, "0"), "click", nil))
	assert.Equal(t, 1, calls)
	assert.Equal(t, core.StateResumed, e2.c.State())
}

func TestNestedRecursiveStoreKeepsSubscribers(t *testing.T) {
	reg := qrl.NewRegistry()
	e := newEnv(t, reg)
	outer := e.c.NewStore(core.FlagRecursive, "inner", core.NewRecord("n", 1))

	hostEl := dom.NewElement("section")
	btn := dom.NewElement("button")
	e.root.AppendChild(hostEl)
	hostEl.AppendChild(btn)
	host := e.c.NodeContext(hostEl)

	var seen []any
	e.c.UseWatch(host, reg.Handle("app.js", "watchInner", core.WatchFn(func(ctx context.Context, wc *core.WatchContext) error {
		inner := wc.Captured()[0].(*core.Store).Peek("inner").(*core.Store)
		seen = append(seen, wc.Track(inner, "n"))
		return nil
	}), outer))
	e.c.AddListener(btn, "click", reg.Handle("app.js", "bump", core.ListenerFn(func(ctx context.Context, ev *core.ListenerEvent) error {
		inner := ev.Captured[0].(*core.Store).Peek("inner").(*core.Store)
		return inner.Set("n", inner.Peek("n").(int)+1)
	}), outer))
	e.platform.Flush()
	assert.Equal(t, []any{1}, seen)

	res, err := snapshot.Pause(context.Background(), e.c)
	require.NoError(t, err)
	// outer record, inner record, the watch, its handle and the number 1
	assert.Len(t, res.Objs, 5)
	require.Len(t, res.State.Subs, 2)

	e2 := reload(t, e)
	seen = nil
	require.NoError(t, e2.c.Dispatch(context.Background(), byID(t, e2.root, "0"), "click", nil))
	e2.platform.Flush()
	assert.Equal(t, []any{2}, seen)
}

func TestEscapeText(t *testing.T) {
	in := `{"a":"</script><script>"}`
	out := snapshot.EscapeText(in)
	assert.False(t, strings.Contains(out, "<script"))
	assert.Equal(t, in, snapshot.UnescapeText(out))
}
