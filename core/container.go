package core

import (
	"context"
	"log/slog"
	"strconv"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/delaneyj/resumable/dom"
	"github.com/delaneyj/resumable/qrl"
	"github.com/oklog/ulid/v2"
)

const (
	AttrContainer   = "q:container"
	AttrElementID   = "q:id"
	AttrInstance    = "q:instance"
	ElementIDPrefix = "#"

	StatePaused  = "paused"
	StateResumed = "resumed"

	EventResume = "qresume"
)

// Resumer revives a paused container from its embedded snapshot.
type Resumer func(ctx context.Context, c *Container) error

type Option func(*Container)

func WithLogger(l *slog.Logger) Option {
	return func(c *Container) { c.logger = l }
}

// WithDev enables development diagnostics and assertions.
func WithDev(dev bool) Option {
	return func(c *Container) { c.dev = dev }
}

// WithServer marks a container that renders once and is then paused; it never schedules re-renders.
func WithServer(server bool) Option {
	return func(c *Container) { c.server = server }
}

func WithPlatform(p Platform) Option {
	return func(c *Container) { c.platform = p }
}

func WithResolver(r qrl.Resolver) Option {
	return func(c *Container) { c.resolver = r }
}

func WithRenderer(r Renderer) Option {
	return func(c *Container) { c.renderer = r }
}

func WithResumer(r Resumer) Option {
	return func(c *Container) { c.resumer = r }
}

func WithContext(ctx context.Context) Option {
	return func(c *Container) { c.ctx = ctx }
}

// Container holds all per-container mutable state: node contexts, the proxy
// cache, the subscription index, the element id counter and the change queues.
// A container is driven by a single logical thread; see Platform.
type Container struct {
	id       ulid.ULID
	root     *dom.Node
	logger   *slog.Logger
	dev      bool
	server   bool
	platform Platform
	ownsLoop bool
	resolver qrl.Resolver
	renderer Renderer
	resumer  Resumer
	ctx      context.Context

	contexts     map[*dom.Node]*NodeContext
	proxies      map[any]*Store
	subs         *SubscriptionManager
	elementIndex int

	activeSub  Subscriber
	pauseStack []Subscriber

	hostsNext      mapset.Set[*NodeContext]
	hostsStaging   mapset.Set[*NodeContext]
	hostsRendering mapset.Set[*NodeContext]
	watchNext      mapset.Set[*Watch]
	watchStaging   mapset.Set[*Watch]
	scheduled      bool
	passes         int
}

func New(root *dom.Node, opts ...Option) *Container {
	c := &Container{
		root:         root,
		contexts:     map[*dom.Node]*NodeContext{},
		proxies:      map[any]*Store{},
		subs:         newSubscriptionManager(),
		hostsNext:    mapset.NewThreadUnsafeSet[*NodeContext](),
		hostsStaging: mapset.NewThreadUnsafeSet[*NodeContext](),
		watchNext:    mapset.NewThreadUnsafeSet[*Watch](),
		watchStaging: mapset.NewThreadUnsafeSet[*Watch](),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ctx == nil {
		c.ctx = context.Background()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.renderer == nil {
		c.renderer = DefaultRenderer{}
	}
	if c.platform == nil {
		loop := NewLoop()
		loop.Start(c.ctx)
		c.platform = loop
		c.ownsLoop = true
	}

	if v, ok := root.Attr(AttrInstance); ok {
		if id, err := ulid.Parse(v); err == nil {
			c.id = id
		}
	}
	if c.id == (ulid.ULID{}) {
		c.id = ulid.Make()
		root.SetAttr(AttrInstance, c.id.String())
	}
	if !root.HasAttr(AttrContainer) {
		root.SetAttr(AttrContainer, "")
	}
	c.elementIndex = nextElementIndex(root)
	c.logger = c.logger.With("container", c.id.String())
	return c
}

// nextElementIndex returns one past the highest element id already present
// in root's scope.
func nextElementIndex(root *dom.Node) int {
	next := 0
	hasID := func(n *dom.Node) bool {
		return n.IsElement() && n.HasAttr(AttrElementID)
	}
	nested := func(n *dom.Node) bool {
		return n != root && n.IsElement() && n.HasAttr(AttrContainer)
	}
	for _, el := range dom.NodesInScope(root, hasID, nested) {
		v, _ := el.Attr(AttrElementID)
		if i, err := StrToInt(v); err == nil && i >= next {
			next = i + 1
		}
	}
	return next
}

// Close stops the event loop the container created for itself, if any.
func (c *Container) Close() {
	if c.ownsLoop {
		c.platform.(*Loop).Stop()
	}
}

func (c *Container) ID() ulid.ULID            { return c.id }
func (c *Container) Root() *dom.Node          { return c.root }
func (c *Container) Logger() *slog.Logger     { return c.logger }
func (c *Container) Dev() bool                { return c.dev }
func (c *Container) Server() bool             { return c.server }
func (c *Container) Resolver() qrl.Resolver   { return c.resolver }
func (c *Container) Platform() Platform       { return c.platform }
func (c *Container) Context() context.Context { return c.ctx }

// Subscriptions exposes the container's subscription index.
func (c *Container) Subscriptions() *SubscriptionManager {
	return c.subs
}

// Subscribers returns the current subscribers of target, which may be a Store or its raw target.
func (c *Container) Subscribers(target any) []Subscriber {
	if s, ok := target.(*Store); ok {
		target = s.target
	}
	l := c.subs.TryGetLocal(target)
	if l == nil {
		return nil
	}
	return l.Subscribers()
}

func (c *Container) State() string {
	v, _ := c.root.Attr(AttrContainer)
	return v
}

func (c *Container) IsPaused() bool {
	return c.State() == StatePaused
}

// NodeContext returns the context of node, creating it the first time the node is touched.
func (c *Container) NodeContext(node *dom.Node) *NodeContext {
	nc, ok := c.contexts[node]
	if !ok {
		nc = &NodeContext{Element: node}
		c.contexts[node] = nc
	}
	return nc
}

func (c *Container) TryNodeContext(node *dom.Node) *NodeContext {
	return c.contexts[node]
}

// ElementID returns the node's stable id, assigning the next one when it has none.
func (c *Container) ElementID(nc *NodeContext) string {
	if nc.ID == "" {
		if v, ok := nc.Element.Attr(AttrElementID); ok {
			nc.ID = v
		} else {
			nc.ID = IntToStr(c.elementIndex)
			c.elementIndex++
			nc.Element.SetAttr(AttrElementID, nc.ID)
		}
	}
	return nc.ID
}

func (c *Container) ElementIndex() int {
	return c.elementIndex
}

func (c *Container) SetElementIndex(i int) {
	c.elementIndex = i
}

// Proxy returns the cached store wrapping target, or nil.
func (c *Container) Proxy(target any) *Store {
	if !Hashable(target) {
		return nil
	}
	return c.proxies[target]
}

// GetOrCreateProxy returns the single store wrapping target in this container.
func (c *Container) GetOrCreateProxy(target any, flags StoreFlags) *Store {
	if s, ok := target.(*Store); ok {
		return s
	}
	if s := c.Proxy(target); s != nil {
		return s
	}
	return c.CreateProxy(target, flags, nil)
}

// CreateProxy wraps target with a store carrying pre-populated subscriptions.
func (c *Container) CreateProxy(target any, flags StoreFlags, records []SubscriptionRecord) *Store {
	s := &Store{c: c, target: target, flags: flags}
	c.proxies[target] = s
	if len(records) > 0 {
		c.subs.Populate(target, records)
	}
	return s
}

// NewStore wraps a fresh record built from kv pairs.
func (c *Container) NewStore(flags StoreFlags, kv ...any) *Store {
	return c.CreateProxy(NewRecord(kv...), flags, nil)
}

func (c *Container) NewListStore(flags StoreFlags, items ...any) *Store {
	return c.CreateProxy(NewList(items...), flags, nil)
}

// invoke runs fn with sub as the active subscriber, restoring the previous one afterwards.
func (c *Container) invoke(sub Subscriber, fn func() error) error {
	prev := c.activeSub
	c.activeSub = sub
	defer func() { c.activeSub = prev }()
	return fn()
}

func (c *Container) PauseTracking() {
	c.pauseStack = append(c.pauseStack, c.activeSub)
	c.activeSub = nil
}

func (c *Container) ResumeTracking() {
	last := len(c.pauseStack) - 1
	c.activeSub = c.pauseStack[last]
	c.pauseStack = c.pauseStack[:last]
}

// Untrack runs fn without registering reads against the active subscriber.
func (c *Container) Untrack(fn func()) {
	c.PauseTracking()
	defer c.ResumeTracking()
	fn()
}

func (c *Container) track(target any, key string) {
	if c.activeSub == nil {
		return
	}
	c.subs.Add(target, c.activeSub, key)
}

// DevWarn logs a diagnostic in dev containers only.
func (c *Container) DevWarn(msg string, args ...any) {
	if c.dev {
		c.logger.Warn(msg, args...)
	}
}

func IntToStr(i int) string {
	return strconv.FormatInt(int64(i), 36)
}

func StrToInt(s string) (int, error) {
	v, err := strconv.ParseInt(s, 36, 64)
	return int(v), err
}
