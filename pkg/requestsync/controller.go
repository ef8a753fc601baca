// Package requestsync keeps event-request views consistent with the server.
// List and Detail are mount-scoped controllers that read through the client
// cache, refetch on bus events, and drop results from superseded or
// unmounted fetches. Actions runs a lifecycle action and announces it.
package requestsync

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Pkv562/UNITE/pkg/apierrors"
	"github.com/Pkv562/UNITE/pkg/eventbus"
	"github.com/Pkv562/UNITE/pkg/featureflag"
	"github.com/Pkv562/UNITE/pkg/store"
)

type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseReady   Phase = "ready"
	PhaseError   Phase = "error"
)

const DefaultCoalesceWindow = 25 * time.Millisecond

// Options tune one controller.
type Options struct {
	EnableCache     bool
	AutoRefresh     bool
	RefreshInterval time.Duration
	// CoalesceWindow merges bus-triggered refreshes that arrive together,
	// e.g. the two events one action emits.
	CoalesceWindow time.Duration
}

// Deps are the process-wide collaborators shared by every controller.
type Deps struct {
	Source Source
	Cache  *store.ClientCache
	Bus    *eventbus.Bus
	Flags  *featureflag.Store
	Logger *slog.Logger
	Now    func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Bus == nil && d.Flags != nil {
		d.Bus = d.Flags.Bus()
	}
	if d.Cache == nil {
		d.Cache = store.NewClientCache(nil)
	}
	if d.Bus == nil {
		d.Bus = eventbus.New()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// flagBus is where flag changes are announced. It is the flag store's own
// bus even when Bus is a different one.
func (d Deps) flagBus() *eventbus.Bus {
	if d.Flags != nil {
		return d.Flags.Bus()
	}
	return d.Bus
}

// State is what a view renders. Data is nil while nothing is visible.
type State[T any] struct {
	Phase     Phase
	Data      *T
	Err       string
	Cause     error
	FromCache bool
}

func (s State[T]) Loading() bool { return s.Phase == PhaseLoading }

type controller[T any] struct {
	deps Deps
	opts Options
	name string

	key   func(version string) string
	fetch func(ctx context.Context, src Source) (*T, error)
	// accepts reports whether a bus event concerns this controller.
	accepts func(ev eventbus.Event) bool

	alive atomic.Bool
	gen   atomic.Uint64

	mu           sync.Mutex
	ctx          context.Context
	state        State[T]
	onChange     func(State[T])
	unsubs       []func()
	pending      *time.Timer
	pendingForce bool
	stopPoll     chan struct{}
	inflight     *inflight
}

func newController[T any](deps Deps, opts Options, name string) *controller[T] {
	if opts.CoalesceWindow <= 0 {
		opts.CoalesceWindow = DefaultCoalesceWindow
	}
	return &controller[T]{
		deps:     deps.withDefaults(),
		opts:     opts,
		name:     name,
		ctx:      context.Background(),
		state:    State[T]{Phase: PhaseIdle},
		inflight: newInflight(),
	}
}

// OnChange registers the single state listener. It runs on whichever
// goroutine produced the change.
func (c *controller[T]) OnChange(fn func(State[T])) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

func (c *controller[T]) State() State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *controller[T]) Mounted() bool { return c.alive.Load() }

// Mount subscribes to the bus, starts polling when enabled and loads. ctx
// is used for every fetch until Unmount.
func (c *controller[T]) Mount(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !c.alive.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	c.ctx = ctx
	c.unsubs = append(c.unsubs,
		c.deps.Bus.Subscribe(eventbus.TopicRequestsChanged, c.onBusEvent),
		c.deps.Bus.Subscribe(eventbus.TopicForceRefresh, c.onBusEvent),
		c.deps.flagBus().OnFeatureFlagChanged(func(ev eventbus.FeatureFlagChanged) {
			if ev.Flag == string(featureflag.UseV2EventRequests) {
				c.schedule(false)
			}
		}),
	)
	c.mu.Unlock()
	c.SetAutoRefresh(c.opts.AutoRefresh, c.opts.RefreshInterval)
	c.load(false)
}

// Unmount stops every subscription and timer. Fetches already in flight
// complete but their results are discarded.
func (c *controller[T]) Unmount() {
	if !c.alive.CompareAndSwap(true, false) {
		return
	}
	c.gen.Add(1)
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
	c.stopPollingLocked()
	c.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

// Refresh refetches from the network, bypassing the cache.
func (c *controller[T]) Refresh() { c.load(true) }

// Invalidate drops this controller's cache entry without refetching.
func (c *controller[T]) Invalidate() {
	c.deps.Cache.Invalidate(c.context(), c.key(c.deps.Source.Version()))
}

// forget drops visible data, and any fetch in flight, before the
// controller is pointed at something else.
func (c *controller[T]) forget() {
	c.gen.Add(1)
	c.mu.Lock()
	c.state.Data = nil
	c.state.FromCache = false
	c.mu.Unlock()
}

// Wait blocks until fetches started so far have settled.
func (c *controller[T]) Wait() { c.inflight.wait() }

// SetAutoRefresh starts or stops interval polling.
func (c *controller[T]) SetAutoRefresh(enabled bool, every time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopPollingLocked()
	c.opts.AutoRefresh = enabled
	c.opts.RefreshInterval = every
	if !enabled || every <= 0 || !c.alive.Load() {
		return
	}
	stop := make(chan struct{})
	c.stopPoll = stop
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.load(true)
			}
		}
	}()
}

func (c *controller[T]) stopPollingLocked() {
	if c.stopPoll != nil {
		close(c.stopPoll)
		c.stopPoll = nil
	}
}

func (c *controller[T]) onBusEvent(ev eventbus.Event) {
	if c.accepts == nil || c.accepts(ev) {
		c.schedule(true)
	}
}

// schedule coalesces bus-driven reloads into one per window.
func (c *controller[T]) schedule(force bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive.Load() {
		return
	}
	c.pendingForce = c.pendingForce || force
	if c.pending != nil {
		return
	}
	c.pending = time.AfterFunc(c.opts.CoalesceWindow, func() {
		c.mu.Lock()
		force := c.pendingForce
		c.pending = nil
		c.pendingForce = false
		c.mu.Unlock()
		c.load(force)
	})
}

func (c *controller[T]) context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

// load adopts a fresh cache entry synchronously unless force is set, and
// otherwise fetches in the background. Every load takes a new generation;
// only the newest generation may touch state.
func (c *controller[T]) load(force bool) {
	if !c.alive.Load() {
		return
	}
	ctx := c.context()
	src := c.deps.Source.Pin()
	key := c.key(src.Version())
	gen := c.gen.Add(1)

	if !force && c.opts.EnableCache {
		var cached *T
		if c.deps.Cache.Get(ctx, key, &cached) && cached != nil {
			c.apply(gen, State[T]{Phase: PhaseReady, Data: cached, FromCache: true})
			return
		}
	}

	prev := c.State()
	c.apply(gen, State[T]{Phase: PhaseLoading, Data: prev.Data})

	c.inflight.add()
	go func() {
		defer c.inflight.done()
		data, err := c.fetch(ctx, src)
		if !c.current(gen) {
			c.deps.Logger.Debug("discarding superseded fetch", "controller", c.name, "key", key)
			return
		}
		if err != nil {
			c.deps.Logger.Warn("fetch failed", "controller", c.name, "key", key, "error", err)
			c.apply(gen, State[T]{Phase: PhaseError, Err: apierrors.Message(err), Cause: err})
			return
		}
		if c.opts.EnableCache {
			c.deps.Cache.Set(ctx, key, data)
		}
		c.apply(gen, State[T]{Phase: PhaseReady, Data: data})
	}()
}

func (c *controller[T]) current(gen uint64) bool {
	return c.alive.Load() && c.gen.Load() == gen
}

func (c *controller[T]) apply(gen uint64, st State[T]) {
	c.mu.Lock()
	if !c.current(gen) {
		c.mu.Unlock()
		return
	}
	c.state = st
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

// inflight counts running fetches. Unlike sync.WaitGroup it may be waited
// on while new fetches start.
type inflight struct {
	mu   sync.Mutex
	cond *sync.Cond
	n    int
}

func newInflight() *inflight {
	f := &inflight{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

func (f *inflight) add() {
	f.mu.Lock()
	f.n++
	f.mu.Unlock()
}

func (f *inflight) done() {
	f.mu.Lock()
	f.n--
	if f.n == 0 {
		f.cond.Broadcast()
	}
	f.mu.Unlock()
}

func (f *inflight) wait() {
	f.mu.Lock()
	for f.n > 0 {
		f.cond.Wait()
	}
	f.mu.Unlock()
}
