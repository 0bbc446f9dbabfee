package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/voxline/voxgate/internal/observe"
)

// deregisterBuf is the depth of the asynchronous deregistration channel.
// Deeper than any realistic burst of simultaneous hangups.
const deregisterBuf = 64

// Registry tracks live sessions by call-connection id. Registration is
// synchronous;
// deregistration can be handed to a background worker so WebSocket close
// handlers never wait out a slow session shutdown.
//
// All methods are safe for concurrent use.
type Registry struct {
	metrics *observe.Metrics
	log     *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Controller

	allocTotal  atomic.Int64
	allocNew    atomic.Int64
	allocCached atomic.Int64

	drop chan *Controller
}

// Stats is a point-in-time view of the registry's counters for the metrics
// endpoint. Cached allocations stay zero until a session cache exists; the
// field is part of the wire shape regardless.
type Stats struct {
	ActiveSessions    int64
	AllocationsTotal  int64
	AllocationsCached int64
	AllocationsNew    int64
}

// NewRegistry creates an empty registry. Call Run to enable asynchronous
// deregistration.
func NewRegistry(metrics *observe.Metrics, log *slog.Logger) *Registry {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		metrics:  metrics,
		log:      log,
		sessions: make(map[string]*Controller),
		drop:     make(chan *Controller, deregisterBuf),
	}
}

// Register adds c under id. Returns false if the id is already taken.
func (r *Registry) Register(id string, c *Controller) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; exists {
		return false
	}
	r.sessions[id] = c
	r.allocTotal.Add(1)
	r.allocNew.Add(1)
	r.metrics.ActiveSessions.Add(context.Background(), 1)
	r.metrics.SessionAllocations.Add(context.Background(), 1, observe.KindAttr("new"))
	return true
}

// Stats returns the registry's current counters.
func (r *Registry) Stats() Stats {
	return Stats{
		ActiveSessions:    int64(r.Count()),
		AllocationsTotal:  r.allocTotal.Load(),
		AllocationsCached: r.allocCached.Load(),
		AllocationsNew:    r.allocNew.Load(),
	}
}

// Deregister removes id and returns the controller, or nil if unknown. The
// controller is not stopped; callers own that.
func (r *Registry) Deregister(id string) *Controller {
	r.mu.Lock()
	c, exists := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if exists {
		r.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	return c
}

// DeregisterAsync removes id immediately and queues the controller's Stop on
// the background worker. Falls back to a synchronous stop when the worker
// queue is full.
func (r *Registry) DeregisterAsync(ctx context.Context, id string) {
	c := r.Deregister(id)
	if c == nil {
		return
	}
	select {
	case r.drop <- c:
	default:
		r.log.Warn("registry: deregistration queue full, stopping inline",
			"session_id", id)
		if err := c.Stop(ctx); err != nil {
			r.log.Warn("registry: session stop failed", "session_id", id, "err", err)
		}
	}
}

// Run processes queued deregistrations until ctx is done, then stops every
// remaining session. Call it once, from its own goroutine or an errgroup.
func (r *Registry) Run(ctx context.Context) error {
	for {
		select {
		case c := <-r.drop:
			if err := c.Stop(ctx); err != nil {
				r.log.Warn("registry: session stop failed", "err", err)
			}
		case <-ctx.Done():
			r.shutdownAll()
			return ctx.Err()
		}
	}
}

// shutdownAll stops every remaining session, bounded per session.
func (r *Registry) shutdownAll() {
	r.mu.Lock()
	remaining := make([]*Controller, 0, len(r.sessions))
	for id, c := range r.sessions {
		remaining = append(remaining, c)
		delete(r.sessions, id)
		r.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	r.mu.Unlock()

	// Drain anything still queued for async stop.
	for {
		select {
		case c := <-r.drop:
			remaining = append(remaining, c)
			continue
		default:
		}
		break
	}

	for _, c := range remaining {
		ctx, cancel := context.WithTimeout(context.Background(), StopTimeout)
		if err := c.Stop(ctx); err != nil {
			r.log.Warn("registry: session stop failed during shutdown", "err", err)
		}
		cancel()
	}
}

// Get returns the controller for id, or nil.
func (r *Registry) Get(id string) *Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ForEach calls fn for every live session. fn must not call back into the
// registry.
func (r *Registry) ForEach(fn func(id string, c *Controller)) {
	r.mu.RLock()
	ids := make(map[string]*Controller, len(r.sessions))
	for id, c := range r.sessions {
		ids[id] = c
	}
	r.mu.RUnlock()

	for id, c := range ids {
		fn(id, c)
	}
}

// Snapshots returns a point-in-time view of all live sessions.
func (r *Registry) Snapshots() []Snapshot {
	snaps := make([]Snapshot, 0, r.Count())
	r.ForEach(func(_ string, c *Controller) {
		snaps = append(snaps, c.Snapshot())
	})
	return snaps
}
