package live

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/Marveltechapps/selorg-console-core/config"
	"github.com/Marveltechapps/selorg-console-core/metrics"
	"github.com/Marveltechapps/selorg-console-core/realtime"
)

// Fetcher performs the periodic bulk refresh for a view.
type Fetcher func(ctx context.Context) ([]Entity, error)

// Channel is the slice of the realtime channel a view registers with.
type Channel interface {
	On(event string, h realtime.Handler) realtime.Handle
	Off(event string, id realtime.Handle)
}

// Events names the push events a view listens to.
type Events struct {
	Create string
	Update string
	Remove string
}

type registration struct {
	event  string
	handle realtime.Handle
}

// View reconciles one screen's live entities from three sources: the
// periodic bulk refresh, push deltas, and optimistic local actions. Entity
// identity is the merge key and precedence is fixed: an outstanding
// optimistic action beats a push delta, which beats a bulk refresh. The
// result is deterministic no matter how the sources interleave.
type View struct {
	fetch    Fetcher
	interval time.Duration
	max      int
	warn     time.Duration
	critical time.Duration
	now      func() time.Time
	scope    func() string

	mu       sync.Mutex
	entities []Entity
	pending  map[string]*Action
	channel  Channel
	regs     []registration
	cancel   context.CancelFunc
}

// ViewOption customises a View.
type ViewOption func(*View)

// WithViewClock overrides the wall clock, for countdown tests.
func WithViewClock(now func() time.Time) ViewOption {
	return func(v *View) { v.now = now }
}

// WithUnitScope installs the active-unit accessor used to discard deltas for
// foreign units.
func WithUnitScope(scope func() string) ViewOption {
	return func(v *View) { v.scope = scope }
}

// NewView creates a view over a bounded entity list.
func NewView(cfg *config.LiveConfig, fetch Fetcher, opts ...ViewOption) *View {
	v := &View{
		fetch:    fetch,
		interval: time.Duration(cfg.PollInterval) * time.Second,
		max:      cfg.MaxEntities,
		warn:     time.Duration(cfg.WarningThreshold) * time.Minute,
		critical: time.Duration(cfg.CriticalThreshold) * time.Minute,
		now:      time.Now,
		scope:    func() string { return "" },
		pending:  make(map[string]*Action),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Bind registers the view's delta handlers on the channel. The handles are
// kept so Close can release them; leaking them would leave stale closures
// mutating a screen that is no longer visible.
func (v *View) Bind(ch Channel, events Events) {
	v.mu.Lock()
	v.channel = ch
	v.mu.Unlock()

	if events.Create != "" {
		v.register(ch, events.Create, func(e realtime.Event) {
			var ent Entity
			if json.Unmarshal(e.Payload, &ent) != nil || ent.ID == "" {
				return
			}
			v.ApplyCreate(ent)
		})
	}
	if events.Update != "" {
		v.register(ch, events.Update, func(e realtime.Event) {
			var delta struct {
				ID string `json:"id"`
				Patch
			}
			if json.Unmarshal(e.Payload, &delta) != nil || delta.ID == "" {
				return
			}
			v.ApplyUpdate(delta.ID, delta.Patch)
		})
	}
	if events.Remove != "" {
		v.register(ch, events.Remove, func(e realtime.Event) {
			var delta struct {
				ID string `json:"id"`
			}
			if json.Unmarshal(e.Payload, &delta) != nil || delta.ID == "" {
				return
			}
			v.ApplyRemove(delta.ID)
		})
	}
}

func (v *View) register(ch Channel, event string, h realtime.Handler) {
	scoped := func(e realtime.Event) {
		if unit := v.scope(); unit != "" && e.Unit != "" && e.Unit != unit {
			return
		}
		h(e)
	}
	handle := ch.On(event, scoped)
	v.mu.Lock()
	v.regs = append(v.regs, registration{event: event, handle: handle})
	v.mu.Unlock()
}

// Start runs the shared countdown ticker and the refresh poller. The first
// refresh happens immediately.
func (v *View) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	v.mu.Lock()
	v.cancel = cancel
	v.mu.Unlock()

	go v.pollLoop(ctx)
	go v.tickLoop(ctx)
}

// Close releases the ticker, the poller and every registered delta handler.
// This runs on screen teardown and must not be skipped.
func (v *View) Close() {
	v.mu.Lock()
	cancel := v.cancel
	v.cancel = nil
	ch := v.channel
	regs := v.regs
	v.regs = nil
	v.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ch != nil {
		for _, reg := range regs {
			ch.Off(reg.event, reg.handle)
		}
	}
}

// Refresh performs one bulk fetch and merges it. Failures are logged and
// counted only; the poller simply runs again on its own interval.
func (v *View) Refresh(ctx context.Context) {
	fetched, err := v.fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("live: refresh failed: %v", err)
			metrics.Refreshes.WithLabelValues("error").Inc()
		}
		return
	}
	metrics.Refreshes.WithLabelValues("ok").Inc()
	v.applyRefresh(fetched)
}

func (v *View) pollLoop(ctx context.Context) {
	v.Refresh(ctx)
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.Refresh(ctx)
		}
	}
}

// tickLoop is the single shared 1 Hz timer for the whole screen; per-entity
// timers would multiply timer cost by the list length.
func (v *View) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.tick()
		}
	}
}

// tick recomputes every countdown from the absolute deadline and the wall
// clock, flags breaches, and reclassifies urgency from elapsed time alone.
// Countdowns keep moving even while the push channel is in backoff.
func (v *View) tick() {
	now := v.now()
	v.mu.Lock()
	breached := 0
	for i := range v.entities {
		e := &v.entities[i]
		if e.SLADeadline == nil {
			continue
		}
		remaining := e.SLADeadline.Sub(now)
		// Derived on every tick, never latched: a pushed deadline extension
		// un-breaches the entity.
		e.Breached = remaining <= 0
		if remaining < 0 {
			remaining = 0
		}
		e.Countdown = remaining
		if e.Breached {
			breached++
		}
		escalate(e, remaining, v.warn, v.critical)
	}
	v.mu.Unlock()
	metrics.BreachedEntities.Set(float64(breached))
}

// escalate raises urgency as the deadline approaches. Time only ever raises
// the level; a server-pushed urgency is never lowered locally.
func escalate(e *Entity, remaining, warn, critical time.Duration) {
	level := e.Urgency
	switch {
	case e.Breached || remaining <= critical:
		level = UrgencyCritical
	case remaining <= warn:
		level = UrgencyWarning
	}
	if urgencyRank[level] > urgencyRank[e.Urgency] {
		e.Urgency = level
	}
}

// ApplyCreate prepends a new entity; the bounded list evicts its oldest
// entry. A create for a known id degrades to a full replace unless an
// optimistic action is outstanding for it.
func (v *View) ApplyCreate(ent Entity) {
	metrics.PushDeltas.WithLabelValues("create").Inc()
	v.mu.Lock()
	defer v.mu.Unlock()

	if i := v.indexOf(ent.ID); i >= 0 {
		if _, outstanding := v.pending[ent.ID]; !outstanding {
			v.entities[i] = ent
		}
		return
	}
	v.entities = v.evictOverflow(append([]Entity{ent}, v.entities...))
}

// ApplyUpdate patches only the fields present in the delta. Entities with an
// outstanding optimistic action are left alone; the action's own request
// will confirm or roll back.
func (v *View) ApplyUpdate(id string, patch Patch) {
	metrics.PushDeltas.WithLabelValues("update").Inc()
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, outstanding := v.pending[id]; outstanding {
		return
	}
	if i := v.indexOf(id); i >= 0 {
		patch.applyTo(&v.entities[i])
	}
}

// ApplyRemove deletes the entity outright, unless an optimistic action is
// outstanding for it.
func (v *View) ApplyRemove(id string) {
	metrics.PushDeltas.WithLabelValues("remove").Inc()
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, outstanding := v.pending[id]; outstanding {
		return
	}
	if i := v.indexOf(id); i >= 0 {
		v.entities = append(v.entities[:i], v.entities[i+1:]...)
	}
}

// applyRefresh replaces the list wholesale, except that entities with an
// outstanding optimistic action keep their local value: a concurrent bulk
// refresh must never clobber an unconfirmed action.
func (v *View) applyRefresh(fetched []Entity) {
	v.mu.Lock()
	defer v.mu.Unlock()

	merged := make([]Entity, 0, len(fetched))
	seen := make(map[string]bool, len(fetched))
	for _, ent := range fetched {
		if seen[ent.ID] {
			continue
		}
		seen[ent.ID] = true
		if _, outstanding := v.pending[ent.ID]; outstanding {
			if i := v.indexOf(ent.ID); i >= 0 {
				merged = append(merged, v.entities[i])
				continue
			}
		}
		merged = append(merged, ent)
	}
	// A pending entity the server no longer returns stays visible until its
	// action resolves.
	for _, ent := range v.entities {
		if !seen[ent.ID] && v.pending[ent.ID] != nil {
			merged = append(merged, ent)
		}
	}
	v.entities = v.evictOverflow(merged)
}

// evictOverflow trims the list back to its bound, dropping from the tail.
// Entities with an outstanding optimistic action are exempt; evicting one
// would leave its action nothing to confirm or roll back into. Must be called
// with v.mu held.
func (v *View) evictOverflow(list []Entity) []Entity {
	for i := len(list) - 1; i >= 0 && len(list) > v.max; i-- {
		if v.pending[list[i].ID] == nil {
			list = append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Entities returns a copy of the current view.
func (v *View) Entities() []Entity {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Entity, len(v.entities))
	copy(out, v.entities)
	return out
}

// Get returns one entity by id.
func (v *View) Get(id string) (Entity, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if i := v.indexOf(id); i >= 0 {
		return v.entities[i], true
	}
	return Entity{}, false
}

// Len returns the current entity count.
func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.entities)
}

// indexOf must be called with v.mu held.
func (v *View) indexOf(id string) int {
	for i := range v.entities {
		if v.entities[i].ID == id {
			return i
		}
	}
	return -1
}
