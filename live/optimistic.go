package live

import (
	"errors"

	"github.com/google/uuid"

	"github.com/Marveltechapps/selorg-console-core/metrics"
)

var (
	// ErrActionPending is returned when an optimistic action is already
	// outstanding for the entity. The triggering control stays disabled
	// until the first action resolves.
	ErrActionPending = errors.New("live: action already pending for entity")
	// ErrEntityUnknown is returned when the entity is not in the view.
	ErrEntityUnknown = errors.New("live: entity not in view")
)

// Action journals one optimistic mutation. The pre-action snapshot is
// retained until the server confirms the action or it is rolled back; while
// outstanding, no other source may touch the entity.
type Action struct {
	ID       string
	EntityID string

	view     *View
	snapshot Entity
	done     bool
}

// Begin applies a mutation locally, before the server confirms it, and
// records the snapshot needed to undo it. One action per entity at a time.
func (v *View) Begin(entityID string, mutate func(*Entity)) (*Action, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, outstanding := v.pending[entityID]; outstanding {
		return nil, ErrActionPending
	}
	i := v.indexOf(entityID)
	if i < 0 {
		return nil, ErrEntityUnknown
	}

	a := &Action{
		ID:       uuid.NewString(),
		EntityID: entityID,
		view:     v,
		snapshot: v.entities[i],
	}
	mutate(&v.entities[i])
	v.pending[entityID] = a
	return a, nil
}

// Confirm resolves the action with the server's view of the entity. A nil
// confirmation keeps the local guess; a non-nil one reconciles any fields
// the server decided differently. The next bulk refresh is authoritative
// again for this entity.
func (a *Action) Confirm(confirmed *Entity) {
	v := a.view
	v.mu.Lock()
	defer v.mu.Unlock()

	if a.done {
		return
	}
	a.done = true
	delete(v.pending, a.EntityID)

	if confirmed != nil {
		if i := v.indexOf(a.EntityID); i >= 0 {
			v.entities[i] = *confirmed
		}
	}
	metrics.OptimisticActions.WithLabelValues("confirmed").Inc()
}

// Rollback restores the pre-action snapshot after a server-side failure.
func (a *Action) Rollback() {
	v := a.view
	v.mu.Lock()
	defer v.mu.Unlock()

	if a.done {
		return
	}
	a.done = true
	delete(v.pending, a.EntityID)

	if i := v.indexOf(a.EntityID); i >= 0 {
		v.entities[i] = a.snapshot
	}
	metrics.OptimisticActions.WithLabelValues("rolledback").Inc()
}

// Pending reports whether an optimistic action is outstanding for the
// entity.
func (v *View) Pending(entityID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, outstanding := v.pending[entityID]
	return outstanding
}
