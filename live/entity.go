package live

import "time"

// Urgency levels, in escalating order.
const (
	UrgencyNormal   = "normal"
	UrgencyWarning  = "warning"
	UrgencyCritical = "critical"
)

var urgencyRank = map[string]int{
	UrgencyNormal:   0,
	UrgencyWarning:  1,
	UrgencyCritical: 2,
}

// Entity is one live record on a screen, typically an in-flight order.
// Countdown and Breached are derived from SLADeadline and the wall clock on
// every tick; they are never authoritative state, so clock drift under
// process suspension cannot corrupt them.
type Entity struct {
	ID          string     `json:"id"`
	Unit        string     `json:"unit,omitempty"`
	Status      string     `json:"status,omitempty"`
	Urgency     string     `json:"urgency,omitempty"`
	Assignee    string     `json:"assignee,omitempty"`
	SLADeadline *time.Time `json:"slaDeadline,omitempty"`

	Countdown time.Duration `json:"-"`
	Breached  bool          `json:"-"`
}

// Patch carries only the fields present in a push payload. A nil field was
// absent from the event and must leave the current value untouched.
type Patch struct {
	Unit        *string    `json:"unit"`
	Status      *string    `json:"status"`
	Urgency     *string    `json:"urgency"`
	Assignee    *string    `json:"assignee"`
	SLADeadline *time.Time `json:"slaDeadline"`
}

func (p Patch) applyTo(e *Entity) {
	if p.Unit != nil {
		e.Unit = *p.Unit
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.Urgency != nil {
		e.Urgency = *p.Urgency
	}
	if p.Assignee != nil {
		e.Assignee = *p.Assignee
	}
	if p.SLADeadline != nil {
		e.SLADeadline = p.SLADeadline
	}
}
