package router

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/Marveltechapps/selorg-console-core/metrics"
	"github.com/Marveltechapps/selorg-console-core/realtime"
	"github.com/Marveltechapps/selorg-console-core/session"
)

// Push event names observed by the console.
const (
	EventOrderCreated       = "order:created"
	EventOrderUpdated       = "order:updated"
	EventOrderCancelled     = "order:cancelled"
	EventPaymentCreated     = "payment:created"
	EventCustomerRegistered = "customer:registered"
	EventCustomerUpdated    = "customer:updated"
)

// roleEvents fixes, per role, the set of push events that reach the
// presentation sink. A fleet operator hears about order lifecycle changes
// but never about payments.
var roleEvents = map[string][]string{
	session.RoleAdmin: {
		EventOrderCreated, EventOrderUpdated, EventOrderCancelled,
		EventPaymentCreated, EventCustomerRegistered, EventCustomerUpdated,
	},
	session.RoleStore: {
		EventOrderCreated, EventOrderUpdated, EventOrderCancelled,
		EventCustomerRegistered, EventCustomerUpdated,
	},
	session.RoleProduction: {EventOrderCreated, EventOrderUpdated, EventOrderCancelled},
	session.RoleFleet:      {EventOrderCreated, EventOrderUpdated, EventOrderCancelled},
	session.RoleFinance:    {EventPaymentCreated, EventOrderCancelled},
	session.RoleVendor:     {EventOrderCreated, EventOrderUpdated},
	session.RoleWarehouse:  {EventOrderCreated, EventOrderUpdated, EventOrderCancelled},
}

// eventTitles translate event names into notification headlines.
var eventTitles = map[string]string{
	EventOrderCreated:       "New order",
	EventOrderUpdated:       "Order updated",
	EventOrderCancelled:     "Order cancelled",
	EventPaymentCreated:     "Payment received",
	EventCustomerRegistered: "New customer",
	EventCustomerUpdated:    "Customer updated",
}

// Channel is the slice of the realtime channel the router needs.
type Channel interface {
	On(event string, h realtime.Handler) realtime.Handle
	Off(event string, id realtime.Handle)
}

// Sessions is the slice of the session store the router needs.
type Sessions interface {
	Current() session.Session
	OnChange(fn func(session.Session))
}

// Router attaches the role's event set to the channel and forwards matching
// events to the presentation sink. Events tagged with a foreign unit are
// discarded before the sink: tenant isolation is enforced on the client too.
type Router struct {
	channel  Channel
	sessions Sessions
	notifier Notifier

	mu      sync.Mutex
	role    string
	handles map[string]realtime.Handle

	promptOnce sync.Once
}

// New creates a router over the given channel and session store.
func New(channel Channel, sessions Sessions, notifier Notifier) *Router {
	if notifier == nil {
		notifier = &LogNotifier{}
	}
	return &Router{
		channel:  channel,
		sessions: sessions,
		notifier: notifier,
		handles:  make(map[string]realtime.Handle),
	}
}

// Bind applies the current session's role and re-applies it on every session
// change. Role changes detach the previous event set first; repeating the
// same role is a no-op.
func (r *Router) Bind() {
	r.sessions.OnChange(r.apply)
	r.apply(r.sessions.Current())
}

func (r *Router) apply(sess session.Session) {
	role := ""
	if sess.User != nil {
		role = sess.User.Role
	}

	r.mu.Lock()
	if role == r.role {
		r.mu.Unlock()
		return
	}
	for event, h := range r.handles {
		r.channel.Off(event, h)
		delete(r.handles, event)
	}
	r.role = role
	for _, event := range EventsFor(role) {
		event := event
		r.handles[event] = r.channel.On(event, func(e realtime.Event) {
			r.deliver(event, e)
		})
	}
	r.mu.Unlock()

	if role != "" {
		// Out-of-band notification permission is requested once per process,
		// on first authentication.
		r.promptOnce.Do(func() {
			if err := r.notifier.RequestPermission(); err != nil {
				log.Printf("router: notification permission unavailable: %v", err)
			}
		})
	}
}

func (r *Router) deliver(event string, e realtime.Event) {
	active := r.sessions.Current().ActiveUnit
	if e.Unit != "" && e.Unit != active {
		metrics.EventsDropped.Inc()
		return
	}

	metrics.EventsRouted.WithLabelValues(event).Inc()
	title := eventTitles[event]
	if title == "" {
		title = event
	}
	if err := r.notifier.Notify(title, summarize(e.Payload)); err != nil {
		log.Printf("router: notify failed: %v", err)
		return
	}
	metrics.NotificationsSent.Inc()
}

// summarize extracts a short human-readable line from an event payload.
func summarize(payload json.RawMessage) string {
	var body struct {
		Message string `json:"message"`
		ID      string `json:"id"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}
	if body.Message != "" {
		return body.Message
	}
	if body.ID != "" && body.Status != "" {
		return fmt.Sprintf("%s is now %s", body.ID, body.Status)
	}
	return body.ID
}

// EventsFor returns the push events a role subscribes to.
func EventsFor(role string) []string {
	events := roleEvents[role]
	out := make([]string, len(events))
	copy(out, events)
	return out
}
