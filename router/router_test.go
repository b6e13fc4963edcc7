package router

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Marveltechapps/selorg-console-core/realtime"
	"github.com/Marveltechapps/selorg-console-core/session"
)

// fakeChannel records registrations and lets tests inject events.
type fakeChannel struct {
	mu       sync.Mutex
	nextID   realtime.Handle
	handlers map[string]map[realtime.Handle]realtime.Handler
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[string]map[realtime.Handle]realtime.Handler)}
}

func (f *fakeChannel) On(event string, h realtime.Handler) realtime.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if f.handlers[event] == nil {
		f.handlers[event] = make(map[realtime.Handle]realtime.Handler)
	}
	f.handlers[event][f.nextID] = h
	return f.nextID
}

func (f *fakeChannel) Off(event string, id realtime.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if hs, ok := f.handlers[event]; ok {
		delete(hs, id)
		if len(hs) == 0 {
			delete(f.handlers, event)
		}
	}
}

func (f *fakeChannel) emit(e realtime.Event) {
	f.mu.Lock()
	hs := make([]realtime.Handler, 0, len(f.handlers[e.Name]))
	for _, h := range f.handlers[e.Name] {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(e)
	}
}

func (f *fakeChannel) registered() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.handlers))
	for event, hs := range f.handlers {
		out[event] = len(hs)
	}
	return out
}

// fakeSessions is a minimal mutable session source.
type fakeSessions struct {
	mu       sync.Mutex
	sess     session.Session
	watchers []func(session.Session)
}

func (f *fakeSessions) Current() session.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sess
}

func (f *fakeSessions) OnChange(fn func(session.Session)) {
	f.mu.Lock()
	f.watchers = append(f.watchers, fn)
	f.mu.Unlock()
}

func (f *fakeSessions) login(role, unit string) {
	f.set(session.Session{
		Token:      "tok",
		User:       &session.User{ID: "u-1", Role: role, AssignedUnits: []string{unit}},
		ActiveUnit: unit,
	})
}

func (f *fakeSessions) logout() {
	f.set(session.Session{})
}

func (f *fakeSessions) set(sess session.Session) {
	f.mu.Lock()
	f.sess = sess
	watchers := make([]func(session.Session), len(f.watchers))
	copy(watchers, f.watchers)
	f.mu.Unlock()
	for _, fn := range watchers {
		fn(sess)
	}
}

// fakeNotifier records what reached the presentation sink.
type fakeNotifier struct {
	mu       sync.Mutex
	prompts  int
	messages []string
}

func (f *fakeNotifier) RequestPermission() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts++
	return nil
}

func (f *fakeNotifier) Notify(title, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, title+": "+body)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *fakeNotifier) promptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts
}

func payload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestRoleSubscriptionSets(t *testing.T) {
	testCases := []struct {
		role     string
		expected []string
	}{
		{session.RoleFleet, []string{EventOrderCreated, EventOrderUpdated, EventOrderCancelled}},
		{session.RoleFinance, []string{EventPaymentCreated, EventOrderCancelled}},
		{session.RoleAdmin, []string{
			EventOrderCreated, EventOrderUpdated, EventOrderCancelled,
			EventPaymentCreated, EventCustomerRegistered, EventCustomerUpdated,
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.role, func(t *testing.T) {
			channel := newFakeChannel()
			sessions := &fakeSessions{}
			r := New(channel, sessions, &fakeNotifier{})
			r.Bind()

			sessions.login(tc.role, "unit-1")

			registered := channel.registered()
			assert.Len(t, registered, len(tc.expected))
			for _, event := range tc.expected {
				assert.Equal(t, 1, registered[event], "missing handler for %s", event)
			}
			// The attached set and the advertised set are the same thing.
			for _, event := range EventsFor(tc.role) {
				assert.Equal(t, 1, registered[event])
			}
		})
	}
}

func TestEventsFor(t *testing.T) {
	events := EventsFor(session.RoleFleet)
	assert.Equal(t, []string{EventOrderCreated, EventOrderUpdated, EventOrderCancelled}, events)

	// Mutating the returned slice must not corrupt the role table.
	events[0] = "tampered"
	assert.Equal(t, EventOrderCreated, EventsFor(session.RoleFleet)[0])

	assert.Empty(t, EventsFor(""))
	assert.Empty(t, EventsFor("intern"))
}

func TestRoleChangeDetachesPreviousSet(t *testing.T) {
	channel := newFakeChannel()
	sessions := &fakeSessions{}
	r := New(channel, sessions, &fakeNotifier{})
	r.Bind()

	sessions.login(session.RoleFleet, "unit-1")
	require.Equal(t, 1, channel.registered()[EventOrderUpdated])

	// Re-applying the same role must not stack handlers.
	sessions.login(session.RoleFleet, "unit-1")
	assert.Equal(t, 1, channel.registered()[EventOrderUpdated])

	sessions.login(session.RoleFinance, "unit-1")
	registered := channel.registered()
	assert.Zero(t, registered[EventOrderUpdated])
	assert.Equal(t, 1, registered[EventPaymentCreated])

	sessions.logout()
	assert.Empty(t, channel.registered())
}

func TestForeignUnitEventDiscarded(t *testing.T) {
	channel := newFakeChannel()
	sessions := &fakeSessions{}
	notifier := &fakeNotifier{}
	r := New(channel, sessions, notifier)
	r.Bind()
	sessions.login(session.RoleFleet, "unit-1")

	// Event for another store's unit: discarded before the sink.
	channel.emit(realtime.Event{
		Name:    EventOrderUpdated,
		Unit:    "unit-99",
		Payload: payload(t, map[string]string{"id": "ord-1", "status": "ready"}),
	})
	assert.Zero(t, notifier.count())

	// Same unit: delivered.
	channel.emit(realtime.Event{
		Name:    EventOrderUpdated,
		Unit:    "unit-1",
		Payload: payload(t, map[string]string{"id": "ord-1", "status": "ready"}),
	})
	assert.Equal(t, 1, notifier.count())

	// Untagged events are global and always delivered.
	channel.emit(realtime.Event{
		Name:    EventOrderUpdated,
		Payload: payload(t, map[string]string{"id": "ord-2", "status": "ready"}),
	})
	assert.Equal(t, 2, notifier.count())
}

func TestPermissionPromptedOncePerProcess(t *testing.T) {
	channel := newFakeChannel()
	sessions := &fakeSessions{}
	notifier := &fakeNotifier{}
	r := New(channel, sessions, notifier)
	r.Bind()

	sessions.login(session.RoleStore, "unit-1")
	sessions.logout()
	sessions.login(session.RoleStore, "unit-1")

	assert.Equal(t, 1, notifier.promptCount())
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "order delayed",
		summarize(json.RawMessage(`{"message":"order delayed"}`)))
	assert.Equal(t, "ord-1 is now ready",
		summarize(json.RawMessage(`{"id":"ord-1","status":"ready"}`)))
	assert.Equal(t, "ord-2",
		summarize(json.RawMessage(`{"id":"ord-2"}`)))
	assert.Empty(t, summarize(json.RawMessage(`not json`)))
}

func TestDashboardFor(t *testing.T) {
	assert.Equal(t, DashboardFleet, DashboardFor(session.RoleFleet))
	assert.Equal(t, DashboardFinance, DashboardFor(session.RoleFinance))
	// Unrecognised roles fall back to the default dashboard.
	assert.Equal(t, defaultDashboard, DashboardFor("intern"))
}

func TestAuthorize(t *testing.T) {
	// A role asking for someone else's dashboard lands on its own.
	assert.Equal(t, DashboardFleet, Authorize(session.RoleFleet, DashboardFinance))
	// Admin may open any known dashboard.
	assert.Equal(t, DashboardFinance, Authorize(session.RoleAdmin, DashboardFinance))
	// Unknown targets redirect home.
	assert.Equal(t, DashboardAdmin, Authorize(session.RoleAdmin, "made-up"))
	assert.Equal(t, DashboardStore, Authorize(session.RoleStore, DashboardStore))
}
