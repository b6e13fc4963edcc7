package session

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Marveltechapps/selorg-console-core/config"
)

var (
	// ErrUnitNotAssigned is returned when switching to a unit outside the
	// user's assignment.
	ErrUnitNotAssigned = errors.New("unit not assigned to user")
	// ErrNotAuthenticated is returned by operations that require a session.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrInvalidLogin is returned when login is missing a token or identity.
	ErrInvalidLogin = errors.New("login requires a token and a user")
)

// Store owns the session for this process: the token, the identity and the
// active operating unit. It is constructed once and passed to every consumer;
// its in-memory state is mutated only through its own methods. Every mutation
// persists a snapshot through Storage so a restart restores the session.
type Store struct {
	storage  Storage
	keys     config.SessionKeys
	onLogout func(ctx context.Context, token string)
	now      func() time.Time

	mu       sync.Mutex
	current  Session
	watchers []func(Session)
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithLogoutNotifier installs the fire-and-forget backend call made on
// logout. Failures are ignored.
func WithLogoutNotifier(fn func(ctx context.Context, token string)) StoreOption {
	return func(s *Store) { s.onLogout = fn }
}

// WithClock overrides the wall clock, for expiry tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a session store backed by the given storage.
func NewStore(storage Storage, keys config.SessionKeys, opts ...StoreOption) *Store {
	s := &Store{
		storage: storage,
		keys:    keys,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login records a successful credential exchange. The active unit is derived
// from the user's primary unit, falling back to the first assigned unit. The
// snapshot is persisted before Login returns.
func (s *Store) Login(ctx context.Context, token string, user User) error {
	if token == "" || user.ID == "" {
		return ErrInvalidLogin
	}
	u := user
	sess := Session{Token: token, User: &u, ActiveUnit: deriveActiveUnit(&u)}

	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()

	if err := s.persist(ctx, sess); err != nil {
		return err
	}
	s.notify(sess)
	return nil
}

// Logout tears the session down: it best-effort notifies the backend, clears
// in-memory and persisted state, and writes the logout marker other tabs
// observe through Storage.Watch.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	token := s.current.Token
	s.current = Session{}
	s.mu.Unlock()

	if token == "" {
		return
	}

	if s.onLogout != nil {
		go s.onLogout(context.WithoutCancel(ctx), token)
	}

	s.clearPersisted(ctx)
	marker := strconv.FormatInt(s.now().UnixMilli(), 10)
	if err := s.storage.Set(ctx, s.keys.Logout, marker); err != nil {
		log.Printf("session: failed to broadcast logout marker: %v", err)
	}

	s.notify(Session{})
}

// SwitchUnit changes the active operating unit. Units outside the user's
// assignment are rejected and nothing changes.
func (s *Store) SwitchUnit(ctx context.Context, unitID string) error {
	s.mu.Lock()
	if !s.current.Authenticated() {
		s.mu.Unlock()
		return ErrNotAuthenticated
	}
	if !s.current.User.CanOperate(unitID) {
		s.mu.Unlock()
		return ErrUnitNotAssigned
	}
	s.current.ActiveUnit = unitID
	sess := s.current
	s.mu.Unlock()

	if err := s.persist(ctx, sess); err != nil {
		return err
	}
	s.notify(sess)
	return nil
}

// Restore rehydrates the session from storage at process start. A token that
// already decodes as expired silently clears the persisted state; no error is
// surfaced because routing to login is the expected outcome.
func (s *Store) Restore(ctx context.Context) error {
	token, err := s.storage.Get(ctx, s.keys.Token)
	if err != nil {
		return err
	}
	if token == "" {
		return nil
	}

	userJSON, err := s.storage.Get(ctx, s.keys.User)
	if err != nil {
		return err
	}
	if userJSON == "" {
		// Token without identity violates the session invariant.
		s.clearPersisted(ctx)
		return nil
	}

	var user User
	if err := json.Unmarshal([]byte(userJSON), &user); err != nil {
		s.clearPersisted(ctx)
		return nil
	}

	if tokenExpired(token, s.now()) {
		s.clearPersisted(ctx)
		return nil
	}

	unit, err := s.storage.Get(ctx, s.keys.ActiveUnit)
	if err != nil {
		return err
	}
	if !user.CanOperate(unit) {
		unit = deriveActiveUnit(&user)
	}

	sess := Session{Token: token, User: &user, ActiveUnit: unit}
	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()
	s.notify(sess)
	return nil
}

// Watch begins observing the logout marker so a logout in another tab tears
// this session down too. It returns once the watch is established.
func (s *Store) Watch(ctx context.Context) error {
	ch, err := s.storage.Watch(ctx, s.keys.Logout)
	if err != nil {
		return err
	}
	go func() {
		for range ch {
			s.handleRemoteLogout()
		}
	}()
	return nil
}

// handleRemoteLogout clears local state after another tab logged out. The
// persisted keys were already removed by the originating tab, so only the
// in-memory session is dropped. The originating tab observes its own marker
// with an already-empty session, which makes this a no-op there.
func (s *Store) handleRemoteLogout() {
	s.mu.Lock()
	if !s.current.Authenticated() {
		s.mu.Unlock()
		return
	}
	s.current = Session{}
	s.mu.Unlock()
	log.Printf("session: logout observed from another tab, clearing local session")
	s.notify(Session{})
}

// Current returns the session as of now. Callers must not mutate User.
func (s *Store) Current() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Token returns the bearer token, or "" when logged out.
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Token
}

// ActiveUnit returns the selected operating unit, or "".
func (s *Store) ActiveUnit() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.ActiveUnit
}

// IsExpired decodes the token's embedded expiry claim without contacting the
// server. A token with no expiry claim, or one that does not parse, reports
// false; the server remains the authority for such tokens.
func (s *Store) IsExpired() bool {
	s.mu.Lock()
	token := s.current.Token
	s.mu.Unlock()
	if token == "" {
		return false
	}
	return tokenExpired(token, s.now())
}

// OnChange registers a callback invoked after every session transition
// (login, logout, unit switch, restore, cross-tab logout).
func (s *Store) OnChange(fn func(Session)) {
	s.mu.Lock()
	s.watchers = append(s.watchers, fn)
	s.mu.Unlock()
}

func (s *Store) notify(sess Session) {
	s.mu.Lock()
	watchers := make([]func(Session), len(s.watchers))
	copy(watchers, s.watchers)
	s.mu.Unlock()
	for _, fn := range watchers {
		fn(sess)
	}
}

func (s *Store) persist(ctx context.Context, sess Session) error {
	userJSON, err := json.Marshal(sess.User)
	if err != nil {
		return err
	}
	if err := s.storage.Set(ctx, s.keys.Token, sess.Token); err != nil {
		return err
	}
	if err := s.storage.Set(ctx, s.keys.User, string(userJSON)); err != nil {
		return err
	}
	return s.storage.Set(ctx, s.keys.ActiveUnit, sess.ActiveUnit)
}

func (s *Store) clearPersisted(ctx context.Context) {
	for _, key := range []string{s.keys.Token, s.keys.User, s.keys.ActiveUnit} {
		if err := s.storage.Delete(ctx, key); err != nil {
			log.Printf("session: failed to clear %s: %v", key, err)
		}
	}
}

// tokenExpired inspects the JWT exp claim without verifying the signature;
// the client only needs the timestamp, the server verifies authenticity.
func tokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(now)
}
