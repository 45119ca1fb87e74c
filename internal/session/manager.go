package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const defaultOpTimeout = 15 * time.Second

// Manager is the only component that mutates a Store and a tab's Pointer.
// Operations are serialized per Manager; projection reads never wait for
// network I/O.
type Manager struct {
	store    Store
	pointer  Pointer
	backend  Backend
	notifier Notifier
	logger   *zap.Logger
	tabID    string
	now      func() time.Time
	timeout  time.Duration

	opMu sync.Mutex

	mu          sync.RWMutex
	state       State
	current     *Record
	persisted   bool
	initialized bool
	lastErr     error
	sessions    []SessionSummary

	subs subscribers
}

type Option func(*Manager)

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithNotifier announces destroyed records to other tabs and lets Watch
// react to theirs.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithTimeout bounds every operation, network calls included. Zero disables
// the bound.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithTabID names the tab in logs and in published events.
func WithTabID(id string) Option {
	return func(m *Manager) {
		if id != "" {
			m.tabID = id
		}
	}
}

func NewManager(store Store, pointer Pointer, backend Backend, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		pointer: pointer,
		backend: backend,
		logger:  zap.NewNop(),
		tabID:   ulid.Make().String(),
		now:     func() time.Time { return time.Now().UTC() },
		timeout: defaultOpTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("session.manager").With(zap.String("tab", m.tabID))
	return m
}

// TabID identifies this Manager in published events.
func (m *Manager) TabID() string {
	return m.tabID
}

// Login authenticates against the backend and makes the new identity the
// tab's current session. Every call mints a new record, even for a user who
// already has one. On failure the tab returns to its prior state.
func (m *Manager) Login(ctx context.Context, creds Credentials) (*Record, error) {
	return m.authenticate(ctx, "login", func(ctx context.Context) (*LoginResult, error) {
		res, err := m.backend.Login(ctx, creds)
		if errors.Is(err, ErrUnauthorized) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		return res, err
	})
}

// Register creates an account and logs it in the same way Login does.
func (m *Manager) Register(ctx context.Context, reg Registration) (*Record, error) {
	return m.authenticate(ctx, "register", func(ctx context.Context) (*LoginResult, error) {
		return m.backend.Register(ctx, reg)
	})
}

// SimulateSession installs already-issued tokens as a new session without
// contacting the backend.
func (m *Manager) SimulateSession(ctx context.Context, tokens Tokens, user *User) (*Record, error) {
	if tokens.Access == "" {
		return nil, errors.New("simulated session needs an access token")
	}
	return m.authenticate(ctx, "simulate", func(context.Context) (*LoginResult, error) {
		return &LoginResult{Tokens: tokens, User: user.Clone()}, nil
	})
}

func (m *Manager) authenticate(ctx context.Context, op string, call func(context.Context) (*LoginResult, error)) (*Record, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	ctx, cancel := m.opContext(ctx)
	defer cancel()

	m.mu.RLock()
	prevState, prev, prevPersisted := m.state, m.current, m.persisted
	m.mu.RUnlock()

	m.transition(Authenticating)

	res, err := call(ctx)
	if err == nil && (res == nil || res.Access == "") {
		err = fmt.Errorf("%s returned no access token", op)
	}
	if err != nil {
		m.logger.Info(op+" failed", zap.Error(err))
		m.settle(ctx, prevState, prev, prevPersisted, err)
		return nil, err
	}

	now := m.now()
	id, err := NewSessionID(now)
	if err != nil {
		err = fmt.Errorf("failed to mint session id: %w", err)
		m.settle(ctx, prevState, prev, prevPersisted, err)
		return nil, err
	}

	rec := &Record{
		SessionID:    id,
		AccessToken:  res.Access,
		RefreshToken: res.Refresh,
		User:         res.User.Clone(),
		CreatedAt:    now,
	}
	persisted := m.persist(ctx, rec)

	m.logger.Info("session created",
		zap.String("op", op),
		zap.String("session_id", id),
		zap.Bool("persisted", persisted),
	)
	m.settle(ctx, Authenticated, rec, persisted, nil)
	return rec.Clone(), nil
}

// persist writes rec and points the tab at it. It reports whether the record
// is stored. When either write fails the pointer is cleared, so a reload never
// restores a session other than the one the tab is using.
func (m *Manager) persist(ctx context.Context, rec *Record) bool {
	if err := m.store.Put(ctx, rec); err != nil {
		m.logger.Warn("session not persisted", zap.String("session_id", rec.SessionID), zap.Error(err))
		m.resetPointer(ctx)
		return false
	}
	if err := m.pointer.Set(ctx, rec.SessionID); err != nil {
		m.logger.Warn("failed to set active session pointer", zap.String("session_id", rec.SessionID), zap.Error(err))
		m.resetPointer(ctx)
	}
	return true
}

// Logout destroys the tab's current record, clears its pointer and revokes
// the backend session on a best-effort basis. It is a no-op when the tab
// holds no session.
func (m *Manager) Logout(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	ctx, cancel := m.opContext(ctx)
	defer cancel()

	cur, _ := m.currentRecord()
	if cur == nil {
		id, ok := m.pointer.Get(ctx)
		if !ok {
			return nil
		}
		cur, _ = m.store.Get(ctx, id)
		if cur == nil {
			cur = &Record{SessionID: id}
		}
	}

	m.destroy(ctx, cur.SessionID)
	if cur.RefreshToken != "" {
		if err := m.backend.Logout(ctx, cur.RefreshToken); err != nil {
			m.logger.Warn("backend logout failed", zap.String("session_id", cur.SessionID), zap.Error(err))
		}
	}

	m.logger.Info("logged out", zap.String("session_id", cur.SessionID))
	m.settle(ctx, Unauthenticated, nil, false, nil)
	return nil
}

// Refresh exchanges the current refresh token for a new access token. Any
// failure drops the session everywhere and returns ErrTokenExpired.
func (m *Manager) Refresh(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	ctx, cancel := m.opContext(ctx)
	defer cancel()

	return m.refreshLocked(ctx)
}

func (m *Manager) refreshLocked(ctx context.Context) error {
	cur, persisted := m.currentRecord()
	if cur == nil {
		return ErrNotAuthenticated
	}

	if persisted {
		if _, ok := m.store.Get(ctx, cur.SessionID); !ok {
			return m.lost(ctx, cur.SessionID)
		}
	}

	tokens, err := m.backend.Refresh(ctx, cur.RefreshToken)
	if err != nil {
		m.logger.Info("refresh failed, dropping session", zap.String("session_id", cur.SessionID), zap.Error(err))
		m.destroy(ctx, cur.SessionID)
		err = fmt.Errorf("%w: %w", ErrTokenExpired, err)
		m.settle(ctx, Unauthenticated, nil, false, err)
		return err
	}

	next := cur.Clone()
	setTokens(next, tokens)
	if persisted {
		stored, err := m.update(ctx, cur.SessionID, func(r *Record) error {
			setTokens(r, tokens)
			return nil
		})
		switch {
		case errors.Is(err, ErrSessionNotFound):
			return m.lost(ctx, cur.SessionID)
		case err != nil:
			m.logger.Warn("refreshed tokens not persisted", zap.String("session_id", cur.SessionID), zap.Error(err))
			persisted = false
		default:
			next = stored
		}
	}

	m.settle(ctx, Authenticated, next, persisted, nil)
	return nil
}

func setTokens(r *Record, t Tokens) {
	r.AccessToken = t.Access
	if t.Refresh != "" {
		r.RefreshToken = t.Refresh
	}
}

// RestoreAtBoot re-establishes the tab's session from its pointer. A missing
// pointer or an unusable record leaves the tab unauthenticated without an
// error. A record without a cached user gets its profile fetched; if that
// fails the session is dropped.
func (m *Manager) RestoreAtBoot(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	ctx, cancel := m.opContext(ctx)
	defer cancel()

	m.transition(Restoring)

	id, ok := m.pointer.Get(ctx)
	if !ok {
		m.settle(ctx, Unauthenticated, nil, false, nil)
		return nil
	}

	rec, ok := m.store.Get(ctx, id)
	if !ok {
		m.logger.Info("active session pointer references no usable record", zap.String("session_id", id))
		m.clearPointer(ctx, id)
		m.settle(ctx, Unauthenticated, nil, false, nil)
		return nil
	}

	persisted := true
	if rec.User == nil {
		var err error
		rec, persisted, err = m.loadProfile(ctx, rec, persisted)
		if err != nil {
			m.settle(ctx, Unauthenticated, nil, false, err)
			return err
		}
	}

	m.settle(ctx, Authenticated, rec, persisted, nil)
	return nil
}

// SwitchTo points the tab at another stored session. An unknown id returns
// ErrSessionNotFound and leaves the tab untouched.
func (m *Manager) SwitchTo(ctx context.Context, sessionID string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	ctx, cancel := m.opContext(ctx)
	defer cancel()

	rec, ok := m.store.Get(ctx, sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	// The record is stored whether or not the pointer follows.
	if err := m.pointer.Set(ctx, sessionID); err != nil {
		m.logger.Warn("failed to move active session pointer", zap.String("session_id", sessionID), zap.Error(err))
		m.resetPointer(ctx)
	}

	m.logger.Info("switched session", zap.String("session_id", sessionID))
	m.settle(ctx, Authenticated, rec, true, nil)
	return nil
}

// ListSessions reads every stored session at call time.
func (m *Manager) ListSessions(ctx context.Context) []SessionSummary {
	ctx, cancel := m.opContext(ctx)
	defer cancel()

	cur, _ := m.currentRecord()
	var currentID string
	if cur != nil {
		currentID = cur.SessionID
	}
	return m.listSessions(ctx, currentID)
}

// listSessions flags currentID, or the pointer's target when currentID is empty.
func (m *Manager) listSessions(ctx context.Context, currentID string) []SessionSummary {
	if currentID == "" {
		currentID, _ = m.pointer.Get(ctx)
	}

	out := []SessionSummary{}
	for rec := range m.store.All(ctx) {
		s := SessionSummary{
			SessionID: rec.SessionID,
			User:      rec.User,
			CreatedAt: rec.CreatedAt,
			IsCurrent: rec.SessionID == currentID,
		}
		if rec.User != nil {
			s.Role = rec.User.Role
		}
		out = append(out, s)
	}
	return out
}

// FetchProfile reloads the current user from the backend. A rejected access
// token is refreshed once; a final failure drops the session and returns
// ErrProfileFetchFailed.
func (m *Manager) FetchProfile(ctx context.Context) (*User, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	ctx, cancel := m.opContext(ctx)
	defer cancel()

	cur, persisted := m.currentRecord()
	if cur == nil {
		return nil, ErrNotAuthenticated
	}

	rec, persisted, err := m.loadProfile(ctx, cur, persisted)
	if err != nil {
		m.settle(ctx, Unauthenticated, nil, false, err)
		return nil, err
	}

	m.settle(ctx, Authenticated, rec, persisted, nil)
	return rec.User.Clone(), nil
}

func (m *Manager) loadProfile(ctx context.Context, rec *Record, persisted bool) (*Record, bool, error) {
	next := rec.Clone()
	user, err := m.backend.Me(ctx, next.AccessToken)
	if errors.Is(err, ErrUnauthorized) {
		var tokens Tokens
		if tokens, err = m.backend.Refresh(ctx, next.RefreshToken); err == nil {
			setTokens(next, tokens)
			user, err = m.backend.Me(ctx, next.AccessToken)
		}
	}
	if err == nil && user == nil {
		err = errors.New("empty profile")
	}
	if err != nil {
		m.logger.Info("profile fetch failed, dropping session", zap.String("session_id", rec.SessionID), zap.Error(err))
		m.destroy(ctx, rec.SessionID)
		return nil, false, fmt.Errorf("%w: %w", ErrProfileFetchFailed, err)
	}
	next.User = user.Clone()

	if !persisted {
		return next, false, nil
	}
	stored, err := m.update(ctx, rec.SessionID, func(r *Record) error {
		r.AccessToken = next.AccessToken
		r.RefreshToken = next.RefreshToken
		r.User = user.Clone()
		return nil
	})
	switch {
	case errors.Is(err, ErrSessionNotFound):
		m.clearPointer(ctx, rec.SessionID)
		return nil, false, err
	case err != nil:
		m.logger.Warn("profile not persisted", zap.String("session_id", rec.SessionID), zap.Error(err))
		return next, false, nil
	}
	return stored, true, nil
}

// UpdateProfile changes the current user's profile and caches the result.
func (m *Manager) UpdateProfile(ctx context.Context, upd ProfileUpdate) (*User, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	ctx, cancel := m.opContext(ctx)
	defer cancel()

	var user *User
	err := m.withAccess(ctx, func(ctx context.Context, access string) error {
		var err error
		user, err = m.backend.UpdateProfile(ctx, access, upd)
		return err
	})
	if err != nil {
		return nil, err
	}

	cur, persisted := m.currentRecord()
	next := cur.Clone()
	next.User = user.Clone()
	if persisted {
		stored, err := m.update(ctx, cur.SessionID, func(r *Record) error {
			r.User = user.Clone()
			return nil
		})
		switch {
		case errors.Is(err, ErrSessionNotFound):
			return nil, m.lost(ctx, cur.SessionID)
		case err != nil:
			m.logger.Warn("profile not persisted", zap.String("session_id", cur.SessionID), zap.Error(err))
			persisted = false
		default:
			next = stored
		}
	}

	m.settle(ctx, Authenticated, next, persisted, nil)
	return user.Clone(), nil
}

// DeleteAccount deletes the current user on the backend and drops the session.
func (m *Manager) DeleteAccount(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	ctx, cancel := m.opContext(ctx)
	defer cancel()

	err := m.withAccess(ctx, func(ctx context.Context, access string) error {
		return m.backend.DeleteUser(ctx, access)
	})
	if err != nil {
		return err
	}

	cur, _ := m.currentRecord()
	m.destroy(ctx, cur.SessionID)
	m.logger.Info("account deleted", zap.String("session_id", cur.SessionID))
	m.settle(ctx, Unauthenticated, nil, false, nil)
	return nil
}

// withAccess calls fn with the current access token, refreshing once when
// the backend rejects it.
func (m *Manager) withAccess(ctx context.Context, fn func(ctx context.Context, access string) error) error {
	cur, _ := m.currentRecord()
	if cur == nil {
		return ErrNotAuthenticated
	}

	err := fn(ctx, cur.AccessToken)
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}
	if err := m.refreshLocked(ctx); err != nil {
		return err
	}

	cur, _ = m.currentRecord()
	return fn(ctx, cur.AccessToken)
}

// Watch applies removal events from other tabs until ctx is done. A tab
// whose current session was removed elsewhere becomes unauthenticated.
// Watch returns immediately when the Manager has no Notifier.
func (m *Manager) Watch(ctx context.Context) error {
	if m.notifier == nil {
		return nil
	}

	events, err := m.notifier.Subscribe(ctx)
	if err != nil {
		return err
	}

	for ev := range events {
		if ev.Kind != EventRemoved || ev.Origin == m.tabID {
			continue
		}
		m.applyRemoval(ctx, ev.SessionID)
	}
	return ctx.Err()
}

func (m *Manager) applyRemoval(ctx context.Context, sessionID string) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	ctx, cancel := m.opContext(ctx)
	defer cancel()

	cur, persisted := m.currentRecord()
	if cur != nil && cur.SessionID == sessionID {
		m.logger.Info("current session removed by another tab", zap.String("session_id", sessionID))
		m.clearPointer(ctx, sessionID)
		m.settle(ctx, Unauthenticated, nil, false, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID))
		return
	}

	m.clearPointer(ctx, sessionID)
	m.mu.RLock()
	state, lastErr := m.state, m.lastErr
	m.mu.RUnlock()
	m.settle(ctx, state, cur, persisted, lastErr)
}

// lost handles a current record that vanished from the store: the tab
// drops it without touching the store.
func (m *Manager) lost(ctx context.Context, sessionID string) error {
	m.logger.Info("current session no longer stored", zap.String("session_id", sessionID))
	m.clearPointer(ctx, sessionID)
	err := fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	m.settle(ctx, Unauthenticated, nil, false, err)
	return err
}

// update wraps Store.Update and returns the record as written.
func (m *Manager) update(ctx context.Context, sessionID string, fn func(*Record) error) (*Record, error) {
	var written *Record
	err := m.store.Update(ctx, sessionID, func(r *Record) error {
		if err := fn(r); err != nil {
			return err
		}
		written = r.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return written, nil
}

// destroy removes a record, clears the pointer if it references that record
// and tells other tabs. It runs to completion even if ctx has been cancelled.
func (m *Manager) destroy(ctx context.Context, sessionID string) {
	ctx, cancel := m.cleanupContext(ctx)
	defer cancel()

	if err := m.store.Remove(ctx, sessionID); err != nil {
		m.logger.Warn("failed to remove session record", zap.String("session_id", sessionID), zap.Error(err))
	}
	m.clearPointer(ctx, sessionID)
	if m.notifier != nil {
		ev := Event{Kind: EventRemoved, SessionID: sessionID, Origin: m.tabID}
		if err := m.notifier.Publish(ctx, ev); err != nil {
			m.logger.Warn("failed to announce removed session", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
}

// clearPointer clears the pointer if it still references sessionID.
func (m *Manager) clearPointer(ctx context.Context, sessionID string) {
	ctx, cancel := m.cleanupContext(ctx)
	defer cancel()

	if id, ok := m.pointer.Get(ctx); !ok || id != sessionID {
		return
	}
	if err := m.pointer.Clear(ctx); err != nil {
		m.logger.Warn("failed to clear active session pointer", zap.Error(err))
	}
}

// resetPointer clears the pointer after it failed to follow the tab.
func (m *Manager) resetPointer(ctx context.Context) {
	ctx, cancel := m.cleanupContext(ctx)
	defer cancel()

	if err := m.pointer.Clear(ctx); err != nil {
		m.logger.Warn("failed to clear active session pointer", zap.Error(err))
	}
}

func (m *Manager) currentRecord() (*Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone(), m.persisted
}

// transition enters an in-flight state and publishes it.
func (m *Manager) transition(state State) {
	m.mu.Lock()
	m.state = state
	m.lastErr = nil
	p := project(m.snapshotLocked())
	m.mu.Unlock()

	m.subs.publish(p)
}

// settle commits the outcome of an operation and publishes it.
func (m *Manager) settle(ctx context.Context, state State, rec *Record, persisted bool, err error) {
	ctx, cancel := m.cleanupContext(ctx)
	defer cancel()

	var currentID string
	if rec != nil {
		currentID = rec.SessionID
	}
	sessions := m.listSessions(ctx, currentID)

	m.mu.Lock()
	m.state = state
	m.current = rec.Clone()
	m.persisted = persisted && rec != nil
	m.initialized = true
	m.lastErr = err
	m.sessions = sessions
	p := project(m.snapshotLocked())
	m.mu.Unlock()

	m.subs.publish(p)
}

func (m *Manager) snapshotLocked() snapshot {
	return snapshot{
		state:       m.state,
		current:     m.current,
		persisted:   m.persisted,
		initialized: m.initialized,
		err:         m.lastErr,
		sessions:    m.sessions,
	}
}

// Projection returns a copy of the tab's current auth state.
func (m *Manager) Projection() Projection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return project(m.snapshotLocked())
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Subscribe registers fn to receive every projection published after a
// transition. fn runs synchronously on the goroutine of the operation and
// must not call back into mutating Manager methods.
func (m *Manager) Subscribe(fn func(Projection)) (unsubscribe func()) {
	return m.subs.add(fn)
}

func (m *Manager) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.timeout)
}

func (m *Manager) cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return m.opContext(context.WithoutCancel(ctx))
}
