package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/condogate/condogate/internal/authz"
	"github.com/condogate/condogate/internal/shared"
)

// State is the session lifecycle state. A manager starts UNKNOWN and
// leaves it on the first Resolve; it never returns to UNKNOWN.
type State int

const (
	StateUnknown State = iota
	StateAnonymous
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Manager drives the session state machine for a client application:
// restore on startup, login, silent refresh, and logout. All methods
// are safe for concurrent use.
type Manager struct {
	logger *slog.Logger
	api    API
	store  Store
	group  singleflight.Group

	mu    sync.RWMutex
	state State
	actor *authz.Actor

	now func() time.Time
}

// NewManager builds Manager instance.
func NewManager(logger *slog.Logger, api API, store Store) *Manager {
	return &Manager{logger: logger, api: api, store: store, state: StateUnknown, now: time.Now}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Actor returns the authenticated actor, nil when anonymous.
func (m *Manager) Actor() *authz.Actor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.actor
}

// Resolve settles the UNKNOWN state from the stored token record. It
// always lands on ANONYMOUS or AUTHENTICATED: a stored pair that can
// neither validate nor refresh is cleared and the session is anonymous.
// Only a network failure on the initial probe keeps the record, since
// nothing was learned about the pair; a failed refresh always clears.
func (m *Manager) Resolve(ctx context.Context) error {
	_, err, _ := m.group.Do("resolve", func() (any, error) {
		return nil, m.resolve(ctx)
	})
	return err
}

func (m *Manager) resolve(ctx context.Context) error {
	record, ok, err := m.store.Load()
	if err != nil || !ok {
		m.setAnonymous()
		return err
	}

	fresh, known := tokenFresh(record.Access, m.now())
	if known && fresh && record.User != nil {
		// A locally unexpired access token with a cached actor settles
		// the session without touching the network, so the app starts
		// authenticated even offline.
		m.setAuthenticated(record.User)
		return nil
	}
	if known && !fresh {
		return m.refreshAndRestore(ctx, record)
	}

	actor, err := m.api.CurrentUser(ctx, record.Access)
	if err == nil {
		record.User = actor
		if err := m.store.Save(record); err != nil {
			m.logger.Warn("session store save failed", slog.Any("error", err))
		}
		m.setAuthenticated(actor)
		return nil
	}
	if errors.Is(err, ErrNetworkUnavailable) {
		m.setAnonymous()
		return err
	}
	if !errors.Is(err, shared.ErrSessionExpired) {
		m.clearToAnonymous()
		return err
	}
	return m.refreshAndRestore(ctx, record)
}

// refreshAndRestore trades the refresh token for a new access token.
// Any failure here, network errors included, fails closed: the pair
// is dropped and the session is anonymous. On success the cached
// actor is kept; only a record without one costs a profile fetch.
func (m *Manager) refreshAndRestore(ctx context.Context, record Record) error {
	access, err := m.api.RefreshAccess(ctx, record.Refresh)
	if err != nil {
		m.clearToAnonymous()
		if errors.Is(err, ErrNetworkUnavailable) {
			return err
		}
		return nil
	}
	record.Access = access
	if record.User != nil {
		if err := m.store.Save(record); err != nil {
			m.logger.Warn("session store save failed", slog.Any("error", err))
		}
		m.setAuthenticated(record.User)
		return nil
	}
	actor, err := m.api.CurrentUser(ctx, access)
	if err != nil {
		m.clearToAnonymous()
		return nil
	}
	record.User = actor
	if err := m.store.Save(record); err != nil {
		m.logger.Warn("session store save failed", slog.Any("error", err))
	}
	m.setAuthenticated(actor)
	return nil
}

// tokenFresh reports whether the access token's exp claim lies in the
// future, with the same inclusive boundary the server applies. The
// signature is deliberately not checked; only the server can. An
// undecodable token reports known=false and the server gets the
// verdict.
func tokenFresh(token string, now time.Time) (fresh, known bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false, false
	}
	if claims.ExpiresAt == nil {
		return false, false
	}
	return now.UTC().Before(claims.ExpiresAt.Time), true
}

// Login authenticates and replaces the session. Concurrent calls with
// the same credentials collapse into a single server request.
func (m *Manager) Login(ctx context.Context, creds Credentials) (*authz.Actor, error) {
	v, err, _ := m.group.Do("login:"+creds.Username, func() (any, error) {
		result, err := m.api.Login(ctx, creds)
		if err != nil {
			return nil, err
		}
		if err := m.store.Save(Record{Access: result.Access, Refresh: result.Refresh, User: result.User}); err != nil {
			m.logger.Warn("session store save failed", slog.Any("error", err))
		}
		m.setAuthenticated(result.User)
		return result.User, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*authz.Actor), nil
}

// Logout revokes the refresh token on the server and clears local
// state. Local state is cleared even when the server call fails; a
// logout never leaves the session authenticated.
func (m *Manager) Logout(ctx context.Context) error {
	record, ok, _ := m.store.Load()
	var err error
	if ok {
		if err = m.api.Logout(ctx, record.Refresh); err != nil {
			m.logger.Warn("server logout failed", slog.Any("error", err))
		}
	}
	m.clearToAnonymous()
	return err
}

// RefreshUser re-fetches the actor, e.g. after a role change. It is a
// no-op unless the session is authenticated. A 401 invalidates the
// session; a 403 or network failure leaves it intact.
func (m *Manager) RefreshUser(ctx context.Context) (*authz.Actor, error) {
	if m.State() != StateAuthenticated {
		return nil, nil
	}
	record, ok, err := m.store.Load()
	if err != nil || !ok {
		return nil, shared.ErrSessionExpired
	}
	actor, err := m.api.CurrentUser(ctx, record.Access)
	if err != nil {
		if errors.Is(err, shared.ErrSessionExpired) {
			m.clearToAnonymous()
		}
		return nil, err
	}
	record.User = actor
	if err := m.store.Save(record); err != nil {
		m.logger.Warn("session store save failed", slog.Any("error", err))
	}
	m.setAuthenticated(actor)
	return actor, nil
}

// AccessToken returns the stored access token for authorized calls.
func (m *Manager) AccessToken() (string, bool) {
	record, ok, err := m.store.Load()
	if err != nil || !ok {
		return "", false
	}
	return record.Access, true
}

func (m *Manager) setAuthenticated(actor *authz.Actor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateAuthenticated
	m.actor = actor
}

func (m *Manager) setAnonymous() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateAnonymous
	m.actor = nil
}

func (m *Manager) clearToAnonymous() {
	if err := m.store.Clear(); err != nil {
		m.logger.Warn("session store clear failed", slog.Any("error", err))
	}
	m.setAnonymous()
}
