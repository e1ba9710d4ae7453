package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/taskdeck/taskdeck/internal/instrumentation"
	"github.com/taskdeck/taskdeck/internal/platform"
	"github.com/taskdeck/taskdeck/internal/prefs"
	"github.com/taskdeck/taskdeck/internal/session"
	"github.com/taskdeck/taskdeck/internal/tasks"
)

// BackendFactory builds a platform backend bound to a credential source.
// The token func returns the ID token of the owning session, or empty
// when no session is established yet. The REST backend threads it into
// every store path operation; the memory backend uses it for path
// authorization.
type BackendFactory func(tokenFunc func() string) platform.Backend

// SharedBackend adapts a single shared backend (typically the in-memory
// development backend) into a BackendFactory.
func SharedBackend(backend platform.Backend) BackendFactory {
	return func(func() string) platform.Backend {
		return backend
	}
}

// UserSession bundles the per-user state the API surface operates on: the
// session store plus the task view-model scoped to it.
type UserSession struct {
	Store *session.Store
	Tasks *tasks.ViewModel

	ctx    context.Context
	cancel context.CancelFunc
}

// Context returns a context that ends when the session is closed, whether
// by sign-out, registry expiry, or server shutdown. Live subscriptions
// opened on behalf of the session must derive from it so they are released
// together with the session.
func (u *UserSession) Context() context.Context {
	if u.ctx == nil {
		return context.Background()
	}
	return u.ctx
}

// Close releases the session's live resources. Any subscription derived
// from Context stops delivering snapshots.
func (u *UserSession) Close() {
	if u.cancel != nil {
		u.cancel()
	}
}

// ServerContext holds the context for the taskdeck server
type ServerContext struct {
	ctx        context.Context
	cancel     context.CancelFunc
	newBackend BackendFactory
	federated  session.Federated
	registry   *SessionRegistry
	prefs      *prefs.Store
	metrics    *instrumentation.Metrics
	logger     *slog.Logger
	mu         sync.RWMutex
	shutdown   bool
}

// ContextOption configures a ServerContext.
type ContextOption func(*ServerContext)

// WithFederated sets the federated authenticator used for Google sign-in.
func WithFederated(f session.Federated) ContextOption {
	return func(sc *ServerContext) {
		sc.federated = f
	}
}

// WithPrefs sets the preference store served by the prefs endpoints.
func WithPrefs(store *prefs.Store) ContextOption {
	return func(sc *ServerContext) {
		sc.prefs = store
	}
}

// WithMetrics sets the metrics recorder used by the API surface.
func WithMetrics(m *instrumentation.Metrics) ContextOption {
	return func(sc *ServerContext) {
		sc.metrics = m
	}
}

// WithContextLogger sets the structured logger.
func WithContextLogger(logger *slog.Logger) ContextOption {
	return func(sc *ServerContext) {
		sc.logger = logger
	}
}

// NewServerContext creates a new server context
func NewServerContext(ctx context.Context, newBackend BackendFactory, opts ...ContextOption) (*ServerContext, error) {
	shutdownCtx, cancel := context.WithCancel(ctx)

	sc := &ServerContext{
		ctx:        shutdownCtx,
		cancel:     cancel,
		newBackend: newBackend,
		logger:     slog.Default(),
		shutdown:   false,
	}
	for _, opt := range opts {
		opt(sc)
	}

	sc.registry = NewSessionRegistryWithLogger(DefaultSessionTimeout, sc.logger)

	return sc, nil
}

// Context returns the server context
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Registry returns the bearer-token session registry.
func (sc *ServerContext) Registry() *SessionRegistry {
	return sc.registry
}

// Prefs returns the preference store, or nil when none is configured.
func (sc *ServerContext) Prefs() *prefs.Store {
	return sc.prefs
}

// Metrics returns the metrics recorder, or nil when instrumentation is
// not configured.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	return sc.metrics
}

// Logger returns the structured logger.
func (sc *ServerContext) Logger() *slog.Logger {
	return sc.logger
}

// NewUserSession builds a fresh per-user session bundle. The backend it
// creates draws its credential from the session store, so store path
// operations are authorized as soon as the user signs in.
func (sc *ServerContext) NewUserSession() *UserSession {
	var store *session.Store

	backend := sc.newBackend(func() string {
		if store == nil {
			return ""
		}
		return store.IDToken()
	})

	storeOpts := []session.StoreOption{session.WithLogger(sc.logger)}
	if sc.federated != nil {
		storeOpts = append(storeOpts, session.WithFederated(sc.federated))
	}
	store = session.NewStore(backend, storeOpts...)

	// A fresh server-side session carries no cached credential; settle
	// the absent state so guard decisions resolve immediately.
	store.Resolve(sc.ctx)

	ctx, cancel := context.WithCancel(sc.ctx)
	return &UserSession{
		Store:  store,
		Tasks:  tasks.NewViewModel(backend, store, tasks.WithLogger(sc.logger)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown shuts down the server context
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.shutdown = true
	sc.cancel()
	if sc.registry != nil {
		sc.registry.Stop()
	}
	return nil
}
