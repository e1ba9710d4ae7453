package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/taskdeck/taskdeck/internal/logging"
	"github.com/taskdeck/taskdeck/internal/platform"
)

// FederatedCredential is the result of a completed federated consent flow.
type FederatedCredential struct {
	// ProviderToken is the provider access token to exchange with the
	// platform
	ProviderToken string

	// Profile is the provider profile, used for logging and for backends
	// that cannot resolve the token themselves
	Profile platform.UserInfo
}

// Federated runs a federated consent flow and returns the provider
// credential. Implementations must return ErrFlowAbandoned when the user
// walks away from the consent flow without completing it.
type Federated interface {
	Authenticate(ctx context.Context) (*FederatedCredential, error)
}

// ErrFlowAbandoned is returned by Federated implementations when the user
// abandons the consent flow.
var ErrFlowAbandoned = errors.New("consent flow abandoned")

// Store holds the authenticated identity or its absence.
type Store struct {
	identity  platform.Identity
	federated Federated
	cache     *TokenCache
	logger    *slog.Logger

	mu        sync.RWMutex
	current   *Session
	idToken   string
	resolved  bool
	listeners map[int]ListenerFunc
	nextID    int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithFederated sets the federated authenticator used by SignInWithProvider.
func WithFederated(f Federated) StoreOption {
	return func(s *Store) {
		s.federated = f
	}
}

// WithTokenCache sets the durable credential cache used to restore the
// session across restarts.
func WithTokenCache(cache *TokenCache) StoreOption {
	return func(s *Store) {
		s.cache = cache
	}
}

// WithLogger sets the structured logger for the store.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a session store over the given identity surface. The
// store starts unresolved; call Resolve to settle the initial state.
func NewStore(identity platform.Identity, opts ...StoreOption) *Store {
	s := &Store{
		identity:  identity,
		logger:    slog.Default(),
		listeners: make(map[int]ListenerFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.WithService(s.logger, "session")
	return s
}

// Resolve settles the initial session state: it restores the cached
// credential if one exists and is still honored by the provider, and
// otherwise settles on the absent state. Dependent components must not
// render session-gated content before Resolve completes.
func (s *Store) Resolve(ctx context.Context) {
	logger := logging.WithOperation(s.logger, "resolve")

	var restored *Session
	var token string

	if s.cache != nil {
		if cached, err := s.cache.Load(); err == nil && cached.IDToken != "" {
			user, err := s.identity.Lookup(ctx, cached.IDToken)
			if err != nil {
				// Credential revoked or expired out-of-band; settle absent
				logger.Info("cached credential no longer honored", logging.Err(err))
				s.cache.Clear()
			} else {
				restored = sessionFromUser(user)
				token = cached.IDToken
				logger.Info("session restored", logging.UserHash(user.Email))
			}
		}
	}

	s.mu.Lock()
	s.current = restored
	s.idToken = token
	s.resolved = true
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(restored)
	}
}

// SignUp creates a new identity with the provider and establishes the
// session.
func (s *Store) SignUp(ctx context.Context, email, password string) (*Session, error) {
	creds, err := s.identity.SignUp(ctx, email, password)
	if err != nil {
		return nil, mapAuthError("signUp", err)
	}

	s.logger.Info("account created",
		logging.Operation("signUp"),
		logging.UserHash(creds.User.Email),
		logging.Status(logging.StatusSuccess))

	return s.establish(creds), nil
}

// SignIn authenticates an existing email/password identity.
func (s *Store) SignIn(ctx context.Context, email, password string) (*Session, error) {
	creds, err := s.identity.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, mapAuthError("signIn", err)
	}

	s.logger.Info("signed in",
		logging.Operation("signIn"),
		logging.UserHash(creds.User.Email),
		logging.Status(logging.StatusSuccess))

	return s.establish(creds), nil
}

// SignInWithProvider runs the federated consent flow and establishes the
// session from the provider credential. The flow requests profile and
// email scopes and forces the account chooser on every call.
func (s *Store) SignInWithProvider(ctx context.Context) (*Session, error) {
	if s.federated == nil {
		return nil, &AuthError{Op: "signInWithProvider", Code: CodeNetworkError, Err: errors.New("no federated authenticator configured")}
	}

	cred, err := s.federated.Authenticate(ctx)
	if err != nil {
		if errors.Is(err, ErrFlowAbandoned) {
			return nil, &AuthError{Op: "signInWithProvider", Code: CodePopupClosed, Err: err}
		}
		return nil, &AuthError{Op: "signInWithProvider", Code: CodeNetworkError, Err: err}
	}

	creds, err := s.identity.SignInWithIDP(ctx, cred.ProviderToken)
	if err != nil {
		return nil, mapAuthError("signInWithProvider", err)
	}

	s.logger.Info("signed in with provider",
		logging.Operation("signInWithProvider"),
		logging.UserHash(creds.User.Email),
		logging.Status(logging.StatusSuccess))

	return s.establish(creds), nil
}

// SignOut clears the session. It is idempotent: signing out while signed
// out is a no-op.
func (s *Store) SignOut(ctx context.Context) error {
	s.mu.Lock()
	wasPresent := s.current != nil
	s.current = nil
	s.idToken = ""
	s.resolved = true
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	if s.cache != nil {
		s.cache.Clear()
	}

	if wasPresent {
		s.logger.Info("signed out", logging.Operation("signOut"))
		for _, fn := range listeners {
			fn(nil)
		}
	}
	return nil
}

// OnChange registers a listener. The listener is invoked once immediately
// with the current session state (or nil for absence) and again on every
// subsequent change. The returned handle removes the listener.
func (s *Store) OnChange(fn ListenerFunc) UnsubscribeFunc {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	current := s.current
	s.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Current returns the current session, or nil when absent.
func (s *Store) Current() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Resolved reports whether the initial session state has settled.
func (s *Store) Resolved() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolved
}

// IDToken returns the platform credential for the current session, or
// empty when absent. It exists to authorize store path operations and is
// never logged.
func (s *Store) IDToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idToken
}

// establish installs the session for freshly minted credentials, persists
// them, and notifies listeners.
func (s *Store) establish(creds *platform.Credentials) *Session {
	session := sessionFromUser(&creds.User)

	s.mu.Lock()
	s.current = session
	s.idToken = creds.IDToken
	s.resolved = true
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Save(CachedCredential{
			IDToken:      creds.IDToken,
			RefreshToken: creds.RefreshToken,
		}); err != nil {
			s.logger.Warn("failed to persist credential", logging.Err(err))
		}
	}

	for _, fn := range listeners {
		fn(session)
	}
	return session
}

// snapshotListenersLocked copies the listener set for invocation outside
// the lock. Caller must hold s.mu.
func (s *Store) snapshotListenersLocked() []ListenerFunc {
	listeners := make([]ListenerFunc, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	return listeners
}

func sessionFromUser(user *platform.UserInfo) *Session {
	return &Session{
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		PhotoURL:    user.PhotoURL,
	}
}

// mapAuthError converts a platform identity error to the application
// auth taxonomy.
func mapAuthError(op string, err error) error {
	var platformErr *platform.Error
	if !errors.As(err, &platformErr) {
		return &AuthError{Op: op, Code: CodeNetworkError, Err: err}
	}

	code := CodeNetworkError
	switch platformErr.Code {
	case platform.CodeEmailExists:
		code = CodeEmailInUse
	case platform.CodeInvalidEmail:
		code = CodeInvalidEmail
	case platform.CodeWeakPassword:
		code = CodeWeakPassword
	case platform.CodeInvalidCredential:
		code = CodeInvalidCredential
	case platform.CodeEmailNotFound:
		code = CodeUserNotFound
	case platform.CodeTooManyAttempts:
		code = CodeTooManyRequests
	case platform.CodeNetwork:
		code = CodeNetworkError
	}

	return &AuthError{Op: op, Code: code, Err: err}
}
