package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	goauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/taskdeck/taskdeck/internal/logging"
	"github.com/taskdeck/taskdeck/internal/platform"
)

// GoogleAuthenticator implements the federated consent flow against
// Google. It requests profile and email scopes and forces the account
// chooser on every call, then exchanges the authorization code for a
// provider access token the platform can verify.
//
// The flow listens on an ephemeral localhost port for the redirect. If
// the user never completes consent and the context is cancelled, the
// flow fails with ErrFlowAbandoned.
type GoogleAuthenticator struct {
	clientID     string
	clientSecret string
	logger       *slog.Logger

	// openURL presents the consent URL to the user. Defaults to printing
	// the URL to stdout.
	openURL func(url string) error
}

// GoogleOption configures a GoogleAuthenticator.
type GoogleOption func(*GoogleAuthenticator)

// WithOpenURL sets how the consent URL is presented to the user.
func WithOpenURL(fn func(url string) error) GoogleOption {
	return func(g *GoogleAuthenticator) {
		g.openURL = fn
	}
}

// WithGoogleLogger sets the structured logger for the authenticator.
func WithGoogleLogger(logger *slog.Logger) GoogleOption {
	return func(g *GoogleAuthenticator) {
		g.logger = logger
	}
}

// NewGoogleAuthenticator creates a federated authenticator for the given
// OAuth client.
func NewGoogleAuthenticator(clientID, clientSecret string, opts ...GoogleOption) (*GoogleAuthenticator, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("google client id and secret are required")
	}

	g := &GoogleAuthenticator{
		clientID:     clientID,
		clientSecret: clientSecret,
		logger:       slog.Default(),
		openURL: func(url string) error {
			fmt.Printf("Visit the following URL to sign in with Google:\n\n%s\n\n", url)
			return nil
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

var _ Federated = (*GoogleAuthenticator)(nil)

// Authenticate runs the consent flow and returns the provider credential.
func (g *GoogleAuthenticator) Authenticate(ctx context.Context) (*FederatedCredential, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to open redirect listener: %w", err)
	}
	defer listener.Close()

	conf := &oauth2.Config{
		ClientID:     g.clientID,
		ClientSecret: g.clientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  fmt.Sprintf("http://%s/callback", listener.Addr().String()),
		Scopes: []string{
			goauth2.UserinfoProfileScope,
			goauth2.UserinfoEmailScope,
		},
	}

	state, err := randomState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	// prompt=select_account forces the account chooser on every call
	authURL := conf.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))

	codes := make(chan string, 1)
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("state") != state {
				http.Error(w, "state mismatch", http.StatusBadRequest)
				return
			}
			code := r.URL.Query().Get("code")
			if code == "" {
				// The user declined consent
				fmt.Fprint(w, "Sign-in was cancelled. You can close this window.")
				return
			}
			fmt.Fprint(w, "Signed in. You can close this window.")
			select {
			case codes <- code:
			default:
			}
		}),
	}
	go srv.Serve(listener)
	defer srv.Close()

	if err := g.openURL(authURL); err != nil {
		return nil, fmt.Errorf("failed to present consent URL: %w", err)
	}

	var code string
	select {
	case code = <-codes:
	case <-ctx.Done():
		// The user walked away without completing consent
		return nil, ErrFlowAbandoned
	}

	token, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange auth code: %w", err)
	}

	profile, err := g.fetchProfile(ctx, conf, token)
	if err != nil {
		g.logger.Warn("failed to fetch provider profile", logging.Err(err))
		profile = platform.UserInfo{}
	}

	return &FederatedCredential{
		ProviderToken: token.AccessToken,
		Profile:       profile,
	}, nil
}

// fetchProfile resolves the provider profile (email, display name, photo)
// for the freshly issued token.
func (g *GoogleAuthenticator) fetchProfile(ctx context.Context, conf *oauth2.Config, token *oauth2.Token) (platform.UserInfo, error) {
	svc, err := goauth2.NewService(ctx, option.WithTokenSource(conf.TokenSource(ctx, token)))
	if err != nil {
		return platform.UserInfo{}, fmt.Errorf("failed to create userinfo service: %w", err)
	}

	info, err := svc.Userinfo.Get().Do()
	if err != nil {
		return platform.UserInfo{}, fmt.Errorf("failed to fetch userinfo: %w", err)
	}

	return platform.UserInfo{
		ID:          info.Id,
		Email:       info.Email,
		DisplayName: info.Name,
		PhotoURL:    info.Picture,
	}, nil
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
