package platform

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// defaultIdentityURL is the base URL of the platform's identity endpoints.
const defaultIdentityURL = "https://identitytoolkit.googleapis.com/v1"

// Client talks to a Firebase-compatible backend over its REST surfaces.
// It implements both the Identity and Database interfaces.
type Client struct {
	cfg          Config
	identityURL  string
	httpClient   *http.Client
	streamClient *http.Client
	tokenFn      func() string
	logger       *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for request/response calls.
// Event streams use a separate client without an overall request timeout;
// see WithStreamHTTPClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithStreamHTTPClient sets the HTTP client used for event streams.
func WithStreamHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.streamClient = hc
	}
}

// WithTokenFunc sets the function that supplies the current user ID token.
// Database requests attach the token for path authorization; an empty
// return means the request is sent unauthenticated.
func WithTokenFunc(fn func() string) Option {
	return func(c *Client) {
		c.tokenFn = fn
	}
}

// WithLogger sets the structured logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithIdentityURL overrides the identity endpoint base URL.
func WithIdentityURL(url string) Option {
	return func(c *Client) {
		c.identityURL = url
	}
}

// NewClient creates a platform client for the given connection credentials.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to create platform client: %w", err)
	}

	c := &Client{
		cfg:          cfg,
		identityURL:  defaultIdentityURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		streamClient: newStreamHTTPClient(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// newStreamHTTPClient builds the client used for event streams. A healthy
// stream stays open indefinitely, so only connection establishment and the
// response header are bounded; an overall request timeout would cut the
// stream off mid-read.
func newStreamHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}
}

// token returns the current user ID token, or empty when no user is
// signed in.
func (c *Client) token() string {
	if c.tokenFn == nil {
		return ""
	}
	return c.tokenFn()
}

var _ Backend = (*Client)(nil)
