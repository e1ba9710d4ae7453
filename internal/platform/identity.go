package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/taskdeck/taskdeck/internal/logging"
)

// credentialsResponse is the common shape of identity endpoint responses.
type credentialsResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	PhotoURL     string `json:"photoUrl"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
}

// identityErrorResponse is the error envelope returned by identity endpoints.
type identityErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SignUp creates a new email/password account with the platform.
func (c *Client) SignUp(ctx context.Context, email, password string) (*Credentials, error) {
	return c.identityCall(ctx, "signUp", "accounts:signUp", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	})
}

// SignInWithPassword authenticates an existing email/password account.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Credentials, error) {
	return c.identityCall(ctx, "signIn", "accounts:signInWithPassword", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	})
}

// SignInWithIDP exchanges a federated provider access token for platform
// credentials. The account is created on first sign-in.
func (c *Client) SignInWithIDP(ctx context.Context, providerToken string) (*Credentials, error) {
	return c.identityCall(ctx, "signInWithIDP", "accounts:signInWithIdp", map[string]any{
		"postBody":            "access_token=" + providerToken + "&providerId=google.com",
		"requestUri":          "http://localhost",
		"returnSecureToken":   true,
		"returnIdpCredential": true,
	})
}

// Lookup resolves an ID token to the account profile.
func (c *Client) Lookup(ctx context.Context, idToken string) (*UserInfo, error) {
	payload, err := json.Marshal(map[string]any{"idToken": idToken})
	if err != nil {
		return nil, fmt.Errorf("failed to encode lookup request: %w", err)
	}

	url := fmt.Sprintf("%s/accounts:lookup?key=%s", c.identityURL, c.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build lookup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Op: "lookup", Code: CodeNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, identityError("lookup", resp)
	}

	var result struct {
		Users []UserInfo `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode lookup response: %w", err)
	}
	if len(result.Users) == 0 {
		return nil, &Error{Op: "lookup", Code: CodeInvalidIDToken, Err: fmt.Errorf("no account for token")}
	}

	return &result.Users[0], nil
}

// identityCall issues a POST to an identity endpoint and decodes the
// credential response.
func (c *Client) identityCall(ctx context.Context, op, endpoint string, body map[string]any) (*Credentials, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", op, err)
	}

	url := fmt.Sprintf("%s/%s?key=%s", c.identityURL, endpoint, c.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Code: CodeNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		platformErr := identityError(op, resp)
		c.logger.Debug("identity operation failed",
			logging.Operation(op),
			logging.Err(platformErr))
		return nil, platformErr
	}

	var cr credentialsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", op, err)
	}

	return &Credentials{
		User: UserInfo{
			ID:          cr.LocalID,
			Email:       cr.Email,
			DisplayName: cr.DisplayName,
			PhotoURL:    cr.PhotoURL,
		},
		IDToken:      cr.IDToken,
		RefreshToken: cr.RefreshToken,
	}, nil
}

// identityError decodes the error envelope of a failed identity response.
// The platform reports codes as the leading token of the error message,
// sometimes followed by an explanation (e.g., "WEAK_PASSWORD : Password
// should be at least 6 characters").
func identityError(op string, resp *http.Response) *Error {
	var envelope identityErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.Error.Message == "" {
		return &Error{
			Op:   op,
			Code: CodeNetwork,
			Err:  fmt.Errorf("unexpected identity response status %d", resp.StatusCode),
		}
	}

	code := envelope.Error.Message
	if idx := strings.IndexAny(code, " :"); idx > 0 {
		code = code[:idx]
	}

	return &Error{
		Op:   op,
		Code: code,
		Err:  fmt.Errorf("%s", envelope.Error.Message),
	}
}
