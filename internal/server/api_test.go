package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/taskdeck/internal/instrumentation"
	"github.com/taskdeck/taskdeck/internal/platform"
	"github.com/taskdeck/taskdeck/internal/prefs"
)

type apiFixture struct {
	t      *testing.T
	srv    *httptest.Server
	client *http.Client
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	backend := platform.NewMemory()

	prefStore, err := prefs.NewStoreAt(filepath.Join(t.TempDir(), "prefs.json"))
	require.NoError(t, err)

	sc, err := NewServerContext(context.Background(), SharedBackend(backend), WithPrefs(prefStore))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Shutdown() })

	mux := http.NewServeMux()
	NewAPI(sc).Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &apiFixture{t: t, srv: srv, client: srv.Client()}
}

func (f *apiFixture) request(method, path, token string, body any) (*http.Response, []byte) {
	f.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	require.NoError(f.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.client.Do(req)
	require.NoError(f.t, err)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(f.t, err)
	resp.Body.Close()
	return resp, buf.Bytes()
}

func (f *apiFixture) signUp(email, password string) authResponse {
	f.t.Helper()

	resp, body := f.request(http.MethodPost, "/api/auth/signup", "", credentialsRequest{
		Email:    email,
		Password: password,
		Confirm:  password,
	})
	require.Equal(f.t, http.StatusCreated, resp.StatusCode, "signup response: %s", body)

	var auth authResponse
	require.NoError(f.t, json.Unmarshal(body, &auth))
	require.NotEmpty(f.t, auth.Token)
	return auth
}

func decodeError(t *testing.T, body []byte) errorResponse {
	t.Helper()
	var e errorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	return e
}

func TestAPI_SignUpAndCurrentSession(t *testing.T) {
	f := newAPIFixture(t)

	auth := f.signUp("dana@example.com", "hunter22")
	assert.Equal(t, "dana@example.com", auth.Session.Email)
	assert.NotEmpty(t, auth.Session.UserID)

	resp, body := f.request(http.MethodGet, "/api/auth/session", auth.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var current sessionResponse
	require.NoError(t, json.Unmarshal(body, &current))
	assert.Equal(t, auth.Session.UserID, current.UserID)
}

func TestAPI_SignUp_PasswordMismatch(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.request(http.MethodPost, "/api/auth/signup", "", credentialsRequest{
		Email:    "dana@example.com",
		Password: "hunter22",
		Confirm:  "hunter23",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "password-mismatch", decodeError(t, body).Code)
}

func TestAPI_SignIn_InvalidCredential(t *testing.T) {
	f := newAPIFixture(t)
	f.signUp("dana@example.com", "hunter22")

	resp, body := f.request(http.MethodPost, "/api/auth/signin", "", credentialsRequest{
		Email:    "dana@example.com",
		Password: "wrong-password",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid-credential", decodeError(t, body).Code)
}

func TestAPI_Unauthenticated_RedirectsToLogin(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.request(http.MethodGet, "/api/tasks", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	e := decodeError(t, body)
	assert.Equal(t, "unauthenticated", e.Code)
	assert.Equal(t, "/login", e.Redirect)
}

func TestAPI_TaskLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	auth := f.signUp("dana@example.com", "hunter22")

	// Add
	resp, body := f.request(http.MethodPost, "/api/tasks", auth.Token, taskTextRequest{Text: "water the plants"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "add response: %s", body)

	var created taskResponse
	require.NoError(t, json.Unmarshal(body, &created))
	require.NotEmpty(t, created.ID)
	assert.False(t, created.Completed)

	// List
	resp, body = f.request(http.MethodGet, "/api/tasks", auth.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listed []taskResponse
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "water the plants", listed[0].Text)

	// Toggle
	resp, _ = f.request(http.MethodPost, "/api/tasks/"+created.ID+"/toggle", auth.Token, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Edit
	resp, _ = f.request(http.MethodPatch, "/api/tasks/"+created.ID, auth.Token, taskTextRequest{Text: "water the garden"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = f.request(http.MethodGet, "/api/tasks", auth.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "water the garden", listed[0].Text)
	assert.True(t, listed[0].Completed)

	// Delete requires confirmation
	resp, body = f.request(http.MethodDelete, "/api/tasks/"+created.ID, auth.Token, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "confirm-required", decodeError(t, body).Code)

	resp, _ = f.request(http.MethodDelete, "/api/tasks/"+created.ID+"?confirm=true", auth.Token, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = f.request(http.MethodGet, "/api/tasks", auth.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &listed))
	assert.Empty(t, listed)

	// Toggling the deleted task reports not-found
	resp, body = f.request(http.MethodPost, "/api/tasks/"+created.ID+"/toggle", auth.Token, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not-found", decodeError(t, body).Code)
}

func TestAPI_AddTask_EmptyText(t *testing.T) {
	f := newAPIFixture(t)
	auth := f.signUp("dana@example.com", "hunter22")

	resp, body := f.request(http.MethodPost, "/api/tasks", auth.Token, taskTextRequest{Text: "   "})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "empty-text", decodeError(t, body).Code)
}

func TestAPI_SignOut(t *testing.T) {
	f := newAPIFixture(t)
	auth := f.signUp("dana@example.com", "hunter22")

	resp, _ := f.request(http.MethodPost, "/api/auth/signout", auth.Token, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// The token no longer resolves
	resp, _ = f.request(http.MethodGet, "/api/tasks", auth.Token, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Signing out again is a no-op
	resp, _ = f.request(http.MethodPost, "/api/auth/signout", auth.Token, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// So is signing out without a token
	resp, _ = f.request(http.MethodPost, "/api/auth/signout", "", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestAPI_CalendarMonth(t *testing.T) {
	f := newAPIFixture(t)
	auth := f.signUp("dana@example.com", "hunter22")

	resp, body := f.request(http.MethodPost, "/api/tasks", auth.Token, taskTextRequest{Text: "first"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var first taskResponse
	require.NoError(t, json.Unmarshal(body, &first))

	resp, _ = f.request(http.MethodPost, "/api/tasks", auth.Token, taskTextRequest{Text: "second"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = f.request(http.MethodPost, "/api/tasks/"+first.ID+"/toggle", auth.Token, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	now := time.Now()
	path := fmt.Sprintf("/api/calendar/%d/%d", now.Year(), int(now.Month()))
	resp, body = f.request(http.MethodGet, path, auth.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var month calendarMonthResponse
	require.NoError(t, json.Unmarshal(body, &month))
	assert.Equal(t, now.Year(), month.Year)
	require.Len(t, month.Days, 1)
	assert.Equal(t, now.Day(), month.Days[0].Day)
	assert.Equal(t, 2, month.Days[0].Total)
	assert.Equal(t, 1, month.Days[0].Done)
	assert.InDelta(t, 0.5, month.Ratio, 1e-9)
}

func TestAPI_CalendarMonth_InvalidMonth(t *testing.T) {
	f := newAPIFixture(t)
	auth := f.signUp("dana@example.com", "hunter22")

	resp, body := f.request(http.MethodGet, "/api/calendar/2026/13", auth.Token, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "bad-request", decodeError(t, body).Code)
}

func TestAPI_DarkMode(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.request(http.MethodGet, "/api/prefs/darkmode", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var mode darkModeResponse
	require.NoError(t, json.Unmarshal(body, &mode))
	assert.False(t, mode.DarkMode)

	resp, body = f.request(http.MethodPost, "/api/prefs/darkmode/toggle", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &mode))
	assert.True(t, mode.DarkMode)

	resp, body = f.request(http.MethodGet, "/api/prefs/darkmode", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &mode))
	assert.True(t, mode.DarkMode)
}

func TestAPI_StreamTasks(t *testing.T) {
	f := newAPIFixture(t)
	auth := f.signUp("dana@example.com", "hunter22")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/api/tasks/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+auth.Token)

	resp, err := f.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan string, 8)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "data: ") {
				events <- strings.TrimPrefix(line, "data: ")
			}
		}
		close(events)
	}()

	// Initial snapshot of the empty collection arrives first
	select {
	case data := <-events:
		assert.JSONEq(t, "[]", data)
	case <-ctx.Done():
		t.Fatal("timed out waiting for initial snapshot")
	}

	resp2, _ := f.request(http.MethodPost, "/api/tasks", auth.Token, taskTextRequest{Text: "streamed"})
	require.Equal(t, http.StatusCreated, resp2.StatusCode)

	select {
	case data := <-events:
		var collection []taskResponse
		require.NoError(t, json.Unmarshal([]byte(data), &collection))
		require.Len(t, collection, 1)
		assert.Equal(t, "streamed", collection[0].Text)
	case <-ctx.Done():
		t.Fatal("timed out waiting for update snapshot")
	}

	cancel()
}

func TestAPI_StreamEndsOnSignOut(t *testing.T) {
	f := newAPIFixture(t)
	auth := f.signUp("elif@example.com", "hunter22")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/api/tasks/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+auth.Token)

	resp, err := f.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := make(chan string, 8)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "data: ") {
				events <- strings.TrimPrefix(line, "data: ")
			}
		}
		close(events)
	}()

	select {
	case data := <-events:
		assert.JSONEq(t, "[]", data)
	case <-ctx.Done():
		t.Fatal("timed out waiting for initial snapshot")
	}

	signOut, _ := f.request(http.MethodPost, "/api/auth/signout", auth.Token, nil)
	require.Equal(t, http.StatusNoContent, signOut.StatusCode)

	// Sign-out closes the session, which must tear the stream down.
	for open := true; open; {
		select {
		case _, ok := <-events:
			open = ok
		case <-ctx.Done():
			t.Fatal("stream still open after sign-out")
		}
	}

	// Activity under a fresh sign-in for the same account must not
	// reach the torn-down stream.
	signIn, body := f.request(http.MethodPost, "/api/auth/signin", "", credentialsRequest{
		Email:    "elif@example.com",
		Password: "hunter22",
	})
	require.Equal(t, http.StatusOK, signIn.StatusCode)
	var fresh authResponse
	require.NoError(t, json.Unmarshal(body, &fresh))

	added, _ := f.request(http.MethodPost, "/api/tasks", fresh.Token, taskTextRequest{Text: "after sign-out"})
	require.Equal(t, http.StatusCreated, added.StatusCode)

	_, ok := <-events
	assert.False(t, ok, "snapshot delivered to a signed-out stream")
}

func TestAPI_StreamRequestRecordsMetrics(t *testing.T) {
	provider, err := instrumentation.NewProvider(context.Background(), instrumentation.Config{
		ServiceName:     "taskdeck-test",
		Enabled:         true,
		MetricsExporter: instrumentation.ExporterPrometheus,
		TracingExporter: instrumentation.ExporterNone,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	backend := platform.NewMemory()
	sc, err := NewServerContext(context.Background(), SharedBackend(backend), WithMetrics(provider.Metrics()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Shutdown() })

	mux := http.NewServeMux()
	NewAPI(sc).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	f := &apiFixture{t: t, srv: srv, client: srv.Client()}
	auth := f.signUp("gozde@example.com", "hunter22")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/tasks/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+auth.Token)

	resp, err := f.client.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// One byte confirms the stream is live; the request metric lands
	// when the disconnect returns the handler.
	buf := make([]byte, 1)
	_, err = resp.Body.Read(buf)
	require.NoError(t, err)
	cancel()
	resp.Body.Close()

	scrape := func() string {
		rec := httptest.NewRecorder()
		promhttp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		return rec.Body.String()
	}
	require.Eventually(t, func() bool {
		return strings.Contains(scrape(), "/api/tasks_stream")
	}, 5*time.Second, 50*time.Millisecond, "stream request was never counted")
}
