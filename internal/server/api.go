package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/taskdeck/taskdeck/internal/calendar"
	"github.com/taskdeck/taskdeck/internal/guard"
	"github.com/taskdeck/taskdeck/internal/instrumentation"
	"github.com/taskdeck/taskdeck/internal/logging"
	"github.com/taskdeck/taskdeck/internal/session"
	"github.com/taskdeck/taskdeck/internal/tasks"
	"github.com/taskdeck/taskdeck/internal/validate"
)

// API serves the JSON/SSE surface consumed by the single-page views.
type API struct {
	sc    *ServerContext
	audit *instrumentation.AuditLogger
}

// NewAPI creates the API surface over the given server context.
func NewAPI(sc *ServerContext) *API {
	return &API{
		sc:    sc,
		audit: instrumentation.NewAuditLogger(sc.Logger()),
	}
}

// Register registers all API routes on the given mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/signup", a.instrument("auth_signup", a.handleSignUp))
	mux.HandleFunc("POST /api/auth/signin", a.instrument("auth_signin", a.handleSignIn))
	mux.HandleFunc("POST /api/auth/google", a.instrument("auth_google", a.handleSignInWithGoogle))
	mux.HandleFunc("POST /api/auth/signout", a.instrument("auth_signout", a.handleSignOut))
	mux.HandleFunc("GET /api/auth/session", a.instrument("auth_session", a.handleCurrentSession))

	mux.HandleFunc("GET /api/tasks", a.instrument("tasks_list", a.requireSession(a.handleListTasks)))
	mux.HandleFunc("GET /api/tasks/stream", a.instrumentStream("tasks_stream", a.requireSession(a.handleStreamTasks)))
	mux.HandleFunc("POST /api/tasks", a.instrument("tasks_add", a.requireSession(a.handleAddTask)))
	mux.HandleFunc("PATCH /api/tasks/{id}", a.instrument("tasks_edit", a.requireSession(a.handleEditTask)))
	mux.HandleFunc("POST /api/tasks/{id}/toggle", a.instrument("tasks_toggle", a.requireSession(a.handleToggleTask)))
	mux.HandleFunc("DELETE /api/tasks/{id}", a.instrument("tasks_delete", a.requireSession(a.handleDeleteTask)))

	mux.HandleFunc("GET /api/calendar/{year}/{month}", a.instrument("calendar_month", a.requireSession(a.handleCalendarMonth)))

	mux.HandleFunc("GET /api/prefs/darkmode", a.instrument("prefs_get", a.handleGetDarkMode))
	mux.HandleFunc("POST /api/prefs/darkmode/toggle", a.instrument("prefs_toggle", a.handleToggleDarkMode))
}

// Request and response shapes.

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Confirm  string `json:"confirm,omitempty"`
}

type sessionResponse struct {
	UserID      string `json:"userId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	PhotoURL    string `json:"photoUrl,omitempty"`
}

type authResponse struct {
	Token   string          `json:"token"`
	Session sessionResponse `json:"session"`
}

type taskResponse struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
	CreatedAt int64  `json:"createdAt"`
	Priority  string `json:"priority,omitempty"`
}

type taskTextRequest struct {
	Text string `json:"text"`
}

type darkModeResponse struct {
	DarkMode bool `json:"darkMode"`
}

type errorResponse struct {
	Code     string `json:"code"`
	Error    string `json:"error"`
	Redirect string `json:"redirect,omitempty"`
}

type calendarDayResponse struct {
	Day   int            `json:"day"`
	Tasks []taskResponse `json:"tasks"`
	Done  int            `json:"done"`
	Total int            `json:"total"`
	Ratio float64        `json:"ratio"`
}

type calendarMonthResponse struct {
	Year  int                   `json:"year"`
	Month int                   `json:"month"`
	Days  []calendarDayResponse `json:"days"`
	Ratio float64               `json:"ratio"`
}

// sessionHandler is an http handler with the resolved user session.
type sessionHandler func(w http.ResponseWriter, r *http.Request, user *UserSession)

// requireSession gates a route on a registered session. Unauthenticated
// requests get the login redirect target the route guard prescribes.
func (a *API) requireSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := a.sc.Registry().Resolve(r)
		if err != nil {
			decision := guard.RequireAuth(true, nil)
			writeJSON(w, http.StatusUnauthorized, errorResponse{
				Code:     session.CodeUnauthenticated,
				Error:    err.Error(),
				Redirect: decision.Target,
			})
			return
		}
		next(w, r, user)
	}
}

// instrument wraps a handler with a route span and HTTP request metrics.
func (a *API) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := instrumentation.StartRouteSpan(r.Context(), route)
		defer span.End()
		r = r.WithContext(ctx)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)

		if recorder.status >= http.StatusBadRequest {
			instrumentation.SetSpanError(span, fmt.Errorf("request failed with status %d", recorder.status))
		} else {
			instrumentation.SetSpanSuccess(span)
		}

		if metrics := a.sc.Metrics(); metrics != nil {
			metrics.RecordHTTPRequest(ctx, r.Method, "/api/"+route, recorder.status, time.Since(start))
		}
	}
}

// instrumentStream wraps a long-lived streaming handler with HTTP request
// metrics. Unlike instrument it opens no route span; a span held open for
// the stream's whole lifetime would never export until disconnect.
func (a *API) instrumentStream(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)

		if metrics := a.sc.Metrics(); metrics != nil {
			metrics.RecordHTTPRequest(r.Context(), r.Method, "/api/"+route, recorder.status, time.Since(start))
		}
	}
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush forwards to the underlying writer so streaming responses keep
// working behind the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Auth handlers.

func (a *API) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := validate.Password(req.Password, req.Confirm); err != nil {
		writeError(w, err)
		return
	}

	user := a.sc.NewUserSession()
	start := time.Now()
	current, err := user.Store.SignUp(r.Context(), req.Email, req.Password)
	a.recordAuth(r, instrumentation.AuthMethodSignUp, "signUp", start, err)
	if err != nil {
		writeError(w, err)
		return
	}

	a.establishSession(w, r, user, current, http.StatusCreated)
}

func (a *API) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user := a.sc.NewUserSession()
	start := time.Now()
	current, err := user.Store.SignIn(r.Context(), req.Email, req.Password)
	a.recordAuth(r, instrumentation.AuthMethodPassword, "signIn", start, err)
	if err != nil {
		writeError(w, err)
		return
	}

	a.establishSession(w, r, user, current, http.StatusOK)
}

func (a *API) handleSignInWithGoogle(w http.ResponseWriter, r *http.Request) {
	user := a.sc.NewUserSession()
	start := time.Now()
	current, err := user.Store.SignInWithProvider(r.Context())
	a.recordAuth(r, instrumentation.AuthMethodGoogle, "signInWithIdp", start, err)
	if err != nil {
		writeError(w, err)
		return
	}

	a.establishSession(w, r, user, current, http.StatusOK)
}

// establishSession registers the signed-in session and writes the auth
// response with the bearer token the client presents from now on.
func (a *API) establishSession(w http.ResponseWriter, r *http.Request, user *UserSession, current *session.Session, status int) {
	token := user.Store.IDToken()
	a.sc.Registry().Register(token, user)

	if metrics := a.sc.Metrics(); metrics != nil {
		metrics.IncrementActiveSessions(r.Context())
	}
	a.sc.Logger().Info("session established",
		logging.Service("server"),
		logging.UserHash(current.Email))

	writeJSON(w, status, authResponse{
		Token:   token,
		Session: toSessionResponse(current),
	})
}

func (a *API) handleSignOut(w http.ResponseWriter, r *http.Request) {
	// Sign-out is idempotent: an unknown token is already signed out.
	token, err := bearerToken(r)
	if err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	user, err := a.sc.Registry().Lookup(token)
	if err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	_ = user.Store.SignOut(r.Context())
	a.sc.Registry().Remove(token)
	if metrics := a.sc.Metrics(); metrics != nil {
		metrics.DecrementActiveSessions(r.Context())
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCurrentSession resolves the bearer token back to a live session,
// which is how the page restores a cached sign-in after a reload.
func (a *API) handleCurrentSession(w http.ResponseWriter, r *http.Request) {
	user, err := a.sc.Registry().Resolve(r)
	if err != nil {
		a.recordSessionRestore(r, instrumentation.AuthResultExpired)
		decision := guard.RequireAuth(true, nil)
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Code:     session.CodeUnauthenticated,
			Error:    err.Error(),
			Redirect: decision.Target,
		})
		return
	}

	current := user.Store.Current()
	if current == nil {
		a.recordSessionRestore(r, instrumentation.AuthResultExpired)
		writeError(w, &session.AuthError{Op: "currentSession", Code: session.CodeUnauthenticated})
		return
	}

	a.recordSessionRestore(r, instrumentation.AuthResultSuccess)
	writeJSON(w, http.StatusOK, toSessionResponse(current))
}

// Task handlers.

func (a *API) handleListTasks(w http.ResponseWriter, r *http.Request, user *UserSession) {
	ctx, span, start := a.startTaskOp(r, instrumentation.OperationList)
	collection, err := user.Tasks.Snapshot(ctx)
	a.recordTask(r, span, user, instrumentation.OperationList, "", start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponses(collection))
}

func (a *API) handleAddTask(w http.ResponseWriter, r *http.Request, user *UserSession) {
	var req taskTextRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ctx, span, start := a.startTaskOp(r, instrumentation.OperationAdd)
	task, err := user.Tasks.AddTask(ctx, req.Text)
	a.recordTask(r, span, user, instrumentation.OperationAdd, "", start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTaskResponse(*task))
}

func (a *API) handleEditTask(w http.ResponseWriter, r *http.Request, user *UserSession) {
	taskID := r.PathValue("id")
	var req taskTextRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ctx, span, start := a.startTaskOp(r, instrumentation.OperationEdit)
	err := user.Tasks.EditText(ctx, taskID, req.Text)
	a.recordTask(r, span, user, instrumentation.OperationEdit, taskID, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleToggleTask(w http.ResponseWriter, r *http.Request, user *UserSession) {
	taskID := r.PathValue("id")

	ctx, span, start := a.startTaskOp(r, instrumentation.OperationToggle)
	err := user.Tasks.ToggleComplete(ctx, taskID)
	a.recordTask(r, span, user, instrumentation.OperationToggle, taskID, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDeleteTask(w http.ResponseWriter, r *http.Request, user *UserSession) {
	taskID := r.PathValue("id")

	// Deletion is terminal, so the client must confirm explicitly.
	if r.URL.Query().Get("confirm") != "true" {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:  "confirm-required",
			Error: "delete requires confirm=true",
		})
		return
	}

	ctx, span, start := a.startTaskOp(r, instrumentation.OperationDelete)
	err := user.Tasks.DeleteTask(ctx, taskID)
	a.recordTask(r, span, user, instrumentation.OperationDelete, taskID, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleStreamTasks(w http.ResponseWriter, r *http.Request, user *UserSession) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Code:  "network",
			Error: "streaming unsupported by connection",
		})
		return
	}

	current := user.Store.Current()
	if current == nil {
		writeError(w, &session.AuthError{Op: "subscribe", Code: session.CodeUnauthenticated})
		return
	}

	// The stream ends when the client disconnects or the session closes.
	// Sign-out and registry expiry cancel the session context, so a
	// signed-out user receives no further snapshots.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(user.Context(), cancel)
	defer stop()

	// Latest-wins buffer: every event carries the full collection, so a
	// slow client only ever skips intermediate snapshots.
	updates := make(chan []tasks.Task, 1)
	push := func(collection []tasks.Task) {
		for {
			select {
			case updates <- collection:
				return
			default:
				select {
				case <-updates:
				default:
				}
			}
		}
	}

	streamCtx, span := instrumentation.StartPlatformSpan(ctx, instrumentation.ServiceDatabase, instrumentation.OperationStream)
	unsubscribe, err := user.Tasks.Subscribe(streamCtx, current.UserID, push)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		span.End()
		writeError(w, err)
		return
	}
	instrumentation.SetSpanSuccess(span)
	span.End()
	defer unsubscribe()

	if metrics := a.sc.Metrics(); metrics != nil {
		metrics.IncrementActiveSubscriptions(r.Context())
		defer metrics.DecrementActiveSubscriptions(r.Context())
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(30 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case collection := <-updates:
			payload, err := json.Marshal(toTaskResponses(collection))
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: tasks\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// Calendar handler.

func (a *API) handleCalendarMonth(w http.ResponseWriter, r *http.Request, user *UserSession) {
	year, err := strconv.Atoi(r.PathValue("year"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "bad-request", Error: "invalid year"})
		return
	}
	month, err := strconv.Atoi(r.PathValue("month"))
	if err != nil || month < 1 || month > 12 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "bad-request", Error: "invalid month"})
		return
	}

	collection, err := user.Tasks.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	summaries := calendar.MonthSummary(collection, year, time.Month(month))
	days := make([]calendarDayResponse, 0, len(summaries))
	for _, day := range summaries {
		days = append(days, calendarDayResponse{
			Day:   day.Day,
			Tasks: toTaskResponses(day.Tasks),
			Done:  day.Done,
			Total: day.Total,
			Ratio: day.Ratio,
		})
	}

	writeJSON(w, http.StatusOK, calendarMonthResponse{
		Year:  year,
		Month: month,
		Days:  days,
		Ratio: calendar.CompletionRatio(collection),
	})
}

// Preference handlers.

func (a *API) handleGetDarkMode(w http.ResponseWriter, _ *http.Request) {
	store := a.sc.Prefs()
	if store == nil {
		writeJSON(w, http.StatusOK, darkModeResponse{DarkMode: false})
		return
	}
	writeJSON(w, http.StatusOK, darkModeResponse{DarkMode: store.DarkMode()})
}

func (a *API) handleToggleDarkMode(w http.ResponseWriter, _ *http.Request) {
	store := a.sc.Prefs()
	if store == nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Code:  "network",
			Error: "preference store not configured",
		})
		return
	}

	enabled, err := store.Toggle()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Code:  "network",
			Error: err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, darkModeResponse{DarkMode: enabled})
}

// recordAuth records an authentication attempt and the identity call
// behind it.
func (a *API) recordAuth(r *http.Request, method, operation string, start time.Time, err error) {
	metrics := a.sc.Metrics()
	if metrics == nil {
		return
	}
	result := instrumentation.AuthResultSuccess
	status := instrumentation.StatusSuccess
	if err != nil {
		result = instrumentation.AuthResultFailure
		status = instrumentation.StatusError
	}
	metrics.RecordAuthAttempt(r.Context(), method, result)
	metrics.RecordPlatformOperation(r.Context(), instrumentation.ServiceIdentity, operation, status, time.Since(start))
}

// recordSessionRestore records the outcome of a cached session restore.
func (a *API) recordSessionRestore(r *http.Request, result string) {
	if metrics := a.sc.Metrics(); metrics != nil {
		metrics.RecordSessionRestore(r.Context(), result)
	}
}

// startTaskOp opens the platform span and timer around one task operation.
func (a *API) startTaskOp(r *http.Request, operation string) (context.Context, trace.Span, time.Time) {
	ctx, span := instrumentation.StartPlatformSpan(r.Context(), instrumentation.ServiceDatabase, operation)
	return ctx, span, time.Now()
}

// recordTask closes the operation span and records the operation in
// metrics and the audit log.
func (a *API) recordTask(r *http.Request, span trace.Span, user *UserSession, operation, taskID string, start time.Time, err error) {
	if err != nil {
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	span.End()

	email := ""
	if current := user.Store.Current(); current != nil {
		email = current.Email
	}

	if metrics := a.sc.Metrics(); metrics != nil {
		status := instrumentation.StatusSuccess
		if err != nil {
			status = instrumentation.StatusError
		}
		metrics.RecordTaskOperationWithAccount(r.Context(), operation, status, email, time.Since(start))
		metrics.RecordPlatformOperation(r.Context(), instrumentation.ServiceDatabase, operation, status, time.Since(start))
	}

	invocation := instrumentation.NewRouteInvocation("tasks_"+operation).
		WithService(instrumentation.ServiceDatabase, operation).
		WithTask(taskID).
		WithSpanContext(r.Context())
	invocation.StartTime = start
	if email != "" {
		invocation.WithUser(email)
	}
	a.audit.LogRouteInvocation(invocation.Complete(err == nil, err))
}

// Helpers.

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &badRequestError{err: err}
	}
	return nil
}

// badRequestError marks a malformed request body.
type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string {
	return fmt.Sprintf("malformed request body: %v", e.err)
}

func (e *badRequestError) Unwrap() error {
	return e.err
}

func toSessionResponse(s *session.Session) sessionResponse {
	return sessionResponse{
		UserID:      s.UserID,
		Email:       s.Email,
		DisplayName: s.DisplayName,
		PhotoURL:    s.PhotoURL,
	}
}

func toTaskResponse(t tasks.Task) taskResponse {
	return taskResponse{
		ID:        t.ID,
		Text:      t.Text,
		Completed: t.Completed,
		CreatedAt: t.CreatedAt,
		Priority:  t.Priority,
	}
}

func toTaskResponses(collection []tasks.Task) []taskResponse {
	out := make([]taskResponse, 0, len(collection))
	for _, task := range collection {
		out = append(out, toTaskResponse(task))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps application errors onto HTTP statuses and the JSON
// error envelope.
func writeError(w http.ResponseWriter, err error) {
	var authErr *session.AuthError
	if errors.As(err, &authErr) {
		writeJSON(w, authStatus(authErr.Code), errorResponse{Code: authErr.Code, Error: authErr.Error()})
		return
	}

	var storeErr *tasks.StoreError
	if errors.As(err, &storeErr) {
		writeJSON(w, storeStatus(storeErr.Code), errorResponse{Code: storeErr.Code, Error: storeErr.Error()})
		return
	}

	var validationErr *validate.ValidationError
	if errors.As(err, &validationErr) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: validationErr.Code, Error: validationErr.Error()})
		return
	}

	var badReq *badRequestError
	if errors.As(err, &badReq) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "bad-request", Error: badReq.Error()})
		return
	}

	writeJSON(w, http.StatusInternalServerError, errorResponse{Code: "internal", Error: err.Error()})
}

func authStatus(code string) int {
	switch code {
	case session.CodeUnauthenticated, session.CodeInvalidCredential, session.CodeUserNotFound:
		return http.StatusUnauthorized
	case session.CodeEmailInUse:
		return http.StatusConflict
	case session.CodeInvalidEmail, session.CodeWeakPassword, session.CodePopupClosed:
		return http.StatusBadRequest
	case session.CodeTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

func storeStatus(code string) int {
	switch code {
	case tasks.CodePermissionDenied:
		return http.StatusForbidden
	case tasks.CodeNotFound:
		return http.StatusNotFound
	case tasks.CodeWriteConflict:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}
