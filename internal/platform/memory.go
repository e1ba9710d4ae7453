package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Maximum consecutive failed password attempts per email before the
// memory backend starts rejecting with TOO_MANY_ATTEMPTS_TRY_LATER.
const memoryMaxFailedAttempts = 10

// memoryAccount is one registered identity in the memory backend.
type memoryAccount struct {
	user           UserInfo
	password       string
	failedAttempts int
}

// memoryListener is one live subscription in the memory backend.
type memoryListener struct {
	path string
	fn   SnapshotFunc
}

// Memory is a self-contained in-process platform backend implementing the
// same Identity and Database contract as the REST client. It backs the
// development serve mode and the test suite.
type Memory struct {
	mu        sync.RWMutex
	accounts  map[string]*memoryAccount // keyed by email
	federated map[string]UserInfo       // provider token -> profile
	tokens    map[string]string         // ID token -> user id
	root      any                       // path tree
	listeners map[int]*memoryListener
	nextID    int
	pushSeq   int64
	authFn    func() string
}

// MemoryOption configures a Memory backend.
type MemoryOption func(*Memory)

// WithAuthFunc sets the function that supplies the current user ID token
// for path authorization. Without it the backend performs no permission
// checks, which is the useful default for tests.
func WithAuthFunc(fn func() string) MemoryOption {
	return func(m *Memory) {
		m.authFn = fn
	}
}

// NewMemory creates an empty in-memory platform backend.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		accounts:  make(map[string]*memoryAccount),
		federated: make(map[string]UserInfo),
		tokens:    make(map[string]string),
		listeners: make(map[int]*memoryListener),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ Backend = (*Memory)(nil)

// RegisterFederatedUser registers a provider token to profile mapping so
// SignInWithIDP can resolve it. Development and test hook; the real
// federated exchange happens at the platform.
func (m *Memory) RegisterFederatedUser(providerToken string, user UserInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	m.federated[providerToken] = user
}

// SignUp creates a new email/password account.
func (m *Memory) SignUp(ctx context.Context, email, password string) (*Credentials, error) {
	if !strings.Contains(email, "@") {
		return nil, &Error{Op: "signUp", Code: CodeInvalidEmail, Err: fmt.Errorf("malformed email address")}
	}
	if len(password) < 6 {
		return nil, &Error{Op: "signUp", Code: CodeWeakPassword, Err: fmt.Errorf("password should be at least 6 characters")}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.accounts[email]; exists {
		return nil, &Error{Op: "signUp", Code: CodeEmailExists, Err: fmt.Errorf("the email address is already in use")}
	}

	account := &memoryAccount{
		user: UserInfo{
			ID:    uuid.NewString(),
			Email: email,
		},
		password: password,
	}
	m.accounts[email] = account

	return m.issueCredentialsLocked(account.user), nil
}

// SignInWithPassword authenticates an existing email/password account.
func (m *Memory) SignInWithPassword(ctx context.Context, email, password string) (*Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, exists := m.accounts[email]
	if !exists {
		return nil, &Error{Op: "signIn", Code: CodeEmailNotFound, Err: fmt.Errorf("no account for email")}
	}
	if account.failedAttempts >= memoryMaxFailedAttempts {
		return nil, &Error{Op: "signIn", Code: CodeTooManyAttempts, Err: fmt.Errorf("access temporarily disabled due to failed attempts")}
	}
	if account.password != password {
		account.failedAttempts++
		return nil, &Error{Op: "signIn", Code: CodeInvalidCredential, Err: fmt.Errorf("invalid password")}
	}

	account.failedAttempts = 0
	return m.issueCredentialsLocked(account.user), nil
}

// SignInWithIDP resolves a registered federated provider token.
func (m *Memory) SignInWithIDP(ctx context.Context, providerToken string) (*Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, exists := m.federated[providerToken]
	if !exists {
		return nil, &Error{Op: "signInWithIDP", Code: CodeInvalidCredential, Err: fmt.Errorf("unknown federated credential")}
	}

	return m.issueCredentialsLocked(user), nil
}

// Lookup resolves an ID token to the account profile.
func (m *Memory) Lookup(ctx context.Context, idToken string) (*UserInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	userID, exists := m.tokens[idToken]
	if !exists {
		return nil, &Error{Op: "lookup", Code: CodeInvalidIDToken, Err: fmt.Errorf("no account for token")}
	}

	for _, account := range m.accounts {
		if account.user.ID == userID {
			user := account.user
			return &user, nil
		}
	}
	for _, user := range m.federated {
		if user.ID == userID {
			u := user
			return &u, nil
		}
	}
	return nil, &Error{Op: "lookup", Code: CodeInvalidIDToken, Err: fmt.Errorf("no account for token")}
}

// issueCredentialsLocked mints a fresh ID token for the user.
// Caller must hold m.mu.
func (m *Memory) issueCredentialsLocked(user UserInfo) *Credentials {
	token := uuid.NewString()
	m.tokens[token] = user.ID
	return &Credentials{
		User:         user,
		IDToken:      token,
		RefreshToken: uuid.NewString(),
	}
}

// authorize checks path authorization against the current token. Paths
// under users/{uid} are only visible to that user; everything else is open.
func (m *Memory) authorize(op, path string) error {
	if m.authFn == nil {
		return nil
	}

	segments := splitPath(path)
	if len(segments) < 2 || segments[0] != "users" {
		return nil
	}

	m.mu.RLock()
	userID, ok := m.tokens[m.authFn()]
	m.mu.RUnlock()

	if !ok || userID != segments[1] {
		return &Error{Op: op, Path: path, Code: CodePermissionDenied, Err: fmt.Errorf("path owned by another user")}
	}
	return nil
}

// Get reads the value at path, or JSON null if absent.
func (m *Memory) Get(ctx context.Context, path string) (json.RawMessage, error) {
	if err := m.authorize("get", path); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return marshalSubtree(valueAt(m.root, splitPath(path))), nil
}

// Push appends a new child under path and returns the generated key.
// Keys sort in generation order so snapshot iteration preserves arrival
// order, matching the store's key convention.
func (m *Memory) Push(ctx context.Context, path string, value any) (string, error) {
	if err := m.authorize("push", path); err != nil {
		return "", err
	}

	normalized, err := normalizeValue(value)
	if err != nil {
		return "", fmt.Errorf("failed to encode push value: %w", err)
	}

	m.mu.Lock()
	m.pushSeq++
	key := fmt.Sprintf("-K%016x%s", m.pushSeq, uuid.NewString()[:8])
	m.root = putAt(m.root, append(splitPath(path), key), normalized)
	notify := m.snapshotListenersLocked(path)
	m.mu.Unlock()

	notify()
	return key, nil
}

// Update merges the given fields into the value at path.
func (m *Memory) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := m.authorize("update", path); err != nil {
		return err
	}

	normalized, err := normalizeValue(fields)
	if err != nil {
		return fmt.Errorf("failed to encode update fields: %w", err)
	}

	m.mu.Lock()
	m.root = patchAt(m.root, splitPath(path), normalized)
	notify := m.snapshotListenersLocked(path)
	m.mu.Unlock()

	notify()
	return nil
}

// Delete removes the value at path. Deleting an absent path is not an error.
func (m *Memory) Delete(ctx context.Context, path string) error {
	if err := m.authorize("delete", path); err != nil {
		return err
	}

	m.mu.Lock()
	m.root = putAt(m.root, splitPath(path), nil)
	notify := m.snapshotListenersLocked(path)
	m.mu.Unlock()

	notify()
	return nil
}

// Subscribe attaches a live listener to path. The callback fires once
// immediately with the current snapshot and again on every overlapping
// write, always with the full snapshot of the subscribed path.
func (m *Memory) Subscribe(ctx context.Context, path string, fn SnapshotFunc) (UnsubscribeFunc, error) {
	if fn == nil {
		return nil, fmt.Errorf("subscribe callback cannot be nil")
	}
	if err := m.authorize("subscribe", path); err != nil {
		return nil, err
	}

	path = strings.Trim(path, "/")

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = &memoryListener{path: path, fn: fn}
	initial := marshalSubtree(valueAt(m.root, splitPath(path)))
	m.mu.Unlock()

	fn(initial)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}

	// Tie the subscription to the context as the REST client does
	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			unsubscribe()
		}()
	}

	return unsubscribe, nil
}

// snapshotListenersLocked captures the snapshots owed to listeners whose
// path overlaps the written path. Caller must hold m.mu; the returned
// func delivers the snapshots and must be called after unlocking so
// callbacks can re-enter the store.
func (m *Memory) snapshotListenersLocked(writePath string) func() {
	writePath = strings.Trim(writePath, "/")

	type delivery struct {
		fn       SnapshotFunc
		snapshot json.RawMessage
	}
	var deliveries []delivery

	for _, l := range m.listeners {
		if !pathsOverlap(l.path, writePath) {
			continue
		}
		deliveries = append(deliveries, delivery{
			fn:       l.fn,
			snapshot: marshalSubtree(valueAt(m.root, splitPath(l.path))),
		})
	}

	return func() {
		for _, d := range deliveries {
			d.fn(d.snapshot)
		}
	}
}

// pathsOverlap reports whether one path is a prefix of the other, meaning
// a write at one is visible from a subscription at the other.
func pathsOverlap(a, b string) bool {
	if a == "" || b == "" {
		return true
	}
	return strings.HasPrefix(a+"/", b+"/") || strings.HasPrefix(b+"/", a+"/")
}

// valueAt navigates the tree to the node at segments, or nil.
func valueAt(root any, segments []string) any {
	current := root
	for _, segment := range segments {
		node, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = node[segment]
	}
	return current
}

// marshalSubtree renders a subtree as its JSON snapshot.
func marshalSubtree(value any) json.RawMessage {
	snapshot, err := json.Marshal(value)
	if err != nil {
		return json.RawMessage("null")
	}
	return snapshot
}

// normalizeValue round-trips a value through JSON so the tree only holds
// decoded JSON shapes (map[string]any, []any, float64, string, bool, nil).
func normalizeValue(value any) (any, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var normalized any
	if err := json.Unmarshal(encoded, &normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}
