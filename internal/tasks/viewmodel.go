package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskdeck/taskdeck/internal/logging"
	"github.com/taskdeck/taskdeck/internal/platform"
	"github.com/taskdeck/taskdeck/internal/session"
	"github.com/taskdeck/taskdeck/internal/validate"
)

// SessionSource supplies the current session, or nil when absent.
type SessionSource interface {
	Current() *session.Session
}

// ViewModel mediates between the platform store and the task views.
type ViewModel struct {
	db       platform.Database
	sessions SessionSource
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a ViewModel.
type Option func(*ViewModel)

// WithLogger sets the structured logger for the view-model.
func WithLogger(logger *slog.Logger) Option {
	return func(vm *ViewModel) {
		vm.logger = logger
	}
}

// WithClock sets the clock used for createdAt stamps.
func WithClock(now func() time.Time) Option {
	return func(vm *ViewModel) {
		vm.now = now
	}
}

// NewViewModel creates a view-model over the given store and session
// source.
func NewViewModel(db platform.Database, sessions SessionSource, opts ...Option) *ViewModel {
	vm := &ViewModel{
		db:       db,
		sessions: sessions,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(vm)
	}
	vm.logger = logging.WithService(vm.logger, "tasks")
	return vm
}

// collectionPath resolves the current user's collection path, failing
// with AuthError: unauthenticated when no session is active.
func (vm *ViewModel) collectionPath(op string) (string, error) {
	current := vm.sessions.Current()
	if current == nil {
		return "", &session.AuthError{Op: op, Code: session.CodeUnauthenticated}
	}
	return fmt.Sprintf("users/%s/tasks", current.UserID), nil
}

// taskPath resolves the path of one task in the current user's collection.
func (vm *ViewModel) taskPath(op, taskID string) (string, error) {
	collection, err := vm.collectionPath(op)
	if err != nil {
		return "", err
	}
	return collection + "/" + taskID, nil
}

// Subscribe attaches a live listener to the given user's task collection.
// The callback receives the full current collection on every remote
// change, in insertion order. The user id must match the active session;
// cross-user subscriptions are not supported.
//
// The returned handle must be invoked when the owning view is torn down,
// after which no further snapshots are delivered.
func (vm *ViewModel) Subscribe(ctx context.Context, userID string, onUpdate SnapshotFunc) (platform.UnsubscribeFunc, error) {
	current := vm.sessions.Current()
	if current == nil {
		return nil, &session.AuthError{Op: "subscribe", Code: session.CodeUnauthenticated}
	}
	if userID != current.UserID {
		return nil, &StoreError{Op: "subscribe", Code: CodePermissionDenied, Err: errors.New("subscription scoped to another user")}
	}

	logger := logging.WithOperation(vm.logger, "subscribe")
	path := fmt.Sprintf("users/%s/tasks", userID)

	unsubscribe, err := vm.db.Subscribe(ctx, path, func(snapshot json.RawMessage) {
		collection, err := decodeSnapshot(snapshot)
		if err != nil {
			// Listener callbacks do not report transient errors to the
			// caller; log and keep the previous view
			logger.Warn("dropping malformed snapshot", logging.Err(err))
			return
		}
		onUpdate(collection)
	})
	if err != nil {
		return nil, vm.mapError("subscribe", "", err)
	}

	return unsubscribe, nil
}

// AddTask creates a new task with the given text. Empty or
// whitespace-only text is rejected locally without contacting the store.
// The new record starts uncompleted with a client-assigned createdAt.
func (vm *ViewModel) AddTask(ctx context.Context, text string) (*Task, error) {
	trimmed, err := validate.TaskText(text)
	if err != nil {
		return nil, err
	}

	path, err := vm.collectionPath("addTask")
	if err != nil {
		return nil, err
	}

	task := Task{
		Text:      trimmed,
		Completed: false,
		CreatedAt: vm.now().UnixMilli(),
	}

	key, err := vm.db.Push(ctx, path, task)
	if err != nil {
		return nil, vm.mapError("addTask", "", err)
	}
	task.ID = key

	vm.logger.Info("task created",
		logging.Operation("addTask"),
		logging.TaskID(key),
		logging.Status(logging.StatusSuccess))

	return &task, nil
}

// ToggleComplete flips the completed field of one task, leaving every
// other field untouched. Toggling a task that no longer exists fails
// with StoreError: not-found; callers should treat that as a refresh
// trigger, not a fatal error.
func (vm *ViewModel) ToggleComplete(ctx context.Context, taskID string) error {
	path, err := vm.taskPath("toggleComplete", taskID)
	if err != nil {
		return err
	}

	task, err := vm.getTask(ctx, "toggleComplete", path, taskID)
	if err != nil {
		return err
	}

	if err := vm.db.Update(ctx, path, map[string]any{"completed": !task.Completed}); err != nil {
		return vm.mapError("toggleComplete", taskID, err)
	}
	return nil
}

// EditText overwrites the text of one task, leaving every other field
// untouched. Empty text is rejected locally.
func (vm *ViewModel) EditText(ctx context.Context, taskID, newText string) error {
	trimmed, err := validate.TaskText(newText)
	if err != nil {
		return err
	}

	path, err := vm.taskPath("editText", taskID)
	if err != nil {
		return err
	}

	if _, err := vm.getTask(ctx, "editText", path, taskID); err != nil {
		return err
	}

	if err := vm.db.Update(ctx, path, map[string]any{"text": trimmed}); err != nil {
		return vm.mapError("editText", taskID, err)
	}
	return nil
}

// DeleteTask removes one task. Removal is terminal; there is no
// soft-delete. The UI must confirm with the user before calling.
func (vm *ViewModel) DeleteTask(ctx context.Context, taskID string) error {
	path, err := vm.taskPath("deleteTask", taskID)
	if err != nil {
		return err
	}

	if err := vm.db.Delete(ctx, path); err != nil {
		return vm.mapError("deleteTask", taskID, err)
	}

	vm.logger.Info("task deleted",
		logging.Operation("deleteTask"),
		logging.TaskID(taskID),
		logging.Status(logging.StatusSuccess))
	return nil
}

// Snapshot reads the current collection once, in insertion order.
func (vm *ViewModel) Snapshot(ctx context.Context) ([]Task, error) {
	path, err := vm.collectionPath("snapshot")
	if err != nil {
		return nil, err
	}

	raw, err := vm.db.Get(ctx, path)
	if err != nil {
		return nil, vm.mapError("snapshot", "", err)
	}

	collection, err := decodeSnapshot(raw)
	if err != nil {
		return nil, &StoreError{Op: "snapshot", Code: CodeNetwork, Err: err}
	}
	return collection, nil
}

// getTask reads one task, mapping an absent record to not-found.
func (vm *ViewModel) getTask(ctx context.Context, op, path, taskID string) (*Task, error) {
	raw, err := vm.db.Get(ctx, path)
	if err != nil {
		return nil, vm.mapError(op, taskID, err)
	}

	var task *Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, &StoreError{Op: op, TaskID: taskID, Code: CodeNetwork, Err: err}
	}
	if task == nil {
		return nil, &StoreError{Op: op, TaskID: taskID, Code: CodeNotFound, Err: errors.New("task no longer exists")}
	}
	return task, nil
}

// mapError converts platform errors to the store taxonomy.
func (vm *ViewModel) mapError(op, taskID string, err error) error {
	var platformErr *platform.Error
	if !errors.As(err, &platformErr) {
		return &StoreError{Op: op, TaskID: taskID, Code: CodeNetwork, Err: err}
	}

	code := CodeNetwork
	switch platformErr.Code {
	case platform.CodePermissionDenied:
		code = CodePermissionDenied
	case platform.CodeNotFound:
		code = CodeNotFound
	case platform.CodeWriteConflict:
		code = CodeWriteConflict
	}

	return &StoreError{Op: op, TaskID: taskID, Code: code, Err: err}
}
