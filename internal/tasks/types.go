package tasks

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Task priorities. The priority field is reserved: it is rendered when
// present but no creation path ever sets it.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Task is one record in a user's collection.
type Task struct {
	// ID is the store-assigned key, unique within the owning user's
	// collection and immutable after creation
	ID string `json:"-"`

	// Text is the task description; never empty
	Text string `json:"text"`

	// Completed reports whether the task is done
	Completed bool `json:"completed"`

	// CreatedAt is the client-assigned creation time in milliseconds
	// since epoch; never mutated after creation
	CreatedAt int64 `json:"createdAt"`

	// Priority is the optional reserved priority field
	Priority string `json:"priority,omitempty"`
}

// CreatedTime returns the creation timestamp as a local time.
func (t Task) CreatedTime() time.Time {
	return time.UnixMilli(t.CreatedAt)
}

// StoreError codes.
const (
	CodePermissionDenied = "permission-denied"
	CodeNotFound         = "not-found"
	CodeNetwork          = "network"
	CodeWriteConflict    = "write-conflict"
)

// StoreError represents a failed store operation. It propagates to the
// initiating UI action, which surfaces it and leaves the prior state
// unchanged; there is no automatic retry.
type StoreError struct {
	// Op is the operation that failed (e.g., "addTask", "deleteTask")
	Op string

	// TaskID is the task the operation targeted, if any
	TaskID string

	// Code is the application-level store error code
	Code string

	// Err is the underlying error
	Err error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("tasks %s %s: %s: %v", e.Op, e.TaskID, e.Code, e.Err)
	}
	return fmt.Sprintf("tasks %s: %s: %v", e.Op, e.Code, e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *StoreError) Unwrap() error {
	return e.Err
}

// SnapshotFunc receives the full current collection on every change.
type SnapshotFunc func(collection []Task)

// decodeSnapshot converts a raw collection snapshot into tasks in
// insertion order. The store's generated keys sort in arrival order, so
// key order is insertion order.
func decodeSnapshot(snapshot json.RawMessage) ([]Task, error) {
	var records map[string]Task
	if err := json.Unmarshal(snapshot, &records); err != nil {
		return nil, fmt.Errorf("failed to decode collection snapshot: %w", err)
	}
	if len(records) == 0 {
		return []Task{}, nil
	}

	keys := make([]string, 0, len(records))
	for key := range records {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	collection := make([]Task, 0, len(keys))
	for _, key := range keys {
		task := records[key]
		task.ID = key
		collection = append(collection, task)
	}
	return collection, nil
}
