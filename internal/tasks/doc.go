// Package tasks is the view-model for the per-user task collection.
//
// It mediates between the platform's path-addressed store and the page
// views: mutations (add, toggle, edit, delete) are narrow field writes to
// the user's collection path, and reads arrive as live full-collection
// snapshots through Subscribe. The view-model never mutates state
// optimistically; every change becomes visible only through the snapshot
// round-trip, so the UI always renders what the store acknowledged.
//
// All operations are scoped to the current session's user id. An
// operation invoked with no active session fails with
// AuthError: unauthenticated. Cross-user access is not supported; each
// subscription is scoped to exactly one user path.
//
// Collection snapshots replace the previous view wholesale. The store
// delivers snapshots in the order the platform emits them; the view-model
// does not reorder or reconcile them.
package tasks
