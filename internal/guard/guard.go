// Package guard decides page routing from session state.
//
// Both guards are pure functions of the session store's (resolved,
// session) pair. Until the store has resolved the initial state they
// return Wait, meaning the caller must render nothing (or a neutral
// placeholder) rather than redirect early and flicker.
package guard

import "github.com/taskdeck/taskdeck/internal/session"

// Page paths used as redirect targets.
const (
	LoginPath = "/login"
	TasksPath = "/"
)

// Action is the routing outcome of a guard.
type Action int

const (
	// Wait means session state is unresolved; render nothing yet
	Wait Action = iota

	// Allow means the guarded page may render
	Allow

	// Redirect means navigate to Decision.Target instead
	Redirect
)

// Decision is the outcome of evaluating a guard.
type Decision struct {
	Action Action
	Target string
}

// RequireAuth guards pages that need a signed-in user: absent sessions
// are redirected to the login page.
func RequireAuth(resolved bool, current *session.Session) Decision {
	if !resolved {
		return Decision{Action: Wait}
	}
	if current == nil {
		return Decision{Action: Redirect, Target: LoginPath}
	}
	return Decision{Action: Allow}
}

// RequireAnon guards the login and signup pages: present sessions are
// redirected to the task list.
func RequireAnon(resolved bool, current *session.Session) Decision {
	if !resolved {
		return Decision{Action: Wait}
	}
	if current != nil {
		return Decision{Action: Redirect, Target: TasksPath}
	}
	return Decision{Action: Allow}
}
