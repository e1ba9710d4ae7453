// Package session holds the authenticated identity of the current user, or
// its absence, and is the sole way other components observe identity.
//
// The Store wraps the platform's identity operations (email/password
// sign-up and sign-in, federated Google sign-in, sign-out) and fans out
// state changes to registered listeners. A listener is invoked once
// immediately with the current state on registration and again on every
// subsequent change; there is no polling.
//
// Until the store has resolved the initial state (restored a cached
// credential or established that none exists), Resolved reports false and
// session-gated consumers must suspend. Once resolved, the settled value
// is authoritative until the next change.
//
// The session mirrors the provider's profile read-only. It can change
// asynchronously if the provider invalidates the credential out-of-band;
// the store surfaces that as a transition to the absent state.
package session
