// Package platform provides the client for the backend-as-a-service platform
// that owns all identity and persistence for taskdeck.
//
// The platform is consumed through two narrow surfaces:
//
//   - Identity: email/password account creation and sign-in, federated
//     credential exchange, and token-based account lookup
//   - Database: a realtime, path-addressed JSON document store with
//     push/update/delete writes and live snapshot subscriptions
//
// Two implementations exist:
//
//   - Client talks to a Firebase-compatible backend over its REST surfaces
//     (Identity Toolkit for accounts, the database REST API with
//     text/event-stream streaming for live subscriptions)
//   - Memory is a self-contained in-process backend with the same contract,
//     used by tests and the development serve mode
//
// Subscriptions always deliver the full current snapshot of the subscribed
// path, never a diff. The streaming client maintains the subtree locally and
// re-emits it on every put/patch event, so subscribers can unconditionally
// replace their in-memory view. Stream reconnection is handled internally
// with exponential backoff and is invisible to subscribers.
//
// # Example Usage
//
//	client, err := platform.NewClient(cfg, platform.WithTokenFunc(tokens.IDToken))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	cancel, err := client.Subscribe(ctx, "users/u1/tasks", func(snapshot json.RawMessage) {
//	    // full snapshot of users/u1/tasks
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cancel()
package platform
