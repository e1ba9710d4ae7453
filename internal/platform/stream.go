package platform

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/taskdeck/taskdeck/internal/logging"
)

// Stream reconnect backoff bounds. A connection that stayed up past
// streamHealthyAge counts as recovered and the backoff restarts from the
// base delay.
const (
	streamBackoffBase = 1 * time.Second
	streamBackoffMax  = 60 * time.Second
	streamHealthyAge  = 30 * time.Second
)

// Subscribe attaches a live listener to path over the platform's
// text/event-stream protocol. The callback receives the full current
// snapshot of the path on every change; the stream's put/patch diffs are
// folded into a locally maintained subtree so subscribers never see a
// partial view. Reconnection after a dropped stream is handled internally
// with exponential backoff.
//
// The returned UnsubscribeFunc tears the stream down. Callers must invoke
// it when the owning view is torn down; after it returns no further
// snapshots are delivered.
func (c *Client) Subscribe(ctx context.Context, path string, fn SnapshotFunc) (UnsubscribeFunc, error) {
	if fn == nil {
		return nil, fmt.Errorf("subscribe callback cannot be nil")
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &stream{
		client: c,
		path:   strings.Trim(path, "/"),
		fn:     fn,
	}
	go s.run(ctx)

	return func() { cancel() }, nil
}

// stream maintains one live subscription: the SSE connection, the local
// subtree, and the reconnect loop.
type stream struct {
	client *Client
	path   string
	fn     SnapshotFunc
	root   any
}

func (s *stream) run(ctx context.Context) {
	logger := logging.WithOperation(s.client.logger, "subscribe")
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	attempt := 0
	for {
		connected := time.Now()
		err := s.consume(ctx)
		if ctx.Err() != nil {
			return
		}

		attempt = nextStreamAttempt(attempt, time.Since(connected))
		delay := streamBackoff(attempt, rng)
		logger.Warn("stream disconnected, reconnecting",
			logging.Path(s.path),
			logging.Err(err),
			"delay", delay.String())

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// consume opens the event stream and folds events into the subtree until
// the connection drops or the context is cancelled.
func (s *stream) consume(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.client.pathURL(s.path), nil)
	if err != nil {
		return fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.streamClient.Do(req)
	if err != nil {
		return &Error{Op: "subscribe", Path: s.path, Code: CodeNetwork, Err: err}
	}
	defer resp.Body.Close()

	if err := storeError("subscribe", s.path, resp); err != nil {
		return err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			if event != "" {
				if err := s.dispatch(event, data); err != nil {
					return err
				}
			}
			event, data = "", ""
		}
	}

	if err := scanner.Err(); err != nil {
		return &Error{Op: "subscribe", Path: s.path, Code: CodeNetwork, Err: err}
	}
	return &Error{Op: "subscribe", Path: s.path, Code: CodeNetwork, Err: errors.New("stream closed by server")}
}

// dispatch handles one server event. put and patch mutate the subtree and
// emit a fresh snapshot; the remaining event types are protocol control.
func (s *stream) dispatch(event, data string) error {
	switch event {
	case "put", "patch":
		var change struct {
			Path string          `json:"path"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal([]byte(data), &change); err != nil {
			return fmt.Errorf("failed to decode %s event: %w", event, err)
		}

		var value any
		if len(change.Data) > 0 {
			if err := json.Unmarshal(change.Data, &value); err != nil {
				return fmt.Errorf("failed to decode %s data: %w", event, err)
			}
		}

		if event == "put" {
			s.root = putAt(s.root, splitPath(change.Path), value)
		} else {
			s.root = patchAt(s.root, splitPath(change.Path), value)
		}
		s.emit()
		return nil

	case "keep-alive":
		return nil

	case "cancel":
		return &Error{Op: "subscribe", Path: s.path, Code: CodePermissionDenied, Err: errors.New("stream cancelled by server")}

	case "auth_revoked":
		// Reconnect picks up a fresh token from the token func
		return &Error{Op: "subscribe", Path: s.path, Code: CodePermissionDenied, Err: errors.New("stream credential expired")}

	default:
		return nil
	}
}

// emit delivers the full current snapshot to the subscriber.
func (s *stream) emit() {
	snapshot, err := json.Marshal(s.root)
	if err != nil {
		// The subtree is built from decoded JSON, so this cannot fail
		// with well-formed server events
		return
	}
	s.fn(snapshot)
}

// splitPath splits an event path ("/", "/a/b") into segments.
func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// putAt replaces the value at the given segments within root.
func putAt(root any, segments []string, value any) any {
	if len(segments) == 0 {
		return value
	}

	node, ok := root.(map[string]any)
	if !ok {
		node = make(map[string]any)
	}

	child := putAt(node[segments[0]], segments[1:], value)
	if child == nil {
		delete(node, segments[0])
	} else {
		node[segments[0]] = child
	}

	if len(node) == 0 {
		return nil
	}
	return node
}

// patchAt merges the children of value into the node at the given segments.
func patchAt(root any, segments []string, value any) any {
	fields, ok := value.(map[string]any)
	if !ok {
		return putAt(root, segments, value)
	}

	result := root
	for key, fieldValue := range fields {
		result = putAt(result, append(append([]string{}, segments...), key), fieldValue)
	}
	return result
}

// nextStreamAttempt advances the reconnect counter. A connection that
// lived past streamHealthyAge resets the counter so a brief outage after a
// long-lived stream retries promptly instead of at the accumulated cap.
func nextStreamAttempt(attempt int, connectedFor time.Duration) int {
	if connectedFor >= streamHealthyAge {
		return 1
	}
	return attempt + 1
}

// streamBackoff computes the reconnect delay with full jitter.
// attempt is 1-based (1 => base delay).
func streamBackoff(attempt int, rng *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}

	delay := streamBackoffBase << (attempt - 1)
	if delay > streamBackoffMax {
		delay = streamBackoffMax
	}

	return time.Duration(rng.Int63n(int64(delay) + 1))
}
