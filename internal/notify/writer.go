// Package notify passes control requests from the chatmem CLI to a running
// server through files in a shared directory. The server watches the
// directory with fsnotify and consumes each request exactly once.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Request actions
const (
	// ActionResetScope clears the sessions and memories of one identity.
	ActionResetScope = "reset_scope"

	// ActionResetAll clears every identity.
	ActionResetAll = "reset_all"

	// ActionFlush saves a snapshot immediately.
	ActionFlush = "flush"
)

// ErrInvalidRequest is returned for a request that names no action or a
// scoped action without a scope.
var ErrInvalidRequest = errors.New("invalid request")

// Request is the payload written to a request file.
type Request struct {
	Action string `json:"action"`
	Scope  string `json:"scope,omitempty"`
	Time   int64  `json:"time"`
}

// Validate checks that the request can be dispatched.
func (r Request) Validate() error {
	switch r.Action {
	case ActionResetScope:
		if r.Scope == "" {
			return fmt.Errorf("%w: %s requires a scope", ErrInvalidRequest, r.Action)
		}
	case ActionResetAll, ActionFlush:
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, r.Action)
	}
	return nil
}

// RequestWriter writes request files to a shared directory.
type RequestWriter struct {
	dir string
}

// NewRequestWriter creates a writer that emits requests to {dataPath}/requests/.
func NewRequestWriter(dataPath string) *RequestWriter {
	return &RequestWriter{dir: filepath.Join(dataPath, "requests")}
}

// Send writes a request file. Safe to call concurrently.
//
// The payload is written under a temporary name and renamed into place so
// the watcher never reads a partial file.
func (w *RequestWriter) Send(action, scope string) error {
	req := Request{
		Action: action,
		Scope:  scope,
		Time:   time.Now().UnixNano(),
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("notify: mkdir %s: %w", w.dir, err)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("notify: encode request: %w", err)
	}
	name := fmt.Sprintf("%d-%s", req.Time, action)
	if scope != "" {
		name += "-" + sanitizeID(scope)
	}

	tmp := filepath.Join(w.dir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("notify: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, filepath.Join(w.dir, name+".request")); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("notify: publish request: %w", err)
	}
	return nil
}

// sanitizeID replaces characters unsafe for filenames.
func sanitizeID(id string) string {
	out := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		switch id[i] {
		case '/', ':', '\\', '.':
			out[i] = '_'
		default:
			out[i] = id[i]
		}
	}
	return string(out)
}
