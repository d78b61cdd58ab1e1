package hala

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// ============================================================================
// Durable call-marker
// ============================================================================

// CallMarker is the durable record of "a call is in progress". It exists for
// exactly one purpose: if the process dies mid-call, the next start-up finds
// the marker and sends a best-effort end-call to the recorded peer. It is
// never used to resume a call.
//
// The marker records a single peer; group calls would need a different shape.
type CallMarker struct {
	CallID    string    `toml:"call_id"`
	PeerID    string    `toml:"peer_id"`
	Role      string    `toml:"role"` // "caller" or "callee"
	StartedAt time.Time `toml:"started_at"`
}

// MarkerStore persists the call-marker to a single file. The file has one
// writer (the live process) with last-writer-wins semantics.
type MarkerStore struct {
	path string
}

// NewMarkerStore creates a store rooted at path. The parent directory is
// created on first save.
func NewMarkerStore(path string) *MarkerStore {
	return &MarkerStore{path: path}
}

// DefaultMarkerPath returns ~/.hala/active_call.toml.
func DefaultMarkerPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".hala", "active_call.toml"), nil
}

// Load reads the marker. A missing file yields (nil, nil); a corrupt file is
// discarded the same way a stale marker is, since no recorded peer can be
// recovered from it.
func (s *MarkerStore) Load() (*CallMarker, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot read call marker: %w", err)
	}
	var m CallMarker
	if err := toml.Unmarshal(data, &m); err != nil || m.PeerID == "" {
		_ = os.Remove(s.path)
		return nil, nil
	}
	return &m, nil
}

// Save writes the marker atomically (temp file + rename).
func (s *MarkerStore) Save(m *CallMarker) error {
	data, err := toml.Marshal(m)
	if err != nil {
		return fmt.Errorf("cannot marshal call marker: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("cannot create marker directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "active_call-*.toml")
	if err != nil {
		return fmt.Errorf("cannot create marker temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("cannot write call marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cannot close marker temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cannot persist call marker: %w", err)
	}
	return nil
}

// Clear removes the marker. Clearing an absent marker is a no-op.
func (s *MarkerStore) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot clear call marker: %w", err)
	}
	return nil
}
