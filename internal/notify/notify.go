// Package notify surfaces approval requests to the human owner. The default
// sink writes one JSON artifact per pending memory under the data directory;
// an external inbox tool (or plain ls) picks them up. Writing is idempotent:
// a memory that is still pending never produces a second artifact.
package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/engram-memory/engram/pkg/types"
)

// Notification is the artifact shape written for each approval request.
type Notification struct {
	MemoryID   string           `json:"memory_id"`
	Type       types.MemoryType `json:"type"`
	Summary    string           `json:"summary"`
	Confidence float64          `json:"confidence"`
	CreatedAt  time.Time        `json:"created_at"`

	// ApproveURL is the API path that promotes the memory; inbox tooling
	// turns it into an actionable link.
	ApproveURL string `json:"approve_url"`
}

// Notifier delivers approval requests.
type Notifier interface {
	// PendingApproval notifies about a memory awaiting review. Repeated calls
	// for the same memory are idempotent.
	PendingApproval(m *types.Memory) error

	// Resolve clears the notification once the memory is approved, rejected
	// or otherwise leaves the pending state. Unknown IDs are a no-op.
	Resolve(memoryID string) error
}

// FileNotifier writes notifications under {dir}/notifications.
type FileNotifier struct {
	dir string
	log zerolog.Logger
}

var _ Notifier = (*FileNotifier)(nil)

// NewFileNotifier ensures the notifications directory exists.
func NewFileNotifier(dataDir string, log zerolog.Logger) (*FileNotifier, error) {
	dir := filepath.Join(dataDir, "notifications")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("notify: mkdir %s: %w", dir, err)
	}
	return &FileNotifier{dir: dir, log: log}, nil
}

// PendingApproval writes the notification artifact unless one already exists.
func (n *FileNotifier) PendingApproval(m *types.Memory) error {
	path := n.path(m.ID)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	err := writeJSON(path, Notification{
		MemoryID:   m.ID,
		Type:       m.Type,
		Summary:    m.Summary,
		Confidence: m.Confidence,
		CreatedAt:  time.Now().UTC(),
		ApproveURL: "/api/memories/" + m.ID + "/approve",
	})
	if err != nil {
		return err
	}
	n.log.Info().Str("id", m.ID).Str("type", string(m.Type)).Msg("memory queued for approval")
	return nil
}

// Resolve removes the notification artifact.
func (n *FileNotifier) Resolve(memoryID string) error {
	err := os.Remove(n.path(memoryID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("notify: resolve %s: %w", memoryID, err)
	}
	return nil
}

// Pending lists notification artifacts currently on disk, oldest first.
func (n *FileNotifier) Pending() ([]Notification, error) {
	files, err := os.ReadDir(n.dir)
	if err != nil {
		return nil, fmt.Errorf("notify: list notifications: %w", err)
	}
	var out []Notification
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		var note Notification
		if err := readJSON(filepath.Join(n.dir, f.Name()), &note); err != nil {
			continue
		}
		out = append(out, note)
	}
	sortByCreated(out)
	return out, nil
}

func (n *FileNotifier) path(id string) string {
	safe := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' || r == '.' {
			return '_'
		}
		return r
	}, id)
	return filepath.Join(n.dir, safe+".json")
}

func sortByCreated(notes []Notification) {
	for i := 1; i < len(notes); i++ {
		for j := i; j > 0 && notes[j].CreatedAt.Before(notes[j-1].CreatedAt); j-- {
			notes[j], notes[j-1] = notes[j-1], notes[j]
		}
	}
}

// NopNotifier discards every notification; useful in tests and for callers
// that poll the pending list instead.
type NopNotifier struct{}

func (NopNotifier) PendingApproval(*types.Memory) error { return nil }
func (NopNotifier) Resolve(string) error                { return nil }

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("notify: marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("notify: write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
