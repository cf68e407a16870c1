package types

import (
	"strings"
	"time"
)

// Candidate is a freshly produced memory awaiting the ingestion gate. It
// mirrors Memory minus the fields the subsystem assigns (id, status,
// timestamps, embedding).
type Candidate struct {
	Type       MemoryType `json:"type"`
	Content    string     `json:"content"`
	Summary    string     `json:"summary,omitempty"`
	Category   string     `json:"category,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	Confidence float64    `json:"confidence"`
	Importance float64    `json:"importance,omitempty"`

	SourceTaskID  string `json:"source_task_id,omitempty"`
	SourceAgentID string `json:"source_agent_id,omitempty"`
	SourceAppID   string `json:"source_app_id,omitempty"`

	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// dedupPrefixLen bounds how much content participates in the dedup key.
const dedupPrefixLen = 100

// DedupKey returns the normalized-content key used for in-batch duplicate
// suppression: type plus a lowercased, whitespace-collapsed content prefix.
func (c Candidate) DedupKey() string {
	collapsed := strings.Join(strings.Fields(strings.ToLower(c.Content)), " ")
	runes := []rune(collapsed)
	if len(runes) > dedupPrefixLen {
		collapsed = string(runes[:dedupPrefixLen])
	}
	return string(c.Type) + "|" + collapsed
}

// IngestReport summarises the outcome of one ingestion batch.
type IngestReport struct {
	// Committed holds the IDs written with status active.
	Committed []string `json:"committed"`

	// PendingApproval holds the IDs queued for human review.
	PendingApproval []string `json:"pending_approval"`

	// Dropped counts candidates discarded below the low-confidence floor.
	Dropped int `json:"dropped"`

	// Duplicates counts candidates suppressed by in-batch deduplication.
	Duplicates int `json:"duplicates"`
}
