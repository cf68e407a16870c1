// Package types defines the core data model shared by every Engram component:
// the Memory record, its lifecycle status machine, the lightweight index
// projection, ingestion candidates, and typed filters.
package types

import (
	"strings"
	"time"
)

// MemoryType classifies what kind of knowledge a memory carries.
type MemoryType string

// Supported memory types.
const (
	TypeFact        MemoryType = "fact"
	TypeLearning    MemoryType = "learning"
	TypeObservation MemoryType = "observation"
	TypeDecision    MemoryType = "decision"
	TypePreference  MemoryType = "preference"
	TypeContext     MemoryType = "context"
)

// AllMemoryTypes lists every valid MemoryType value.
var AllMemoryTypes = []MemoryType{
	TypeFact,
	TypeLearning,
	TypeObservation,
	TypeDecision,
	TypePreference,
	TypeContext,
}

// Valid reports whether t is one of the enumerated memory types.
func (t MemoryType) Valid() bool {
	for _, v := range AllMemoryTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Memory is a single typed knowledge record.
//
// Content is the unit that gets embedded and lexically indexed. Summary is a
// short derived text used by the index projection and context assembly.
type Memory struct {
	ID      string     `json:"id"`
	Type    MemoryType `json:"type"`
	Content string     `json:"content"`
	Summary string     `json:"summary,omitempty"`

	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`

	// Confidence is the producer's certainty at ingestion time; Importance is
	// the retrieval priority weight, mutated by decay and access. Both are
	// clamped to [0,1] on every write.
	Confidence float64 `json:"confidence"`
	Importance float64 `json:"importance"`

	AccessCount  int        `json:"access_count"`
	LastAccessed *time.Time `json:"last_accessed,omitempty"`

	// RelatedMemories holds explicit links to other memory IDs. Links are
	// maintained bidirectionally by the engine's Link/Unlink operations.
	RelatedMemories []string `json:"related_memories,omitempty"`

	// Embedding is nil when the embedding provider was unavailable at write
	// time. A nil embedding means vector search is unavailable for this
	// record, never that the record is invalid.
	Embedding []float32 `json:"embedding,omitempty"`

	Status MemoryStatus `json:"status"`

	// Provenance back-references. Informational only; no cascading delete.
	SourceTaskID  string `json:"source_task_id,omitempty"`
	SourceAgentID string `json:"source_agent_id,omitempty"`
	SourceAppID   string `json:"source_app_id,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// summaryMaxLen is the truncation point for derived summaries.
const summaryMaxLen = 120

// DeriveSummary returns a short summary for content: the text up to the first
// newline, truncated to summaryMaxLen runes with an ellipsis.
func DeriveSummary(content string) string {
	s := content
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= summaryMaxLen {
		return s
	}
	return string(runes[:summaryMaxLen-1]) + "…"
}

// Clamp01 clamps v to the [0,1] range.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Clone returns a deep copy of the memory. The store hands out clones so
// callers can never mutate cached state in place.
func (m *Memory) Clone() *Memory {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Tags = append([]string(nil), m.Tags...)
	cp.RelatedMemories = append([]string(nil), m.RelatedMemories...)
	cp.Embedding = append([]float32(nil), m.Embedding...)
	if m.LastAccessed != nil {
		t := *m.LastAccessed
		cp.LastAccessed = &t
	}
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		cp.ExpiresAt = &t
	}
	return &cp
}

// IndexEntry is the denormalized, lightweight projection of a Memory kept in
// the index artifact for fast filtering without loading full bodies.
type IndexEntry struct {
	ID          string       `json:"id"`
	Type        MemoryType   `json:"type"`
	Category    string       `json:"category,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	Summary     string       `json:"summary,omitempty"`
	Importance  float64      `json:"importance"`
	Status      MemoryStatus `json:"status"`
	SourceAppID string       `json:"source_app_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"`
}

// IndexEntry builds the index projection for the memory. Every mutation
// persists this alongside the full record so the two copies converge.
func (m *Memory) IndexEntry() IndexEntry {
	e := IndexEntry{
		ID:          m.ID,
		Type:        m.Type,
		Category:    m.Category,
		Tags:        append([]string(nil), m.Tags...),
		Summary:     m.Summary,
		Importance:  m.Importance,
		Status:      m.Status,
		SourceAppID: m.SourceAppID,
		CreatedAt:   m.CreatedAt,
	}
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		e.ExpiresAt = &t
	}
	return e
}
