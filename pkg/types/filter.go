package types

import (
	"slices"
	"time"
)

// Filter enumerates every supported filter dimension for list and search
// operations. Zero values mean "unset": a nil slice or empty string places no
// constraint on that dimension.
type Filter struct {
	Types      []MemoryType   `json:"types,omitempty"`
	Categories []string       `json:"categories,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Statuses   []MemoryStatus `json:"statuses,omitempty"`

	SourceAppID string `json:"source_app_id,omitempty"`

	// CreatedAfter / CreatedBefore bound the creation time. Zero values mean
	// no bound on that side.
	CreatedAfter  time.Time `json:"created_after,omitempty"`
	CreatedBefore time.Time `json:"created_before,omitempty"`

	// MinImportance filters to entries with importance >= this value.
	MinImportance float64 `json:"min_importance,omitempty"`
}

// Matches reports whether the index entry satisfies every set dimension.
func (f Filter) Matches(e IndexEntry) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, e.Type) {
		return false
	}
	if len(f.Categories) > 0 && !slices.Contains(f.Categories, e.Category) {
		return false
	}
	if len(f.Tags) > 0 {
		found := false
		for _, want := range f.Tags {
			if slices.Contains(e.Tags, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, e.Status) {
		return false
	}
	if f.SourceAppID != "" && e.SourceAppID != f.SourceAppID {
		return false
	}
	if !f.CreatedAfter.IsZero() && !e.CreatedAt.After(f.CreatedAfter) {
		return false
	}
	if !f.CreatedBefore.IsZero() && !e.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	if f.MinImportance > 0 && e.Importance < f.MinImportance {
		return false
	}
	return true
}

// Validate rejects malformed filters before any store work begins.
func (f Filter) Validate() error {
	for _, t := range f.Types {
		if !t.Valid() {
			return &ValidationError{Field: "types", Reason: "unknown memory type " + string(t)}
		}
	}
	for _, s := range f.Statuses {
		if !s.Valid() {
			return &ValidationError{Field: "statuses", Reason: "unknown status " + string(s)}
		}
	}
	if !f.CreatedAfter.IsZero() && !f.CreatedBefore.IsZero() && f.CreatedBefore.Before(f.CreatedAfter) {
		return &ValidationError{Field: "created_before", Reason: "date range is inverted"}
	}
	if f.MinImportance < 0 || f.MinImportance > 1 {
		return &ValidationError{Field: "min_importance", Reason: "must be in [0,1]"}
	}
	return nil
}

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Field + ": " + e.Reason
}

// ListOptions provides sorting and pagination for list operations, which run
// over index entries only.
type ListOptions struct {
	Filter Filter `json:"filter"`

	// SortBy is one of "created_at", "importance". Unknown values fall back
	// to "created_at".
	SortBy    string `json:"sort_by,omitempty"`
	SortOrder string `json:"sort_order,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Normalize applies defaults and caps to the options.
func (o *ListOptions) Normalize() {
	if o.SortBy != "created_at" && o.SortBy != "importance" {
		o.SortBy = "created_at"
	}
	if o.SortOrder != "asc" && o.SortOrder != "desc" {
		o.SortOrder = "desc"
	}
	if o.Limit < 1 {
		o.Limit = 20
	}
	if o.Limit > 200 {
		o.Limit = 200
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// ListResult is a page of index entries plus the total match count.
type ListResult struct {
	Total int          `json:"total"`
	Items []IndexEntry `json:"items"`
}
