// Package lexical provides keyword relevance scoring over memory content.
//
// The scorer is an interchangeable component behind a small contract: the
// default BM25Scorer keeps a term-frequency index in process memory; the
// FTS5Scorer delegates ranking to a SQLite FTS5 virtual table. Both satisfy
// the same guarantees: deterministic ordering for identical inputs,
// non-increasing scores within one result list, and immediate
// unreachability of removed documents without a full rebuild.
package lexical

// Document is the unit of lexical indexing: a memory ID and its content body.
type Document struct {
	ID      string
	Content string
}

// Result is one ranked search hit.
type Result struct {
	ID    string
	Score float64
}

// Scorer is the lexical relevance contract.
type Scorer interface {
	// Index adds or overwrites the document with the same ID.
	Index(doc Document) error

	// Remove makes the document unreachable by subsequent searches.
	// Removing an unknown ID is a no-op.
	Remove(id string) error

	// Search returns up to limit documents ranked by relevance to query,
	// scores non-increasing, excluding hits below minScore.
	Search(query string, limit int, minScore float64) ([]Result, error)

	// Rebuild replaces the whole index with the given documents.
	Rebuild(docs []Document) error

	// Close releases any resources held by the scorer.
	Close() error
}
