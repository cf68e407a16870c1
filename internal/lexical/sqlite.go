package lexical

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// FTS5Scorer delegates lexical ranking to a SQLite FTS5 virtual table. It
// trades the BM25Scorer's zero-dependency simplicity for an index that
// survives restarts without a rebuild.
type FTS5Scorer struct {
	db *sql.DB
}

var _ Scorer = (*FTS5Scorer)(nil)

// NewFTS5Scorer opens (or creates) the index database at path. Use ":memory:"
// for an ephemeral index.
func NewFTS5Scorer(path string) (*FTS5Scorer, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("lexical: open %s: %w", path, err)
	}

	// FTS5 handles its own tokenization; doc_id is stored but not indexed.
	const schema = `
		CREATE VIRTUAL TABLE IF NOT EXISTS lexical_docs
		USING fts5(doc_id UNINDEXED, content, tokenize='unicode61')
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("lexical: create fts5 table: %w", err)
	}

	return &FTS5Scorer{db: db}, nil
}

// Index adds or overwrites the document with the same ID.
func (s *FTS5Scorer) Index(doc Document) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("lexical: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM lexical_docs WHERE doc_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("lexical: delete %s: %w", doc.ID, err)
	}
	if _, err := tx.Exec(`INSERT INTO lexical_docs (doc_id, content) VALUES (?, ?)`, doc.ID, doc.Content); err != nil {
		return fmt.Errorf("lexical: insert %s: %w", doc.ID, err)
	}
	return tx.Commit()
}

// Remove deletes the document from the index. Unknown IDs are a no-op.
func (s *FTS5Scorer) Remove(id string) error {
	if _, err := s.db.Exec(`DELETE FROM lexical_docs WHERE doc_id = ?`, id); err != nil {
		return fmt.Errorf("lexical: remove %s: %w", id, err)
	}
	return nil
}

// Rebuild replaces the whole index with the given documents.
func (s *FTS5Scorer) Rebuild(docs []Document) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("lexical: begin rebuild: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM lexical_docs`); err != nil {
		return fmt.Errorf("lexical: clear index: %w", err)
	}
	for _, doc := range docs {
		if _, err := tx.Exec(`INSERT INTO lexical_docs (doc_id, content) VALUES (?, ?)`, doc.ID, doc.Content); err != nil {
			return fmt.Errorf("lexical: rebuild insert %s: %w", doc.ID, err)
		}
	}
	return tx.Commit()
}

// Search ranks documents with FTS5's built-in bm25() ranking. FTS5 negates
// the score so better matches rank numerically lower; we flip it back so the
// contract's "non-increasing scores" holds.
func (s *FTS5Scorer) Search(query string, limit int, minScore float64) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	ftsQuery := sanitiseFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	rows, err := s.db.Query(`
		SELECT doc_id, -bm25(lexical_docs) AS score
		FROM lexical_docs
		WHERE lexical_docs MATCH ?
		ORDER BY score DESC, doc_id ASC
		LIMIT ?`, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("lexical: MATCH %q: %w", query, err)
	}
	defer func() { _ = rows.Close() }()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Score); err != nil {
			return nil, fmt.Errorf("lexical: scan: %w", err)
		}
		if r.Score >= minScore {
			results = append(results, r)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lexical: rows: %w", err)
	}
	return results, nil
}

// Close releases the underlying database handle.
func (s *FTS5Scorer) Close() error {
	return s.db.Close()
}

// sanitiseFTSQuery converts a free-form query into a safe FTS5 MATCH
// expression. FTS5 syntax is fragile: an unbalanced quote or stray operator
// keyword produces "fts5: syntax error", so user input is reduced to
// OR-joined prefix terms.
func sanitiseFTSQuery(query string) string {
	replacer := strings.NewReplacer(
		`"`, ` `, `'`, ` `, `(`, ` `, `)`, ` `,
		`*`, ` `, `-`, ` `, `^`, ` `, `?`, ` `, `:`, ` `,
	)
	cleaned := replacer.Replace(query)

	var terms []string
	for _, w := range strings.Fields(strings.ToLower(cleaned)) {
		if len(w) >= 2 && !stopWords[w] {
			terms = append(terms, w+"*")
		}
	}
	if len(terms) == 0 {
		return strings.ToLower(strings.TrimSpace(cleaned))
	}
	return strings.Join(terms, " OR ")
}
