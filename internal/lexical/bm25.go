package lexical

import (
	"math"
	"sort"
	"sync"
)

// BM25 free parameters. k1 controls term-frequency saturation, b controls
// document-length normalization; both are the standard Robertson defaults.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// BM25Scorer is the default in-memory lexical scorer. It maintains term
// frequencies per document and document frequencies per term, supporting
// incremental add/remove without rebuilding.
type BM25Scorer struct {
	mu sync.RWMutex

	// termFreqs maps document ID to term → occurrence count.
	termFreqs map[string]map[string]int

	// docFreqs maps term to the number of documents containing it.
	docFreqs map[string]int

	// docLens maps document ID to its token count.
	docLens map[string]int

	totalLen int
}

// NewBM25Scorer creates an empty in-memory scorer.
func NewBM25Scorer() *BM25Scorer {
	return &BM25Scorer{
		termFreqs: make(map[string]map[string]int),
		docFreqs:  make(map[string]int),
		docLens:   make(map[string]int),
	}
}

var _ Scorer = (*BM25Scorer)(nil)

// Index adds or overwrites the document with the same ID.
func (s *BM25Scorer) Index(doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(doc.ID)

	terms := tokenize(doc.Content)
	tf := make(map[string]int, len(terms))
	for _, t := range terms {
		tf[t]++
	}

	s.termFreqs[doc.ID] = tf
	s.docLens[doc.ID] = len(terms)
	s.totalLen += len(terms)
	for t := range tf {
		s.docFreqs[t]++
	}
	return nil
}

// Remove deletes the document from the index. Unknown IDs are a no-op.
func (s *BM25Scorer) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
	return nil
}

func (s *BM25Scorer) removeLocked(id string) {
	tf, ok := s.termFreqs[id]
	if !ok {
		return
	}
	for t := range tf {
		if s.docFreqs[t] <= 1 {
			delete(s.docFreqs, t)
		} else {
			s.docFreqs[t]--
		}
	}
	s.totalLen -= s.docLens[id]
	delete(s.termFreqs, id)
	delete(s.docLens, id)
}

// Rebuild replaces the whole index with the given documents.
func (s *BM25Scorer) Rebuild(docs []Document) error {
	s.mu.Lock()
	s.termFreqs = make(map[string]map[string]int, len(docs))
	s.docFreqs = make(map[string]int)
	s.docLens = make(map[string]int, len(docs))
	s.totalLen = 0
	s.mu.Unlock()

	for _, doc := range docs {
		if err := s.Index(doc); err != nil {
			return err
		}
	}
	return nil
}

// Search ranks documents by BM25 relevance to query. Ordering is
// deterministic: score descending, then ID ascending.
func (s *BM25Scorer) Search(query string, limit int, minScore float64) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.termFreqs)
	if n == 0 {
		return nil, nil
	}
	avgLen := float64(s.totalLen) / float64(n)
	if avgLen == 0 {
		avgLen = 1
	}

	scores := make(map[string]float64)
	for _, term := range queryTerms {
		df := s.docFreqs[term]
		if df == 0 {
			continue
		}
		// Standard BM25 IDF with +1 smoothing so it never goes negative.
		idf := math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))

		for id, tf := range s.termFreqs {
			f := float64(tf[term])
			if f == 0 {
				continue
			}
			dl := float64(s.docLens[id])
			scores[id] += idf * (f * (bm25K1 + 1)) / (f + bm25K1*(1-bm25B+bm25B*dl/avgLen))
		}
	}

	results := make([]Result, 0, len(scores))
	for id, score := range scores {
		if score >= minScore && score > 0 {
			results = append(results, Result{ID: id, Score: score})
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Close is a no-op for the in-memory scorer.
func (s *BM25Scorer) Close() error { return nil }
