// Package vecmath provides the pure vector operations used by retrieval and
// maintenance: cosine similarity, top-k selection, threshold filtering, and
// transitive similarity clustering. No I/O happens here.
package vecmath

import (
	"math"
	"sort"
)

// Scored pairs an item ID with a similarity score.
type Scored struct {
	ID    string
	Score float64
}

// CosineSimilarity computes the cosine similarity between two equal-length
// vectors. Returns 0 when lengths differ or either vector has zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		fa, fb := float64(a[i]), float64(b[i])
		dot += fa * fb
		na += fa * fa
		nb += fb * fb
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// TopK ranks the given vectors by cosine similarity to query and returns the
// k best, scores descending. Ties break by ID ascending so identical inputs
// always produce identical orderings.
func TopK(query []float32, vectors map[string][]float32, k int) []Scored {
	if k <= 0 || len(vectors) == 0 {
		return nil
	}
	scored := make([]Scored, 0, len(vectors))
	for id, vec := range vectors {
		scored = append(scored, Scored{ID: id, Score: CosineSimilarity(query, vec)})
	}
	sortScored(scored)
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// AboveThreshold returns every vector whose cosine similarity to query is at
// least min, scores descending with the same deterministic tie-break as TopK.
func AboveThreshold(query []float32, vectors map[string][]float32, min float64) []Scored {
	var scored []Scored
	for id, vec := range vectors {
		if sim := CosineSimilarity(query, vec); sim >= min {
			scored = append(scored, Scored{ID: id, Score: sim})
		}
	}
	sortScored(scored)
	return scored
}

// Clusters groups vectors whose pairwise similarity meets threshold,
// transitively: if a~b and b~c then {a,b,c} form one cluster even when a and c
// are dissimilar. Singleton clusters are included. Cluster membership and
// ordering are deterministic for identical inputs.
func Clusters(vectors map[string][]float32, threshold float64) [][]string {
	ids := make([]string, 0, len(vectors))
	for id := range vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// Union-find over the sorted ID list.
	parent := make(map[string]string, len(ids))
	for _, id := range ids {
		parent[id] = id
	}
	var find func(string) string
	find = func(x string) string {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if CosineSimilarity(vectors[ids[i]], vectors[ids[j]]) >= threshold {
				union(ids[i], ids[j])
			}
		}
	}

	groups := make(map[string][]string)
	for _, id := range ids {
		root := find(id)
		groups[root] = append(groups[root], id)
	}

	roots := make([]string, 0, len(groups))
	for root := range groups {
		roots = append(roots, root)
	}
	sort.Strings(roots)

	out := make([][]string, 0, len(roots))
	for _, root := range roots {
		out = append(out, groups[root])
	}
	return out
}

func sortScored(s []Scored) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		return s[i].ID < s[j].ID
	})
}
