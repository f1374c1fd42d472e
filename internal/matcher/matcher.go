// Package matcher resolves face embeddings against a roster of known
// student embeddings. Matching is a pure function over an immutable roster
// snapshot; agents swap in a fresh snapshot when the roster is refreshed.
package matcher

import (
	"sort"

	"github.com/coder/hnsw"
)

// hnswCutover is the roster size above which an HNSW graph is built for
// candidate search instead of scanning every entry. Small rosters scan
// directly; the exact scores are recomputed either way so results do not
// depend on which path ran.
const hnswCutover = 256

// hnswCandidates is how many approximate neighbors are pulled from the
// graph before exact rescoring.
const hnswCandidates = 8

// RosterEntry pairs a student with their canonical face embedding.
type RosterEntry struct {
	StudentID string
	Embedding []float32
}

// Matcher matches embeddings against one roster snapshot.
type Matcher struct {
	threshold float64
	entries   []RosterEntry
	graph     *hnsw.Graph[int]
}

// New builds a matcher over a roster snapshot. Entries with empty
// embeddings are dropped. threshold is the minimum cosine similarity for a
// match; anything below resolves to unknown.
func New(roster []RosterEntry, threshold float64) *Matcher {
	entries := make([]RosterEntry, 0, len(roster))
	for _, e := range roster {
		if e.StudentID == "" || len(e.Embedding) == 0 {
			continue
		}
		entries = append(entries, e)
	}
	// Stable order so index-based tie handling is deterministic.
	sort.Slice(entries, func(i, j int) bool { return entries[i].StudentID < entries[j].StudentID })

	m := &Matcher{threshold: threshold, entries: entries}
	if len(entries) >= hnswCutover {
		g := hnsw.NewGraph[int]()
		g.M = 16
		g.Ml = 1.0 / 16.0
		g.Distance = hnsw.CosineDistance
		for i, e := range entries {
			g.Add(hnsw.MakeNode(i, e.Embedding))
		}
		m.graph = g
	}
	return m
}

// Size returns the number of usable roster entries.
func (m *Matcher) Size() int { return len(m.entries) }

// Match returns the best-matching student for the embedding, with its
// cosine similarity score. ok is false when the roster is empty or the
// best score is below the threshold; such sightings are treated as unknown
// identities, never a forced guess. Exact score ties resolve to the
// lexicographically smaller student id.
func (m *Matcher) Match(embedding []float32) (studentID string, score float64, ok bool) {
	if len(m.entries) == 0 || len(embedding) == 0 {
		return "", 0, false
	}

	bestIdx := -1
	bestScore := -1.0
	consider := func(i int) {
		s := CosineSimilarity(embedding, m.entries[i].Embedding)
		if s > bestScore || (s == bestScore && bestIdx >= 0 && m.entries[i].StudentID < m.entries[bestIdx].StudentID) {
			bestIdx, bestScore = i, s
		}
	}

	if m.graph != nil {
		for _, n := range m.graph.Search(embedding, hnswCandidates) {
			consider(n.Key)
		}
	} else {
		for i := range m.entries {
			consider(i)
		}
	}

	if bestIdx < 0 || bestScore < m.threshold {
		return "", bestScore, false
	}
	return m.entries[bestIdx].StudentID, bestScore, true
}
