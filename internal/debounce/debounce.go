// Package debounce suppresses repeated sightings of the same identity
// within a cooldown window, so one continuous physical presence produces a
// single candidate event instead of hundreds.
//
// A Debouncer belongs to exactly one room's processing goroutine and is
// never shared, so it needs no locking. Sightings carry their capture
// time; the debouncer keeps no clock of its own, so a drained detector
// backlog debounces by when faces were seen, not by when the batch was
// polled.
package debounce

import (
	"time"

	"classtrack/internal/matcher"
)

// Debouncer tracks per-identity cooldown deadlines for one room. Known
// identities are keyed by student id. Unknown identities are clustered by
// embedding similarity so the same unrecognized face does not flood
// quarantine once per frame.
type Debouncer struct {
	cooldown         time.Duration
	clusterThreshold float64

	known    map[string]time.Time
	unknowns []unknownCluster
}

type unknownCluster struct {
	centroid []float32
	deadline time.Time
}

// New creates a Debouncer. cooldown is the suppression window after an
// emitted event; clusterThreshold is the minimum cosine similarity for two
// unknown sightings to count as the same face.
func New(cooldown time.Duration, clusterThreshold float64) *Debouncer {
	return &Debouncer{
		cooldown:         cooldown,
		clusterThreshold: clusterThreshold,
		known:            make(map[string]time.Time),
	}
}

// Observe records a sighting of a resolved identity at the given time. It
// returns true when a candidate event should be emitted (the identity was
// idle) and false while the identity is inside its suppression window.
func (d *Debouncer) Observe(studentID string, at time.Time) bool {
	if deadline, ok := d.known[studentID]; ok && at.Before(deadline) {
		return false
	}
	d.known[studentID] = at.Add(d.cooldown)
	return true
}

// ObserveUnknown records a sighting of an unresolved identity at the given
// time. The embedding is matched against active unknown clusters; a
// sighting inside an existing cluster's window is suppressed, otherwise a
// new cluster opens and the sighting is emitted.
func (d *Debouncer) ObserveUnknown(embedding []float32, at time.Time) bool {
	d.pruneUnknowns(at)

	for i := range d.unknowns {
		if matcher.CosineSimilarity(embedding, d.unknowns[i].centroid) >= d.clusterThreshold {
			return false
		}
	}
	d.unknowns = append(d.unknowns, unknownCluster{centroid: embedding, deadline: at.Add(d.cooldown)})
	return true
}

func (d *Debouncer) pruneUnknowns(at time.Time) {
	active := d.unknowns[:0]
	for _, c := range d.unknowns {
		if at.Before(c.deadline) {
			active = append(active, c)
		}
	}
	d.unknowns = active
}

// ActiveSuppressions returns how many identities (known plus unknown
// clusters) are inside a suppression window at the given time.
func (d *Debouncer) ActiveSuppressions(at time.Time) int {
	n := 0
	for _, deadline := range d.known {
		if at.Before(deadline) {
			n++
		}
	}
	for _, c := range d.unknowns {
		if at.Before(c.deadline) {
			n++
		}
	}
	return n
}
