// Package tracker assigns stable per-camera track ids to BEV detections.
//
// Association is greedy nearest-neighbour in detection order, not a global
// assignment: each detection claims the closest track not yet claimed in the
// same update. Results therefore depend on input order, which callers must
// preserve.
package tracker

import (
	"math"
	"sync"
)

// Point is a position on the shared BEV ground plane.
type Point struct {
	X, Y float64
}

// Track is one tracker output: the track id assigned to a detection.
type Track struct {
	ID       int
	Position Point
}

// Config holds the association gate and track lifetime.
type Config struct {
	// DistanceThreshold is the maximum Euclidean distance at which a
	// detection continues an existing track.
	DistanceThreshold float64
	// MaxAge is the number of consecutive unmatched updates a track survives.
	MaxAge int
}

// DefaultConfig returns the values used for live cameras.
func DefaultConfig() Config {
	return Config{DistanceThreshold: 35, MaxAge: 20}
}

type trackState struct {
	id       int
	position Point
	age      int
}

// Tracker is the local tracker of a single camera.
type Tracker struct {
	mu     sync.Mutex
	cfg    Config
	nextID int
	// tracks is kept in ascending id order so equal distances resolve to the
	// oldest track.
	tracks []*trackState
}

// New creates a tracker. Track ids start at 1.
func New(cfg Config) *Tracker {
	return &Tracker{cfg: cfg, nextID: 1}
}

// Update ages existing tracks, evicts those older than MaxAge, then assigns
// every detection to a track. The result has one entry per detection, in
// detection order, and never repeats a track id.
func (t *Tracker) Update(detections []Point) []Track {
	t.mu.Lock()
	defer t.mu.Unlock()

	alive := t.tracks[:0]
	for _, tr := range t.tracks {
		tr.age++
		if tr.age <= t.cfg.MaxAge {
			alive = append(alive, tr)
		}
	}
	for i := len(alive); i < len(t.tracks); i++ {
		t.tracks[i] = nil
	}
	t.tracks = alive

	assigned := make(map[int]bool, len(detections))
	results := make([]Track, 0, len(detections))

	for _, p := range detections {
		var best *trackState
		bestDist := math.Inf(1)
		for _, tr := range t.tracks {
			if assigned[tr.id] {
				continue
			}
			d := math.Hypot(p.X-tr.position.X, p.Y-tr.position.Y)
			if d < bestDist {
				best, bestDist = tr, d
			}
		}

		if best == nil || bestDist > t.cfg.DistanceThreshold {
			best = &trackState{id: t.nextID}
			t.nextID++
			t.tracks = append(t.tracks, best)
		}

		best.position = p
		best.age = 0
		assigned[best.id] = true
		results = append(results, Track{ID: best.id, Position: p})
	}

	return results
}

// Len returns the number of live tracks.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracks)
}
