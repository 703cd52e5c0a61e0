// Package identity resolves per-camera tracks to cross-camera global
// identities by appearance embedding.
//
// The gallery holds one unit-norm representative per global id. Assign scans
// the whole gallery, so cost grows linearly with the number of identities
// ever seen; identities are never evicted.
package identity

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// ErrDimensionMismatch is returned for embeddings of the wrong length.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// ErrNonFinite is returned for embeddings holding NaN or Inf components.
var ErrNonFinite = errors.New("embedding has non-finite component")

// NoMatch is the similarity reported when the gallery was empty.
const NoMatch = -1.0

const normEps = 1e-12

// Config holds matching parameters.
type Config struct {
	Dim int
	// Threshold is the minimum cosine similarity to reuse an identity.
	Threshold float64
	// EMA is the weight kept on the old representative when blending in a match.
	EMA float64
}

// DefaultConfig returns the production matching parameters.
func DefaultConfig() Config {
	return Config{Dim: 128, Threshold: 0.75, EMA: 0.9}
}

type entry struct {
	id  int
	rep []float64
}

// Manager owns the global identity gallery. It is safe for concurrent use;
// every Assign is serialized so simultaneous sightings of one person cannot
// mint duplicate identities or interleave EMA updates.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	nextID  int
	gallery []*entry // ascending id
}

// NewManager creates an empty gallery. Global ids start at 1.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, nextID: 1}
}

// Dim returns the expected embedding dimension.
func (m *Manager) Dim() int { return m.cfg.Dim }

// Assign matches embedding against the gallery. When the best cosine
// similarity reaches the threshold, that identity's representative is
// blended toward embedding and its id returned; otherwise a new identity is
// minted. The similarity returned is the best found, or NoMatch for an empty
// gallery.
func (m *Manager) Assign(embedding []float32) (int, float64, error) {
	if len(embedding) != m.cfg.Dim {
		return 0, 0, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), m.cfg.Dim)
	}
	raw := toFloat64(embedding)
	for i, f := range raw {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, 0, fmt.Errorf("%w: index %d is %v", ErrNonFinite, i, f)
		}
	}
	v := normalized(append([]float64(nil), raw...))

	m.mu.Lock()
	defer m.mu.Unlock()

	var best *entry
	bestSim := NoMatch
	for _, e := range m.gallery {
		if sim := floats.Dot(v, e.rep); sim > bestSim {
			best, bestSim = e, sim
		}
	}

	if best == nil || bestSim < m.cfg.Threshold {
		e := &entry{id: m.nextID, rep: v}
		m.nextID++
		m.gallery = append(m.gallery, e)
		return e.id, bestSim, nil
	}

	// rep' = normalize(ema*rep + (1-ema)*embedding), blending the raw input
	floats.Scale(m.cfg.EMA, best.rep)
	floats.AddScaled(best.rep, 1-m.cfg.EMA, raw)
	best.rep = normalized(best.rep)
	return best.id, bestSim, nil
}

// Len returns the number of known identities.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.gallery)
}

// Representative returns a copy of an identity's representative vector.
func (m *Manager) Representative(id int) ([]float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.gallery {
		if e.id == id {
			return append([]float64(nil), e.rep...), true
		}
	}
	return nil, false
}

// Cosine returns the cosine similarity of a and b.
func Cosine(a, b []float32) float64 {
	return floats.Dot(normalized(toFloat64(a)), normalized(toFloat64(b)))
}

// normalized scales v in place to unit length (norm padded by a small
// epsilon) and returns it.
func normalized(v []float64) []float64 {
	floats.Scale(1/(floats.Norm(v, 2)+normEps), v)
	return v
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
