package identity

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand/v2"
	"strconv"
)

// MockEmbedding derives a unit embedding from a debug identity tag, for
// detections that arrive without an appearance vector.
//
// The base vector is a pure function of (tag, dim): its generator is seeded
// from a SHA-256 of the tag, never from process state. When noise > 0 and
// jitter is non-nil, Gaussian jitter of that amplitude drawn from jitter is
// added before renormalizing, so repeated sightings are similar but not
// identical.
func MockEmbedding(tag, dim int, noise float64, jitter *rand.Rand) []float32 {
	sum := sha256.Sum256([]byte(strconv.Itoa(tag)))
	rng := rand.New(rand.NewPCG(binary.LittleEndian.Uint64(sum[0:8]), binary.LittleEndian.Uint64(sum[8:16])))

	v := make([]float64, dim)
	for i := range v {
		v[i] = rng.NormFloat64()
	}
	normalized(v)

	if noise > 0 && jitter != nil {
		for i := range v {
			v[i] += noise * jitter.NormFloat64()
		}
		normalized(v)
	}

	out := make([]float32, dim)
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
