package tracker

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(tracks []Track) []int {
	out := make([]int, len(tracks))
	for i, tr := range tracks {
		out[i] = tr.ID
	}
	return out
}

func TestNewTracksGetMonotonicIDs(t *testing.T) {
	t.Parallel()
	tr := New(DefaultConfig())

	got := tr.Update([]Point{{80, 80}, {120, 120}, {400, 400}})
	assert.Equal(t, []int{1, 2, 3}, ids(got))
	assert.Equal(t, Point{120, 120}, got[1].Position)
}

func TestDetectionWithinThresholdContinuesTrack(t *testing.T) {
	t.Parallel()
	tr := New(Config{DistanceThreshold: 35, MaxAge: 20})

	tr.Update([]Point{{80, 80}, {120, 120}})
	got := tr.Update([]Point{{122, 119}, {83, 82}})
	assert.Equal(t, []int{2, 1}, ids(got))

	// exactly on the threshold still matches
	got = tr.Update([]Point{{83 + 35, 82}})
	assert.Equal(t, []int{1}, ids(got))

	// beyond the threshold mints a new id
	got = tr.Update([]Point{{500, 500}})
	assert.Equal(t, []int{3}, ids(got))
}

func TestTrackAcceptsOneDetectionPerUpdate(t *testing.T) {
	t.Parallel()
	tr := New(Config{DistanceThreshold: 50, MaxAge: 5})

	tr.Update([]Point{{0, 0}})
	got := tr.Update([]Point{{1, 1}, {2, 2}})
	assert.Equal(t, []int{1, 2}, ids(got), "second detection cannot reuse track 1")
}

func TestGreedyOrderDependence(t *testing.T) {
	t.Parallel()

	seed := func() *Tracker {
		tr := New(Config{DistanceThreshold: 10, MaxAge: 5})
		tr.Update([]Point{{0, 0}, {8, 0}})
		return tr
	}
	a, b := Point{4, 0}, Point{-5, 0}

	// a ties between both tracks and takes the oldest; b is then out of range of track 2
	got := seed().Update([]Point{a, b})
	assert.Equal(t, []int{1, 3}, ids(got))

	// b first claims track 1, leaving track 2 for a
	got = seed().Update([]Point{b, a})
	assert.Equal(t, []int{1, 2}, ids(got))
}

func TestEqualDistanceTiePrefersOldestTrack(t *testing.T) {
	t.Parallel()
	tr := New(Config{DistanceThreshold: 10, MaxAge: 5})

	tr.Update([]Point{{0, 0}, {10, 0}})
	got := tr.Update([]Point{{5, 0}})
	assert.Equal(t, []int{1}, ids(got))
}

func TestEvictionMintsNewID(t *testing.T) {
	t.Parallel()
	tr := New(Config{DistanceThreshold: 35, MaxAge: 2})

	tr.Update([]Point{{100, 100}})
	tr.Update(nil) // age 1
	tr.Update(nil) // age 2
	assert.Equal(t, 1, tr.Len())

	got := tr.Update([]Point{{100, 100}}) // age 3 > MaxAge evicts first
	assert.Equal(t, []int{2}, ids(got))
	assert.Equal(t, 1, tr.Len())
}

func TestSurvivesUpToMaxAge(t *testing.T) {
	t.Parallel()
	tr := New(Config{DistanceThreshold: 35, MaxAge: 2})

	tr.Update([]Point{{100, 100}})
	tr.Update(nil)
	got := tr.Update([]Point{{101, 100}}) // age reaches 2, still alive
	assert.Equal(t, []int{1}, ids(got))
}

func TestIDsUniqueWithinUpdate(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(1, 2))
	tr := New(Config{DistanceThreshold: 40, MaxAge: 3})

	for frame := 0; frame < 200; frame++ {
		n := rng.IntN(8)
		dets := make([]Point, n)
		for i := range dets {
			dets[i] = Point{rng.Float64() * 300, rng.Float64() * 300}
		}
		got := tr.Update(dets)
		require.Len(t, got, n)

		seen := make(map[int]bool)
		for i, g := range got {
			assert.False(t, seen[g.ID], "frame %d: duplicate id %d", frame, g.ID)
			seen[g.ID] = true
			assert.Equal(t, dets[i], g.Position)
		}
	}
}
