package registry

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bevsync/internal/auth"
	"bevsync/internal/timeutil"
)

func newTestRegistry(t *testing.T) (*Registry, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Unix(1_700_000_000, 0))
	tokens := auth.NewTokenStore(map[int]string{0: "dev-token-cam0", 1: "dev-token-cam1"})
	return New(tokens, BuiltinDefaults(), clock, zerolog.Nop()), clock
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)

	assert.NoError(t, r.Authenticate(0, "dev-token-cam0"))
	assert.ErrorIs(t, r.Authenticate(0, "dev-token-cam1"), ErrUnauthorized)
	assert.ErrorIs(t, r.Authenticate(99, "dev-token-cam0"), ErrCameraNotRegistered)
	assert.Equal(t, 0, r.Len(), "authentication never creates entries")
}

func TestUpsertSeedsFromDefaults(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)

	assert.True(t, r.Upsert(0, nil))
	cam, ok := r.Get(0)
	require.True(t, ok)
	assert.Equal(t, "Camera 0", cam.Name)
	assert.Equal(t, 100.0, cam.BevX)
	assert.Equal(t, 200.0, cam.BevY)
	assert.Equal(t, -90.0, cam.Theta)
	assert.Len(t, cam.H, 3)

	r.Touch(1)
	cam, _ = r.Get(1)
	assert.Equal(t, 400.0, cam.BevX)
	assert.Equal(t, 180.0, cam.Theta)
	assert.Equal(t, 60.0, cam.H[1][2])
}

func TestUpsertFallbackPosition(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)

	tests := []struct {
		id   int
		x, y float64
	}{
		{2, 300, 80},
		{5, 630, 80},
		{6, 80, 190},
		{13, 190, 300},
		{36, 80, 80},
	}
	for _, tt := range tests {
		r.Upsert(tt.id, nil)
		cam, ok := r.Get(tt.id)
		require.True(t, ok)
		assert.Equal(t, tt.x, cam.BevX, "camera %d x", tt.id)
		assert.Equal(t, tt.y, cam.BevY, "camera %d y", tt.id)
		assert.Equal(t, "Camera "+strconv.Itoa(tt.id), cam.Name)
	}

	x, y := DefaultPosition(-1)
	assert.GreaterOrEqual(t, x, 80.0)
	assert.GreaterOrEqual(t, y, 80.0)
}

func TestUpsertMerges(t *testing.T) {
	t.Parallel()
	r, clock := newTestRegistry(t)

	assert.True(t, r.Upsert(3, map[string]any{"cam_id": "3", "name": "Lobby", "bev_x": 10.0, "floor": "B1"}))
	clock.Advance(time.Second)
	assert.False(t, r.Upsert(3, map[string]any{"bev_y": 20.0, "theta": "45"}))

	cam, ok := r.Get(3)
	require.True(t, ok)
	assert.Equal(t, "Lobby", cam.Name)
	assert.Equal(t, 10.0, cam.BevX)
	assert.Equal(t, 20.0, cam.BevY)
	assert.Equal(t, 45.0, cam.Theta)
	assert.Equal(t, map[string]any{"floor": "B1"}, cam.Extra)
	assert.Equal(t, clock.Now(), cam.LastSeen)

	// wrong types keep the old value
	r.Upsert(3, map[string]any{"bev_x": []int{1}, "name": 7, "H": "nope"})
	cam, _ = r.Get(3)
	assert.Equal(t, 10.0, cam.BevX)
	assert.Equal(t, "Lobby", cam.Name)
	assert.Nil(t, cam.H)

	r.Upsert(3, map[string]any{"H": []any{[]any{1.0, 0.0}, []any{0.0, 1.0}}})
	cam, _ = r.Get(3)
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, cam.H)
}

func TestUpsertString(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)

	isNew, err := r.UpsertString("4", map[string]any{"name": "Gate"})
	require.NoError(t, err)
	assert.True(t, isNew)

	_, err = r.UpsertString("four", nil)
	assert.ErrorIs(t, err, ErrInvalidCameraID)
	assert.Equal(t, 1, r.Len())
}

func TestTouchAndRemove(t *testing.T) {
	t.Parallel()
	r, clock := newTestRegistry(t)

	assert.True(t, r.Touch(1))
	first, _ := r.Get(1)
	clock.Advance(2 * time.Second)
	assert.False(t, r.Touch(1))
	second, _ := r.Get(1)
	assert.Equal(t, 2*time.Second, second.LastSeen.Sub(first.LastSeen))

	assert.True(t, r.Remove(1))
	assert.False(t, r.Remove(1))
	_, ok := r.Get(1)
	assert.False(t, ok)
}

func TestPrune(t *testing.T) {
	t.Parallel()
	r, clock := newTestRegistry(t)

	r.Touch(0)
	r.Touch(1)
	r.Touch(2)
	clock.Advance(4 * time.Second)
	r.Touch(0)
	clock.Advance(2 * time.Second)

	removed := r.Prune(5 * time.Second)
	assert.Equal(t, []int{1, 2}, removed)
	assert.Empty(t, r.Prune(5*time.Second), "prune is idempotent")

	_, ok := r.Get(0)
	assert.True(t, ok)
}

func TestPruneKeepsExactTTL(t *testing.T) {
	t.Parallel()
	r, clock := newTestRegistry(t)

	r.Touch(0)
	clock.Advance(5 * time.Second)
	assert.Empty(t, r.Prune(5*time.Second))
	clock.Advance(time.Millisecond)
	assert.Equal(t, []int{0}, r.Prune(5*time.Second))
}

func TestSnapshotForClientsOnlyActive(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)

	assert.Empty(t, r.SnapshotForClients(), "install defaults are never exposed")

	r.Touch(0)
	r.Upsert(7, map[string]any{"zone": "east"})
	snap := r.SnapshotForClients()
	require.Len(t, snap, 2)
	assert.Equal(t, "Camera 0", snap["0"].Name)
	assert.Equal(t, "east", snap["7"].Extra["zone"])

	raw, err := json.Marshal(snap["7"])
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "Camera 7", decoded["name"])
	assert.Equal(t, 190.0, decoded["bev_x"])
	assert.Equal(t, "east", decoded["zone"])
	assert.NotContains(t, decoded, "H")

	raw, err = json.Marshal(snap["0"])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"H":[[1.2,0,50]`)

	// snapshots are copies
	snap["7"].Extra["zone"] = "west"
	again := r.SnapshotForClients()
	assert.Equal(t, "east", again["7"].Extra["zone"])
}
