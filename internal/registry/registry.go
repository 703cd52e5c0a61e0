// Package registry keeps the table of active cameras: their map metadata,
// liveness and ingest credentials.
//
// Only cameras that have connected (or announced themselves over the control
// channel) are active. Install defaults for cameras that never connected stay
// private and are used only to seed an entry on first contact.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bevsync/internal/auth"
	"bevsync/internal/timeutil"
)

var (
	ErrCameraNotRegistered = errors.New("cam not registered")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidCameraID     = errors.New("invalid camera id")
)

// Defaults holds install/calibration values for a camera.
type Defaults struct {
	Name  string
	BevX  float64
	BevY  float64
	Theta float64
	H     [][]float64
}

// Camera is an active registry entry.
type Camera struct {
	ID       int
	Name     string
	BevX     float64
	BevY     float64
	Theta    float64
	H        [][]float64
	Extra    map[string]any
	LastSeen time.Time
}

// CameraConfig is the client-facing form of a Camera.
type CameraConfig struct {
	Name       string
	BevX       float64
	BevY       float64
	Theta      float64
	H          [][]float64
	LastSeenTs float64
	Extra      map[string]any
}

// MarshalJSON flattens Extra next to the well-known fields.
func (c CameraConfig) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Extra)+6)
	for k, v := range c.Extra {
		out[k] = v
	}
	out["name"] = c.Name
	out["bev_x"] = c.BevX
	out["bev_y"] = c.BevY
	out["theta"] = c.Theta
	out["last_seen_ts"] = c.LastSeenTs
	if c.H != nil {
		out["H"] = c.H
	}
	return json.Marshal(out)
}

// Registry is the in-memory table of active cameras.
type Registry struct {
	mu       sync.RWMutex
	cameras  map[int]*Camera
	defaults map[int]Defaults
	tokens   *auth.TokenStore
	clock    timeutil.Clock
	log      zerolog.Logger
}

// New creates a registry. defaults may be nil.
func New(tokens *auth.TokenStore, defaults map[int]Defaults, clock timeutil.Clock, log zerolog.Logger) *Registry {
	if tokens == nil {
		tokens = auth.NewTokenStore(nil)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	d := make(map[int]Defaults, len(defaults))
	for id, v := range defaults {
		d[id] = v
	}
	return &Registry{
		cameras:  make(map[int]*Camera),
		defaults: d,
		tokens:   tokens,
		clock:    clock,
		log:      log.With().Str("component", "registry").Logger(),
	}
}

// Authenticate checks a camera's ingest token. It returns
// ErrCameraNotRegistered when no token exists for the id and ErrUnauthorized
// when the token does not match.
func (r *Registry) Authenticate(cameraID int, token string) error {
	if !r.tokens.Registered(cameraID) {
		return ErrCameraNotRegistered
	}
	if !r.tokens.Verify(cameraID, token) {
		return ErrUnauthorized
	}
	return nil
}

// Upsert merges meta into the camera's entry, creating it from install
// defaults and a fallback grid position when absent. Fields not present in
// meta are retained. It reports whether the camera is new.
func (r *Registry) Upsert(cameraID int, meta map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upsertLocked(cameraID, meta)
}

// UpsertString is Upsert for ids received as strings on the control channel.
func (r *Registry) UpsertString(cameraID string, meta map[string]any) (bool, error) {
	id, err := strconv.Atoi(cameraID)
	if err != nil {
		return false, fmt.Errorf("%w: %q", ErrInvalidCameraID, cameraID)
	}
	return r.Upsert(id, meta), nil
}

func (r *Registry) upsertLocked(cameraID int, meta map[string]any) bool {
	cam, exists := r.cameras[cameraID]
	if !exists {
		cam = r.seed(cameraID)
		r.cameras[cameraID] = cam
	}

	for k, v := range meta {
		switch k {
		case "cam_id":
		case "name":
			if s, ok := v.(string); ok {
				cam.Name = s
			} else {
				r.log.Warn().Int("camera", cameraID).Str("key", k).Msg("ignoring non-string camera name")
			}
		case "bev_x", "bev_y", "theta":
			f, ok := toFloat(v)
			if !ok {
				r.log.Warn().Int("camera", cameraID).Str("key", k).Msg("ignoring non-numeric camera field")
				continue
			}
			switch k {
			case "bev_x":
				cam.BevX = f
			case "bev_y":
				cam.BevY = f
			default:
				cam.Theta = f
			}
		case "H":
			h, ok := toMatrix(v)
			if !ok {
				r.log.Warn().Int("camera", cameraID).Msg("ignoring malformed homography")
				continue
			}
			cam.H = h
		default:
			if cam.Extra == nil {
				cam.Extra = make(map[string]any)
			}
			cam.Extra[k] = v
		}
	}

	cam.LastSeen = r.clock.Now()
	return !exists
}

func (r *Registry) seed(cameraID int) *Camera {
	cam := &Camera{ID: cameraID}
	if d, ok := r.defaults[cameraID]; ok {
		cam.Name = d.Name
		cam.BevX, cam.BevY, cam.Theta = d.BevX, d.BevY, d.Theta
		cam.H = cloneMatrix(d.H)
	} else {
		cam.BevX, cam.BevY = DefaultPosition(cameraID)
	}
	if cam.Name == "" {
		cam.Name = fmt.Sprintf("Camera %d", cameraID)
	}
	return cam
}

// DefaultPosition spreads uncalibrated cameras over a 6x6 grid so they do
// not stack at the origin.
func DefaultPosition(cameraID int) (x, y float64) {
	col := ((cameraID % 6) + 6) % 6
	row := (((cameraID / 6) % 6) + 6) % 6
	return 80.0 + float64(col)*110.0, 80.0 + float64(row)*110.0
}

// Touch refreshes a camera's last-seen time, creating it if absent. It
// reports whether the camera is new.
func (r *Registry) Touch(cameraID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cam, ok := r.cameras[cameraID]; ok {
		cam.LastSeen = r.clock.Now()
		return false
	}
	return r.upsertLocked(cameraID, nil)
}

// Remove deletes a camera and reports whether it existed.
func (r *Registry) Remove(cameraID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cameras[cameraID]; !ok {
		return false
	}
	delete(r.cameras, cameraID)
	return true
}

// Prune removes every camera not seen within ttl and returns their ids in
// ascending order.
func (r *Registry) Prune(ttl time.Duration) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	var removed []int
	for id, cam := range r.cameras {
		if now.Sub(cam.LastSeen) > ttl {
			removed = append(removed, id)
			delete(r.cameras, id)
		}
	}
	sort.Ints(removed)
	return removed
}

// Get returns a copy of an active camera.
func (r *Registry) Get(cameraID int) (Camera, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cam, ok := r.cameras[cameraID]
	if !ok {
		return Camera{}, false
	}
	c := *cam
	c.H = cloneMatrix(cam.H)
	c.Extra = cloneMap(cam.Extra)
	return c, true
}

// Len returns the number of active cameras.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cameras)
}

// SnapshotForClients returns the active cameras keyed by decimal id.
func (r *Registry) SnapshotForClients() map[string]CameraConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]CameraConfig, len(r.cameras))
	for id, cam := range r.cameras {
		out[strconv.Itoa(id)] = CameraConfig{
			Name:       cam.Name,
			BevX:       cam.BevX,
			BevY:       cam.BevY,
			Theta:      cam.Theta,
			H:          cloneMatrix(cam.H),
			LastSeenTs: unixSeconds(cam.LastSeen),
			Extra:      cloneMap(cam.Extra),
		}
	}
	return out
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func toMatrix(v any) ([][]float64, bool) {
	switch m := v.(type) {
	case nil:
		return nil, true
	case [][]float64:
		return cloneMatrix(m), true
	case []any:
		out := make([][]float64, len(m))
		for i, row := range m {
			cells, ok := row.([]any)
			if !ok {
				return nil, false
			}
			out[i] = make([]float64, len(cells))
			for j, c := range cells {
				f, ok := toFloat(c)
				if !ok {
					return nil, false
				}
				out[i][j] = f
			}
		}
		return out, true
	}
	return nil, false
}

func cloneMatrix(m [][]float64) [][]float64 {
	if m == nil {
		return nil
	}
	out := make([][]float64, len(m))
	for i := range m {
		out[i] = append([]float64(nil), m[i]...)
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
