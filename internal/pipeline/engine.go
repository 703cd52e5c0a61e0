package pipeline

import (
	"encoding/json"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bevsync/internal/identity"
	"bevsync/internal/registry"
	"bevsync/internal/state"
	"bevsync/internal/timeutil"
	"bevsync/internal/tracker"
)

// EngineConfig holds the Engine's tunables.
type EngineConfig struct {
	Tracker tracker.Config
	// MockNoise is the jitter amplitude applied to mock embeddings.
	MockNoise float64
	// JitterSeed seeds the mock jitter generator; zero picks a time-based seed.
	JitterSeed uint64
}

// Engine owns the shared ingest state: registry, identity gallery, live
// store and per-camera trackers. It is safe for concurrent use by one
// goroutine per camera connection plus the sweeper.
type Engine struct {
	registry *registry.Registry
	identity *identity.Manager
	store    *state.Store
	bus      *EventBus
	clock    timeutil.Clock
	log      zerolog.Logger

	trackerCfg tracker.Config
	noise      float64

	mu       sync.Mutex
	trackers map[int]*tracker.Tracker
	jitter   *rand.Rand

	// pubMu makes snapshot+publish atomic with camera removal.
	pubMu sync.Mutex
}

// NewEngine wires an Engine. clock may be nil.
func NewEngine(reg *registry.Registry, ids *identity.Manager, store *state.Store, bus *EventBus, clock timeutil.Clock, cfg EngineConfig, log zerolog.Logger) *Engine {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	seed := cfg.JitterSeed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Engine{
		registry:   reg,
		identity:   ids,
		store:      store,
		bus:        bus,
		clock:      clock,
		log:        log.With().Str("component", "engine").Logger(),
		trackerCfg: cfg.Tracker,
		noise:      cfg.MockNoise,
		trackers:   make(map[int]*tracker.Tracker),
		jitter:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Connect authenticates an ingest connection and marks the camera active.
// The returned error is registry.ErrCameraNotRegistered or
// registry.ErrUnauthorized; no registry entry is created on failure.
func (e *Engine) Connect(cameraID int, token string) error {
	if err := e.registry.Authenticate(cameraID, token); err != nil {
		return err
	}
	if e.registry.Touch(cameraID) {
		e.publishCameraList(EventCameraUpdate)
	}
	e.log.Info().Int("camera", cameraID).Msg("camera connected")
	return nil
}

// Ingest processes one frame from a camera and returns the LiveResult that
// replaced the camera's previous one.
func (e *Engine) Ingest(cameraID int, msg *FrameMessage) state.LiveResult {
	now := e.clock.Now()

	if e.registry.Touch(cameraID) {
		e.publishCameraList(EventCameraUpdate)
	}
	e.store.RecordFrame(cameraID, msg.Seq, msg.CaptureTsUs, now)

	lc := e.log.With().Int("camera", cameraID)
	if msg.FrameID != nil {
		lc = lc.Int64("frame", *msg.FrameID)
	}
	log := lc.Logger()

	points := make([]tracker.Point, 0, len(msg.Detections))
	embeddings := make([][]float32, 0, len(msg.Detections))
	tags := make([]int, 0, len(msg.Detections))

	for idx, raw := range msg.Detections {
		var d Detection
		if err := json.Unmarshal(raw, &d); err != nil {
			log.Warn().Err(err).Int("det", idx).Msg("skipping undecodable detection")
			continue
		}
		p, ok := d.Position()
		if !ok {
			log.Warn().Int("det", idx).Msg("skipping detection without position")
			continue
		}

		emb, err := DecodeEmbedding(&d, e.identity.Dim())
		if err != nil {
			log.Warn().Err(err).Int("det", idx).Msg("malformed embedding, using mock")
			emb = nil
		}

		tag := 0
		if d.TrueID != nil {
			tag = *d.TrueID
		}

		points = append(points, p)
		embeddings = append(embeddings, emb)
		tags = append(tags, tag)
	}

	tracks := e.trackerFor(cameraID).Update(points)

	ts := unixSeconds(now)
	if msg.TS != nil {
		ts = *msg.TS
	}

	result := make(state.LiveResult, len(tracks))
	for i, tr := range tracks {
		emb := embeddings[i]
		if emb == nil {
			emb = e.mockEmbedding(tags[i])
		}
		gid, sim, err := e.identity.Assign(emb)
		if err != nil {
			log.Error().Err(err).Int("track", tr.ID).Msg("identity assignment failed")
			continue
		}
		result[strconv.Itoa(tr.ID)] = state.TrackResult{
			BevX:     tr.Position.X,
			BevY:     tr.Position.Y,
			GlobalID: gid,
			Sim:      sim,
			TS:       ts,
		}
	}

	e.store.SetResult(cameraID, result)
	e.PublishSnapshot()
	return result
}

// Disconnect runs the cleanup for a closed ingest connection. The camera's
// tracker is kept so a quick reconnect continues its track ids.
func (e *Engine) Disconnect(cameraID int) {
	e.pubMu.Lock()
	removed := e.registry.Remove(cameraID)
	e.store.Delete(cameraID)
	if removed {
		e.publishCameraList(EventCameraUpdate)
		e.publishSnapshotLocked()
	}
	e.pubMu.Unlock()
	e.log.Info().Int("camera", cameraID).Bool("removed", removed).Msg("camera disconnected")
}

// Prune removes cameras not seen within ttl along with their live state and
// announces the new camera list when anything was removed.
func (e *Engine) Prune(ttl time.Duration) []int {
	e.pubMu.Lock()
	removed := e.registry.Prune(ttl)
	for _, id := range removed {
		e.store.Delete(id)
	}
	if len(removed) > 0 {
		e.publishCameraList(EventCameraUpdate)
		e.publishSnapshotLocked()
	}
	e.pubMu.Unlock()

	if len(removed) > 0 {
		e.log.Info().Ints("cameras", removed).Msg("pruned stale cameras")
	}
	return removed
}

// UpsertCamera applies camera metadata received on the control channel and
// announces the camera list.
func (e *Engine) UpsertCamera(cameraID string, meta map[string]any) (bool, error) {
	created, err := e.registry.UpsertString(cameraID, meta)
	if err != nil {
		return false, err
	}
	e.publishCameraList(EventCameraUpdate)
	return created, nil
}

// CameraInit returns the camera_init message for a newly connected viewer.
func (e *Engine) CameraInit() *CameraListMessage {
	return &CameraListMessage{Type: EventCameraInit, Cameras: e.registry.SnapshotForClients()}
}

// DetectedData returns the current detected_data message.
func (e *Engine) DetectedData() *DetectedDataMessage {
	return &DetectedDataMessage{Type: EventDetectedData, Data: e.store.Snapshot()}
}

// CameraStatus returns the current camera_status message.
func (e *Engine) CameraStatus() *CameraStatusMessage {
	return &CameraStatusMessage{Type: EventCameraStatus, Status: e.store.Status(e.clock.Now())}
}

// PublishSnapshot publishes detected_data followed by camera_status.
func (e *Engine) PublishSnapshot() {
	e.pubMu.Lock()
	defer e.pubMu.Unlock()
	e.publishSnapshotLocked()
}

func (e *Engine) publishSnapshotLocked() {
	e.bus.Publish(&Event{Type: EventDetectedData, Message: e.DetectedData()})
	e.bus.Publish(&Event{Type: EventCameraStatus, Message: e.CameraStatus()})
}

func (e *Engine) publishCameraList(t EventType) {
	e.bus.Publish(&Event{
		Type:    t,
		Message: &CameraListMessage{Type: t, Cameras: e.registry.SnapshotForClients()},
	})
}

func (e *Engine) trackerFor(cameraID int) *tracker.Tracker {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.trackers[cameraID]
	if !ok {
		t = tracker.New(e.trackerCfg)
		e.trackers[cameraID] = t
	}
	return t
}

func (e *Engine) mockEmbedding(tag int) []float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return identity.MockEmbedding(tag, e.identity.Dim(), e.noise, e.jitter)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
