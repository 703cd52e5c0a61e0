// Package state holds the live per-camera results and ingest statistics that
// are pushed to viewers.
package state

import (
	"strconv"
	"sync"
	"time"
)

// TrackResult is the latest resolved position and identity of one track.
type TrackResult struct {
	BevX     float64 `json:"bev_x"`
	BevY     float64 `json:"bev_y"`
	GlobalID int     `json:"global_id"`
	Sim      float64 `json:"sim"`
	TS       float64 `json:"ts"`
}

// LiveResult maps a decimal track id to its result.
type LiveResult map[string]TrackResult

// CameraStatus is the derived, client-facing view of a camera's ingest stats.
type CameraStatus struct {
	Online          bool    `json:"online"`
	LastSeenTs      float64 `json:"last_seen_ts"`
	RxFPS           float64 `json:"rx_fps"`
	LastSeq         int64   `json:"last_seq"`
	SeqGapCount     int     `json:"seq_gap_count"`
	LastCaptureTsUs int64   `json:"last_capture_ts_us"`
}

type cameraStats struct {
	rx            []time.Time
	lastSeen      time.Time
	lastSeq       *int64
	gaps          int
	lastCaptureUs *int64
}

// Options configure the receive-rate and liveness windows.
type Options struct {
	FPSWindow    time.Duration
	OnlineWindow time.Duration
}

// DefaultOptions returns a 2s FPS window and a 3s online window.
func DefaultOptions() Options {
	return Options{FPSWindow: 2 * time.Second, OnlineWindow: 3 * time.Second}
}

// Store is the shared LiveResult and CameraStats table.
type Store struct {
	mu      sync.RWMutex
	opts    Options
	results map[int]LiveResult
	stats   map[int]*cameraStats
}

// New creates an empty store.
func New(opts Options) *Store {
	d := DefaultOptions()
	if opts.FPSWindow <= 0 {
		opts.FPSWindow = d.FPSWindow
	}
	if opts.OnlineWindow <= 0 {
		opts.OnlineWindow = d.OnlineWindow
	}
	return &Store{
		opts:    opts,
		results: make(map[int]LiveResult),
		stats:   make(map[int]*cameraStats),
	}
}

// RecordFrame appends a receive timestamp for the camera and updates its
// sequence and capture-time bookkeeping. seq and captureTsUs may be nil.
// A gap is counted when seq skips ahead of the previous one; a reset or
// reorder is not a gap but still becomes the new last sequence number.
func (s *Store) RecordFrame(cameraID int, seq, captureTsUs *int64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stats[cameraID]
	if !ok {
		st = &cameraStats{}
		s.stats[cameraID] = st
	}
	st.rx = append(st.rx, now)
	st.rx = trimWindow(st.rx, now, s.opts.FPSWindow)
	st.lastSeen = now

	if seq != nil {
		if st.lastSeq != nil && *seq > *st.lastSeq+1 {
			st.gaps++
		}
		v := *seq
		st.lastSeq = &v
	}
	if captureTsUs != nil {
		v := *captureTsUs
		st.lastCaptureUs = &v
	}
}

// SetResult replaces the camera's LiveResult wholesale.
func (s *Store) SetResult(cameraID int, result LiveResult) {
	cp := make(LiveResult, len(result))
	for k, v := range result {
		cp[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[cameraID] = cp
}

// Result returns a copy of one camera's LiveResult.
func (s *Store) Result(cameraID int) (LiveResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.results[cameraID]
	if !ok {
		return nil, false
	}
	return copyResult(r), true
}

// Delete drops both the LiveResult and the stats for a camera.
func (s *Store) Delete(cameraID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.results, cameraID)
	delete(s.stats, cameraID)
}

// Snapshot returns a deep copy of all LiveResults keyed by decimal camera id.
func (s *Store) Snapshot() map[string]LiveResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]LiveResult, len(s.results))
	for id, r := range s.results {
		out[strconv.Itoa(id)] = copyResult(r)
	}
	return out
}

// Status derives the status of every camera with stats as of now.
func (s *Store) Status(now time.Time) map[string]CameraStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]CameraStatus, len(s.stats))
	for id, st := range s.stats {
		st.rx = trimWindow(st.rx, now, s.opts.FPSWindow)

		cs := CameraStatus{
			Online:          now.Sub(st.lastSeen) <= s.opts.OnlineWindow,
			LastSeenTs:      float64(st.lastSeen.UnixNano()) / float64(time.Second),
			RxFPS:           float64(len(st.rx)) / s.opts.FPSWindow.Seconds(),
			LastSeq:         -1,
			SeqGapCount:     st.gaps,
			LastCaptureTsUs: -1,
		}
		if st.lastSeq != nil {
			cs.LastSeq = *st.lastSeq
		}
		if st.lastCaptureUs != nil {
			cs.LastCaptureTsUs = *st.lastCaptureUs
		}
		out[strconv.Itoa(id)] = cs
	}
	return out
}

// trimWindow drops timestamps older than window before now. rx is in
// arrival order.
func trimWindow(rx []time.Time, now time.Time, window time.Duration) []time.Time {
	i := 0
	for i < len(rx) && now.Sub(rx[i]) > window {
		i++
	}
	if i == 0 {
		return rx
	}
	return append(rx[:0], rx[i:]...)
}

func copyResult(r LiveResult) LiveResult {
	cp := make(LiveResult, len(r))
	for k, v := range r {
		cp[k] = v
	}
	return cp
}
