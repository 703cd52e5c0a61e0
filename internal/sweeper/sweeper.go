// Package sweeper periodically evicts cameras that stopped sending frames.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"bevsync/internal/timeutil"
)

// Pruner removes cameras not seen within ttl and returns their ids. The
// implementation is responsible for cascading cleanup and announcements.
type Pruner interface {
	Prune(ttl time.Duration) []int
}

// Sweeper runs Prune on a fixed period.
type Sweeper struct {
	pruner   Pruner
	clock    timeutil.Clock
	interval time.Duration
	ttl      time.Duration
	log      zerolog.Logger
}

// New creates a Sweeper. Non-positive interval and ttl fall back to 1s and
// 5s; clock may be nil.
func New(p Pruner, clock timeutil.Clock, interval, ttl time.Duration, log zerolog.Logger) *Sweeper {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if interval <= 0 {
		interval = time.Second
	}
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Sweeper{
		pruner:   p,
		clock:    clock,
		interval: interval,
		ttl:      ttl,
		log:      log.With().Str("component", "sweeper").Logger(),
	}
}

// Run sweeps until ctx is cancelled. A tick in progress when ctx is
// cancelled completes before Run returns.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.interval).Dur("ttl", s.ttl).Msg("sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("sweeper stopped")
			return nil
		case <-ticker.C():
			if _, err := s.RunOnce(); err != nil {
				s.log.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

// RunOnce performs a single sweep. A panic in the pruner is returned as an
// error.
func (s *Sweeper) RunOnce() (removed []int, err error) {
	defer func() {
		if r := recover(); r != nil {
			removed = nil
			err = fmt.Errorf("panic during sweep: %v", r)
		}
	}()

	removed = s.pruner.Prune(s.ttl)
	if len(removed) > 0 {
		s.log.Debug().Ints("cameras", removed).Msg("swept stale cameras")
	}
	return removed, nil
}
