// Package reaper is the background janitor: it purges terminal rooms after a
// grace delay, sweeps rooms that were abandoned before or during a battle,
// and rolls the ranked season over when it expires.
package reaper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bitwar/backend/go/internal/v1/config"
	"github.com/bitwar/backend/go/internal/v1/logging"
	"github.com/bitwar/backend/go/internal/v1/metrics"
	"github.com/bitwar/backend/go/internal/v1/types"
)

// Defaults, overridable through config.
const (
	defaultSweepInterval   = time.Minute
	defaultCleanupDelay    = 5 * time.Minute
	defaultStaleActiveAge  = time.Hour
	defaultPlayingGraceAge = 5 * time.Minute
)

// Store is the persistence surface the reaper drives. *store.Store
// implements it; tests substitute a fake.
type Store interface {
	EnsureActiveSeason(ctx context.Context, now time.Time) (*types.Season, error)
	StaleRooms(ctx context.Context, activeBefore, playingBefore time.Time) ([]types.Room, error)
	PurgeRoom(ctx context.Context, roomID string, force bool) (bool, error)
}

// Reaper runs the periodic sweep and hosts the delayed-purge scheduler that
// room and battle services hand terminal rooms to.
type Reaper struct {
	store Store

	interval     time.Duration
	delay        time.Duration
	staleActive  time.Duration
	playingGrace time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// New builds a reaper from config. A nil cfg uses the defaults.
func New(st Store, cfg *config.Config) *Reaper {
	r := &Reaper{
		store:        st,
		interval:     defaultSweepInterval,
		delay:        defaultCleanupDelay,
		staleActive:  defaultStaleActiveAge,
		playingGrace: defaultPlayingGraceAge,
		pending:      make(map[string]*time.Timer),
	}
	if cfg != nil {
		if cfg.ReaperInterval > 0 {
			r.interval = cfg.ReaperInterval
		}
		if cfg.CleanupDelay > 0 {
			r.delay = cfg.CleanupDelay
		}
		if cfg.StaleActiveAge > 0 {
			r.staleActive = cfg.StaleActiveAge
		}
		if cfg.PlayingGraceAge > 0 {
			r.playingGrace = cfg.PlayingGraceAge
		}
	}
	return r
}

// Schedule queues a purge for a terminal room after the grace delay. A room
// already queued keeps its original timer. The purge skips rooms that are not
// terminal by the time it fires; the stale sweep catches those later.
func (r *Reaper) Schedule(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[roomID]; ok {
		return
	}
	r.pending[roomID] = time.AfterFunc(r.delay, func() {
		r.mu.Lock()
		delete(r.pending, roomID)
		r.mu.Unlock()
		r.purge(context.Background(), roomID, false, "scheduled")
	})
}

// Run sweeps until ctx is cancelled, then stops pending purge timers.
// Purges lost to a shutdown are recovered by the next process's sweep.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		r.sweep(ctx)
		select {
		case <-ctx.Done():
			r.stopPending()
			return
		case <-ticker.C:
		}
	}
}

// sweep performs one maintenance pass: season rollover, then stale rooms.
func (r *Reaper) sweep(ctx context.Context) {
	now := time.Now()

	if _, err := r.store.EnsureActiveSeason(ctx, now); err != nil {
		logging.Error(ctx, "Season rollover check failed", zap.Error(err))
	}

	// Active rooms that never started, and playing rooms that outlived the
	// longest clock plus grace.
	rooms, err := r.store.StaleRooms(ctx, now.Add(-r.staleActive), now.Add(-r.staleActive-r.playingGrace))
	if err != nil {
		logging.Error(ctx, "Stale room query failed", zap.Error(err))
		return
	}
	for _, room := range rooms {
		reason := "stale_active"
		if room.Status == types.RoomStatusPlaying {
			reason = "stale_playing"
		}
		r.purge(ctx, room.RoomID, true, reason)
	}
}

func (r *Reaper) purge(ctx context.Context, roomID string, force bool, reason string) {
	purged, err := r.store.PurgeRoom(ctx, roomID, force)
	if err != nil {
		logging.Error(ctx, "Room purge failed", zap.String("roomId", roomID), zap.Error(err))
		return
	}
	if !purged {
		return
	}
	metrics.RoomsReaped.WithLabelValues(reason).Inc()
	logging.Info(ctx, "Room purged", zap.String("roomId", roomID), zap.String("reason", reason))
}

func (r *Reaper) stopPending() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, timer := range r.pending {
		timer.Stop()
		delete(r.pending, id)
	}
}
