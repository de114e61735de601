package battle

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bitwar/backend/go/internal/v1/logging"
	"github.com/bitwar/backend/go/internal/v1/types"
)

// defaultClockTick is how often a tracked room's clock is read and broadcast.
const defaultClockTick = 5 * time.Second

// Timekeeper owns one clock goroutine per playing room. Whoever observes the
// start transition calls Track; battle-socket connects re-attach after a
// restart by calling it again. Tracking is idempotent per room, so a room
// never runs two clocks in one process.
type Timekeeper struct {
	svc  *Service
	tick time.Duration

	mu      sync.Mutex
	tracked map[string]struct{}
	wg      sync.WaitGroup
}

// NewTimekeeper creates a timekeeper publishing through svc's bus. tick <= 0
// falls back to the default.
func NewTimekeeper(svc *Service, tick time.Duration) *Timekeeper {
	if tick <= 0 {
		tick = defaultClockTick
	}
	return &Timekeeper{svc: svc, tick: tick, tracked: make(map[string]struct{})}
}

// Track starts clock enforcement for roomID. The goroutine publishes
// time_update every tick and force-completes the battle when the limit
// elapses; it exits once the room leaves playing or ctx is cancelled.
// Rooms without a time limit are observed once and dropped.
func (t *Timekeeper) Track(ctx context.Context, roomID string) {
	t.mu.Lock()
	if _, ok := t.tracked[roomID]; ok {
		t.mu.Unlock()
		return
	}
	t.tracked[roomID] = struct{}{}
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.untrack(roomID)
		t.run(ctx, roomID)
	}()
}

// Tracking reports whether roomID currently has a clock goroutine.
func (t *Timekeeper) Tracking(roomID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.tracked[roomID]
	return ok
}

// Wait blocks until every clock goroutine has exited. Call during shutdown
// after cancelling the contexts passed to Track.
func (t *Timekeeper) Wait() {
	t.wg.Wait()
}

func (t *Timekeeper) untrack(roomID string) {
	t.mu.Lock()
	delete(t.tracked, roomID)
	t.mu.Unlock()
}

func (t *Timekeeper) run(ctx context.Context, roomID string) {
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()
	for {
		if done := t.observe(ctx, roomID); done {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// observe takes one clock reading and reports whether tracking should stop.
// Expiry is detected on the tick after the limit elapses, never early.
func (t *Timekeeper) observe(ctx context.Context, roomID string) bool {
	room, err := t.svc.store.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return true
		}
		logging.Warn(ctx, "Clock read failed", zap.String("roomId", roomID), zap.Error(err))
		return false
	}
	if room.Status != types.RoomStatusPlaying {
		return true
	}
	if room.StartTime == nil || room.TimeLimit <= 0 {
		return true
	}

	remaining := time.Duration(room.TimeLimit)*time.Minute - time.Since(*room.StartTime)
	if remaining <= 0 {
		t.svc.expire(ctx, roomID)
		return true
	}
	t.svc.publishBoth(ctx, roomID, types.EventTimeUpdate, types.TimeUpdateFrame{
		Type:             types.EventTimeUpdate,
		RemainingSeconds: int(remaining.Seconds()),
	}, "")
	return false
}
