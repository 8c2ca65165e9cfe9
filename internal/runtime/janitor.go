package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/llmosd/llmosd/internal/bus"
)

// RunJanitor evicts idle conversations whenever the configured cron
// schedule fires. It blocks until ctx is cancelled.
func (r *Runtime) RunJanitor(ctx context.Context) error {
	sched := r.cfg.Runtime.JanitorSchedule
	if sched == "" {
		sched = defaultJanitorSchedule
	}
	idle := time.Duration(r.cfg.Runtime.IdleEvictionMins) * time.Minute
	if idle <= 0 {
		idle = 30 * time.Minute
	}

	gron := gronx.New()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			due, err := gron.IsDue(sched, now)
			if err != nil {
				slog.Warn("janitor schedule check failed", "schedule", sched, "error", err)
				continue
			}
			if due {
				r.evictIdle(now.Add(-idle))
			}
		}
	}
}

// evictIdle drops cached conversations last used before the cutoff.
// State persists at step boundaries, so eviction only costs the next
// request a reload from disk.
func (r *Runtime) evictIdle(cutoff time.Time) {
	stale := map[string]*conversation{}
	r.mu.Lock()
	for name, c := range r.convs {
		if c.lastUsed.Before(cutoff) {
			stale[name] = c
			delete(r.convs, name)
		}
	}
	r.mu.Unlock()

	for name, c := range stale {
		c.mu.Lock()
		if err := c.agent.Close(); err != nil {
			slog.Warn("close evicted conversation", "conv", name, "error", err)
		}
		c.mu.Unlock()
		slog.Info("evicted idle conversation", "conv", name)
		r.bus.Broadcast(bus.Event{Name: bus.EventConversationEvicted, Payload: bus.ConversationEvent{ConvName: name}})
	}
}
