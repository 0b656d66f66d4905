package moderation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/streamactions/streamactions/telemetry"
)

// warningEntry serializes read-then-write access to one (channel, user) key.
// Without the per-entry lock, two filter kinds evaluating the same message
// concurrently could both read Clean and both record a fresh warning, losing
// the escalation.
type warningEntry struct {
	mu            sync.Mutex
	lastWarningAt time.Time
}

// WarningTracker holds the last-warning timestamp per (channel, user).
type WarningTracker struct {
	entries sync.Map // "channelID/userID" -> *warningEntry
	size    int64
	sizeMu  sync.Mutex
}

func NewWarningTracker() *WarningTracker { return &WarningTracker{} }

func warningKey(channelID, userID string) string {
	return channelID + "/" + userID
}

// Observe is called when a filter triggers. It reports whether the user is
// already Escalated (a warning inside the window). When not escalated it
// records the warning timestamp; an escalated observation leaves the original
// timestamp in place so the window is anchored to the first warning.
func (w *WarningTracker) Observe(channelID, userID string, window time.Duration, now time.Time) bool {
	key := warningKey(channelID, userID)
	v, loaded := w.entries.LoadOrStore(key, &warningEntry{})
	entry := v.(*warningEntry)
	if !loaded {
		w.addSize(1)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if window > 0 && !entry.lastWarningAt.IsZero() && now.Sub(entry.lastWarningAt) <= window {
		return true
	}
	entry.lastWarningAt = now
	return false
}

// LastWarningAt returns the recorded timestamp for a key, zero if none.
func (w *WarningTracker) LastWarningAt(channelID, userID string) time.Time {
	v, ok := w.entries.Load(warningKey(channelID, userID))
	if !ok {
		return time.Time{}
	}
	entry := v.(*warningEntry)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.lastWarningAt
}

// Sweep drops entries whose warning is older than maxAge and returns the
// number removed.
func (w *WarningTracker) Sweep(maxAge time.Duration, now time.Time) int {
	removed := 0
	w.entries.Range(func(key, v any) bool {
		entry := v.(*warningEntry)
		entry.mu.Lock()
		stale := !entry.lastWarningAt.IsZero() && now.Sub(entry.lastWarningAt) > maxAge
		entry.mu.Unlock()
		if stale {
			w.entries.Delete(key)
			removed++
		}
		return true
	})
	if removed > 0 {
		w.addSize(-removed)
	}
	return removed
}

func (w *WarningTracker) addSize(delta int) {
	w.sizeMu.Lock()
	w.size += int64(delta)
	telemetry.SetWarningStateSize(int(w.size))
	w.sizeMu.Unlock()
}

// StartWarningSweepJob periodically drops warning entries older than maxAge.
// maxAge should exceed the largest configured warning window so no live
// escalation state is lost.
func StartWarningSweepJob(ctx context.Context, tracker *WarningTracker, interval, maxAge time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := tracker.Sweep(maxAge, time.Now()); n > 0 {
					slog.Debug("swept warning state", slog.Int("removed", n), slog.String("component", "moderation"))
				}
			}
		}
	}()
}
