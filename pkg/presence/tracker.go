// Package presence tracks user connectivity. A heartbeat with status online
// arms a per-user offline timer; arming replaces any previously armed timer
// for the same user, so the window is debounced, keyed by user identity, and
// shared across that user's sessions. Expiry is the only automatic
// transition, and it only ever moves a user to offline.
package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mahaj/chatcore/pkg/bus"
	"github.com/mahaj/chatcore/pkg/metrics"
	"github.com/mahaj/chatcore/pkg/model"
	"github.com/mahaj/chatcore/pkg/storage"
)

// DefaultOfflineTimeout is how long a user stays online without a heartbeat.
const DefaultOfflineTimeout = 30 * time.Second

type Tracker struct {
	store   storage.Store
	bus     bus.Publisher
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewTracker(store storage.Store, publisher bus.Publisher, logger *zap.Logger, timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = DefaultOfflineTimeout
	}
	return &Tracker{
		store:   store,
		bus:     publisher,
		logger:  logger,
		timeout: timeout,
		now:     time.Now,
		timers:  make(map[string]*time.Timer),
	}
}

func (t *Tracker) Heartbeat(ctx context.Context, userID string, status model.PresenceStatus) error {
	now := t.now().UTC()
	if err := t.store.UpsertPresence(ctx, userID, status, now); err != nil {
		return err
	}
	metrics.PresenceTransitions.WithLabelValues(string(status)).Inc()
	t.bus.Publish(ctx, bus.TopicPresenceUpdated, bus.PresenceUpdated{
		UserID:      userID,
		Status:      status,
		LastEventAt: now,
	})

	if status == model.StatusOnline {
		t.rearm(userID)
	}
	return nil
}

// MarkOffline is the timer-expiry transition and is also invoked directly
// when a connection for a known user terminates.
func (t *Tracker) MarkOffline(ctx context.Context, userID string) error {
	t.mu.Lock()
	if timer, ok := t.timers[userID]; ok {
		timer.Stop()
		delete(t.timers, userID)
	}
	t.mu.Unlock()

	now := t.now().UTC()
	if err := t.store.UpsertPresence(ctx, userID, model.StatusOffline, now); err != nil {
		return err
	}
	metrics.PresenceTransitions.WithLabelValues(string(model.StatusOffline)).Inc()
	t.bus.Publish(ctx, bus.TopicPresenceUpdated, bus.PresenceUpdated{
		UserID:      userID,
		Status:      model.StatusOffline,
		LastEventAt: now,
	})
	return nil
}

func (t *Tracker) GetPresence(ctx context.Context, userID string) (model.Presence, error) {
	return t.store.GetPresence(ctx, userID)
}

// Stop cancels every armed timer. Used on shutdown.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for userID, timer := range t.timers {
		timer.Stop()
		delete(t.timers, userID)
	}
}

func (t *Tracker) rearm(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.timers[userID]; ok {
		existing.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(t.timeout, func() {
		t.expire(userID, timer)
	})
	t.timers[userID] = timer
}

func (t *Tracker) expire(userID string, armed *time.Timer) {
	t.mu.Lock()
	// A Stop racing with an already-fired timer cannot unarm it, so the
	// callback re-checks that it is still the registered timer before acting.
	// A fresh heartbeat swaps the registry entry and this expiry is stale.
	if current, ok := t.timers[userID]; !ok || current != armed {
		t.mu.Unlock()
		return
	}
	delete(t.timers, userID)
	t.mu.Unlock()

	if err := t.markOfflineUpsert(userID); err != nil {
		t.logger.Warn("offline transition failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (t *Tracker) markOfflineUpsert(userID string) error {
	now := t.now().UTC()
	ctx := context.Background()
	if err := t.store.UpsertPresence(ctx, userID, model.StatusOffline, now); err != nil {
		return err
	}
	metrics.PresenceTransitions.WithLabelValues(string(model.StatusOffline)).Inc()
	t.bus.Publish(ctx, bus.TopicPresenceUpdated, bus.PresenceUpdated{
		UserID:      userID,
		Status:      model.StatusOffline,
		LastEventAt: now,
	})
	return nil
}
