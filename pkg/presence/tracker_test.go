package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mahaj/chatcore/pkg/bus"
	"github.com/mahaj/chatcore/pkg/model"
	"github.com/mahaj/chatcore/pkg/storage"
)

// fakeStore records presence upserts; the rest of the contract is unused by
// the tracker.
type fakeStore struct {
	mu        sync.Mutex
	presences map[string]model.Presence
}

func newFakeStore() *fakeStore {
	return &fakeStore{presences: make(map[string]model.Presence)}
}

func (f *fakeStore) status(userID string) model.PresenceStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.presences[userID].Status
}

func (f *fakeStore) UpsertPresence(ctx context.Context, userID string, status model.PresenceStatus, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presences[userID] = model.Presence{UserID: userID, Status: status, LastEventAt: at}
	return nil
}

func (f *fakeStore) GetPresence(ctx context.Context, userID string) (model.Presence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.presences[userID]
	if !ok {
		return model.Presence{}, storage.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) CreateChannel(ctx context.Context, channelType model.ChannelType, memberIDs []string) (model.Channel, error) {
	return model.Channel{}, nil
}
func (f *fakeStore) GetChannel(ctx context.Context, channelID string) (model.Channel, error) {
	return model.Channel{}, storage.ErrNotFound
}
func (f *fakeStore) AddMembership(ctx context.Context, channelID, userID string) error    { return nil }
func (f *fakeStore) RemoveMembership(ctx context.Context, channelID, userID string) error { return nil }
func (f *fakeStore) ListMembers(ctx context.Context, channelID string) ([]string, error) {
	return nil, nil
}
func (f *fakeStore) SaveMessage(ctx context.Context, in storage.SaveMessageInput) (model.Message, error) {
	return model.Message{}, nil
}
func (f *fakeStore) ListMessages(ctx context.Context, channelID string, limit int) ([]model.Message, error) {
	return nil, nil
}
func (f *fakeStore) GetUser(ctx context.Context, userID string) (model.User, error) {
	return model.User{}, storage.ErrNotFound
}

type fakePublisher struct {
	mu     sync.Mutex
	events []bus.PresenceUpdated
}

func (f *fakePublisher) Publish(ctx context.Context, topic string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if evt, ok := payload.(bus.PresenceUpdated); ok {
		f.events = append(f.events, evt)
	}
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func newTestTracker(timeout time.Duration) (*Tracker, *fakeStore, *fakePublisher) {
	store := newFakeStore()
	pub := &fakePublisher{}
	return NewTracker(store, pub, zap.NewNop(), timeout), store, pub
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func (t *Tracker) armedTimers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

func TestHeartbeatUpsertsAndPublishes(t *testing.T) {
	tracker, store, pub := newTestTracker(time.Minute)

	if err := tracker.Heartbeat(context.Background(), "u1", model.StatusOnline); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if got := store.status("u1"); got != model.StatusOnline {
		t.Fatalf("expected online, got %q", got)
	}
	if pub.count() != 1 {
		t.Fatalf("expected one presence.updated event, got %d", pub.count())
	}
	if tracker.armedTimers() != 1 {
		t.Fatalf("expected one armed timer, got %d", tracker.armedTimers())
	}
}

func TestHeartbeatUsesInjectedClock(t *testing.T) {
	tracker, store, _ := newTestTracker(time.Minute)
	fixed := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return fixed }

	if err := tracker.Heartbeat(context.Background(), "u1", model.StatusOnline); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	p, err := store.GetPresence(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get presence: %v", err)
	}
	if !p.LastEventAt.Equal(fixed) {
		t.Fatalf("expected last_event_at %v, got %v", fixed, p.LastEventAt)
	}
}

func TestOfflineAfterTimeout(t *testing.T) {
	tracker, store, _ := newTestTracker(30 * time.Millisecond)
	defer tracker.Stop()

	if err := tracker.Heartbeat(context.Background(), "u1", model.StatusOnline); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	waitFor(t, time.Second, func() bool { return store.status("u1") == model.StatusOffline })
	if tracker.armedTimers() != 0 {
		t.Fatalf("expired timer must leave the registry, got %d entries", tracker.armedTimers())
	}
}

func TestExpiryStampsExpiryTime(t *testing.T) {
	tracker, store, _ := newTestTracker(30 * time.Millisecond)
	defer tracker.Stop()

	start := time.Now().UTC()
	if err := tracker.Heartbeat(context.Background(), "u1", model.StatusOnline); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	waitFor(t, time.Second, func() bool { return store.status("u1") == model.StatusOffline })

	p, err := store.GetPresence(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get presence: %v", err)
	}
	// lastEventAt reflects when the window expired, not the heartbeat time.
	if p.LastEventAt.Sub(start) < 30*time.Millisecond {
		t.Fatalf("expected expiry-time stamp, got %v after start", p.LastEventAt.Sub(start))
	}
}

func TestHeartbeatDebouncesTimer(t *testing.T) {
	tracker, store, _ := newTestTracker(80 * time.Millisecond)
	defer tracker.Stop()

	ctx := context.Background()
	if err := tracker.Heartbeat(ctx, "u1", model.StatusOnline); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := tracker.Heartbeat(ctx, "u1", model.StatusOnline); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	// Past the first deadline but inside the rearmed window.
	time.Sleep(60 * time.Millisecond)
	if got := store.status("u1"); got != model.StatusOnline {
		t.Fatalf("rearm must supersede the first timer, got %q", got)
	}

	waitFor(t, time.Second, func() bool { return store.status("u1") == model.StatusOffline })
}

func TestMarkOfflineCancelsTimer(t *testing.T) {
	tracker, store, pub := newTestTracker(40 * time.Millisecond)
	defer tracker.Stop()

	ctx := context.Background()
	if err := tracker.Heartbeat(ctx, "u1", model.StatusOnline); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if err := tracker.MarkOffline(ctx, "u1"); err != nil {
		t.Fatalf("mark offline: %v", err)
	}
	if got := store.status("u1"); got != model.StatusOffline {
		t.Fatalf("expected offline, got %q", got)
	}
	if tracker.armedTimers() != 0 {
		t.Fatal("mark offline must drop the timer")
	}

	events := pub.count()
	time.Sleep(100 * time.Millisecond)
	if pub.count() != events {
		t.Fatalf("canceled timer must not fire, events went %d -> %d", events, pub.count())
	}
}

func TestOfflineHeartbeatDoesNotArmTimer(t *testing.T) {
	tracker, _, _ := newTestTracker(time.Minute)

	if err := tracker.Heartbeat(context.Background(), "u1", model.StatusOffline); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if tracker.armedTimers() != 0 {
		t.Fatalf("offline heartbeat must not arm a timer, got %d", tracker.armedTimers())
	}
}

func TestTimersAreKeyedByUser(t *testing.T) {
	tracker, _, _ := newTestTracker(time.Minute)
	defer tracker.Stop()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := tracker.Heartbeat(ctx, "u1", model.StatusOnline); err != nil {
			t.Fatalf("heartbeat: %v", err)
		}
	}
	if err := tracker.Heartbeat(ctx, "u2", model.StatusOnline); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if tracker.armedTimers() != 2 {
		t.Fatalf("expected one timer per user, got %d", tracker.armedTimers())
	}
}
