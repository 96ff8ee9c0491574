package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/faithlink/presence-service/internal/errs"
	"github.com/faithlink/presence-service/internal/model"
	"go.uber.org/zap"
)

// memStore is an in-memory SessionStore for registry tests.
type memStore struct {
	mu        sync.Mutex
	created   map[string]model.PrayerSession
	finished  map[string]finishedRecord
	createErr error
	finishErr error
}

type finishedRecord struct {
	endedAt         time.Time
	durationMinutes int
	peakViewers     int
	reason          model.StopReason
}

func newMemStore() *memStore {
	return &memStore{
		created:  make(map[string]model.PrayerSession),
		finished: make(map[string]finishedRecord),
	}
}

func (m *memStore) CreateSession(_ context.Context, s *model.PrayerSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.created[s.ID] = *s
	return nil
}

func (m *memStore) FinishSession(_ context.Context, id string, endedAt time.Time, durationMinutes, peakViewers int, reason model.StopReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finishErr != nil {
		return m.finishErr
	}
	if _, ok := m.created[id]; !ok {
		return errs.ErrSessionNotFound
	}
	m.finished[id] = finishedRecord{endedAt: endedAt, durationMinutes: durationMinutes, peakViewers: peakViewers, reason: reason}
	return nil
}

func (m *memStore) GetSession(_ context.Context, id string) (*model.PrayerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.created[id]
	if !ok {
		return nil, errs.ErrSessionNotFound
	}
	return &s, nil
}

func (m *memStore) ListSessions(_ context.Context, _ ListSessionsQuery) ([]model.PrayerSession, error) {
	return nil, nil
}

func (m *memStore) finishedRecord(id string) (finishedRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.finished[id]
	return rec, ok
}

func newTestRegistry(store SessionStore, grace time.Duration) *PresenceRegistry {
	hub := NewBroadcastHub(1024, 1024, zap.NewNop())
	return NewPresenceRegistry(store, hub, grace, zap.NewNop())
}

func TestStartSessionAppearsInSnapshot(t *testing.T) {
	store := newMemStore()
	r := newTestRegistry(store, time.Minute)

	sess, err := r.StartSession(context.Background(), "conn-1", StartSessionInput{
		PastorID: "p1", ChurchID: "c1", ChurchName: "Grace", PastorName: "David", PrayerFocus: "healing",
	})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if !sess.IsLive || sess.EndedAt != nil {
		t.Fatalf("new session not live: %+v", sess)
	}
	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].ID != sess.ID {
		t.Fatalf("snapshot missing new session: %+v", snap)
	}
	if _, ok := store.created[sess.ID]; !ok {
		t.Fatal("session not persisted at start")
	}
}

func TestOneLiveSessionPerPastor(t *testing.T) {
	store := newMemStore()
	r := newTestRegistry(store, time.Minute)

	first, err := r.StartSession(context.Background(), "conn-1", StartSessionInput{PastorID: "p1", ChurchID: "c1"})
	if err != nil {
		t.Fatalf("first StartSession: %v", err)
	}
	second, err := r.StartSession(context.Background(), "conn-2", StartSessionInput{PastorID: "p1", ChurchID: "c1"})
	if err != nil {
		t.Fatalf("second StartSession: %v", err)
	}

	snap := r.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected exactly one live session, got %d", len(snap))
	}
	if snap[0].ID != second.ID {
		t.Fatalf("live session is %s, want the newer %s", snap[0].ID, second.ID)
	}
	rec, ok := store.finishedRecord(first.ID)
	if !ok {
		t.Fatal("superseded session was not persisted as finished")
	}
	if rec.reason != model.StopReasonSuperseded {
		t.Fatalf("end reason = %s, want superseded", rec.reason)
	}
	// Lasted only milliseconds but the duration still gets recorded.
	if rec.durationMinutes != 0 {
		t.Fatalf("durationMinutes = %d, want 0 for a milliseconds-long session", rec.durationMinutes)
	}
}

func TestStopSessionIdempotent(t *testing.T) {
	store := newMemStore()
	r := newTestRegistry(store, time.Minute)

	sess, err := r.StartSession(context.Background(), "conn-1", StartSessionInput{PastorID: "p1", ChurchID: "c1"})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := r.StopSession(context.Background(), sess.ID, model.StopReasonGraceful); err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	if err := r.StopSession(context.Background(), sess.ID, model.StopReasonTimeout); err != nil {
		t.Fatalf("second StopSession should be a no-op, got %v", err)
	}
	if err := r.StopSession(context.Background(), "never-existed", model.StopReasonGraceful); err != nil {
		t.Fatalf("stop of unknown session should be a no-op, got %v", err)
	}
	if len(r.Snapshot()) != 0 {
		t.Fatal("snapshot should exclude stopped session")
	}
	rec, ok := store.finishedRecord(sess.ID)
	if !ok {
		t.Fatal("stopped session not persisted as finished")
	}
	if rec.reason != model.StopReasonGraceful {
		t.Fatalf("end reason = %s, want graceful (first stop wins)", rec.reason)
	}
}

func TestStartSessionPersistFailureIsFailClosed(t *testing.T) {
	store := newMemStore()
	store.createErr = errors.New("db down")
	r := newTestRegistry(store, time.Minute)

	sub := NewSubscriber("viewer-1", "", 16)
	r.Join(sub)
	drain(sub) // the empty snapshot

	_, err := r.StartSession(context.Background(), "conn-1", StartSessionInput{PastorID: "p1", ChurchID: "c1"})
	if !errors.Is(err, errs.ErrPersistence) {
		t.Fatalf("err = %v, want ErrPersistence", err)
	}
	if len(r.Snapshot()) != 0 {
		t.Fatal("failed start must not leave a live session")
	}
	if frames := drain(sub); len(frames) != 0 {
		t.Fatalf("failed start must broadcast nothing, got %d frames", len(frames))
	}
}

func TestStopPersistFailureStillLeavesLiveSet(t *testing.T) {
	store := newMemStore()
	r := newTestRegistry(store, time.Minute)

	sess, err := r.StartSession(context.Background(), "conn-1", StartSessionInput{PastorID: "p1", ChurchID: "c1"})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	store.mu.Lock()
	store.finishErr = errors.New("db down")
	store.mu.Unlock()

	if err := r.StopSession(context.Background(), sess.ID, model.StopReasonGraceful); err != nil {
		t.Fatalf("StopSession must not fail on terminal write error, got %v", err)
	}
	if len(r.Snapshot()) != 0 {
		t.Fatal("session must leave the live set even when the terminal write fails")
	}
}

func TestViewerCountNeverNegative(t *testing.T) {
	store := newMemStore()
	r := newTestRegistry(store, time.Minute)

	sess, err := r.StartSession(context.Background(), "pastor-conn", StartSessionInput{PastorID: "p1", ChurchID: "c1"})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	// Leaves for connections that never joined, and a double leave.
	r.Leave("ghost-1")
	sub := NewSubscriber("viewer-1", "", 16)
	r.Join(sub)
	r.Leave("viewer-1")
	r.Leave("viewer-1")

	snap := r.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected the session to still be live, got %d", len(snap))
	}
	if snap[0].ViewerCount != 0 {
		t.Fatalf("viewerCount = %d, want 0", snap[0].ViewerCount)
	}
	_ = sess
}

func TestHeartbeatTimeoutEndsSession(t *testing.T) {
	store := newMemStore()
	r := newTestRegistry(store, time.Minute)

	base := time.Now()
	r.now = func() time.Time { return base }

	sess, err := r.StartSession(context.Background(), "pastor-conn", StartSessionInput{PastorID: "p1", ChurchID: "c1"})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	// Heartbeat inside the window keeps the session alive.
	r.now = func() time.Time { return base.Add(30 * time.Second) }
	r.Heartbeat("pastor-conn")
	r.now = func() time.Time { return base.Add(80 * time.Second) }
	r.sweep()
	if len(r.Snapshot()) != 1 {
		t.Fatal("session with fresh heartbeat must survive the sweep")
	}

	// Silence past the grace window ends it.
	r.now = func() time.Time { return base.Add(3 * time.Minute) }
	r.sweep()
	if len(r.Snapshot()) != 0 {
		t.Fatal("session must be force-ended after the heartbeat window")
	}
	rec, ok := store.finishedRecord(sess.ID)
	if !ok {
		t.Fatal("timed-out session not persisted as finished")
	}
	if rec.reason != model.StopReasonTimeout {
		t.Fatalf("end reason = %s, want timeout", rec.reason)
	}
}

func TestPastorDisconnectScenario(t *testing.T) {
	store := newMemStore()
	r := newTestRegistry(store, time.Minute)
	agg := NewAggregator(r, 10)

	pastorSub := NewSubscriber("pastor-conn", "pA", 32)
	r.Join(pastorSub)
	sess, err := r.StartSession(context.Background(), "pastor-conn", StartSessionInput{
		PastorID: "pA", ChurchID: "c1", PrayerFocus: "healing",
	})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	v1 := NewSubscriber("viewer-1", "", 32)
	v2 := NewSubscriber("viewer-2", "", 32)
	r.Join(v1)
	r.Join(v2)

	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].ViewerCount != 2 {
		t.Fatalf("expected one session with 2 viewers, got %+v", snap)
	}
	ov := agg.Overview()
	if ov.TotalChurchesPraying != 1 || ov.TotalViewers != 2 {
		t.Fatalf("overview = %+v, want 1 church / 2 viewers", ov)
	}

	// Pastor's app dies without a stop command.
	r.Leave("pastor-conn")

	if len(r.Snapshot()) != 0 {
		t.Fatal("owner disconnect must end the session")
	}
	if agg.Overview().TotalChurchesPraying != 0 {
		t.Fatal("no churches should be praying after the disconnect")
	}
	rec, ok := store.finishedRecord(sess.ID)
	if !ok {
		t.Fatal("disconnected session not persisted as finished")
	}
	if rec.reason != model.StopReasonDisconnect {
		t.Fatalf("end reason = %s, want disconnect", rec.reason)
	}
	if rec.peakViewers != 2 {
		t.Fatalf("peak viewers = %d, want 2", rec.peakViewers)
	}
}

func TestJoinReceivesExactlyOneSnapshot(t *testing.T) {
	store := newMemStore()
	r := newTestRegistry(store, time.Minute)

	if _, err := r.StartSession(context.Background(), "pastor-conn", StartSessionInput{PastorID: "p1", ChurchID: "c1"}); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	sub := NewSubscriber("viewer-1", "", 32)
	r.Join(sub)

	frames := drain(sub)
	snapshots := 0
	for _, f := range frames {
		if f.typ == model.TypeSnapshot {
			snapshots++
		}
	}
	if snapshots != 1 {
		t.Fatalf("got %d snapshot frames, want exactly 1", snapshots)
	}
	if frames[0].typ != model.TypeSnapshot {
		t.Fatalf("first frame = %s, want snapshot before any delta", frames[0].typ)
	}
}

// drain pops every queued frame off a subscriber.
func drain(s *Subscriber) []outFrame {
	var out []outFrame
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return out
		}
		f := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		out = append(out, f)
	}
}
