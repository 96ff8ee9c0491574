package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/faithlink/presence-service/internal/errs"
	"github.com/faithlink/presence-service/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StartSessionInput carries the start-praying command. Pastor and church
// display names are denormalized into the session at start time so the audit
// row stays readable even if the source profile changes later.
type StartSessionInput struct {
	PastorID    string
	ChurchID    string
	ChurchName  string
	PastorName  string
	PrayerFocus string
}

// liveSession is the registry's record of one live session.
type liveSession struct {
	session       model.PrayerSession
	ownerConnID   string
	lastOwnerBeat time.Time
	peakViewers   int
}

// watcher is the registry's record of one attached connection: which sessions
// it is currently counted against.
type watcher struct {
	sub     *Subscriber
	userID  string
	watched map[string]struct{}
}

// PresenceRegistry is the single source of truth for "who is live right now".
// All mutation is serialized under one mutex; the hub and supervisors never
// touch live state except through this operation set. Fan-out happens inside
// the mutation, which is what gives per-session event ordering.
type PresenceRegistry struct {
	mu       sync.Mutex
	sessions map[string]*liveSession // sessionID -> live session
	byPastor map[string]*liveSession // pastorID -> live session (at most one)
	watchers map[string]*watcher     // connectionID -> watcher

	hub   *BroadcastHub
	store SessionStore
	log   *zap.Logger
	grace time.Duration
	now   func() time.Time
}

// NewPresenceRegistry creates the registry. grace is the window after which a
// live session whose owner stopped heartbeating is force-ended.
func NewPresenceRegistry(store SessionStore, hub *BroadcastHub, grace time.Duration, log *zap.Logger) *PresenceRegistry {
	return &PresenceRegistry{
		sessions: make(map[string]*liveSession),
		byPastor: make(map[string]*liveSession),
		watchers: make(map[string]*watcher),
		hub:      hub,
		store:    store,
		log:      log,
		grace:    grace,
		now:      time.Now,
	}
}

// Start launches the janitor sweep; it stops when ctx is cancelled.
func (r *PresenceRegistry) Start(ctx context.Context) {
	interval := r.grace / 3
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

// StartSession creates a live session for the pastor, force-ending any prior
// live session for the same pastor first. The new session is persisted before
// anything is broadcast; on persistence failure nothing becomes visible.
func (r *PresenceRegistry) StartSession(ctx context.Context, connID string, in StartSessionInput) (*model.PrayerSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prior, ok := r.byPastor[in.PastorID]; ok {
		r.log.Info("implicit close of prior live session",
			zap.String("pastor_id", in.PastorID),
			zap.String("session_id", prior.session.ID))
		r.endLocked(prior, model.StopReasonSuperseded)
	}

	sess := model.PrayerSession{
		ID:          uuid.NewString(),
		PastorID:    in.PastorID,
		PastorName:  in.PastorName,
		ChurchID:    in.ChurchID,
		ChurchName:  in.ChurchName,
		PrayerFocus: in.PrayerFocus,
		IsLive:      true,
		StartedAt:   r.now(),
	}
	if err := r.store.CreateSession(ctx, &sess); err != nil {
		r.log.Error("start session persist failed",
			zap.String("pastor_id", in.PastorID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", errs.ErrPersistence, err)
	}

	ls := &liveSession{
		session:       sess,
		ownerConnID:   connID,
		lastOwnerBeat: r.now(),
	}
	// Every attached connection except the owning one starts out watching.
	for id, w := range r.watchers {
		if id == connID {
			continue
		}
		w.watched[sess.ID] = struct{}{}
		ls.session.ViewerCount++
	}
	ls.peakViewers = ls.session.ViewerCount
	r.sessions[sess.ID] = ls
	r.byPastor[sess.PastorID] = ls

	r.hub.Broadcast(model.TypeSessionStarted, sess.ID, model.NewSessionStarted(ls.session))
	r.log.Info("session started",
		zap.String("session_id", sess.ID),
		zap.String("pastor_id", sess.PastorID),
		zap.String("church_id", sess.ChurchID),
		zap.Int("viewer_count", ls.session.ViewerCount))

	out := ls.session
	return &out, nil
}

// StopSession ends a live session. Idempotent: stopping an unknown or
// already-ended session is a no-op, because races between an explicit stop
// and a heartbeat timeout are expected.
func (r *PresenceRegistry) StopSession(ctx context.Context, sessionID string, reason model.StopReason) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ls, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	r.endLocked(ls, reason)
	return nil
}

// StopAll force-ends every live session, used on shutdown so no phantom live
// rows survive a restart.
func (r *PresenceRegistry) StopAll(reason model.StopReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ls := range r.collectLocked(func(*liveSession) bool { return true }) {
		r.endLocked(ls, reason)
	}
}

// Join attaches a connection: registers it with the hub, counts it as a
// viewer of every live session it does not own, and queues exactly one
// snapshot frame reflecting that state. All under the registry lock, so the
// snapshot can neither miss nor duplicate a delta.
func (r *PresenceRegistry) Join(sub *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.hub.Attach(sub)
	w := &watcher{sub: sub, userID: sub.UserID(), watched: make(map[string]struct{})}
	r.watchers[sub.ID()] = w

	changed := make([]*liveSession, 0, len(r.sessions))
	for _, ls := range r.sessions {
		if ls.ownerConnID == sub.ID() {
			continue
		}
		w.watched[ls.session.ID] = struct{}{}
		ls.session.ViewerCount++
		if ls.session.ViewerCount > ls.peakViewers {
			ls.peakViewers = ls.session.ViewerCount
		}
		changed = append(changed, ls)
	}

	snap := r.snapshotLocked()
	sub.Offer(model.TypeSnapshot, "", model.NewSnapshot(snap, distinctChurches(snap)))

	for _, ls := range changed {
		r.hub.Broadcast(model.TypeViewerCount, ls.session.ID,
			model.NewViewerCount(ls.session.ID, ls.session.ViewerCount))
	}
}

// Leave detaches a connection: decrements every session it was watching and
// force-ends any live session it owned (pastor app crash / dead network).
func (r *PresenceRegistry) Leave(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.hub.Detach(connID)
	w, ok := r.watchers[connID]
	if !ok {
		return
	}
	delete(r.watchers, connID)

	for sessionID := range w.watched {
		ls, ok := r.sessions[sessionID]
		if !ok {
			continue
		}
		if ls.session.ViewerCount > 0 {
			ls.session.ViewerCount--
		}
		r.hub.Broadcast(model.TypeViewerCount, sessionID,
			model.NewViewerCount(sessionID, ls.session.ViewerCount))
	}

	for _, ls := range r.collectLocked(func(ls *liveSession) bool { return ls.ownerConnID == connID }) {
		r.endLocked(ls, model.StopReasonDisconnect)
	}
}

// Heartbeat refreshes owner liveness for every session owned by the connection.
func (r *PresenceRegistry) Heartbeat(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for _, ls := range r.sessions {
		if ls.ownerConnID == connID {
			ls.lastOwnerBeat = now
		}
	}
}

// SessionOwner reports the pastor owning a live session.
func (r *PresenceRegistry) SessionOwner(sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ls, ok := r.sessions[sessionID]
	if !ok {
		return "", false
	}
	return ls.session.PastorID, true
}

// Snapshot returns a consistent point-in-time copy of the live set.
func (r *PresenceRegistry) Snapshot() []model.PrayerSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *PresenceRegistry) snapshotLocked() []model.PrayerSession {
	out := make([]model.PrayerSession, 0, len(r.sessions))
	for _, ls := range r.sessions {
		out = append(out, ls.session)
	}
	return out
}

// collectLocked gathers live sessions matching the predicate so the caller
// can end them without mutating the map mid-iteration.
func (r *PresenceRegistry) collectLocked(match func(*liveSession) bool) []*liveSession {
	var out []*liveSession
	for _, ls := range r.sessions {
		if match(ls) {
			out = append(out, ls)
		}
	}
	return out
}

// sweep force-ends live sessions whose owner heartbeat is older than the
// grace window.
func (r *PresenceRegistry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for _, ls := range r.collectLocked(func(ls *liveSession) bool {
		return now.Sub(ls.lastOwnerBeat) > r.grace
	}) {
		r.log.Warn("session heartbeat timeout",
			zap.String("session_id", ls.session.ID),
			zap.String("pastor_id", ls.session.PastorID))
		r.endLocked(ls, model.StopReasonTimeout)
	}
}

// endLocked removes the session from the live set, broadcasts session_ended,
// and persists the terminal write. The in-memory removal and broadcast never
// wait on the store: a failed terminal write is retried in the background
// while "who is live" is already accurate.
func (r *PresenceRegistry) endLocked(ls *liveSession, reason model.StopReason) {
	endedAt := r.now()
	ls.session.EndedAt = &endedAt
	ls.session.IsLive = false
	ls.session.DurationMinutes = ls.session.DurationSince(endedAt)

	delete(r.sessions, ls.session.ID)
	delete(r.byPastor, ls.session.PastorID)
	for _, w := range r.watchers {
		delete(w.watched, ls.session.ID)
	}

	r.hub.Broadcast(model.TypeSessionEnded, ls.session.ID,
		model.NewSessionEnded(ls.session.ID, endedAt, ls.session.DurationMinutes))
	r.log.Info("session ended",
		zap.String("session_id", ls.session.ID),
		zap.String("pastor_id", ls.session.PastorID),
		zap.String("reason", string(reason)),
		zap.Int("duration_minutes", ls.session.DurationMinutes),
		zap.Int("peak_viewers", ls.peakViewers))

	if err := r.store.FinishSession(context.Background(), ls.session.ID, endedAt,
		ls.session.DurationMinutes, ls.peakViewers, reason); err != nil {
		r.log.Error("terminal persist failed, retrying in background",
			zap.String("session_id", ls.session.ID), zap.Error(err))
		go r.retryFinish(ls.session.ID, endedAt, ls.session.DurationMinutes, ls.peakViewers, reason)
	}
}

// retryFinish retries the terminal write with backoff. Gives up on
// ErrSessionNotFound (the row never made it in) or after the last attempt.
func (r *PresenceRegistry) retryFinish(sessionID string, endedAt time.Time, durationMinutes, peakViewers int, reason model.StopReason) {
	backoff := 500 * time.Millisecond
	for attempt := 1; attempt <= 5; attempt++ {
		time.Sleep(backoff)
		backoff *= 2
		err := r.store.FinishSession(context.Background(), sessionID, endedAt, durationMinutes, peakViewers, reason)
		if err == nil {
			r.log.Info("terminal persist retry succeeded",
				zap.String("session_id", sessionID), zap.Int("attempt", attempt))
			return
		}
		if errors.Is(err, errs.ErrSessionNotFound) {
			r.log.Error("terminal persist abandoned, row missing",
				zap.String("session_id", sessionID))
			return
		}
		r.log.Warn("terminal persist retry failed",
			zap.String("session_id", sessionID), zap.Int("attempt", attempt), zap.Error(err))
	}
}
