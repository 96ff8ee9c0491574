package service

import (
	"context"
	"errors"
	"time"

	"github.com/faithlink/presence-service/internal/errs"
	"github.com/faithlink/presence-service/internal/model"
	"gorm.io/gorm"
)

// ListSessionsQuery filters the durable session history.
type ListSessionsQuery struct {
	PastorID string
	LiveOnly bool
	Limit    int
	Offset   int
}

// SessionStore is the durable audit record of prayer sessions. One insert at
// start, one terminal update at end; rows are never deleted.
type SessionStore interface {
	CreateSession(ctx context.Context, s *model.PrayerSession) error
	FinishSession(ctx context.Context, id string, endedAt time.Time, durationMinutes, peakViewers int, reason model.StopReason) error
	GetSession(ctx context.Context, id string) (*model.PrayerSession, error)
	ListSessions(ctx context.Context, q ListSessionsQuery) ([]model.PrayerSession, error)
}

// GormSessionStore persists sessions in PostgreSQL via GORM.
type GormSessionStore struct {
	db *gorm.DB
}

// NewGormSessionStore creates the PostgreSQL-backed session store.
func NewGormSessionStore(db *gorm.DB) *GormSessionStore {
	return &GormSessionStore{db: db}
}

// CreateSession inserts the audit row for a newly started session.
func (s *GormSessionStore) CreateSession(ctx context.Context, sess *model.PrayerSession) error {
	rec := &model.PrayerSessionRecord{
		ID:          sess.ID,
		PastorID:    sess.PastorID,
		PastorName:  sess.PastorName,
		ChurchID:    sess.ChurchID,
		ChurchName:  sess.ChurchName,
		PrayerFocus: sess.PrayerFocus,
		IsLive:      true,
		StartedAt:   sess.StartedAt,
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return err
	}
	return nil
}

// FinishSession records the terminal state of a session. is_live is written in
// lockstep with ended_at so the row never claims to be live after ending.
func (s *GormSessionStore) FinishSession(ctx context.Context, id string, endedAt time.Time, durationMinutes, peakViewers int, reason model.StopReason) error {
	res := s.db.WithContext(ctx).Model(&model.PrayerSessionRecord{}).
		Where("id = ? AND ended_at IS NULL", id).
		Updates(map[string]interface{}{
			"is_live":          false,
			"ended_at":         endedAt,
			"duration_minutes": durationMinutes,
			"viewer_count":     peakViewers,
			"end_reason":       string(reason),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Either the row is missing or already finished; both are terminal.
		var count int64
		if err := s.db.WithContext(ctx).Model(&model.PrayerSessionRecord{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return errs.ErrSessionNotFound
		}
	}
	return nil
}

// GetSession returns one durable session row.
func (s *GormSessionStore) GetSession(ctx context.Context, id string) (*model.PrayerSession, error) {
	var rec model.PrayerSessionRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrSessionNotFound
		}
		return nil, err
	}
	sess := recordToSession(&rec)
	return &sess, nil
}

// ListSessions returns session history, newest first.
func (s *GormSessionStore) ListSessions(ctx context.Context, q ListSessionsQuery) ([]model.PrayerSession, error) {
	limit := q.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	tx := s.db.WithContext(ctx).Model(&model.PrayerSessionRecord{})
	if q.PastorID != "" {
		tx = tx.Where("pastor_id = ?", q.PastorID)
	}
	if q.LiveOnly {
		tx = tx.Where("ended_at IS NULL")
	}
	var recs []model.PrayerSessionRecord
	if err := tx.Order("started_at DESC").Limit(limit).Offset(q.Offset).Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]model.PrayerSession, 0, len(recs))
	for i := range recs {
		out = append(out, recordToSession(&recs[i]))
	}
	return out, nil
}

func recordToSession(rec *model.PrayerSessionRecord) model.PrayerSession {
	return model.PrayerSession{
		ID:              rec.ID,
		PastorID:        rec.PastorID,
		PastorName:      rec.PastorName,
		ChurchID:        rec.ChurchID,
		ChurchName:      rec.ChurchName,
		PrayerFocus:     rec.PrayerFocus,
		IsLive:          rec.EndedAt == nil,
		ViewerCount:     rec.ViewerCount,
		DurationMinutes: rec.DurationMinutes,
		StartedAt:       rec.StartedAt,
		EndedAt:         rec.EndedAt,
	}
}
