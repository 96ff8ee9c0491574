package model

import "time"

// PrayerSessionRecord is the durable audit row for a prayer session (GORM).
// Rows are never deleted; termination is an update of ended_at and the
// derived columns, nothing else mutates after that.
type PrayerSessionRecord struct {
	ID              string     `gorm:"type:uuid;primaryKey"`
	PastorID        string     `gorm:"column:pastor_id;not null;index"`
	PastorName      string     `gorm:"column:pastor_name;not null"`
	ChurchID        string     `gorm:"column:church_id;not null;index"`
	ChurchName      string     `gorm:"column:church_name;not null"`
	PrayerFocus     string     `gorm:"column:prayer_focus"`
	IsLive          bool       `gorm:"column:is_live;not null"`
	ViewerCount     int        `gorm:"column:viewer_count;not null"`
	DurationMinutes int        `gorm:"column:duration_minutes;not null"`
	EndReason       string     `gorm:"column:end_reason"`
	StartedAt       time.Time  `gorm:"column:started_at;not null"`
	EndedAt         *time.Time `gorm:"column:ended_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime"`
}

func (PrayerSessionRecord) TableName() string { return "prayer_sessions" }
