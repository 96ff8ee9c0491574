package model

import "time"

// Role of a connected user, as asserted by the upstream identity layer.
// This service trusts the value; credential checks happen before us.
type Role string

const (
	RoleViewer Role = "viewer"
	RolePastor Role = "pastor"
	RoleAdmin  Role = "admin"
)

// StopReason records why a session left the live set.
type StopReason string

const (
	StopReasonGraceful   StopReason = "graceful"
	StopReasonTimeout    StopReason = "timeout"
	StopReasonDisconnect StopReason = "disconnect"
	StopReasonAdmin      StopReason = "admin"
	StopReasonSuperseded StopReason = "superseded"
	StopReasonShutdown   StopReason = "shutdown"
)

// PrayerSession is the API/broadcast view of a prayer session (not the GORM entity).
// ViewerCount is the live concurrent count while IsLive; after termination it
// holds the peak concurrent count reached during the session.
type PrayerSession struct {
	ID              string     `json:"id"`
	PastorID        string     `json:"pastorId"`
	PastorName      string     `json:"pastorName"`
	ChurchID        string     `json:"churchId"`
	ChurchName      string     `json:"churchName"`
	PrayerFocus     string     `json:"prayerFocus,omitempty"`
	IsLive          bool       `json:"isLive"`
	ViewerCount     int        `json:"viewerCount"`
	DurationMinutes int        `json:"durationMinutes"`
	StartedAt       time.Time  `json:"startedAt"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
}

// DurationSince returns the session duration at the given end instant,
// rounded to the nearest minute.
func (s *PrayerSession) DurationSince(endedAt time.Time) int {
	return int(endedAt.Sub(s.StartedAt).Round(time.Minute) / time.Minute)
}

// PresenceOverview is the Aggregator's derived read model.
type PresenceOverview struct {
	TotalChurchesPraying int             `json:"totalChurchesPraying"`
	TotalLiveSessions    int             `json:"totalLiveSessions"`
	TotalViewers         int             `json:"totalViewers"`
	TopSessions          []PrayerSession `json:"topSessions"`
}

// LiveSessionsResponse is the response for GET /presence/live.
type LiveSessionsResponse struct {
	Sessions             []PrayerSession `json:"sessions"`
	TotalChurchesPraying int             `json:"totalChurchesPraying"`
}

// SessionHistoryResponse is the response for GET /sessions.
type SessionHistoryResponse struct {
	Sessions []PrayerSession `json:"sessions"`
	Limit    int             `json:"limit"`
	Offset   int             `json:"offset"`
}
