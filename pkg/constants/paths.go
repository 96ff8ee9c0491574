package constants

const (
	PathHealth     = "/health"
	PathReady      = "/ready"
	PathPresenceWS = "/ws/presence"
)
