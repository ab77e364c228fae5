package models

import "time"

// Event bus channel names. The set is fixed; the gateway listens on all
// of them.
const (
	ChannelIncidents     = "incidents"
	ChannelHypotheses    = "hypotheses"
	ChannelAlerts        = "alerts"
	ChannelNotifications = "notifications"
	ChannelSystem        = "system"
)

// BusChannels lists every event bus channel.
var BusChannels = []string{
	ChannelIncidents,
	ChannelHypotheses,
	ChannelAlerts,
	ChannelNotifications,
	ChannelSystem,
}

// ValidChannel reports whether name is a known bus channel.
func ValidChannel(name string) bool {
	for _, c := range BusChannels {
		if c == name {
			return true
		}
	}
	return false
}

// Event is one persisted bus message. The serial ID orders events per
// channel and drives WebSocket catchup.
type Event struct {
	ID        int64     `db:"id" json:"id"`
	TenantID  string    `db:"tenant_id" json:"tenant_id"`
	Channel   string    `db:"channel" json:"channel"`
	Payload   JSONMap   `db:"payload" json:"payload"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
