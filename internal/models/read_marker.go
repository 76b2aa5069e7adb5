package models

import (
	"time"
)

// ReadMarker tracks per-user read progress in a channel.
// LastSeenPosition is monotonic; 0 means nothing seen.
type ReadMarker struct {
	UserID           string    `gorm:"primaryKey;size:191" json:"user_id"`
	ChannelID        uint      `gorm:"primaryKey" json:"channel_id"`
	LastSeenPosition uint64    `gorm:"not null;default:0" json:"last_seen_position"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Seen reports whether the message at position has been read.
func (r ReadMarker) Seen(position uint64) bool {
	return position > 0 && position <= r.LastSeenPosition
}
