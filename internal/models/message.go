package models

import (
	"time"
)

// Message is immutable once appended. Position is gapless and strictly
// increasing within ChannelID.
type Message struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	ChannelID uint      `gorm:"not null;uniqueIndex:idx_channel_position,priority:1" json:"channel_id"`
	Position  uint64    `gorm:"not null;uniqueIndex:idx_channel_position,priority:2" json:"position"`
	SenderID  string    `gorm:"size:191;not null;index" json:"sender_id"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	SentAt    time.Time `gorm:"not null;index" json:"sent_at"`
}

// MessageView is the per-user projection of a message. It is never stored.
type MessageView struct {
	UserID  string     `json:"user_id"`
	Order   uint64     `json:"order"`
	Message Message    `json:"message"`
	Seen    bool       `json:"seen"`
	Time    *time.Time `json:"time,omitempty"`
}

// Before orders messages by sent_at, then channel, then position.
func (m *Message) Before(other *Message) bool {
	if !m.SentAt.Equal(other.SentAt) {
		return m.SentAt.Before(other.SentAt)
	}
	if m.ChannelID != other.ChannelID {
		return m.ChannelID < other.ChannelID
	}
	return m.Position < other.Position
}
