package models

import (
	"time"

	"gorm.io/gorm"
)

type MemberRole string

const (
	RoleMember MemberRole = "member"
	RoleTemp   MemberRole = "temp"
)

// Channel owns the per-channel position counter. LastPosition is only ever
// advanced inside the append transaction.
type Channel struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	DisplayName  string `gorm:"size:100;not null" json:"display_name"`
	LastPosition uint64 `gorm:"not null;default:0" json:"last_position"`

	Members []ChannelMember `gorm:"foreignKey:ChannelID" json:"-"`
}

type ChannelMember struct {
	ChannelID uint       `gorm:"primaryKey" json:"channel_id"`
	UserID    string     `gorm:"primaryKey;size:191" json:"user_id"`
	Role      MemberRole `gorm:"type:varchar(20);default:'member'" json:"role"`
	JoinedAt  time.Time  `gorm:"autoCreateTime" json:"joined_at"`
}

type ChannelResponse struct {
	ID           uint      `json:"id"`
	DisplayName  string    `json:"display_name"`
	LastPosition uint64    `json:"last_position"`
	Members      []string  `json:"members,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (c *Channel) ToResponse() ChannelResponse {
	resp := ChannelResponse{
		ID:           c.ID,
		DisplayName:  c.DisplayName,
		LastPosition: c.LastPosition,
		CreatedAt:    c.CreatedAt,
	}
	for _, m := range c.Members {
		resp.Members = append(resp.Members, m.UserID)
	}
	return resp
}
