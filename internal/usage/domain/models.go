// Package domain contains the usage event read model.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsageEvent is a single recorded product interaction by a member's user.
type UsageEvent struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	OrgID      snowflake.ID `gorm:"not null;index:ix_usage_events_org_occurred,priority:1"`
	UserID     snowflake.ID `gorm:"not null;index"`
	EventType  string       `gorm:"type:text;not null"`
	OccurredAt time.Time    `gorm:"not null;index:ix_usage_events_org_occurred,priority:2"`
	CreatedAt  time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "usage_events" }
