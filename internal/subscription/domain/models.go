// Package domain contains the subscription read model.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusTrialing SubscriptionStatus = "TRIALING"
	SubscriptionStatusPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
)

// Subscription ties a member to a plan. Billing owns the table; analytics only reads it.
type Subscription struct {
	ID         snowflake.ID       `gorm:"primaryKey"`
	OrgID      snowflake.ID       `gorm:"not null;index"`
	MemberID   snowflake.ID       `gorm:"not null;index"`
	Plan       string             `gorm:"type:text;not null"`
	Status     SubscriptionStatus `gorm:"type:text;not null"`
	StartedAt  time.Time          `gorm:"not null"`
	CanceledAt *time.Time
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }
