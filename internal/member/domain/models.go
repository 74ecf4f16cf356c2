// Package domain contains the membership read model.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// MemberStatus represents lifecycle states for an organization member.
type MemberStatus string

const (
	MemberStatusActive  MemberStatus = "ACTIVE"
	MemberStatusInvited MemberStatus = "INVITED"
	MemberStatusRemoved MemberStatus = "REMOVED"
)

// Member is a user's membership in an organization. CreatedAt is the signup
// time used for cohort assignment.
type Member struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;index:ix_members_org_created,priority:1" json:"org_id"`
	UserID    snowflake.ID `gorm:"not null;index" json:"user_id"`
	Email     string       `gorm:"type:text;not null" json:"email"`
	Status    MemberStatus `gorm:"type:text;not null" json:"status"`
	CreatedAt time.Time    `gorm:"not null;index:ix_members_org_created,priority:2" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Member) TableName() string { return "members" }
