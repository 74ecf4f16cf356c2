package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agencyops/internal/subscription/domain"
	"github.com/smallbiznis/agencyops/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListActiveFiltersStatusAndTenant(t *testing.T) {
	conn, err := db.NewTest(t.Name())
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.Subscription{}))

	started := time.Date(2026, time.January, 5, 0, 0, 0, 0, time.UTC)
	canceledAt := started.AddDate(0, 2, 0)
	rows := []domain.Subscription{
		{ID: 1, OrgID: 10, MemberID: 1, Plan: "starter", Status: domain.SubscriptionStatusActive, StartedAt: started},
		{ID: 2, OrgID: 10, MemberID: 2, Plan: "agency", Status: domain.SubscriptionStatusActive, StartedAt: started.Add(time.Hour)},
		{ID: 3, OrgID: 10, MemberID: 3, Plan: "agency", Status: domain.SubscriptionStatusCanceled, StartedAt: started, CanceledAt: &canceledAt},
		{ID: 4, OrgID: 10, MemberID: 4, Plan: "starter", Status: domain.SubscriptionStatusTrialing, StartedAt: started},
		{ID: 5, OrgID: 20, MemberID: 5, Plan: "starter", Status: domain.SubscriptionStatusActive, StartedAt: started},
	}
	require.NoError(t, conn.Create(&rows).Error)

	items, err := Provide().ListActive(context.Background(), conn, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, snowflake.ID(1), items[0].ID)
	assert.Equal(t, "agency", items[1].Plan)
	assert.Nil(t, items[1].CanceledAt)
}
