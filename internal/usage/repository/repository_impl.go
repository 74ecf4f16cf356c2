package repository

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agencyops/internal/usage/domain"
	"gorm.io/gorm"
)

// maxUserIDsPerQuery keeps IN lists under driver bind-parameter limits.
const maxUserIDsPerQuery = 500

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) CountDistinctUsers(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter domain.EventFilter) (int64, error) {
	if filter.UserIDs == nil {
		var count int64
		err := r.windowQuery(ctx, db, orgID, filter).
			Distinct("user_id").
			Count(&count).Error
		return count, err
	}

	// Chunks partition the user set, so per-chunk distinct counts add up.
	var total int64
	for chunk := range slices.Chunk(filter.UserIDs, maxUserIDsPerQuery) {
		var count int64
		err := r.windowQuery(ctx, db, orgID, filter).
			Where("user_id IN ?", chunk).
			Distinct("user_id").
			Count(&count).Error
		if err != nil {
			return 0, err
		}
		total += count
	}
	return total, nil
}

func (r *repo) ListDistinctUserIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter domain.EventFilter) ([]snowflake.ID, error) {
	if filter.UserIDs == nil {
		var ids []snowflake.ID
		err := r.windowQuery(ctx, db, orgID, filter).
			Distinct("user_id").
			Order("user_id asc").
			Pluck("user_id", &ids).Error
		if err != nil {
			return nil, err
		}
		return ids, nil
	}

	ids := make([]snowflake.ID, 0, len(filter.UserIDs))
	for chunk := range slices.Chunk(filter.UserIDs, maxUserIDsPerQuery) {
		var part []snowflake.ID
		err := r.windowQuery(ctx, db, orgID, filter).
			Where("user_id IN ?", chunk).
			Distinct("user_id").
			Pluck("user_id", &part).Error
		if err != nil {
			return nil, err
		}
		ids = append(ids, part...)
	}
	slices.Sort(ids)
	return ids, nil
}

// LastActivity returns the most recent event time per user. Users without any
// event are absent from the result.
func (r *repo) LastActivity(ctx context.Context, db *gorm.DB, orgID snowflake.ID, userIDs []snowflake.ID) (map[snowflake.ID]time.Time, error) {
	result := make(map[snowflake.ID]time.Time, len(userIDs))
	for chunk := range slices.Chunk(userIDs, maxUserIDsPerQuery) {
		rows, err := db.WithContext(ctx).
			Model(&domain.UsageEvent{}).
			Select("user_id, MAX(occurred_at) AS last_active").
			Where("org_id = ? AND user_id IN ?", orgID, chunk).
			Group("user_id").
			Rows()
		if err != nil {
			return nil, err
		}

		for rows.Next() {
			var (
				userID     snowflake.ID
				lastActive any
			)
			if err := rows.Scan(&userID, &lastActive); err != nil {
				rows.Close()
				return nil, err
			}
			parsed, err := parseEventTime(lastActive)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("last activity of user %s: %w", userID, err)
			}
			result[userID] = parsed
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// SQLite returns MAX over a timestamp column as text.
var eventTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
}

func parseEventTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case []byte:
		return parseEventTime(string(v))
	case string:
		for _, layout := range eventTimeLayouts {
			if parsed, err := time.Parse(layout, v); err == nil {
				return parsed.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", v)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", value)
	}
}

func (r *repo) windowQuery(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter domain.EventFilter) *gorm.DB {
	return db.WithContext(ctx).
		Model(&domain.UsageEvent{}).
		Where("org_id = ? AND occurred_at >= ? AND occurred_at < ?", orgID, filter.From.UTC(), filter.To.UTC())
}
