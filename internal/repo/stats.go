// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-social-chat/internal/domain"
)

// ConversationStats returns the number of messages exchanged between a and b,
// the newest CreatedAt among them and the ID of that newest row. When the
// pair has no messages, count is 0 and latest is nil.
//
// The latest ID is part of the result because deleting one message and
// sending another can leave count and timestamp granularity unchanged.
func ConversationStats(ctx context.Context, db *gorm.DB, a, b string) (count int64, latest *time.Time, latestID string, err error) {
	q := conversation(db.WithContext(ctx).Model(&domain.Message{}), a, b)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, "", err
	}
	if count == 0 {
		return 0, nil, "", nil
	}

	// Avoid MAX() -> TEXT in SQLite.
	var row struct {
		ID        string
		CreatedAt time.Time
	}
	err = conversation(db.WithContext(ctx).Model(&domain.Message{}), a, b).
		Select("id, created_at").
		Order("created_at DESC, id DESC").
		Limit(1).
		Scan(&row).Error
	if err != nil {
		return 0, nil, "", err
	}
	return count, &row.CreatedAt, row.ID, nil
}
