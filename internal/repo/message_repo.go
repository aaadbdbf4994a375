// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
//
// A conversation is the unordered pair {a, b}: every query matches rows where
// (sender, receiver) is (a, b) or (b, a).
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-social-chat/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

const pairClause = "(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)"

func conversation(db *gorm.DB, a, b string) *gorm.DB {
	return db.Where(pairClause, a, b, b, a)
}

// CreateMessage inserts a new message row. At least one of text or image is
// expected to be non-empty; that rule is enforced by the service layer.
func CreateMessage(ctx context.Context, db *gorm.DB, senderID, receiverID, text, image string) (*domain.Message, error) {
	m := &domain.Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		Image:      image,
		CreatedAt:  time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListConversation returns every message exchanged between a and b ordered
// deterministically (CreatedAt ASC, ID ASC). limit <= 0 means no limit.
func ListConversation(ctx context.Context, db *gorm.DB, a, b string, limit int) ([]domain.Message, error) {
	var out []domain.Message
	q := conversation(db.WithContext(ctx), a, b).Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ListConversationPage returns a paginated slice ordered (CreatedAt ASC, ID ASC).
func ListConversationPage(ctx context.Context, db *gorm.DB, a, b string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := conversation(db.WithContext(ctx), a, b).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountConversation uses a raw COUNT so a missing table surfaces as an error.
func CountConversation(ctx context.Context, db *gorm.DB, a, b string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM messages WHERE "+pairClause, a, b, b, a).
		Scan(&total).Error
	return total, err
}

// DeleteMessageBySender removes the row only when it is still authored by
// senderID. It returns ErrNotFound when nothing matched, which covers a
// concurrent delete that won the race.
func DeleteMessageBySender(ctx context.Context, db *gorm.DB, id, senderID string) error {
	res := db.WithContext(ctx).
		Where("id = ? AND sender_id = ?", id, senderID).
		Delete(&domain.Message{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
