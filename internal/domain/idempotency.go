package domain

import "time"

// Idempotency records the message produced by a previously processed send
// request, keyed by (user_id, peer_id, key). A retried send carrying the same
// Idempotency-Key returns the recorded message instead of persisting and
// pushing a duplicate.
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_peer_key,priority:1"`
	PeerID    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_peer_key,priority:2"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_peer_key,priority:3"`
	MessageID string    `gorm:"type:TEXT NOT NULL"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
