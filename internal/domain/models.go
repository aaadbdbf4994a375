// Package domain defines the persistence models for direct messages and the
// transient values exchanged around them. Persisted types are mapped with
// GORM and form the core data layer of the chat backend.
package domain

import "time"

// Message is a direct message between two users. It belongs to exactly one
// ordered (sender, receiver) pair and is visible in the conversation of both.
//
// Fields:
//   - ID: stable UUID primary key (char(36)), assigned at creation.
//   - SenderID / ReceiverID: participant identities; both indexed so the
//     bidirectional history query can use either direction.
//   - Text: optional body.
//   - Image: optional attachment reference (URL) resolved before persistence.
//   - CreatedAt: immutable creation timestamp.
//
// Messages are never updated. Deletion is a hard delete performed only by the
// sender, so there is no soft-delete column.
type Message struct {
	ID         string    `json:"_id"         gorm:"type:char(36);primaryKey"`
	SenderID   string    `json:"senderId"    gorm:"type:varchar(64);not null;index:idx_msg_pair,priority:1"`
	ReceiverID string    `json:"receiverId"  gorm:"type:varchar(64);not null;index:idx_msg_pair,priority:2;index:idx_msg_receiver"`
	Text       string    `json:"text,omitempty"  gorm:"type:text"`
	Image      string    `json:"image,omitempty" gorm:"type:text"`
	CreatedAt  time.Time `json:"createdAt"   gorm:"not null;index:idx_msg_created"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Counterpart returns the other participant of m as seen from userID.
// For a message to oneself the counterpart is userID.
func (m *Message) Counterpart(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Involves reports whether userID is the sender or the receiver of m.
func (m *Message) Involves(userID string) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// TranslationResult is the outcome of an on-demand translation. It is never
// persisted and is only loosely tied to a Message for access control.
type TranslationResult struct {
	TranslatedText      string `json:"translatedText"`
	SourceLanguageLabel string `json:"sourceLanguage"`
	TargetLanguageLabel string `json:"targetLanguage"`
	OriginalText        string `json:"originalText"`
}
