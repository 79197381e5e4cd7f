// Package data provides DB models and stores.
package data

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ErrNotFound is returned by stores when no document matches.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique constraint rejects an insert.
var ErrDuplicate = errors.New("already exists")

// User maps to the users collection. Forbidden is meaningful for mentors
// only and is flipped exactly once by the block-threshold cascade.
type User struct {
	ID        bson.ObjectID `bson:"_id,omitempty"`
	Name      string        `bson:"name"`
	Email     string        `bson:"email"`
	Password  string        `bson:"password"`
	Role      string        `bson:"role"`
	Forbidden bool          `bson:"forbidden"`
	CreatedAt time.Time     `bson:"created_at"`
}

// Issue maps to the issues collection. AssignedMentor is nil while the
// issue is open; at most one mentor is assigned at any instant.
type Issue struct {
	ID             bson.ObjectID  `bson:"_id,omitempty"`
	Title          string         `bson:"title"`
	Description    string         `bson:"description"`
	CreatedBy      bson.ObjectID  `bson:"created_by"`
	AssignedMentor *bson.ObjectID `bson:"assigned_mentor,omitempty"`
	CreatedAt      time.Time      `bson:"created_at"`
}

// Message maps to the messages collection. A row exists only if the text
// passed every blocking safety check at insert time. Moderation holds the
// attribute scores attached when toxicity scoring ran; nil when scoring was
// skipped or unavailable.
type Message struct {
	ID         bson.ObjectID      `bson:"_id,omitempty"`
	IssueID    bson.ObjectID      `bson:"issue_id"`
	SenderID   bson.ObjectID      `bson:"sender_id"`
	Text       string             `bson:"text"`
	Moderation map[string]float64 `bson:"moderation,omitempty"`
	CreatedAt  time.Time          `bson:"created_at"`
}

// BlockedMentor is one (teen, mentor) block relationship. The unique
// compound index guarantees at most one row per pair.
type BlockedMentor struct {
	ID        bson.ObjectID `bson:"_id,omitempty"`
	TeenID    bson.ObjectID `bson:"teen_id"`
	MentorID  bson.ObjectID `bson:"mentor_id"`
	CreatedAt time.Time     `bson:"created_at"`
}

// PIIViolation is an audit row written (best-effort) when the PII detector
// rejects a candidate text.
type PIIViolation struct {
	ID           bson.ObjectID  `bson:"_id,omitempty"`
	UserID       bson.ObjectID  `bson:"user_id"`
	IssueID      *bson.ObjectID `bson:"issue_id,omitempty"`
	MessageID    *bson.ObjectID `bson:"message_id,omitempty"`
	DetectedText string         `bson:"detected_text"`
	DetectedType string         `bson:"detected_type"`
	CreatedAt    time.Time      `bson:"created_at"`
}
