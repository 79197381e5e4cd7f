package data

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MessagesStore provides message database operations.
type MessagesStore struct {
	coll *mongo.Collection
}

// NewMessagesStore returns a MessagesStore using the given collection.
func NewMessagesStore(coll *mongo.Collection) *MessagesStore {
	return &MessagesStore{coll: coll}
}

// Insert persists a message that already passed the content safety filter.
// moderation may be nil when scoring was skipped or unavailable.
func (m *MessagesStore) Insert(ctx context.Context, issueID, senderID bson.ObjectID, text string, moderation map[string]float64) (*Message, error) {
	msg := &Message{
		IssueID:    issueID,
		SenderID:   senderID,
		Text:       text,
		Moderation: moderation,
		CreatedAt:  time.Now(),
	}

	result, err := m.coll.InsertOne(ctx, msg)
	if err != nil {
		return nil, err
	}

	msg.ID = result.InsertedID.(bson.ObjectID)
	return msg, nil
}

// GetByID finds a single message.
func (m *MessagesStore) GetByID(ctx context.Context, id bson.ObjectID) (*Message, error) {
	var msg Message
	err := m.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&msg)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &msg, nil
}

// ListByIssue returns the full history for an issue in ascending creation
// order, which is what new topic joiners receive.
func (m *MessagesStore) ListByIssue(ctx context.Context, issueID bson.ObjectID) ([]*Message, error) {
	cursor, err := m.coll.Find(ctx,
		bson.M{"issue_id": issueID},
		options.Find().SetSort(bson.M{"created_at": 1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var messages []*Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// Delete removes one message row.
func (m *MessagesStore) Delete(ctx context.Context, id bson.ObjectID) error {
	res, err := m.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByIssue removes every message belonging to an issue. Used by both
// the explicit for_everyone delete and the block cascade.
func (m *MessagesStore) DeleteByIssue(ctx context.Context, issueID bson.ObjectID) error {
	_, err := m.coll.DeleteMany(ctx, bson.M{"issue_id": issueID})
	return err
}
