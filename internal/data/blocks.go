package data

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// BlocksStore persists (teen, mentor) block relationships. The unique
// compound index on the pair makes Insert idempotent and lets a plain row
// count per mentor serve as the distinct-blocker count.
type BlocksStore struct {
	coll *mongo.Collection
}

// NewBlocksStore returns a BlocksStore using the given collection.
func NewBlocksStore(coll *mongo.Collection) *BlocksStore {
	return &BlocksStore{coll: coll}
}

// Insert records a block. A duplicate pair is treated as success: exactly
// one row exists per pair regardless of how many times a teen blocks.
func (b *BlocksStore) Insert(ctx context.Context, teenID, mentorID bson.ObjectID) error {
	_, err := b.coll.InsertOne(ctx, &BlockedMentor{
		TeenID:    teenID,
		MentorID:  mentorID,
		CreatedAt: time.Now(),
	})
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return err
	}
	return nil
}

// Remove deletes a block. Removing a pair that does not exist is a no-op.
func (b *BlocksStore) Remove(ctx context.Context, teenID, mentorID bson.ObjectID) error {
	_, err := b.coll.DeleteOne(ctx, bson.M{"teen_id": teenID, "mentor_id": mentorID})
	return err
}

// Exists reports whether the pair is currently blocked.
func (b *BlocksStore) Exists(ctx context.Context, teenID, mentorID bson.ObjectID) (bool, error) {
	count, err := b.coll.CountDocuments(ctx, bson.M{"teen_id": teenID, "mentor_id": mentorID})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CountBlockers returns the number of distinct teens blocking a mentor.
func (b *BlocksStore) CountBlockers(ctx context.Context, mentorID bson.ObjectID) (int64, error) {
	return b.coll.CountDocuments(ctx, bson.M{"mentor_id": mentorID})
}

// ListBlockedBy returns the mentor ids a teen has blocked.
func (b *BlocksStore) ListBlockedBy(ctx context.Context, teenID bson.ObjectID) ([]bson.ObjectID, error) {
	cursor, err := b.coll.Find(ctx, bson.M{"teen_id": teenID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []*BlockedMentor
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	ids := make([]bson.ObjectID, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.MentorID)
	}
	return ids, nil
}

// ListBlockers returns the teen ids currently blocking a mentor.
func (b *BlocksStore) ListBlockers(ctx context.Context, mentorID bson.ObjectID) ([]bson.ObjectID, error) {
	cursor, err := b.coll.Find(ctx, bson.M{"mentor_id": mentorID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []*BlockedMentor
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	ids := make([]bson.ObjectID, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.TeenID)
	}
	return ids, nil
}
