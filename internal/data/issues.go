package data

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// IssuesStore performs issue DB operations. The lifecycle engine is the
// sole caller of its mutating methods.
type IssuesStore struct {
	coll *mongo.Collection
}

// NewIssuesStore returns an IssuesStore using the given collection.
func NewIssuesStore(coll *mongo.Collection) *IssuesStore {
	return &IssuesStore{coll: coll}
}

// Create inserts an unassigned issue and returns it with its new id.
func (s *IssuesStore) Create(ctx context.Context, title, description string, createdBy bson.ObjectID) (*Issue, error) {
	issue := &Issue{
		Title:       title,
		Description: description,
		CreatedBy:   createdBy,
		CreatedAt:   time.Now(),
	}

	result, err := s.coll.InsertOne(ctx, issue)
	if err != nil {
		return nil, err
	}

	issue.ID = result.InsertedID.(bson.ObjectID)
	return issue, nil
}

// GetByID finds an issue by id.
func (s *IssuesStore) GetByID(ctx context.Context, id bson.ObjectID) (*Issue, error) {
	var issue Issue
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&issue)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &issue, nil
}

// ListAll returns every issue, newest first, for the request board.
func (s *IssuesStore) ListAll(ctx context.Context) ([]*Issue, error) {
	cursor, err := s.coll.Find(ctx, bson.M{},
		options.Find().SetSort(bson.M{"created_at": -1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var issues []*Issue
	if err := cursor.All(ctx, &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

// ListByCreatorAndMentor returns the issues a teen owns that are currently
// assigned to the given mentor. The block cascade iterates this set.
func (s *IssuesStore) ListByCreatorAndMentor(ctx context.Context, createdBy, mentorID bson.ObjectID) ([]*Issue, error) {
	cursor, err := s.coll.Find(ctx, bson.M{
		"created_by":      createdBy,
		"assigned_mentor": mentorID,
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var issues []*Issue
	if err := cursor.All(ctx, &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

// SetAssignedMentor sets the assigned mentor on an issue. The update is a
// single atomic write; concurrent assignments resolve last-writer-wins.
func (s *IssuesStore) SetAssignedMentor(ctx context.Context, id, mentorID bson.ObjectID) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"assigned_mentor": mentorID}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an issue row.
func (s *IssuesStore) Delete(ctx context.Context, id bson.ObjectID) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
