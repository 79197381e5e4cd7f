package data

import (
	"context"
	"time"

	"github.com/Anieshwar-Saravanan/TeenConnect/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// UsersStore performs user DB operations.
type UsersStore struct {
	coll *mongo.Collection
}

// NewUsersStore returns a UsersStore using the provided collection.
func NewUsersStore(coll *mongo.Collection) *UsersStore {
	return &UsersStore{coll: coll}
}

// Create inserts a new user. Password must already be hashed by the caller.
func (u *UsersStore) Create(ctx context.Context, name, email, hashedPassword, role string) (*User, error) {
	user := &User{
		Name:      name,
		Email:     normalize.Email(email),
		Password:  hashedPassword,
		Role:      role,
		CreatedAt: time.Now(),
	}

	result, err := u.coll.InsertOne(ctx, user)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}

	user.ID = result.InsertedID.(bson.ObjectID)
	return user, nil
}

// GetByEmail finds a user by normalized email.
func (u *UsersStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := u.coll.FindOne(ctx, bson.M{"email": normalize.Email(email)}).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetByID finds a user by ObjectID.
func (u *UsersStore) GetByID(ctx context.Context, id bson.ObjectID) (*User, error) {
	var user User
	err := u.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// ListMentors returns every non-forbidden mentor, for the mentors_data board.
func (u *UsersStore) ListMentors(ctx context.Context) ([]*User, error) {
	cursor, err := u.coll.Find(ctx,
		bson.M{"role": "mentor", "forbidden": false},
		options.Find().SetSort(bson.M{"name": 1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var mentors []*User
	if err := cursor.All(ctx, &mentors); err != nil {
		return nil, err
	}
	return mentors, nil
}

// MarkForbidden flips the forbidden flag from false to true as a single
// atomic write and reports whether this call performed the flip. Concurrent
// callers racing past the threshold get exactly one true result.
func (u *UsersStore) MarkForbidden(ctx context.Context, id bson.ObjectID) (bool, error) {
	res, err := u.coll.UpdateOne(ctx,
		bson.M{"_id": id, "forbidden": false},
		bson.M{"$set": bson.M{"forbidden": true}})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

// SetForbidden flips the forbidden flag on a user.
func (u *UsersStore) SetForbidden(ctx context.Context, id bson.ObjectID, forbidden bool) error {
	res, err := u.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"forbidden": forbidden}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// IsForbidden reads the forbidden flag fresh from the store. Authorization
// decisions always re-query rather than trusting previously broadcast state.
func (u *UsersStore) IsForbidden(ctx context.Context, id bson.ObjectID) (bool, error) {
	user, err := u.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return user.Forbidden, nil
}
