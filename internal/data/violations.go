package data

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// ViolationsStore appends to the PII violation audit log. Writes are a
// non-critical side effect: callers log failures and carry on.
type ViolationsStore struct {
	coll *mongo.Collection
}

// NewViolationsStore returns a ViolationsStore using the given collection.
func NewViolationsStore(coll *mongo.Collection) *ViolationsStore {
	return &ViolationsStore{coll: coll}
}

// Insert appends one violation row.
func (v *ViolationsStore) Insert(ctx context.Context, violation *PIIViolation) error {
	if violation.CreatedAt.IsZero() {
		violation.CreatedAt = time.Now()
	}
	_, err := v.coll.InsertOne(ctx, violation)
	return err
}
