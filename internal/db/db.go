// Package db manages the MongoDB connection and collection handles.
package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Client wraps mongo.Client and exposes the collections the broker uses.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects to MongoDB, verifies the connection with a ping and returns
// a Client bound to the teenconnect database.
func New(ctx context.Context, mongoURI string) (*Client, error) {
	opts := options.Client().
		ApplyURI(mongoURI).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Client{
		client: client,
		db:     client.Database("teenconnect"),
	}, nil
}

// Users returns the users collection.
func (c *Client) Users() *mongo.Collection { return c.db.Collection("users") }

// Issues returns the issues collection.
func (c *Client) Issues() *mongo.Collection { return c.db.Collection("issues") }

// Messages returns the messages collection.
func (c *Client) Messages() *mongo.Collection { return c.db.Collection("messages") }

// BlockedMentors returns the block-relationship collection.
func (c *Client) BlockedMentors() *mongo.Collection { return c.db.Collection("blocked_mentors") }

// PIIViolations returns the content-policy violation log collection.
func (c *Client) PIIViolations() *mongo.Collection { return c.db.Collection("pii_violations") }

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// collectionIndexes lists the indexes every query path relies on, keyed by
// collection name. Key documents are bson.D: the driver refuses multi-entry
// maps for the ordered keys parameter, so compound keys must be ordered.
var collectionIndexes = map[string][]mongo.IndexModel{
	// Unique email so duplicate signups fail at the store.
	"users": {
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	},
	// Issue lookups by creator and assigned mentor drive the block cascade.
	"issues": {
		{
			Keys: bson.D{{Key: "created_by", Value: 1}, {Key: "assigned_mentor", Value: 1}},
		},
	},
	// Topic history is always read in created_at order per issue.
	"messages": {
		{
			Keys: bson.D{{Key: "issue_id", Value: 1}, {Key: "created_at", Value: 1}},
		},
	},
	// Unique (teen, mentor) pair makes blocking idempotent and lets a plain
	// count of rows per mentor serve as the distinct-blocker count.
	"blocked_mentors": {
		{
			Keys:    bson.D{{Key: "teen_id", Value: 1}, {Key: "mentor_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "mentor_id", Value: 1}},
		},
	},
}

// CreateIndexes ensures every index in collectionIndexes exists.
func (c *Client) CreateIndexes(ctx context.Context) error {
	for name, models := range collectionIndexes {
		if _, err := c.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", name, err)
		}
	}
	return nil
}
