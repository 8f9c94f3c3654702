// Package db manages MongoDB connections and collections.
package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Client wraps mongo.Client and exposes collections.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects to MongoDB and returns a Client. The connection is pinged
// before being handed out so startup fails fast when the store is down.
func New(ctx context.Context, mongoURI, database string) (*Client, error) {
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
		db:     client.Database(database),
	}, nil
}

// UsersCollection returns the users collection.
func (c *Client) UsersCollection() *mongo.Collection {
	return c.db.Collection("users")
}

// MessagesCollection returns the messages collection.
func (c *Client) MessagesCollection() *mongo.Collection {
	return c.db.Collection("messages")
}

// FriendsCollection returns the friends collection.
func (c *Client) FriendsCollection() *mongo.Collection {
	return c.db.Collection("friends")
}

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// CreateIndexes creates necessary indexes for the users, messages and
// friends collections.
func (c *Client) CreateIndexes(ctx context.Context) error {
	// Users: usernames and emails are both unique identifiers.
	userIndexes := []mongo.IndexModel{
		{
			Keys:    map[string]int{"username": 1},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    map[string]int{"email": 1},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := c.UsersCollection().Indexes().CreateMany(ctx, userIndexes); err != nil {
		return fmt.Errorf("failed to create users indexes: %w", err)
	}

	// Messages: conversation history lookups and the unread bulk update.
	messageIndexes := []mongo.IndexModel{
		{
			Keys: map[string]int{"sender_id": 1, "recipient_id": 1, "created_at": -1},
		},
		{
			Keys: map[string]int{"recipient_id": 1, "is_read": 1},
		},
		{
			Keys: map[string]int{"created_at": -1},
		},
	}
	if _, err := c.MessagesCollection().Indexes().CreateMany(ctx, messageIndexes); err != nil {
		return fmt.Errorf("failed to create message indexes: %w", err)
	}

	// Friends: one friendship document per (requester, recipient) pair.
	friendsIndexModel := mongo.IndexModel{
		Keys:    map[string]int{"requester_id": 1, "recipient_id": 1},
		Options: options.Index().SetUnique(true),
	}
	if _, err := c.FriendsCollection().Indexes().CreateOne(ctx, friendsIndexModel); err != nil {
		return fmt.Errorf("failed to create friends index: %w", err)
	}

	return nil
}
