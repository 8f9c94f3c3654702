// Package data provides DB models and stores.
package data

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/voxlink/voxlink/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ErrUserNotFound is returned by lookups when no user matches.
var ErrUserNotFound = errors.New("user not found")

// ErrUserExists is returned when a unique constraint on username or
// email is violated during creation.
var ErrUserExists = errors.New("user already exists")

// UsersStore performs user DB operations.
type UsersStore struct {
	coll *mongo.Collection
}

// NewUsersStore returns a UsersStore using the provided collection.
func NewUsersStore(coll *mongo.Collection) *UsersStore {
	return &UsersStore{coll: coll}
}

// CreateUser inserts a new user document with hashed password.
func (u *UsersStore) CreateUser(ctx context.Context, username, email, hashedPassword string) (*User, error) {
	now := time.Now()
	user := &User{
		Username:  normalize.Username(username),
		Email:     normalize.Email(email),
		Password:  hashedPassword,
		LastSeen:  now,
		CreatedAt: now,
		UpdatedAt: now,
	}

	result, err := u.coll.InsertOne(ctx, user)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	user.ID = result.InsertedID.(bson.ObjectID)
	return user, nil
}

// GetUserByUsername finds a user by username.
func (u *UsersStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	err := u.coll.FindOne(ctx, bson.M{"username": normalize.Username(username)}).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetUserByID finds a user by ObjectID.
func (u *UsersStore) GetUserByID(ctx context.Context, id bson.ObjectID) (*User, error) {
	var user User
	err := u.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UserExists checks if a user exists by id.
func (u *UsersStore) UserExists(ctx context.Context, id bson.ObjectID) (bool, error) {
	count, err := u.coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SetOnline updates the persisted presence flag and last-seen timestamp.
// Called by the connection lifecycle on connect and disconnect.
func (u *UsersStore) SetOnline(ctx context.Context, id bson.ObjectID, online bool) error {
	update := bson.M{"$set": bson.M{
		"is_online":  online,
		"last_seen":  time.Now(),
		"updated_at": time.Now(),
	}}
	_, err := u.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	return err
}

// SearchUsers returns users whose username or email contains the query,
// excluding the given ids (the caller and, typically, existing friends).
func (u *UsersStore) SearchUsers(ctx context.Context, query string, exclude []bson.ObjectID, limit int64) ([]*User, error) {
	// The query is a literal substring, never a pattern.
	pattern := regexp.QuoteMeta(query)
	filter := bson.M{
		"_id": bson.M{"$nin": exclude},
		"$or": bson.A{
			bson.M{"username": bson.M{"$regex": pattern, "$options": "i"}},
			bson.M{"email": bson.M{"$regex": pattern, "$options": "i"}},
		},
	}

	cursor, err := u.coll.Find(ctx, filter, options.Find().SetLimit(limit))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var users []*User
	if err = cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}
