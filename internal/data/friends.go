package data

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// ErrFriendshipExists is returned when a request already exists between
// the two users, in either direction.
var ErrFriendshipExists = errors.New("friend request already exists")

// ErrFriendRequestNotFound is returned when no pending request matches.
var ErrFriendRequestNotFound = errors.New("friend request not found")

// FriendsStore performs friendship DB operations.
type FriendsStore struct {
	coll *mongo.Collection
}

// NewFriendsStore returns a FriendsStore using the provided collection.
func NewFriendsStore(coll *mongo.Collection) *FriendsStore {
	return &FriendsStore{coll: coll}
}

// pairFilter matches the friendship document between two users in
// either direction.
func pairFilter(a, b bson.ObjectID) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"requester_id": a, "recipient_id": b},
		bson.M{"requester_id": b, "recipient_id": a},
	}}
}

// CreateRequest inserts a pending friend request from requester to
// recipient. A request between the pair may exist at most once in either
// direction.
func (f *FriendsStore) CreateRequest(ctx context.Context, requesterID, recipientID bson.ObjectID) (*Friend, error) {
	count, err := f.coll.CountDocuments(ctx, pairFilter(requesterID, recipientID))
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrFriendshipExists
	}

	now := time.Now()
	friend := &Friend{
		RequesterID: requesterID,
		RecipientID: recipientID,
		Status:      FriendStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	result, err := f.coll.InsertOne(ctx, friend)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrFriendshipExists
		}
		return nil, err
	}

	friend.ID = result.InsertedID.(bson.ObjectID)
	return friend, nil
}

// Respond transitions a pending request to accepted or declined. Only the
// request's recipient may respond.
func (f *FriendsStore) Respond(ctx context.Context, requestID, recipientID bson.ObjectID, accept bool) (*Friend, error) {
	status := FriendStatusDeclined
	if accept {
		status = FriendStatusAccepted
	}

	filter := bson.M{
		"_id":          requestID,
		"recipient_id": recipientID,
		"status":       FriendStatusPending,
	}
	update := bson.M{"$set": bson.M{
		"status":     status,
		"updated_at": time.Now(),
	}}

	result, err := f.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, err
	}
	if result.MatchedCount == 0 {
		return nil, ErrFriendRequestNotFound
	}

	var friend Friend
	if err := f.coll.FindOne(ctx, bson.M{"_id": requestID}).Decode(&friend); err != nil {
		return nil, err
	}
	return &friend, nil
}

// ListFriendIDs returns the ids of all users the given user has an
// accepted friendship with, regardless of which side requested it.
func (f *FriendsStore) ListFriendIDs(ctx context.Context, userID bson.ObjectID) ([]bson.ObjectID, error) {
	filter := bson.M{
		"status": FriendStatusAccepted,
		"$or": bson.A{
			bson.M{"requester_id": userID},
			bson.M{"recipient_id": userID},
		},
	}

	cursor, err := f.coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []*Friend
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	ids := make([]bson.ObjectID, 0, len(docs))
	for _, d := range docs {
		if d.RequesterID == userID {
			ids = append(ids, d.RecipientID)
		} else {
			ids = append(ids, d.RequesterID)
		}
	}
	return ids, nil
}

// ListPending returns requests received by the user that are still
// awaiting a response.
func (f *FriendsStore) ListPending(ctx context.Context, userID bson.ObjectID) ([]*Friend, error) {
	return f.list(ctx, bson.M{"recipient_id": userID, "status": FriendStatusPending})
}

// ListSent returns pending requests the user has sent.
func (f *FriendsStore) ListSent(ctx context.Context, userID bson.ObjectID) ([]*Friend, error) {
	return f.list(ctx, bson.M{"requester_id": userID, "status": FriendStatusPending})
}

func (f *FriendsStore) list(ctx context.Context, filter bson.M) ([]*Friend, error) {
	cursor, err := f.coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []*Friend
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// Status reports the friendship state between two users: one of the
// Friend status values, or "none" when no document exists.
func (f *FriendsStore) Status(ctx context.Context, a, b bson.ObjectID) (string, error) {
	var friend Friend
	err := f.coll.FindOne(ctx, pairFilter(a, b)).Decode(&friend)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return "none", nil
		}
		return "", err
	}
	return friend.Status, nil
}
