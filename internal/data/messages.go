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

// SaveMessage inserts a message document and returns the saved record.
// media may be nil for plain text messages; validation of the
// text-or-media shape happens at the relay boundary before this call.
func (m *MessagesStore) SaveMessage(ctx context.Context, senderID, recipientID bson.ObjectID, content string, media *Media) (*Message, error) {
	msgType := MessageTypeText
	if media != nil {
		msgType = MessageTypeMedia
	}

	msg := &Message{
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		Type:        msgType,
		Media:       media,
		CreatedAt:   time.Now(),
	}

	result, err := m.coll.InsertOne(ctx, msg)
	if err != nil {
		return nil, err
	}

	msg.ID = result.InsertedID.(bson.ObjectID)
	return msg, nil
}

// GetConversation returns recent messages between two users ordered
// oldest→newest, skipping soft-deleted messages.
func (m *MessagesStore) GetConversation(ctx context.Context, user1, user2 bson.ObjectID, limit int64) ([]*Message, error) {
	opts := options.Find().
		SetSort(bson.M{"created_at": -1}).
		SetLimit(limit)

	filter := bson.M{
		"is_deleted": bson.M{"$ne": true},
		"$or": bson.A{
			bson.M{"sender_id": user1, "recipient_id": user2},
			bson.M{"sender_id": user2, "recipient_id": user1},
		},
	}

	cursor, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var messages []*Message
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, err
	}

	// Mongo returned newest first; the client expects chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MarkConversationRead marks all unread author→reader messages as read in
// one bulk update and returns the number of messages updated together
// with the read timestamp applied to them.
func (m *MessagesStore) MarkConversationRead(ctx context.Context, authorID, readerID bson.ObjectID) (int64, time.Time, error) {
	readAt := time.Now()

	filter := bson.M{
		"sender_id":    authorID,
		"recipient_id": readerID,
		"is_read":      false,
	}
	update := bson.M{"$set": bson.M{
		"is_read": true,
		"read_at": readAt,
	}}

	result, err := m.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, time.Time{}, err
	}
	return result.ModifiedCount, readAt, nil
}

// CountUnread returns the number of unread messages from author to reader.
func (m *MessagesStore) CountUnread(ctx context.Context, authorID, readerID bson.ObjectID) (int64, error) {
	return m.coll.CountDocuments(ctx, bson.M{
		"sender_id":    authorID,
		"recipient_id": readerID,
		"is_read":      false,
	})
}

// GetRecentChats aggregates recent partners and last message info for
// the given user, most recent conversation first.
func (m *MessagesStore) GetRecentChats(ctx context.Context, userID bson.ObjectID, limit int64) ([]*ChatPartner, error) {
	pipeline := mongo.Pipeline{
		// Stage 1: messages where the user appears as sender or recipient.
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "$or", Value: bson.A{
				bson.D{{Key: "sender_id", Value: userID}},
				bson.D{{Key: "recipient_id", Value: userID}},
			}},
		}}},

		// Stage 2: group by conversation partner, keeping the last message.
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{
				{Key: "partner", Value: bson.D{
					{Key: "$cond", Value: bson.A{
						bson.D{{Key: "$eq", Value: bson.A{"$sender_id", userID}}},
						"$recipient_id",
						"$sender_id",
					}},
				}},
			}},
			{Key: "last_message", Value: bson.D{{Key: "$last", Value: "$content"}}},
			{Key: "last_message_at", Value: bson.D{{Key: "$last", Value: "$created_at"}}},
		}}},

		// Stage 3/4: most recent conversation first, capped at limit.
		bson.D{{Key: "$sort", Value: bson.D{{Key: "last_message_at", Value: -1}}}},
		bson.D{{Key: "$limit", Value: limit}},
	}

	cursor, err := m.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var results []struct {
		ID struct {
			Partner bson.ObjectID `bson:"partner"`
		} `bson:"_id"`
		LastMessage   string    `bson:"last_message"`
		LastMessageAt time.Time `bson:"last_message_at"`
	}
	if err = cursor.All(ctx, &results); err != nil {
		return nil, err
	}

	var partners []*ChatPartner
	for _, result := range results {
		partners = append(partners, &ChatPartner{
			UserID:          result.ID.Partner,
			LastMessage:     result.LastMessage,
			LastMessageTime: result.LastMessageAt,
		})
	}
	return partners, nil
}
