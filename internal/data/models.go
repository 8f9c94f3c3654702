package data

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Message type discriminators. A message is either plain text or carries
// a media attachment; exactly one of the two shapes is valid.
const (
	MessageTypeText  = "text"
	MessageTypeMedia = "media"
)

// Friendship states for a friend request document.
const (
	FriendStatusPending  = "pending"
	FriendStatusAccepted = "accepted"
	FriendStatusDeclined = "declined"
	FriendStatusBlocked  = "blocked"
)

// User maps to the users collection.
type User struct {
	ID        bson.ObjectID `bson:"_id,omitempty" json:"id"`
	Username  string        `bson:"username" json:"username"`
	Email     string        `bson:"email" json:"email"`
	Password  string        `bson:"password" json:"-"`
	Avatar    string        `bson:"avatar,omitempty" json:"avatar,omitempty"`
	IsOnline  bool          `bson:"is_online" json:"isOnline"`
	LastSeen  time.Time     `bson:"last_seen" json:"lastSeen"`
	CreatedAt time.Time     `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time     `bson:"updated_at" json:"updatedAt"`
}

// Media describes the attachment portion of a media message.
type Media struct {
	MediaType string `bson:"media_type" json:"mediaType"`
	URL       string `bson:"url,omitempty" json:"url,omitempty"`
	Size      int64  `bson:"size,omitempty" json:"size,omitempty"`
	Data      string `bson:"data,omitempty" json:"data,omitempty"`
}

// Message maps to the messages collection. Soft deletion is a flag only;
// deleted messages stay in the collection and are filtered on read.
type Message struct {
	ID          bson.ObjectID `bson:"_id,omitempty" json:"id"`
	SenderID    bson.ObjectID `bson:"sender_id" json:"senderId"`
	RecipientID bson.ObjectID `bson:"recipient_id" json:"recipientId"`
	Content     string        `bson:"content" json:"content"`
	Type        string        `bson:"type" json:"type"`
	Media       *Media        `bson:"media,omitempty" json:"media,omitempty"`
	IsRead      bool          `bson:"is_read" json:"isRead"`
	ReadAt      *time.Time    `bson:"read_at,omitempty" json:"readAt,omitempty"`
	IsDeleted   bool          `bson:"is_deleted" json:"-"`
	CreatedAt   time.Time     `bson:"created_at" json:"createdAt"`
}

// Friend maps to the friends collection: one document per requester →
// recipient pair, carrying the request state.
type Friend struct {
	ID          bson.ObjectID `bson:"_id,omitempty" json:"id"`
	RequesterID bson.ObjectID `bson:"requester_id" json:"requesterId"`
	RecipientID bson.ObjectID `bson:"recipient_id" json:"recipientId"`
	Status      string        `bson:"status" json:"status"`
	CreatedAt   time.Time     `bson:"created_at" json:"createdAt"`
	UpdatedAt   time.Time     `bson:"updated_at" json:"updatedAt"`
}

// ChatPartner is a minimal struct used by recent-chats responses.
type ChatPartner struct {
	UserID          bson.ObjectID `json:"userId"`
	LastMessage     string        `json:"lastMessage"`
	LastMessageTime time.Time     `json:"lastMessageAt"`
}
