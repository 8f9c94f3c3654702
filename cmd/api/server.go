package main

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/voxlink/voxlink/internal/auth"
	"github.com/voxlink/voxlink/internal/data"
	"github.com/voxlink/voxlink/internal/middleware"
	"github.com/voxlink/voxlink/internal/presence"
	"github.com/voxlink/voxlink/internal/ws"
)

// userStore is the subset of the users store the REST handlers depend on.
type userStore interface {
	CreateUser(ctx context.Context, username, email, hashedPassword string) (*data.User, error)
	GetUserByUsername(ctx context.Context, username string) (*data.User, error)
	GetUserByID(ctx context.Context, id bson.ObjectID) (*data.User, error)
	UserExists(ctx context.Context, id bson.ObjectID) (bool, error)
	SearchUsers(ctx context.Context, query string, exclude []bson.ObjectID, limit int64) ([]*data.User, error)
}

// messageStore is the subset of the messages store the REST handlers depend on.
type messageStore interface {
	GetConversation(ctx context.Context, user1, user2 bson.ObjectID, limit int64) ([]*data.Message, error)
	MarkConversationRead(ctx context.Context, authorID, readerID bson.ObjectID) (int64, time.Time, error)
	CountUnread(ctx context.Context, authorID, readerID bson.ObjectID) (int64, error)
	GetRecentChats(ctx context.Context, userID bson.ObjectID, limit int64) ([]*data.ChatPartner, error)
}

// friendStore is the subset of the friends store the REST handlers depend on.
type friendStore interface {
	CreateRequest(ctx context.Context, requesterID, recipientID bson.ObjectID) (*data.Friend, error)
	Respond(ctx context.Context, requestID, recipientID bson.ObjectID, accept bool) (*data.Friend, error)
	ListFriendIDs(ctx context.Context, userID bson.ObjectID) ([]bson.ObjectID, error)
	ListPending(ctx context.Context, userID bson.ObjectID) ([]*data.Friend, error)
	ListSent(ctx context.Context, userID bson.ObjectID) ([]*data.Friend, error)
	Status(ctx context.Context, a, b bson.ObjectID) (string, error)
}

// Server implements the REST surface and contains references to stores,
// auth logic and the live presence table.
type Server struct {
	users   userStore
	msgs    messageStore
	friends friendStore
	auth    *auth.JWTManager
	table   *presence.Table
}

// newServer returns a ready-to-use Server wired with stores, auth manager
// and presence table.
func newServer(users userStore, msgs messageStore, friends friendStore, authMgr *auth.JWTManager, table *presence.Table) *Server {
	return &Server{users: users, msgs: msgs, friends: friends, auth: authMgr, table: table}
}

// registerRoutes mounts the REST surface and the websocket endpoint on
// the given echo instance. Register and login carry the rate limiter;
// everything else behind /api requires a bearer token.
func registerRoutes(e *echo.Echo, s *Server, wsHandler *ws.Handler, jwtMgr *auth.JWTManager, limiter *middleware.LimiterStore) {
	limited := middleware.RateLimit(limiter)
	e.POST("/api/auth/register", s.handleRegister, limited)
	e.POST("/api/auth/login", s.handleLogin, limited)

	authed := middleware.JWT(jwtMgr)
	e.GET("/api/auth/me", s.handleMe, authed)
	e.GET("/api/users/online", s.handleOnlineUsers, authed)
	e.GET("/api/messages/conversation/:userId", s.handleConversation, authed)
	e.GET("/api/messages/chats", s.handleChats, authed)
	e.GET("/api/friends", s.handleFriends, authed)
	e.GET("/api/friends/requests", s.handleFriendRequests, authed)
	e.GET("/api/friends/sent", s.handleFriendsSent, authed)
	e.GET("/api/friends/search", s.handleFriendSearch, authed)
	e.POST("/api/friends/request/:userId", s.handleFriendRequest, authed)
	e.POST("/api/friends/respond/:requestId", s.handleFriendRespond, authed)

	e.GET("/ws", wsHandler.HandleWebSocket)
}
