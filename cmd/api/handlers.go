package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/voxlink/voxlink/internal/auth"
	"github.com/voxlink/voxlink/internal/data"
	"github.com/voxlink/voxlink/internal/middleware"
	"github.com/voxlink/voxlink/internal/protocol"
)

const defaultPageLimit = 50

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expiresAt"`
	User      *data.User `json:"user"`
}

// handleRegister creates a user account: hashes the password, stores the
// user and returns a JWT token.
func (s *Server) handleRegister(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Username) == "" || strings.TrimSpace(req.Email) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username and email are required")
	}
	if len(req.Password) < 8 {
		return echo.NewHTTPError(http.StatusBadRequest, "password must be at least 8 characters")
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to hash password")
	}

	user, err := s.users.CreateUser(c.Request().Context(), req.Username, req.Email, hashed)
	if err != nil {
		if errors.Is(err, data.ErrUserExists) {
			return echo.NewHTTPError(http.StatusConflict, "username or email already taken")
		}
		zap.S().Errorw("create user failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create user")
	}

	token, expiresAt, err := s.auth.GenerateToken(user.ID, user.Username)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to generate token")
	}

	return c.JSON(http.StatusCreated, tokenResponse{Token: token, ExpiresAt: expiresAt, User: user})
}

// handleLogin authenticates a user and returns a JWT token.
func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	user, err := s.users.GetUserByUsername(c.Request().Context(), req.Username)
	if err != nil {
		if errors.Is(err, data.ErrUserNotFound) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
		}
		zap.S().Errorw("login lookup failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to look up user")
	}

	if err := auth.CheckPassword(user.Password, req.Password); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}

	token, expiresAt, err := s.auth.GenerateToken(user.ID, user.Username)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to generate token")
	}

	return c.JSON(http.StatusOK, tokenResponse{Token: token, ExpiresAt: expiresAt, User: user})
}

// handleMe returns the authenticated user's profile.
func (s *Server) handleMe(c echo.Context) error {
	id, err := authedID(c)
	if err != nil {
		return err
	}

	user, err := s.users.GetUserByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, data.ErrUserNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "user not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load user")
	}
	return c.JSON(http.StatusOK, user)
}

// handleOnlineUsers returns the currently connected users from the
// presence table.
func (s *Server) handleOnlineUsers(c echo.Context) error {
	snapshot := s.table.Snapshot()
	users := make([]protocol.UserStatus, 0, len(snapshot))
	for _, st := range snapshot {
		users = append(users, protocol.UserStatus{UserID: st.UserID, Username: st.Username, Status: st.Status})
	}
	return c.JSON(http.StatusOK, map[string]any{"users": users})
}

// handleConversation returns the chronological message history with one
// partner and marks the partner's messages to the caller as read. A
// read receipt is pushed to the partner when they are connected.
func (s *Server) handleConversation(c echo.Context) error {
	me, err := authedID(c)
	if err != nil {
		return err
	}
	peer, err := bson.ObjectIDFromHex(c.Param("userId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}

	ctx := c.Request().Context()
	msgs, err := s.msgs.GetConversation(ctx, me, peer, pageLimit(c))
	if err != nil {
		zap.S().Errorw("get conversation failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load conversation")
	}

	// Opening a conversation consumes the partner's unread messages.
	count, readAt, err := s.msgs.MarkConversationRead(ctx, peer, me)
	if err != nil {
		zap.S().Errorw("mark conversation read failed", "error", err)
	} else if count > 0 {
		if conn, ok := s.table.Lookup(peer.Hex()); ok {
			if err := conn.Send(protocol.NewReadReceipt(me.Hex(), readAt)); err != nil {
				zap.S().Debugw("read receipt push failed", "recipient", peer.Hex(), "error", err)
			}
		}
	}

	return c.JSON(http.StatusOK, map[string]any{"messages": msgs})
}

// chatView annotates a recent chat partner with the caller's unread
// count for that conversation.
type chatView struct {
	*data.ChatPartner
	UnreadCount int64 `json:"unreadCount"`
}

// handleChats returns the caller's recent chat partners with the last
// message exchanged and the per-partner unread count.
func (s *Server) handleChats(c echo.Context) error {
	me, err := authedID(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	partners, err := s.msgs.GetRecentChats(ctx, me, pageLimit(c))
	if err != nil {
		zap.S().Errorw("get recent chats failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load chats")
	}

	chats := make([]chatView, 0, len(partners))
	for _, p := range partners {
		unread, err := s.msgs.CountUnread(ctx, p.UserID, me)
		if err != nil {
			zap.S().Warnw("count unread failed", "partner", p.UserID.Hex(), "error", err)
		}
		chats = append(chats, chatView{ChatPartner: p, UnreadCount: unread})
	}
	return c.JSON(http.StatusOK, map[string]any{"chats": chats})
}

// handleFriends returns the caller's accepted friends as user profiles.
func (s *Server) handleFriends(c echo.Context) error {
	me, err := authedID(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	ids, err := s.friends.ListFriendIDs(ctx, me)
	if err != nil {
		zap.S().Errorw("list friends failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load friends")
	}

	users := make([]*data.User, 0, len(ids))
	for _, id := range ids {
		u, err := s.users.GetUserByID(ctx, id)
		if err != nil {
			// A friend document can outlive a deleted account.
			continue
		}
		users = append(users, u)
	}
	return c.JSON(http.StatusOK, map[string]any{"friends": users})
}

// friendRequestView pairs a friend request with the counterpart's profile.
type friendRequestView struct {
	ID        bson.ObjectID `json:"id"`
	User      *data.User    `json:"user"`
	CreatedAt time.Time     `json:"createdAt"`
}

// handleFriendRequests returns incoming pending requests with the
// requester's profile attached.
func (s *Server) handleFriendRequests(c echo.Context) error {
	me, err := authedID(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	pending, err := s.friends.ListPending(ctx, me)
	if err != nil {
		zap.S().Errorw("list pending requests failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load requests")
	}
	return c.JSON(http.StatusOK, map[string]any{"requests": s.requestViews(c, pending, false)})
}

// handleFriendsSent returns outgoing pending requests with the
// recipient's profile attached.
func (s *Server) handleFriendsSent(c echo.Context) error {
	me, err := authedID(c)
	if err != nil {
		return err
	}

	sent, err := s.friends.ListSent(c.Request().Context(), me)
	if err != nil {
		zap.S().Errorw("list sent requests failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load requests")
	}
	return c.JSON(http.StatusOK, map[string]any{"requests": s.requestViews(c, sent, true)})
}

func (s *Server) requestViews(c echo.Context, reqs []*data.Friend, outgoing bool) []friendRequestView {
	ctx := c.Request().Context()
	views := make([]friendRequestView, 0, len(reqs))
	for _, r := range reqs {
		counterpart := r.RequesterID
		if outgoing {
			counterpart = r.RecipientID
		}
		u, err := s.users.GetUserByID(ctx, counterpart)
		if err != nil {
			continue
		}
		views = append(views, friendRequestView{ID: r.ID, User: u, CreatedAt: r.CreatedAt})
	}
	return views
}

// handleFriendRequest creates a pending friend request to the target user.
func (s *Server) handleFriendRequest(c echo.Context) error {
	me, err := authedID(c)
	if err != nil {
		return err
	}
	target, err := bson.ObjectIDFromHex(c.Param("userId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}
	if target == me {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot send a friend request to yourself")
	}

	ctx := c.Request().Context()
	exists, err := s.users.UserExists(ctx, target)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to look up user")
	}
	if !exists {
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	}

	req, err := s.friends.CreateRequest(ctx, me, target)
	if err != nil {
		if errors.Is(err, data.ErrFriendshipExists) {
			return echo.NewHTTPError(http.StatusConflict, "friend request already exists")
		}
		zap.S().Errorw("create friend request failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create request")
	}
	return c.JSON(http.StatusCreated, req)
}

type respondRequest struct {
	Accept bool `json:"accept"`
}

// handleFriendRespond lets the recipient accept or decline a pending
// request addressed to them.
func (s *Server) handleFriendRespond(c echo.Context) error {
	me, err := authedID(c)
	if err != nil {
		return err
	}
	requestID, err := bson.ObjectIDFromHex(c.Param("requestId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request id")
	}

	var req respondRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	updated, err := s.friends.Respond(c.Request().Context(), requestID, me, req.Accept)
	if err != nil {
		if errors.Is(err, data.ErrFriendRequestNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "friend request not found")
		}
		zap.S().Errorw("respond to friend request failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update request")
	}
	return c.JSON(http.StatusOK, updated)
}

// searchResult annotates a user profile with the friendship status
// relative to the caller.
type searchResult struct {
	User         *data.User `json:"user"`
	FriendStatus string     `json:"friendStatus"`
}

// handleFriendSearch searches users by username or email substring,
// excluding the caller.
func (s *Server) handleFriendSearch(c echo.Context) error {
	me, err := authedID(c)
	if err != nil {
		return err
	}
	query := strings.TrimSpace(c.QueryParam("q"))
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter q is required")
	}

	ctx := c.Request().Context()
	users, err := s.users.SearchUsers(ctx, query, []bson.ObjectID{me}, 20)
	if err != nil {
		zap.S().Errorw("user search failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "search failed")
	}

	results := make([]searchResult, 0, len(users))
	for _, u := range users {
		status, err := s.friends.Status(ctx, me, u.ID)
		if err != nil {
			status = "none"
		}
		results = append(results, searchResult{User: u, FriendStatus: status})
	}
	return c.JSON(http.StatusOK, map[string]any{"results": results})
}

// authedID extracts the authenticated user's object id from the claims
// set by the JWT middleware.
func authedID(c echo.Context) (bson.ObjectID, error) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		return bson.ObjectID{}, echo.NewHTTPError(http.StatusUnauthorized, "missing auth claims")
	}
	id, err := bson.ObjectIDFromHex(claims.UserID)
	if err != nil {
		return bson.ObjectID{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid auth claims")
	}
	return id, nil
}

// pageLimit reads the limit query parameter, falling back to the default
// page size when absent or out of range.
func pageLimit(c echo.Context) int64 {
	v := c.QueryParam("limit")
	if v == "" {
		return defaultPageLimit
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 || n > 200 {
		return defaultPageLimit
	}
	return n
}
