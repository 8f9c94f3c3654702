package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/voxlink/voxlink/internal/auth"
	"github.com/voxlink/voxlink/internal/config"
	"github.com/voxlink/voxlink/internal/data"
	"github.com/voxlink/voxlink/internal/relay"
)

// UserLookup resolves authenticated token claims to a stored identity.
type UserLookup interface {
	GetUserByID(ctx context.Context, id bson.ObjectID) (*data.User, error)
}

// Handler authenticates websocket handshakes and runs the connection
// lifecycle against the relay.
type Handler struct {
	cfg      *config.Config
	jwt      *auth.JWTManager
	users    UserLookup
	relay    *relay.Relay
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler.
func NewHandler(cfg *config.Config, jwtMgr *auth.JWTManager, users UserLookup, r *relay.Relay) *Handler {
	return &Handler{
		cfg:   cfg,
		jwt:   jwtMgr,
		users: users,
		relay: r,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Browser clients connect from the app origin; trusting
				// the bearer token keeps this permissive.
				return true
			},
		},
	}
}

// HandleWebSocket authenticates the handshake, upgrades the connection
// and starts the session pumps. A bad credential rejects the connection
// before any event handling is wired up.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	token := bearerToken(c)
	if token == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
	}

	claims, err := h.jwt.VerifyToken(token)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}

	userID, err := bson.ObjectIDFromHex(claims.UserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token subject")
	}

	user, err := h.users.GetUserByID(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "user not found")
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		zap.S().Warnw("websocket upgrade failed", "error", err)
		return err
	}

	session := newSession(uuid.New().String(), conn, h.cfg.SendBuffer)
	client := relay.Client{
		UserID:   user.ID,
		Username: user.Username,
		ConnID:   session.ID,
		Conn:     session,
	}

	// The write pump must be running before the relay pushes the roster.
	go h.writePump(session)
	h.relay.Connect(context.Background(), client)
	go h.readPump(session, client)

	return nil
}

// bearerToken pulls the credential from the handshake: either a token
// query parameter or an Authorization header.
func bearerToken(c echo.Context) string {
	if t := c.QueryParam("token"); t != "" {
		return t
	}
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer"))
}

// readPump reads events from the connection and hands them to the relay
// one at a time, preserving per-connection ordering. It drives the
// disconnect path on any exit, abrupt closures included.
func (h *Handler) readPump(s *Session, client relay.Client) {
	defer func() {
		h.relay.Disconnect(context.Background(), client)
		_ = s.Close()
	}()

	s.conn.SetReadLimit(h.cfg.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				zap.S().Warnw("websocket read error", "user", client.Username, "error", err)
			}
			return
		}

		h.relay.HandleEvent(context.Background(), client, message)
	}
}

// writePump flushes queued events to the connection and keeps it alive
// with periodic pings.
func (h *Handler) writePump(s *Session) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = s.Close()
	}()

	for {
		select {
		case message := <-s.send:
			s.setWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := s.writeMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			s.setWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := s.writeMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			s.setWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			_ = s.writeMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
