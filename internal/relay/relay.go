// Package relay implements the real-time core: connection lifecycle,
// message relaying, typing/read-receipt signaling and call signaling,
// all keyed by presence-table lookups.
package relay

import (
	"context"
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/voxlink/voxlink/internal/data"
	"github.com/voxlink/voxlink/internal/presence"
	"github.com/voxlink/voxlink/internal/protocol"
)

// UserStore is the subset of the users store the relay depends on.
type UserStore interface {
	UserExists(ctx context.Context, id bson.ObjectID) (bool, error)
	SetOnline(ctx context.Context, id bson.ObjectID, online bool) error
}

// MessageStore is the subset of the messages store the relay depends on.
type MessageStore interface {
	SaveMessage(ctx context.Context, senderID, recipientID bson.ObjectID, content string, media *data.Media) (*data.Message, error)
	MarkConversationRead(ctx context.Context, authorID, readerID bson.ObjectID) (int64, time.Time, error)
}

// Client identifies one authenticated connection as seen by the relay.
type Client struct {
	UserID   bson.ObjectID
	Username string
	ConnID   string
	Conn     presence.Conn
}

// Relay wires the presence table, the persisted stores and the call
// registry together and dispatches inbound events.
type Relay struct {
	table *presence.Table
	users UserStore
	msgs  MessageStore
	calls *callRegistry
}

// New returns a Relay operating on the given presence table and stores.
func New(table *presence.Table, users UserStore, msgs MessageStore) *Relay {
	return &Relay{
		table: table,
		users: users,
		msgs:  msgs,
		calls: newCallRegistry(),
	}
}

// Connect registers an authenticated connection: it takes over the
// user's presence slot (closing any superseded session), flips the
// persisted online flag, broadcasts the transition and hands the new
// connection the current roster.
func (r *Relay) Connect(ctx context.Context, c Client) {
	userID := c.UserID.Hex()

	if replaced := r.table.Register(userID, c.Username, c.ConnID, c.Conn); replaced != nil {
		// Single session per user: tell the old connection why it is
		// going away, then close it.
		_ = replaced.Send(protocol.NewSessionReplaced())
		_ = replaced.Close()
		zap.S().Infow("session replaced", "user", c.Username)
	}

	if err := r.users.SetOnline(ctx, c.UserID, true); err != nil {
		// Presence stays consistent in-process even when the persisted
		// flag lags behind.
		zap.S().Errorw("failed to persist online flag", "user", c.Username, "error", err)
	}

	r.table.Broadcast(userID, protocol.NewPresenceChanged(userID, c.Username, protocol.StatusOnline))

	roster := make([]protocol.UserStatus, 0, r.table.Count())
	for _, s := range r.table.Snapshot() {
		roster = append(roster, protocol.UserStatus{UserID: s.UserID, Username: s.Username, Status: s.Status})
	}
	if err := c.Conn.Send(protocol.NewOnlineRoster(roster)); err != nil {
		zap.S().Warnw("failed to send roster", "user", c.Username, "error", err)
	}

	zap.S().Infow("user connected", "user", c.Username)
}

// Disconnect deregisters a connection. It runs for graceful closes and
// abrupt drops alike; a stale disconnect from an already-replaced
// session is a no-op.
func (r *Relay) Disconnect(ctx context.Context, c Client) {
	userID := c.UserID.Hex()

	if !r.table.Deregister(userID, c.ConnID) {
		return
	}

	// Any call attempt involving the user ends now; the remaining party
	// is told so it can release its local call resources.
	for _, peerID := range r.calls.endAllFor(userID) {
		if peer, ok := r.table.Lookup(peerID); ok {
			_ = peer.Send(protocol.NewCallEnded(userID))
		}
	}

	if err := r.users.SetOnline(ctx, c.UserID, false); err != nil {
		zap.S().Errorw("failed to persist offline flag", "user", c.Username, "error", err)
	}

	r.table.Broadcast(userID, protocol.NewPresenceChanged(userID, c.Username, protocol.StatusOffline))

	zap.S().Infow("user disconnected", "user", c.Username)
}

// HandleEvent decodes and dispatches one inbound event from a
// connection. Malformed or invalid events are answered with an error
// event and otherwise dropped; they never affect other connections.
func (r *Relay) HandleEvent(ctx context.Context, c Client, raw []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.sendError(c, protocol.ErrCodeInvalidEvent, "invalid JSON event")
		return
	}

	switch env.Type {
	case protocol.TypeMessageSend:
		var ev protocol.MessageSend
		if r.decode(c, raw, &ev) {
			r.SendMessage(ctx, c, &ev)
		}
	case protocol.TypeTypingStart:
		var ev protocol.Typing
		if r.decode(c, raw, &ev) {
			r.TypingStart(c, &ev)
		}
	case protocol.TypeTypingStop:
		var ev protocol.Typing
		if r.decode(c, raw, &ev) {
			r.TypingStop(c, &ev)
		}
	case protocol.TypeMarkRead:
		var ev protocol.MarkRead
		if r.decode(c, raw, &ev) {
			r.MarkRead(ctx, c, &ev)
		}
	case protocol.TypeCallInvite:
		var ev protocol.CallInvite
		if r.decode(c, raw, &ev) {
			r.CallInvite(c, &ev)
		}
	case protocol.TypeCallAnswer:
		var ev protocol.CallAnswer
		if r.decode(c, raw, &ev) {
			r.CallAnswer(c, &ev)
		}
	case protocol.TypeCallReject:
		var ev protocol.CallReject
		if r.decode(c, raw, &ev) {
			r.CallReject(c, &ev)
		}
	case protocol.TypeCallEnd:
		var ev protocol.CallEnd
		if r.decode(c, raw, &ev) {
			r.CallEnd(c, &ev)
		}
	case protocol.TypeCallCandidate:
		var ev protocol.CallCandidate
		if r.decode(c, raw, &ev) {
			r.CallCandidate(c, &ev)
		}
	default:
		r.sendError(c, protocol.ErrCodeInvalidEvent, "unknown event type: "+env.Type)
	}
}

// validator is implemented by every client event.
type validator interface {
	Validate() error
}

// decode unmarshals and validates one tagged event, reporting failures
// back to the sender. It returns true when the event may be dispatched.
func (r *Relay) decode(c Client, raw []byte, ev validator) bool {
	if err := json.Unmarshal(raw, ev); err != nil {
		r.sendError(c, protocol.ErrCodeInvalidEvent, "malformed event payload")
		return false
	}
	if err := ev.Validate(); err != nil {
		r.sendError(c, protocol.ErrCodeValidation, err.Error())
		return false
	}
	return true
}

func (r *Relay) sendError(c Client, code, message string) {
	if err := c.Conn.Send(protocol.NewError(code, message)); err != nil {
		zap.S().Debugw("failed to send error event", "user", c.Username, "error", err)
	}
}

// parsePeer converts a client-supplied peer id, rejecting malformed ids
// and self-references.
func (r *Relay) parsePeer(c Client, hex string) (bson.ObjectID, bool) {
	id, err := bson.ObjectIDFromHex(hex)
	if err != nil {
		r.sendError(c, protocol.ErrCodeValidation, "invalid peer id")
		return bson.ObjectID{}, false
	}
	if id == c.UserID {
		r.sendError(c, protocol.ErrCodeValidation, "peer id must differ from own id")
		return bson.ObjectID{}, false
	}
	return id, true
}
