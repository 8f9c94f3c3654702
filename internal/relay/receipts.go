package relay

import (
	"context"

	"go.uber.org/zap"

	"github.com/voxlink/voxlink/internal/protocol"
)

// TypingStart forwards a typing indicator to the recipient's live
// connection. No persistence, no acknowledgement; the receiving client
// owns the auto-clear timeout.
func (r *Relay) TypingStart(c Client, ev *protocol.Typing) {
	recipientID, ok := r.parsePeer(c, ev.RecipientID)
	if !ok {
		return
	}
	if conn, ok := r.table.Lookup(recipientID.Hex()); ok {
		_ = conn.Send(protocol.NewTypingStarted(c.UserID.Hex(), c.Username))
	}
}

// TypingStop forwards the matching stop signal.
func (r *Relay) TypingStop(c Client, ev *protocol.Typing) {
	recipientID, ok := r.parsePeer(c, ev.RecipientID)
	if !ok {
		return
	}
	if conn, ok := r.table.Lookup(recipientID.Hex()); ok {
		_ = conn.Send(protocol.NewTypingStopped(c.UserID.Hex()))
	}
}

// MarkRead marks all author→caller messages read in one bulk update,
// then notifies the author's live connection with the applied read
// timestamp. An offline author makes the notification a no-op; the call
// is still valid.
func (r *Relay) MarkRead(ctx context.Context, c Client, ev *protocol.MarkRead) {
	authorID, ok := r.parsePeer(c, ev.AuthorID)
	if !ok {
		return
	}

	_, readAt, err := r.msgs.MarkConversationRead(ctx, authorID, c.UserID)
	if err != nil {
		zap.S().Errorw("failed to mark messages read", "reader", c.Username, "error", err)
		r.sendError(c, protocol.ErrCodePersistence, "failed to mark messages read")
		return
	}

	if conn, ok := r.table.Lookup(authorID.Hex()); ok {
		_ = conn.Send(protocol.NewReadReceipt(c.UserID.Hex(), readAt))
	}
}
