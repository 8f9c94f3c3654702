package relay

import (
	"context"
	"html"

	"go.uber.org/zap"

	"github.com/voxlink/voxlink/internal/data"
	"github.com/voxlink/voxlink/internal/protocol"
)

// SendMessage persists a message and forwards it: store-then-forward, so
// durability always precedes any delivery attempt. The sender receives a
// message-accepted acknowledgement (send confirmation, not delivery
// confirmation); the recipient receives message-delivered only when a
// live connection is registered.
func (r *Relay) SendMessage(ctx context.Context, c Client, ev *protocol.MessageSend) {
	recipientID, ok := r.parsePeer(c, ev.RecipientID)
	if !ok {
		return
	}

	exists, err := r.users.UserExists(ctx, recipientID)
	if err != nil {
		r.sendError(c, protocol.ErrCodePersistence, "failed to verify recipient")
		return
	}
	if !exists {
		r.sendError(c, protocol.ErrCodeValidation, "recipient not found")
		return
	}

	var media *data.Media
	if ev.Media != nil {
		media = &data.Media{
			MediaType: ev.Media.MediaType,
			URL:       ev.Media.URL,
			Size:      ev.Media.Size,
			Data:      ev.Media.Data,
		}
	}

	// Escaping can grow the content past the documented bound, so the
	// stored form is what gets length-checked.
	content := html.EscapeString(ev.Content)
	if len(content) > protocol.MaxContentLength {
		r.sendError(c, protocol.ErrCodeValidation, "message content too long")
		return
	}

	saved, err := r.msgs.SaveMessage(ctx, c.UserID, recipientID, content, media)
	if err != nil {
		// Persistence failure is the one error the sender sees
		// explicitly; nothing was forwarded.
		zap.S().Errorw("failed to save message", "from", c.Username, "error", err)
		_ = c.Conn.Send(protocol.NewMessageFailed("failed to save message"))
		return
	}

	record := messageRecord(saved)

	if err := c.Conn.Send(protocol.NewMessageAccepted(record)); err != nil {
		zap.S().Warnw("failed to ack sender", "from", c.Username, "error", err)
	}

	// Best-effort live delivery. An offline recipient is not an error:
	// the persisted copy is the durability backstop and is picked up on
	// the next history fetch. The table is keyed by canonical hex, so the
	// parsed id is used, not the client-supplied spelling.
	if conn, ok := r.table.Lookup(recipientID.Hex()); ok {
		if err := conn.Send(protocol.NewMessageDelivered(record)); err != nil {
			zap.S().Warnw("live delivery failed", "to", recipientID.Hex(), "error", err)
		}
	}
}

func messageRecord(m *data.Message) protocol.MessageRecord {
	rec := protocol.MessageRecord{
		ID:          m.ID.Hex(),
		SenderID:    m.SenderID.Hex(),
		RecipientID: m.RecipientID.Hex(),
		Content:     m.Content,
		MsgType:     m.Type,
		IsRead:      m.IsRead,
		CreatedAt:   m.CreatedAt,
	}
	if m.Media != nil {
		rec.Media = &protocol.MediaPayload{
			MediaType: m.Media.MediaType,
			URL:       m.Media.URL,
			Size:      m.Media.Size,
			Data:      m.Media.Data,
		}
	}
	return rec
}
