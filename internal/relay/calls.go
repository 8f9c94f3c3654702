package relay

import (
	"sync"

	"go.uber.org/zap"

	"github.com/voxlink/voxlink/internal/protocol"
)

// callStage is the tracked state of a call attempt between two users.
type callStage int

const (
	stageInviting callStage = iota
	stageConnected
)

// call is one tracked call attempt. The relay never interprets the
// negotiation payloads; it only tracks enough state to refuse
// out-of-order signals instead of blindly forwarding them.
type call struct {
	callerID    string
	recipientID string
	callType    string
	stage       callStage
}

// callRegistry tracks at most one call attempt per user pair.
type callRegistry struct {
	mu    sync.Mutex
	calls map[string]*call
}

func newCallRegistry() *callRegistry {
	return &callRegistry{calls: make(map[string]*call)}
}

func pairKey(a, b string) string {
	if a < b {
		return a + "|" + b
	}
	return b + "|" + a
}

// begin records a new invite. It fails when a call attempt between the
// pair is already tracked.
func (cr *callRegistry) begin(callerID, recipientID, callType string) bool {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	key := pairKey(callerID, recipientID)
	if _, ok := cr.calls[key]; ok {
		return false
	}
	cr.calls[key] = &call{callerID: callerID, recipientID: recipientID, callType: callType, stage: stageInviting}
	return true
}

// answer transitions a pending invite to connected. Only the invited
// recipient may answer, and only while the invite is pending.
func (cr *callRegistry) answer(callerID, answererID string) bool {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	c, ok := cr.calls[pairKey(callerID, answererID)]
	if !ok || c.stage != stageInviting || c.callerID != callerID || c.recipientID != answererID {
		return false
	}
	c.stage = stageConnected
	return true
}

// reject drops a pending invite. Only the invited recipient may reject.
func (cr *callRegistry) reject(callerID, rejecterID string) bool {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	key := pairKey(callerID, rejecterID)
	c, ok := cr.calls[key]
	if !ok || c.stage != stageInviting || c.callerID != callerID || c.recipientID != rejecterID {
		return false
	}
	delete(cr.calls, key)
	return true
}

// end removes whatever attempt is tracked for the pair. Either side may
// end at any stage, and an untracked end is still forwarded by the
// caller since the peers may race the registry.
func (cr *callRegistry) end(a, b string) bool {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	key := pairKey(a, b)
	if _, ok := cr.calls[key]; !ok {
		return false
	}
	delete(cr.calls, key)
	return true
}

// active reports whether a call attempt is tracked between the pair.
func (cr *callRegistry) active(a, b string) bool {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	_, ok := cr.calls[pairKey(a, b)]
	return ok
}

// endAllFor removes every attempt involving the user and returns the
// peer ids that should be notified.
func (cr *callRegistry) endAllFor(userID string) []string {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	var peers []string
	for key, c := range cr.calls {
		switch userID {
		case c.callerID:
			peers = append(peers, c.recipientID)
		case c.recipientID:
			peers = append(peers, c.callerID)
		default:
			continue
		}
		delete(cr.calls, key)
	}
	return peers
}

// CallInvite starts a call attempt: the offer is forwarded verbatim to
// the recipient's live connection. An offline recipient is surfaced to
// the caller as call-unavailable rather than silently dropped.
func (r *Relay) CallInvite(c Client, ev *protocol.CallInvite) {
	peerID, ok := r.parsePeer(c, ev.RecipientID)
	if !ok {
		return
	}
	userID := c.UserID.Hex()
	recipientID := peerID.Hex()

	if !r.calls.begin(userID, recipientID, ev.CallType) {
		zap.S().Warnw("dropping invite, call already tracked for pair",
			"caller", userID, "recipient", recipientID)
		return
	}

	conn, ok := r.table.Lookup(recipientID)
	if !ok {
		r.calls.end(userID, recipientID)
		_ = c.Conn.Send(protocol.NewCallUnavailable(recipientID))
		return
	}

	_ = conn.Send(protocol.NewIncomingCall(userID, c.Username, ev.Offer, ev.CallType))
}

// CallAnswer forwards the answer payload to the caller. An answer with
// no matching pending invite is dropped and logged.
func (r *Relay) CallAnswer(c Client, ev *protocol.CallAnswer) {
	peerID, ok := r.parsePeer(c, ev.CallerID)
	if !ok {
		return
	}
	userID := c.UserID.Hex()
	callerID := peerID.Hex()

	if !r.calls.answer(callerID, userID) {
		zap.S().Warnw("dropping answer with no matching invite",
			"caller", callerID, "answerer", userID)
		return
	}

	if conn, ok := r.table.Lookup(callerID); ok {
		_ = conn.Send(protocol.NewCallAnswered(userID, ev.Answer))
	}
}

// CallReject declines a pending invite; the caller clears its
// pending-call state on receipt.
func (r *Relay) CallReject(c Client, ev *protocol.CallReject) {
	peerID, ok := r.parsePeer(c, ev.CallerID)
	if !ok {
		return
	}
	userID := c.UserID.Hex()
	callerID := peerID.Hex()

	if !r.calls.reject(callerID, userID) {
		zap.S().Warnw("dropping reject with no matching invite",
			"caller", callerID, "rejecter", userID)
		return
	}

	if conn, ok := r.table.Lookup(callerID); ok {
		_ = conn.Send(protocol.NewCallRejected(userID))
	}
}

// CallEnd terminates the call attempt with the peer. The end signal is
// forwarded even when no attempt is tracked, since both sides release
// their local resources independently and may race the registry.
func (r *Relay) CallEnd(c Client, ev *protocol.CallEnd) {
	peerID, ok := r.parsePeer(c, ev.RecipientID)
	if !ok {
		return
	}
	userID := c.UserID.Hex()
	recipientID := peerID.Hex()

	r.calls.end(userID, recipientID)

	if conn, ok := r.table.Lookup(recipientID); ok {
		_ = conn.Send(protocol.NewCallEnded(userID))
	}
}

// CallCandidate forwards a negotiation candidate to the peer. Candidates
// flow in both directions and arbitrarily many times while an attempt is
// tracked; candidates outside any tracked call are dropped.
func (r *Relay) CallCandidate(c Client, ev *protocol.CallCandidate) {
	peerID, ok := r.parsePeer(c, ev.RecipientID)
	if !ok {
		return
	}
	userID := c.UserID.Hex()
	recipientID := peerID.Hex()

	if !r.calls.active(userID, recipientID) {
		zap.S().Debugw("dropping candidate outside tracked call",
			"from", userID, "to", recipientID)
		return
	}

	if conn, ok := r.table.Lookup(recipientID); ok {
		_ = conn.Send(protocol.NewCandidate(userID, ev.Candidate))
	}
}
