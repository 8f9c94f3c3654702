// Package protocol defines the JSON event protocol spoken over the
// websocket connection between clients and the relay.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event types from client to server.
const (
	TypeMessageSend   = "message-send"
	TypeTypingStart   = "typing-start"
	TypeTypingStop    = "typing-stop"
	TypeMarkRead      = "mark-read"
	TypeCallInvite    = "call-invite"
	TypeCallAnswer    = "call-answer"
	TypeCallReject    = "call-reject"
	TypeCallEnd       = "call-end"
	TypeCallCandidate = "call-candidate"
)

// Event types from server to client.
const (
	TypeOnlineRoster     = "online-roster"
	TypePresenceChanged  = "presence-changed"
	TypeMessageDelivered = "message-delivered"
	TypeMessageAccepted  = "message-accepted"
	TypeMessageFailed    = "message-failed"
	TypeTypingStarted    = "typing-started"
	TypeTypingStopped    = "typing-stopped"
	TypeReadReceipt      = "read-receipt"
	TypeIncomingCall     = "call-invite"
	TypeCallAnswered     = "call-answered"
	TypeCallRejected     = "call-rejected"
	TypeCallEnded        = "call-ended"
	TypeCandidate        = "call-candidate"
	TypeCallUnavailable  = "call-unavailable"
	TypeSessionReplaced  = "session-replaced"
	TypeError            = "error"
)

// Error codes carried by Error events.
const (
	ErrCodeInvalidEvent = "invalid_event"
	ErrCodeValidation   = "validation_failed"
	ErrCodePersistence  = "persistence_failed"
)

// Presence status values.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Call types.
const (
	CallTypeVoice = "voice"
	CallTypeVideo = "video"
)

// MaxContentLength bounds the text content of a message.
const MaxContentLength = 1000

// Envelope carries the discriminator used to dispatch an inbound event.
type Envelope struct {
	Type string `json:"type"`
}

// MediaPayload is the attachment portion of a media message as sent by
// the client.
type MediaPayload struct {
	MediaType string `json:"mediaType"`
	URL       string `json:"url,omitempty"`
	Size      int64  `json:"size,omitempty"`
	Data      string `json:"data,omitempty"`
}

// MessageSend asks the relay to persist and forward a message.
type MessageSend struct {
	Type        string        `json:"type"`
	RecipientID string        `json:"recipientId"`
	Content     string        `json:"content"`
	Media       *MediaPayload `json:"media,omitempty"`
}

// Validate enforces the well-formed message shape: a known recipient id
// field, bounded content, and exactly one of content or media present.
func (m *MessageSend) Validate() error {
	if m.RecipientID == "" {
		return errors.New("recipientId is required")
	}
	if len(m.Content) > MaxContentLength {
		return fmt.Errorf("content exceeds %d characters", MaxContentLength)
	}
	if m.Content == "" && m.Media == nil {
		return errors.New("message must carry content or media")
	}
	if m.Content != "" && m.Media != nil {
		return errors.New("message must carry either content or media, not both")
	}
	if m.Media != nil && m.Media.MediaType == "" {
		return errors.New("media.mediaType is required")
	}
	return nil
}

// Typing is the shared shape of typing-start and typing-stop.
type Typing struct {
	Type        string `json:"type"`
	RecipientID string `json:"recipientId"`
}

func (t *Typing) Validate() error {
	if t.RecipientID == "" {
		return errors.New("recipientId is required")
	}
	return nil
}

// MarkRead asks the relay to mark all author→caller messages read.
type MarkRead struct {
	Type     string `json:"type"`
	AuthorID string `json:"authorId"`
}

func (m *MarkRead) Validate() error {
	if m.AuthorID == "" {
		return errors.New("authorId is required")
	}
	return nil
}

// CallInvite initiates a call attempt. The offer is forwarded verbatim.
type CallInvite struct {
	Type        string          `json:"type"`
	RecipientID string          `json:"recipientId"`
	Offer       json.RawMessage `json:"offer"`
	CallType    string          `json:"callType"`
}

func (c *CallInvite) Validate() error {
	if c.RecipientID == "" {
		return errors.New("recipientId is required")
	}
	if len(c.Offer) == 0 {
		return errors.New("offer is required")
	}
	if c.CallType != CallTypeVoice && c.CallType != CallTypeVideo {
		return fmt.Errorf("callType must be %q or %q", CallTypeVoice, CallTypeVideo)
	}
	return nil
}

// CallAnswer accepts a pending invite. The answer is forwarded verbatim.
type CallAnswer struct {
	Type     string          `json:"type"`
	CallerID string          `json:"callerId"`
	Answer   json.RawMessage `json:"answer"`
}

func (c *CallAnswer) Validate() error {
	if c.CallerID == "" {
		return errors.New("callerId is required")
	}
	if len(c.Answer) == 0 {
		return errors.New("answer is required")
	}
	return nil
}

// CallReject declines a pending invite.
type CallReject struct {
	Type     string `json:"type"`
	CallerID string `json:"callerId"`
}

func (c *CallReject) Validate() error {
	if c.CallerID == "" {
		return errors.New("callerId is required")
	}
	return nil
}

// CallEnd terminates a call attempt in any state.
type CallEnd struct {
	Type        string `json:"type"`
	RecipientID string `json:"recipientId"`
}

func (c *CallEnd) Validate() error {
	if c.RecipientID == "" {
		return errors.New("recipientId is required")
	}
	return nil
}

// CallCandidate forwards a connection-negotiation candidate.
type CallCandidate struct {
	Type        string          `json:"type"`
	RecipientID string          `json:"recipientId"`
	Candidate   json.RawMessage `json:"candidate"`
}

func (c *CallCandidate) Validate() error {
	if c.RecipientID == "" {
		return errors.New("recipientId is required")
	}
	if len(c.Candidate) == 0 {
		return errors.New("candidate is required")
	}
	return nil
}

// --- Server → client events ---

// UserStatus is one roster entry.
type UserStatus struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Status   string `json:"status"`
}

// OnlineRoster hands the full presence snapshot to a new connection.
type OnlineRoster struct {
	Type  string       `json:"type"`
	Users []UserStatus `json:"users"`
}

func NewOnlineRoster(users []UserStatus) *OnlineRoster {
	return &OnlineRoster{Type: TypeOnlineRoster, Users: users}
}

// PresenceChanged broadcasts a presence transition.
type PresenceChanged struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Status   string `json:"status"`
}

func NewPresenceChanged(userID, username, status string) *PresenceChanged {
	return &PresenceChanged{Type: TypePresenceChanged, UserID: userID, Username: username, Status: status}
}

// MessageRecord is the persisted message as exposed to clients.
type MessageRecord struct {
	ID          string        `json:"id"`
	SenderID    string        `json:"senderId"`
	RecipientID string        `json:"recipientId"`
	Content     string        `json:"content"`
	MsgType     string        `json:"msgType"`
	Media       *MediaPayload `json:"media,omitempty"`
	IsRead      bool          `json:"isRead"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// MessageEvent wraps a message record as a delivered or accepted event.
type MessageEvent struct {
	Type    string        `json:"type"`
	Message MessageRecord `json:"message"`
}

func NewMessageDelivered(msg MessageRecord) *MessageEvent {
	return &MessageEvent{Type: TypeMessageDelivered, Message: msg}
}

func NewMessageAccepted(msg MessageRecord) *MessageEvent {
	return &MessageEvent{Type: TypeMessageAccepted, Message: msg}
}

// Error reports a failed event back to the offending connection.
type Error struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewError(code, message string) *Error {
	return &Error{Type: TypeError, Code: code, Message: message}
}

// NewMessageFailed reports a persistence failure on the send path.
func NewMessageFailed(message string) *Error {
	return &Error{Type: TypeMessageFailed, Code: ErrCodePersistence, Message: message}
}

// TypingStarted notifies the recipient that the user began typing.
type TypingStarted struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

func NewTypingStarted(userID, username string) *TypingStarted {
	return &TypingStarted{Type: TypeTypingStarted, UserID: userID, Username: username}
}

// TypingStopped notifies the recipient that the user stopped typing.
type TypingStopped struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

func NewTypingStopped(userID string) *TypingStopped {
	return &TypingStopped{Type: TypeTypingStopped, UserID: userID}
}

// ReadReceipt tells a message author their messages were read.
type ReadReceipt struct {
	Type     string    `json:"type"`
	ReaderID string    `json:"readerId"`
	ReadAt   time.Time `json:"readAt"`
}

func NewReadReceipt(readerID string, readAt time.Time) *ReadReceipt {
	return &ReadReceipt{Type: TypeReadReceipt, ReaderID: readerID, ReadAt: readAt}
}

// IncomingCall delivers a call invite to the recipient.
type IncomingCall struct {
	Type       string          `json:"type"`
	CallerID   string          `json:"callerId"`
	CallerName string          `json:"callerName"`
	Offer      json.RawMessage `json:"offer"`
	CallType   string          `json:"callType"`
}

func NewIncomingCall(callerID, callerName string, offer json.RawMessage, callType string) *IncomingCall {
	return &IncomingCall{Type: TypeIncomingCall, CallerID: callerID, CallerName: callerName, Offer: offer, CallType: callType}
}

// CallAnswered delivers the answer back to the caller.
type CallAnswered struct {
	Type       string          `json:"type"`
	Answer     json.RawMessage `json:"answer"`
	AnsweredBy string          `json:"answeredBy"`
}

func NewCallAnswered(answeredBy string, answer json.RawMessage) *CallAnswered {
	return &CallAnswered{Type: TypeCallAnswered, Answer: answer, AnsweredBy: answeredBy}
}

// CallRejected tells the caller the invite was declined.
type CallRejected struct {
	Type       string `json:"type"`
	RejectedBy string `json:"rejectedBy"`
}

func NewCallRejected(rejectedBy string) *CallRejected {
	return &CallRejected{Type: TypeCallRejected, RejectedBy: rejectedBy}
}

// CallEnded tells the peer the call was terminated.
type CallEnded struct {
	Type    string `json:"type"`
	EndedBy string `json:"endedBy"`
}

func NewCallEnded(endedBy string) *CallEnded {
	return &CallEnded{Type: TypeCallEnded, EndedBy: endedBy}
}

// CandidateEvent forwards a negotiation candidate to the peer.
type CandidateEvent struct {
	Type      string          `json:"type"`
	Candidate json.RawMessage `json:"candidate"`
	From      string          `json:"from"`
}

func NewCandidate(from string, candidate json.RawMessage) *CandidateEvent {
	return &CandidateEvent{Type: TypeCandidate, Candidate: candidate, From: from}
}

// CallUnavailable tells the caller the invited user is not connected.
type CallUnavailable struct {
	Type        string `json:"type"`
	RecipientID string `json:"recipientId"`
}

func NewCallUnavailable(recipientID string) *CallUnavailable {
	return &CallUnavailable{Type: TypeCallUnavailable, RecipientID: recipientID}
}

// SessionReplaced is sent to a connection just before it is closed
// because the same user opened a newer session.
type SessionReplaced struct {
	Type string `json:"type"`
}

func NewSessionReplaced() *SessionReplaced {
	return &SessionReplaced{Type: TypeSessionReplaced}
}
