package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/voxlink/voxlink/internal/auth"
	"github.com/voxlink/voxlink/internal/data"
	"github.com/voxlink/voxlink/internal/middleware"
	"github.com/voxlink/voxlink/internal/presence"
	"github.com/voxlink/voxlink/internal/protocol"
)

type fakeUsers struct {
	mu        sync.Mutex
	byID      map[bson.ObjectID]*data.User
	createErr error
	created   []*data.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[bson.ObjectID]*data.User{}}
}

func (f *fakeUsers) add(username, email string) *data.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &data.User{ID: bson.NewObjectID(), Username: username, Email: email}
	f.byID[u.ID] = u
	return u
}

func (f *fakeUsers) CreateUser(ctx context.Context, username, email, hashedPassword string) (*data.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	u := &data.User{ID: bson.NewObjectID(), Username: username, Email: email, Password: hashedPassword}
	f.byID[u.ID] = u
	f.created = append(f.created, u)
	return u, nil
}

func (f *fakeUsers) GetUserByUsername(ctx context.Context, username string) (*data.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, data.ErrUserNotFound
}

func (f *fakeUsers) GetUserByID(ctx context.Context, id bson.ObjectID) (*data.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byID[id]; ok {
		return u, nil
	}
	return nil, data.ErrUserNotFound
}

func (f *fakeUsers) UserExists(ctx context.Context, id bson.ObjectID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.byID[id]
	return ok, nil
}

func (f *fakeUsers) SearchUsers(ctx context.Context, query string, exclude []bson.ObjectID, limit int64) ([]*data.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*data.User
	for _, u := range f.byID {
		if !strings.Contains(u.Username, query) && !strings.Contains(u.Email, query) {
			continue
		}
		skip := false
		for _, ex := range exclude {
			if u.ID == ex {
				skip = true
			}
		}
		if !skip {
			out = append(out, u)
		}
	}
	return out, nil
}

type fakeMsgs struct {
	conversation []*data.Message
	chats        []*data.ChatPartner
	unread       map[bson.ObjectID]int64

	markedAuthor bson.ObjectID
	markedReader bson.ObjectID
	markCount    int64
}

func (f *fakeMsgs) GetConversation(ctx context.Context, user1, user2 bson.ObjectID, limit int64) ([]*data.Message, error) {
	return f.conversation, nil
}

func (f *fakeMsgs) MarkConversationRead(ctx context.Context, authorID, readerID bson.ObjectID) (int64, time.Time, error) {
	f.markedAuthor = authorID
	f.markedReader = readerID
	return f.markCount, time.Now(), nil
}

func (f *fakeMsgs) CountUnread(ctx context.Context, authorID, readerID bson.ObjectID) (int64, error) {
	return f.unread[authorID], nil
}

func (f *fakeMsgs) GetRecentChats(ctx context.Context, userID bson.ObjectID, limit int64) ([]*data.ChatPartner, error) {
	return f.chats, nil
}

type fakeFriends struct {
	createErr  error
	respondErr error
	responded  *data.Friend
	friendIDs  []bson.ObjectID
	pending    []*data.Friend
	sent       []*data.Friend
	statuses   map[bson.ObjectID]string
}

func (f *fakeFriends) CreateRequest(ctx context.Context, requesterID, recipientID bson.ObjectID) (*data.Friend, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &data.Friend{ID: bson.NewObjectID(), RequesterID: requesterID, RecipientID: recipientID, Status: data.FriendStatusPending}, nil
}

func (f *fakeFriends) Respond(ctx context.Context, requestID, recipientID bson.ObjectID, accept bool) (*data.Friend, error) {
	if f.respondErr != nil {
		return nil, f.respondErr
	}
	status := data.FriendStatusAccepted
	if !accept {
		status = data.FriendStatusDeclined
	}
	f.responded = &data.Friend{ID: requestID, RecipientID: recipientID, Status: status}
	return f.responded, nil
}

func (f *fakeFriends) ListFriendIDs(ctx context.Context, userID bson.ObjectID) ([]bson.ObjectID, error) {
	return f.friendIDs, nil
}

func (f *fakeFriends) ListPending(ctx context.Context, userID bson.ObjectID) ([]*data.Friend, error) {
	return f.pending, nil
}

func (f *fakeFriends) ListSent(ctx context.Context, userID bson.ObjectID) ([]*data.Friend, error) {
	return f.sent, nil
}

func (f *fakeFriends) Status(ctx context.Context, a, b bson.ObjectID) (string, error) {
	if s, ok := f.statuses[b]; ok {
		return s, nil
	}
	return "none", nil
}

type fakeConn struct {
	mu   sync.Mutex
	sent []any
}

func (f *fakeConn) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeConn) Close() error { return nil }

type testEnv struct {
	srv     *Server
	users   *fakeUsers
	msgs    *fakeMsgs
	friends *fakeFriends
	jwt     *auth.JWTManager
	table   *presence.Table
}

func newTestEnv() *testEnv {
	users := newFakeUsers()
	msgs := &fakeMsgs{}
	friends := &fakeFriends{}
	jwtMgr := auth.NewJWTManager("test-secret", time.Hour)
	table := presence.NewTable()
	return &testEnv{
		srv:     newServer(users, msgs, friends, jwtMgr, table),
		users:   users,
		msgs:    msgs,
		friends: friends,
		jwt:     jwtMgr,
		table:   table,
	}
}

// invoke runs a handler the way the router would, optionally behind the
// JWT middleware when a user is given. It returns the resulting status
// code and response body.
func (env *testEnv) invoke(t *testing.T, user *data.User, handler echo.HandlerFunc, method, target, body string, params map[string]string) (int, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	if user != nil {
		token, _, err := env.jwt.GenerateToken(user.ID, user.Username)
		if err != nil {
			t.Fatalf("GenerateToken failed: %v", err)
		}
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
		handler = middleware.JWT(env.jwt)(handler)
	}

	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	for k, v := range params {
		c.SetParamNames(k)
		c.SetParamValues(v)
	}

	if err := handler(c); err != nil {
		httpErr, ok := err.(*echo.HTTPError)
		if !ok {
			t.Fatalf("handler returned non-HTTP error: %v", err)
		}
		return httpErr.Code, nil
	}
	return rec.Code, rec.Body.Bytes()
}

func TestRegister_CreatesUserAndIssuesToken(t *testing.T) {
	env := newTestEnv()

	code, body := env.invoke(t, nil, env.srv.handleRegister, http.MethodPost, "/api/auth/register",
		`{"username":"alice","email":"alice@example.com","password":"secret-pass"}`, nil)
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	claims, err := env.jwt.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims.Username != "alice" {
		t.Fatalf("token claims wrong username: %q", claims.Username)
	}

	if len(env.users.created) != 1 {
		t.Fatalf("expected 1 created user, got %d", len(env.users.created))
	}
	stored := env.users.created[0]
	if stored.Password == "secret-pass" {
		t.Fatal("password stored in plaintext")
	}
	if err := auth.CheckPassword(stored.Password, "secret-pass"); err != nil {
		t.Fatalf("stored hash does not match password: %v", err)
	}
}

func TestRegister_RejectsShortPasswordAndDuplicates(t *testing.T) {
	env := newTestEnv()

	code, _ := env.invoke(t, nil, env.srv.handleRegister, http.MethodPost, "/api/auth/register",
		`{"username":"alice","email":"alice@example.com","password":"short"}`, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("short password: expected 400, got %d", code)
	}

	env.users.createErr = data.ErrUserExists
	code, _ = env.invoke(t, nil, env.srv.handleRegister, http.MethodPost, "/api/auth/register",
		`{"username":"alice","email":"alice@example.com","password":"secret-pass"}`, nil)
	if code != http.StatusConflict {
		t.Fatalf("duplicate: expected 409, got %d", code)
	}
}

func TestLogin_ChecksCredentials(t *testing.T) {
	env := newTestEnv()
	hashed, err := auth.HashPassword("secret-pass")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	u := env.users.add("alice", "alice@example.com")
	u.Password = hashed

	code, body := env.invoke(t, nil, env.srv.handleLogin, http.MethodPost, "/api/auth/login",
		`{"username":"alice","password":"secret-pass"}`, nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.User == nil || resp.User.Username != "alice" {
		t.Fatalf("response missing user: %+v", resp.User)
	}

	code, _ = env.invoke(t, nil, env.srv.handleLogin, http.MethodPost, "/api/auth/login",
		`{"username":"alice","password":"wrong"}`, nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("wrong password: expected 401, got %d", code)
	}

	code, _ = env.invoke(t, nil, env.srv.handleLogin, http.MethodPost, "/api/auth/login",
		`{"username":"nobody","password":"secret-pass"}`, nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("unknown user: expected 401, got %d", code)
	}
}

func TestMe_ReturnsProfile(t *testing.T) {
	env := newTestEnv()
	u := env.users.add("alice", "alice@example.com")

	code, body := env.invoke(t, u, env.srv.handleMe, http.MethodGet, "/api/auth/me", "", nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var got data.User
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if got.ID != u.ID || got.Email != "alice@example.com" {
		t.Fatalf("unexpected profile: %+v", got)
	}
}

func TestOnlineUsers_ReflectsPresenceTable(t *testing.T) {
	env := newTestEnv()
	alice := env.users.add("alice", "alice@example.com")
	bob := env.users.add("bob", "bob@example.com")
	env.table.Register(bob.ID.Hex(), "bob", "conn-1", &fakeConn{})

	code, body := env.invoke(t, alice, env.srv.handleOnlineUsers, http.MethodGet, "/api/users/online", "", nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var resp struct {
		Users []protocol.UserStatus `json:"users"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if len(resp.Users) != 1 || resp.Users[0].Username != "bob" {
		t.Fatalf("unexpected roster: %+v", resp.Users)
	}
}

func TestConversation_MarksReadAndNotifiesPartner(t *testing.T) {
	env := newTestEnv()
	alice := env.users.add("alice", "alice@example.com")
	bob := env.users.add("bob", "bob@example.com")

	env.msgs.conversation = []*data.Message{
		{ID: bson.NewObjectID(), SenderID: bob.ID, RecipientID: alice.ID, Content: "hi"},
	}
	env.msgs.markCount = 1

	bobConn := &fakeConn{}
	env.table.Register(bob.ID.Hex(), "bob", "conn-bob", bobConn)

	code, body := env.invoke(t, alice, env.srv.handleConversation, http.MethodGet,
		"/api/messages/conversation/"+bob.ID.Hex(), "", map[string]string{"userId": bob.ID.Hex()})
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}

	var resp struct {
		Messages []*data.Message `json:"messages"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].Content != "hi" {
		t.Fatalf("unexpected messages: %+v", resp.Messages)
	}

	if env.msgs.markedAuthor != bob.ID || env.msgs.markedReader != alice.ID {
		t.Fatalf("mark read called with wrong pair: author=%s reader=%s",
			env.msgs.markedAuthor.Hex(), env.msgs.markedReader.Hex())
	}

	bobConn.mu.Lock()
	defer bobConn.mu.Unlock()
	if len(bobConn.sent) != 1 {
		t.Fatalf("expected 1 pushed event, got %d", len(bobConn.sent))
	}
	receipt, ok := bobConn.sent[0].(*protocol.ReadReceipt)
	if !ok {
		t.Fatalf("expected read receipt, got %T", bobConn.sent[0])
	}
	if receipt.ReaderID != alice.ID.Hex() {
		t.Fatalf("receipt names wrong reader: %s", receipt.ReaderID)
	}
}

func TestConversation_RejectsBadUserID(t *testing.T) {
	env := newTestEnv()
	alice := env.users.add("alice", "alice@example.com")

	code, _ := env.invoke(t, alice, env.srv.handleConversation, http.MethodGet,
		"/api/messages/conversation/nope", "", map[string]string{"userId": "nope"})
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestFriendRequest_Validation(t *testing.T) {
	env := newTestEnv()
	alice := env.users.add("alice", "alice@example.com")
	bob := env.users.add("bob", "bob@example.com")

	code, _ := env.invoke(t, alice, env.srv.handleFriendRequest, http.MethodPost,
		"/api/friends/request/"+alice.ID.Hex(), "", map[string]string{"userId": alice.ID.Hex()})
	if code != http.StatusBadRequest {
		t.Fatalf("self request: expected 400, got %d", code)
	}

	unknown := bson.NewObjectID()
	code, _ = env.invoke(t, alice, env.srv.handleFriendRequest, http.MethodPost,
		"/api/friends/request/"+unknown.Hex(), "", map[string]string{"userId": unknown.Hex()})
	if code != http.StatusNotFound {
		t.Fatalf("unknown user: expected 404, got %d", code)
	}

	code, body := env.invoke(t, alice, env.srv.handleFriendRequest, http.MethodPost,
		"/api/friends/request/"+bob.ID.Hex(), "", map[string]string{"userId": bob.ID.Hex()})
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	var created data.Friend
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if created.Status != data.FriendStatusPending {
		t.Fatalf("expected pending request, got %q", created.Status)
	}

	env.friends.createErr = data.ErrFriendshipExists
	code, _ = env.invoke(t, alice, env.srv.handleFriendRequest, http.MethodPost,
		"/api/friends/request/"+bob.ID.Hex(), "", map[string]string{"userId": bob.ID.Hex()})
	if code != http.StatusConflict {
		t.Fatalf("duplicate: expected 409, got %d", code)
	}
}

func TestFriendRespond_AcceptAndMissing(t *testing.T) {
	env := newTestEnv()
	alice := env.users.add("alice", "alice@example.com")
	requestID := bson.NewObjectID()

	code, body := env.invoke(t, alice, env.srv.handleFriendRespond, http.MethodPost,
		"/api/friends/respond/"+requestID.Hex(), `{"accept":true}`, map[string]string{"requestId": requestID.Hex()})
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var updated data.Friend
	if err := json.Unmarshal(body, &updated); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if updated.Status != data.FriendStatusAccepted {
		t.Fatalf("expected accepted, got %q", updated.Status)
	}

	env.friends.respondErr = data.ErrFriendRequestNotFound
	code, _ = env.invoke(t, alice, env.srv.handleFriendRespond, http.MethodPost,
		"/api/friends/respond/"+requestID.Hex(), `{"accept":false}`, map[string]string{"requestId": requestID.Hex()})
	if code != http.StatusNotFound {
		t.Fatalf("missing request: expected 404, got %d", code)
	}
}

func TestFriendSearch_AnnotatesStatus(t *testing.T) {
	env := newTestEnv()
	alice := env.users.add("alice", "alice@example.com")
	bob := env.users.add("bobby", "bob@example.com")
	env.friends.statuses = map[bson.ObjectID]string{bob.ID: data.FriendStatusPending}

	code, body := env.invoke(t, alice, env.srv.handleFriendSearch, http.MethodGet,
		"/api/friends/search?q=bob", "", nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var resp struct {
		Results []searchResult `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(resp.Results))
	}
	if resp.Results[0].User.Username != "bobby" || resp.Results[0].FriendStatus != data.FriendStatusPending {
		t.Fatalf("unexpected result: %+v", resp.Results[0])
	}

	code, _ = env.invoke(t, alice, env.srv.handleFriendSearch, http.MethodGet, "/api/friends/search", "", nil)
	if code != http.StatusBadRequest {
		t.Fatalf("missing query: expected 400, got %d", code)
	}
}

func TestChats_IncludesUnreadCounts(t *testing.T) {
	env := newTestEnv()
	alice := env.users.add("alice", "alice@example.com")
	bob := env.users.add("bob", "bob@example.com")
	carol := env.users.add("carol", "carol@example.com")

	env.msgs.chats = []*data.ChatPartner{
		{UserID: bob.ID, LastMessage: "hi", LastMessageTime: time.Now()},
		{UserID: carol.ID, LastMessage: "later", LastMessageTime: time.Now()},
	}
	env.msgs.unread = map[bson.ObjectID]int64{bob.ID: 3}

	code, body := env.invoke(t, alice, env.srv.handleChats, http.MethodGet, "/api/messages/chats", "", nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}

	var resp struct {
		Chats []struct {
			UserID      bson.ObjectID `json:"userId"`
			UnreadCount int64         `json:"unreadCount"`
		} `json:"chats"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if len(resp.Chats) != 2 {
		t.Fatalf("expected 2 chats, got %d", len(resp.Chats))
	}
	counts := map[bson.ObjectID]int64{}
	for _, ch := range resp.Chats {
		counts[ch.UserID] = ch.UnreadCount
	}
	if counts[bob.ID] != 3 || counts[carol.ID] != 0 {
		t.Fatalf("unexpected unread counts: %+v", counts)
	}
}

func TestFriendLists_AttachProfiles(t *testing.T) {
	env := newTestEnv()
	alice := env.users.add("alice", "alice@example.com")
	bob := env.users.add("bob", "bob@example.com")
	carol := env.users.add("carol", "carol@example.com")

	env.friends.friendIDs = []bson.ObjectID{bob.ID}
	env.friends.pending = []*data.Friend{
		{ID: bson.NewObjectID(), RequesterID: carol.ID, RecipientID: alice.ID, Status: data.FriendStatusPending},
	}
	env.friends.sent = []*data.Friend{
		{ID: bson.NewObjectID(), RequesterID: alice.ID, RecipientID: bob.ID, Status: data.FriendStatusPending},
	}

	code, body := env.invoke(t, alice, env.srv.handleFriends, http.MethodGet, "/api/friends", "", nil)
	if code != http.StatusOK {
		t.Fatalf("friends: expected 200, got %d", code)
	}
	var friendsResp struct {
		Friends []*data.User `json:"friends"`
	}
	if err := json.Unmarshal(body, &friendsResp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if len(friendsResp.Friends) != 1 || friendsResp.Friends[0].Username != "bob" {
		t.Fatalf("unexpected friends: %+v", friendsResp.Friends)
	}

	code, body = env.invoke(t, alice, env.srv.handleFriendRequests, http.MethodGet, "/api/friends/requests", "", nil)
	if code != http.StatusOK {
		t.Fatalf("requests: expected 200, got %d", code)
	}
	var reqResp struct {
		Requests []friendRequestView `json:"requests"`
	}
	if err := json.Unmarshal(body, &reqResp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if len(reqResp.Requests) != 1 || reqResp.Requests[0].User.Username != "carol" {
		t.Fatalf("unexpected incoming requests: %+v", reqResp.Requests)
	}

	code, body = env.invoke(t, alice, env.srv.handleFriendsSent, http.MethodGet, "/api/friends/sent", "", nil)
	if code != http.StatusOK {
		t.Fatalf("sent: expected 200, got %d", code)
	}
	if err := json.Unmarshal(body, &reqResp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if len(reqResp.Requests) != 1 || reqResp.Requests[0].User.Username != "bob" {
		t.Fatalf("unexpected sent requests: %+v", reqResp.Requests)
	}
}
