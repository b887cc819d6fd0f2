package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"support-chat/internal/auth"
	"support-chat/internal/broker"
	"support-chat/internal/config"
	"support-chat/internal/database"
	"support-chat/internal/models"
	"support-chat/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "password123"

// fakeDB backs the endpoints with in-memory users, chats and messages.
// Anything a test does not wire up panics through the embedded interface.
type fakeDB struct {
	database.Database

	mu             sync.Mutex
	users          map[string]*models.User
	chats          map[int64]*models.Chat
	history        map[int64][]models.ChatHistoryEntry
	clock          time.Time
	failNextCreate bool
}

func newFakeDB(t *testing.T) *fakeDB {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return &fakeDB{
		users: map[string]*models.User{
			"alice": {ID: 1, Username: "alice", PasswordHash: string(hash)},
			"bob":   {ID: 2, Username: "bob", PasswordHash: string(hash), IsStaff: true},
			"carol": {ID: 3, Username: "carol", PasswordHash: string(hash)},
		},
		chats:   make(map[int64]*models.Chat),
		history: make(map[int64][]models.ChatHistoryEntry),
		clock:   time.Now().Truncate(time.Second),
	}
}

func (f *fakeDB) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[username]
	if !ok {
		return nil, database.ErrNotFound
	}
	u := *user
	return &u, nil
}

func (f *fakeDB) GetChatHistory(_ context.Context, chatID int64) ([]models.ChatHistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ChatHistoryEntry(nil), f.history[chatID]...), nil
}

func (f *fakeDB) CreateMessage(_ context.Context, chatID, senderID int64, body string, isStaff bool) (*models.MessageReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failNextCreate {
		f.failNextCreate = false
		return nil, errors.New("insert failed")
	}

	sender := fmt.Sprintf("user-%d", senderID)
	for _, user := range f.users {
		if user.ID == senderID {
			sender = user.Username
		}
	}

	// Strictly increasing per-insert timestamps, like the real ordering key.
	f.clock = f.clock.Add(time.Millisecond)
	f.history[chatID] = append(f.history[chatID], models.ChatHistoryEntry{
		Message:   body,
		Sender:    sender,
		Timestamp: f.clock,
		IsStaff:   isStaff,
	})
	return &models.MessageReceipt{Timestamp: f.clock, IsStaff: isStaff}, nil
}

func (f *fakeDB) addChat(chatID, userID int64, username string, age time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats[chatID] = &models.Chat{
		ID:        chatID,
		UserID:    userID,
		Username:  username,
		CreatedAt: time.Now().Add(-age),
		IsActive:  true,
	}
}

func (f *fakeDB) ListActiveChats(_ context.Context) ([]models.ChatSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var chats []models.ChatSummary
	for id, chat := range f.chats {
		if !chat.IsActive {
			continue
		}
		summary := models.ChatSummary{
			ID:           id,
			Username:     chat.Username,
			CreatedAt:    chat.CreatedAt,
			MessageCount: len(f.history[id]),
		}
		if n := len(f.history[id]); n > 0 {
			last := f.history[id][n-1].Message
			summary.LastMessage = &last
		}
		chats = append(chats, summary)
	}
	return chats, nil
}

func (f *fakeDB) DeactivateIdleChats(_ context.Context, threshold time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-threshold)
	count := 0
	for id, chat := range f.chats {
		if chat.IsActive && chat.CreatedAt.Before(cutoff) && len(f.history[id]) == 0 {
			delete(f.chats, id)
			count++
		}
	}
	return count, nil
}

type testEnv struct {
	srv     *httptest.Server
	db      *fakeDB
	broker  *broker.Broker
	authSvc *auth.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newFakeDB(t)
	b := broker.New()
	cfg := &config.Config{JWT: config.JWTConfig{Secret: []byte("test-secret"), ExpiresIn: time.Hour}}
	authSvc := auth.NewService(db, cfg)
	chatSvc := services.NewChatService(db, b, 30*time.Minute)
	wsHandlers := NewWebSocketHandlers(authSvc, chatSvc, db, b)

	r := chi.NewRouter()
	r.Get("/ws/support/{chatID}", wsHandlers.HandleSupportChat)
	r.Get("/ws/admin/dashboard", wsHandlers.HandleAdminDashboard)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, db: db, broker: b, authSvc: authSvc}
}

func (e *testEnv) token(t *testing.T, username string) string {
	t.Helper()
	resp, err := e.authSvc.Login(context.Background(), &models.LoginRequest{Username: username, Password: testPassword})
	if err != nil {
		t.Fatalf("login %s: %v", username, err)
	}
	return resp.Token
}

func (e *testEnv) dial(t *testing.T, path, token string) *websocket.Conn {
	t.Helper()
	conn, err := e.tryDial(path, token)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (e *testEnv) tryDial(path, token string) (*websocket.Conn, error) {
	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + path
	if token != "" {
		wsURL += "?" + url.Values{"token": {token}}.Encode()
	}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// frame is the superset of every server→client payload, for assertions.
type frame struct {
	Type      string                    `json:"type"`
	Messages  []models.ChatHistoryEntry `json:"messages"`
	Message   string                    `json:"message"`
	Sender    string                    `json:"sender"`
	Timestamp string                    `json:"timestamp"`
	IsStaff   bool                      `json:"is_staff"`
	ChatID    int64                     `json:"chat_id"`
	Chats     []models.ChatSummary      `json:"chats"`
	Chat      models.ChatSummary        `json:"chat"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("unmarshal frame %s: %v", data, err)
	}
	return f
}

// assertNoFrame leaves the connection unusable; call it last.
func assertNoFrame(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Fatalf("unexpected frame: %s", data)
	}
}

func send(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	payload, _ := json.Marshal(models.InboundFrame{Message: text})
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestHistorySnapshotEmptyChat(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "/ws/support/7", env.token(t, "alice"))

	f := readFrame(t, conn)
	if f.Type != "chat_history" {
		t.Fatalf("first frame type = %q, want chat_history", f.Type)
	}
	if len(f.Messages) != 0 {
		t.Errorf("empty chat snapshot has %d messages", len(f.Messages))
	}
}

func TestHistorySnapshotOrdered(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, text := range []string{"first", "second", "third"} {
		if _, err := env.db.CreateMessage(ctx, 7, 1, text, false); err != nil {
			t.Fatal(err)
		}
	}

	conn := env.dial(t, "/ws/support/7", env.token(t, "alice"))

	f := readFrame(t, conn)
	if f.Type != "chat_history" {
		t.Fatalf("first frame type = %q, want chat_history", f.Type)
	}
	if len(f.Messages) != 3 {
		t.Fatalf("snapshot has %d messages, want 3", len(f.Messages))
	}
	for i, want := range []string{"first", "second", "third"} {
		if f.Messages[i].Message != want {
			t.Errorf("message %d = %q, want %q", i, f.Messages[i].Message, want)
		}
		if i > 0 && !f.Messages[i].Timestamp.After(f.Messages[i-1].Timestamp) {
			t.Errorf("timestamps not ascending at index %d", i)
		}
	}
}

func TestUnauthenticatedHandshakeRefused(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/ws/support/7", "/ws/admin/dashboard"} {
		if conn, err := env.tryDial(path, ""); err == nil {
			conn.Close()
			t.Errorf("handshake on %s without token succeeded", path)
		}
		if conn, err := env.tryDial(path, "garbage-token"); err == nil {
			conn.Close()
			t.Errorf("handshake on %s with garbage token succeeded", path)
		}
	}

	if got := env.broker.MemberCount(broker.ChatGroup(7)); got != 0 {
		t.Errorf("refused caller joined chat group: %d members", got)
	}
	if got := env.broker.MemberCount(broker.AdminGroup); got != 0 {
		t.Errorf("refused caller joined admin group: %d members", got)
	}
}

func TestNonStaffDashboardRefused(t *testing.T) {
	env := newTestEnv(t)

	if conn, err := env.tryDial("/ws/admin/dashboard", env.token(t, "carol")); err == nil {
		conn.Close()
		t.Fatal("non-staff dashboard handshake succeeded")
	}
	if got := env.broker.MemberCount(broker.AdminGroup); got != 0 {
		t.Errorf("refused caller joined admin group: %d members", got)
	}
}

func TestMessageEchoAndAdminNotification(t *testing.T) {
	env := newTestEnv(t)

	user := env.dial(t, "/ws/support/7", env.token(t, "alice"))
	readFrame(t, user) // chat_history

	dashboard := env.dial(t, "/ws/admin/dashboard", env.token(t, "bob"))
	readFrame(t, dashboard) // all_chats

	send(t, user, "hi")

	echo := readFrame(t, user)
	if echo.Type != "message" || echo.Message != "hi" || echo.Sender != "alice" || echo.IsStaff {
		t.Errorf("echo frame = %+v", echo)
	}
	if echo.Timestamp == "" {
		t.Error("echo carries no authoritative timestamp")
	}

	notice := readFrame(t, dashboard)
	if notice.Type != "new_message" || notice.ChatID != 7 || notice.Message != "hi" || notice.Sender != "alice" {
		t.Errorf("notification frame = %+v", notice)
	}
}

func TestFailedPersistIsNotBroadcast(t *testing.T) {
	env := newTestEnv(t)

	user := env.dial(t, "/ws/support/7", env.token(t, "alice"))
	readFrame(t, user)
	dashboard := env.dial(t, "/ws/admin/dashboard", env.token(t, "bob"))
	readFrame(t, dashboard)

	env.db.mu.Lock()
	env.db.failNextCreate = true
	env.db.mu.Unlock()

	// The failed write must produce no echo and no admin notice. Frames are
	// delivered in publish order, so the next message arriving first proves
	// the failed one was skipped.
	send(t, user, "lost to the failure")
	send(t, user, "made it through")

	echo := readFrame(t, user)
	if echo.Type != "message" || echo.Message != "made it through" {
		t.Fatalf("first frame after failure = %+v, want the recovered message", echo)
	}

	notice := readFrame(t, dashboard)
	if notice.Type != "new_message" || notice.Message != "made it through" {
		t.Fatalf("first notice after failure = %+v, want the recovered message", notice)
	}

	env.db.mu.Lock()
	stored := len(env.db.history[7])
	env.db.mu.Unlock()
	if stored != 1 {
		t.Errorf("chat history holds %d messages, want only the recovered one", stored)
	}

	assertNoFrame(t, dashboard)
}

func TestStaffMessageFlaggedInEcho(t *testing.T) {
	env := newTestEnv(t)

	staff := env.dial(t, "/ws/support/7", env.token(t, "bob"))
	readFrame(t, staff)

	send(t, staff, "how can I help?")

	echo := readFrame(t, staff)
	if !echo.IsStaff {
		t.Error("staff message echo not flagged is_staff")
	}
	if echo.Sender != "bob" {
		t.Errorf("echo sender = %q, want bob", echo.Sender)
	}
}

func TestTwoAggregatorsNotifiedOnceEach(t *testing.T) {
	env := newTestEnv(t)

	first := env.dial(t, "/ws/admin/dashboard", env.token(t, "bob"))
	readFrame(t, first)
	second := env.dial(t, "/ws/admin/dashboard", env.token(t, "bob"))
	readFrame(t, second)

	user := env.dial(t, "/ws/support/3", env.token(t, "alice"))
	readFrame(t, user)
	send(t, user, "hello out there")

	for _, dashboard := range []*websocket.Conn{first, second} {
		notice := readFrame(t, dashboard)
		if notice.Type != "new_message" || notice.ChatID != 3 {
			t.Errorf("notification frame = %+v", notice)
		}
	}
	assertNoFrame(t, first)
	assertNoFrame(t, second)
}

func TestChatGroupIsolation(t *testing.T) {
	env := newTestEnv(t)

	one := env.dial(t, "/ws/support/1", env.token(t, "alice"))
	readFrame(t, one)
	two := env.dial(t, "/ws/support/2", env.token(t, "carol"))
	readFrame(t, two)

	send(t, one, "only for chat 1")

	echo := readFrame(t, one)
	if echo.Message != "only for chat 1" {
		t.Errorf("echo = %+v", echo)
	}
	assertNoFrame(t, two)
}

func TestReconnectSeesFullHistory(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "alice")

	conn := env.dial(t, "/ws/support/7", token)
	readFrame(t, conn)
	send(t, conn, "before the drop")
	readFrame(t, conn) // echo confirms persistence
	send(t, conn, "also before")
	readFrame(t, conn)
	conn.Close()

	reconnected := env.dial(t, "/ws/support/7", token)
	f := readFrame(t, reconnected)
	if f.Type != "chat_history" || len(f.Messages) != 2 {
		t.Fatalf("reconnect snapshot = %+v, want 2 messages", f)
	}
	if f.Messages[0].Message != "before the drop" || f.Messages[1].Message != "also before" {
		t.Errorf("reconnect snapshot out of order: %+v", f.Messages)
	}
}

func TestDisconnectLeavesGroup(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t, "/ws/support/9", env.token(t, "alice"))
	readFrame(t, conn)
	if got := env.broker.MemberCount(broker.ChatGroup(9)); got != 1 {
		t.Fatalf("chat group members = %d, want 1", got)
	}

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.broker.MemberCount(broker.ChatGroup(9)) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("membership not released after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDashboardSnapshotListsActiveChats(t *testing.T) {
	env := newTestEnv(t)
	env.db.addChat(5, 1, "alice", time.Minute)
	env.db.CreateMessage(context.Background(), 5, 1, "hello", false)
	env.db.addChat(6, 3, "carol", time.Minute)
	// Past the idle threshold with no messages: swept before the snapshot.
	env.db.addChat(8, 1, "alice", time.Hour)

	dashboard := env.dial(t, "/ws/admin/dashboard", env.token(t, "bob"))
	f := readFrame(t, dashboard)
	if f.Type != "all_chats" {
		t.Fatalf("first frame type = %q, want all_chats", f.Type)
	}
	if len(f.Chats) != 2 {
		t.Fatalf("snapshot has %d chats, want 2", len(f.Chats))
	}

	byID := make(map[int64]models.ChatSummary)
	for _, chat := range f.Chats {
		byID[chat.ID] = chat
	}
	if chat, ok := byID[5]; !ok {
		t.Error("chat 5 missing from snapshot")
	} else {
		if chat.MessageCount != 1 || chat.LastMessage == nil || *chat.LastMessage != "hello" {
			t.Errorf("chat 5 summary = %+v", chat)
		}
	}
	if chat, ok := byID[6]; !ok {
		t.Error("chat 6 missing from snapshot")
	} else if chat.MessageCount != 0 || chat.LastMessage != nil {
		t.Errorf("chat 6 summary should be empty: %+v", chat)
	}
	if _, ok := byID[8]; ok {
		t.Error("idle empty chat survived into the snapshot")
	}
}

func TestDashboardReceivesNewChatEvents(t *testing.T) {
	env := newTestEnv(t)

	dashboard := env.dial(t, "/ws/admin/dashboard", env.token(t, "bob"))
	readFrame(t, dashboard)

	// The chat-creation flow publishes to the admin group.
	env.broker.Publish(broker.AdminGroup, broker.NewChatEvent{
		Chat: models.ChatSummary{ID: 11, Username: "alice", CreatedAt: time.Now()},
	})

	f := readFrame(t, dashboard)
	if f.Type != "new_chat" || f.Chat.ID != 11 || f.Chat.Username != "alice" || f.Chat.MessageCount != 0 {
		t.Errorf("new_chat frame = %+v", f)
	}
}

func TestDashboardInboundIsIgnored(t *testing.T) {
	env := newTestEnv(t)

	dashboard := env.dial(t, "/ws/admin/dashboard", env.token(t, "bob"))
	readFrame(t, dashboard)

	// Whatever staff clients send on this channel is dropped; the
	// connection must stay alive and keep relaying.
	dashboard.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := dashboard.WriteMessage(websocket.TextMessage, []byte(`{"message":"ignored"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	user := env.dial(t, "/ws/support/4", env.token(t, "alice"))
	readFrame(t, user)
	send(t, user, "still relayed")

	notice := readFrame(t, dashboard)
	if notice.Type != "new_message" || notice.ChatID != 4 {
		t.Errorf("notification frame = %+v", notice)
	}
}
