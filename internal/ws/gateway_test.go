package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AGNIKSAHA/chatApp/internal/auth"
	"github.com/AGNIKSAHA/chatApp/internal/config"
	"github.com/AGNIKSAHA/chatApp/internal/crypto"
	"github.com/AGNIKSAHA/chatApp/internal/db"
	"github.com/AGNIKSAHA/chatApp/internal/models"
	"github.com/AGNIKSAHA/chatApp/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

func testGatewayServer(t *testing.T) (*httptest.Server, *gorm.DB, config.Config) {
	t.Helper()
	gdb, err := db.Connect("host=localhost user=postgres password=postgres dbname=chatapp port=5432 sslmode=disable TimeZone=UTC")
	if err != nil {
		t.Skipf("skip: db not available: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Skipf("skip: migrate failed: %v", err)
	}
	cfg := config.Config{
		JWTSecret:             "test-secret",
		RefreshTokenSecret:    "test-refresh-secret",
		Env:                   "dev",
		AccessTokenTTLMinutes: 15,
		RefreshTokenTTLDays:   7,
	}
	key := crypto.NewKey("test-message-key")
	hub := NewHub()
	presence := service.NewPresenceService(gdb)
	messages := service.NewMessageService(gdb, key)
	gw := NewGateway(hub, gdb, cfg, messages, presence, NewPresenceBroadcaster(hub))

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", gw.Serve())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, gdb, cfg
}

func createWsUser(t *testing.T, gdb *gorm.DB, name string) models.User {
	t.Helper()
	suffix := fmt.Sprintf("%s-%d", name, time.Now().UnixNano())
	user := models.User{Username: suffix, Email: suffix + "@example.com", PasswordHash: "x"}
	if err := gdb.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func dialAs(t *testing.T, srv *httptest.Server, cfg config.Config, user models.User) *websocket.Conn {
	t.Helper()
	token, err := auth.GenerateAccessToken(user.ID, user.Username, cfg.JWTSecret, cfg.AccessTokenTTLMinutes)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{"Cookie": {auth.AccessTokenCookie + "=" + token}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope %s: %v", data, err)
	}
	return env.Event, env.Data
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	b, err := marshalEvent(event, data)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write event: %v", err)
	}
}

func waitForOnline(t *testing.T, gdb *gorm.DB, userID uint, want bool) models.User {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var user models.User
	for time.Now().Before(deadline) {
		if err := gdb.First(&user, userID).Error; err == nil && user.IsOnline == want {
			return user
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("user %d online state never became %v", userID, want)
	return user
}

func TestGateway_RejectsMissingOrInvalidToken(t *testing.T) {
	srv, gdb, cfg := testGatewayServer(t)
	user := createWsUser(t, gdb, "reject")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	expired, err := auth.GenerateAccessToken(user.ID, user.Username, cfg.JWTSecret, -1)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	tests := []struct {
		name   string
		header http.Header
	}{
		{"no credential", nil},
		{"expired token", http.Header{"Cookie": {auth.AccessTokenCookie + "=" + expired}}},
		{"garbage token", http.Header{"Cookie": {auth.AccessTokenCookie + "=garbage"}}},
		{"wrong secret", http.Header{"Cookie": {auth.AccessTokenCookie + "=" + mustToken(t, user, "other-secret")}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(url, tt.header)
			if err == nil {
				t.Fatal("dial succeeded, want rejection before establishment")
			}
			if resp == nil || resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %v, want 401", resp)
			}
		})
	}

	// 被拒绝的连接不产生任何在线状态变更。
	var fresh models.User
	if err := gdb.First(&fresh, user.ID).Error; err != nil {
		t.Fatalf("load user: %v", err)
	}
	if fresh.IsOnline {
		t.Error("rejected connection flipped user online")
	}
}

func mustToken(t *testing.T, user models.User, secret string) string {
	t.Helper()
	token, err := auth.GenerateAccessToken(user.ID, user.Username, secret, 15)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func TestGateway_MessageDeliveryBothDirections(t *testing.T) {
	srv, gdb, cfg := testGatewayServer(t)
	alice := createWsUser(t, gdb, "alice")
	bob := createWsUser(t, gdb, "bob")

	bobConn := dialAs(t, srv, cfg, bob)
	aliceConn := dialAs(t, srv, cfg, alice)

	// bob 先上线，所以会收到 alice 的上线广播。
	event, data := readEvent(t, bobConn)
	if event != EventUserOnline {
		t.Fatalf("event = %q, want %q", event, EventUserOnline)
	}
	var online onlineEvent
	_ = json.Unmarshal(data, &online)
	if online.UserID != alice.ID {
		t.Errorf("online userId = %d, want %d", online.UserID, alice.ID)
	}

	sendEvent(t, aliceConn, EventMessageSend, sendMessageData{ReceiverID: bob.ID, Content: "hello"})

	// 接收方拿到 message:receive，内容为明文，未读。
	event, data = readEvent(t, bobConn)
	if event != EventMessageReceive {
		t.Fatalf("event = %q, want %q", event, EventMessageReceive)
	}
	var received service.MessageDTO
	if err := json.Unmarshal(data, &received); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	if received.Content != "hello" {
		t.Errorf("content = %q, want %q", received.Content, "hello")
	}
	if received.IsRead {
		t.Error("isRead = true, want false")
	}
	if received.Sender.ID != alice.ID || received.Receiver.ID != bob.ID {
		t.Errorf("sender/receiver = %d/%d, want %d/%d", received.Sender.ID, received.Receiver.ID, alice.ID, bob.ID)
	}

	// 发送方独立收到 message:sent 回执，内容一致。
	event, data = readEvent(t, aliceConn)
	if event != EventMessageSent {
		t.Fatalf("event = %q, want %q", event, EventMessageSent)
	}
	var sent service.MessageDTO
	if err := json.Unmarshal(data, &sent); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	if sent.Content != "hello" || sent.ID != received.ID {
		t.Errorf("sent confirmation = {%d %q}, want {%d %q}", sent.ID, sent.Content, received.ID, "hello")
	}
}

func TestGateway_EmptyContentRejectedToSenderOnly(t *testing.T) {
	srv, gdb, cfg := testGatewayServer(t)
	alice := createWsUser(t, gdb, "alice")
	bob := createWsUser(t, gdb, "bob")

	aliceConn := dialAs(t, srv, cfg, alice)

	var before int64
	gdb.Model(&models.Message{}).Count(&before)

	sendEvent(t, aliceConn, EventMessageSend, sendMessageData{ReceiverID: bob.ID, Content: "   "})

	event, data := readEvent(t, aliceConn)
	if event != EventError {
		t.Fatalf("event = %q, want %q", event, EventError)
	}
	var e errorEvent
	_ = json.Unmarshal(data, &e)
	if e.Message == "" {
		t.Error("error event carries empty message")
	}

	var after int64
	gdb.Model(&models.Message{}).Count(&after)
	if after != before {
		t.Errorf("message count changed from %d to %d after rejected send", before, after)
	}
}

func TestGateway_MalformedSendPayload(t *testing.T) {
	srv, gdb, cfg := testGatewayServer(t)
	alice := createWsUser(t, gdb, "alice")

	conn := dialAs(t, srv, cfg, alice)

	// data 解析失败与接收方不合法是两种错误，提示语不混用。
	raw := []byte(`{"event":"message:send","data":{"receiverId":"not-a-number"}}`)
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write event: %v", err)
	}

	event, data := readEvent(t, conn)
	if event != EventError {
		t.Fatalf("event = %q, want %q", event, EventError)
	}
	var e errorEvent
	_ = json.Unmarshal(data, &e)
	if e.Message != "invalid payload" {
		t.Errorf("error message = %q, want %q", e.Message, "invalid payload")
	}
}

func TestGateway_TypingRelayLeavesNoArtifact(t *testing.T) {
	srv, gdb, cfg := testGatewayServer(t)
	alice := createWsUser(t, gdb, "alice")
	bob := createWsUser(t, gdb, "bob")

	bobConn := dialAs(t, srv, cfg, bob)
	aliceConn := dialAs(t, srv, cfg, alice)

	// 消费 bob 收到的 alice 上线事件。
	if event, _ := readEvent(t, bobConn); event != EventUserOnline {
		t.Fatalf("expected online event first")
	}

	var before int64
	gdb.Model(&models.Message{}).Count(&before)

	sendEvent(t, aliceConn, EventTypingStart, typingData{ReceiverID: bob.ID})
	sendEvent(t, aliceConn, EventTypingStop, typingData{ReceiverID: bob.ID})

	for _, want := range []string{EventTypingStart, EventTypingStop} {
		event, data := readEvent(t, bobConn)
		if event != want {
			t.Fatalf("event = %q, want %q", event, want)
		}
		var typing typingEvent
		_ = json.Unmarshal(data, &typing)
		if typing.UserID != alice.ID {
			t.Errorf("typing userId = %d, want %d", typing.UserID, alice.ID)
		}
	}

	// 输入信号纯转发，不产生任何落库痕迹。
	var after int64
	gdb.Model(&models.Message{}).Count(&after)
	if after != before {
		t.Errorf("message count changed from %d to %d after typing signals", before, after)
	}
}

func TestGateway_OfflineReceiverStillPersists(t *testing.T) {
	srv, gdb, cfg := testGatewayServer(t)
	alice := createWsUser(t, gdb, "alice")
	bob := createWsUser(t, gdb, "bob")

	aliceConn := dialAs(t, srv, cfg, alice)

	sendEvent(t, aliceConn, EventMessageSend, sendMessageData{ReceiverID: bob.ID, Content: "hello"})

	// 接收方离线也要给发送方回执。
	event, _ := readEvent(t, aliceConn)
	if event != EventMessageSent {
		t.Fatalf("event = %q, want %q", event, EventMessageSent)
	}

	// 落库记录是唯一痕迹，之后走历史接口可取回明文。
	key := crypto.NewKey("test-message-key")
	msgs, err := service.NewMessageService(gdb, key).ListBetween(context.Background(), bob.ID, alice.ID)
	if err != nil {
		t.Fatalf("ListBetween() error = %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello" || msgs[0].IsRead {
		t.Fatalf("history = %+v, want one unread message with content hello", msgs)
	}
}

func TestGateway_PresenceLifecycle(t *testing.T) {
	srv, gdb, cfg := testGatewayServer(t)
	alice := createWsUser(t, gdb, "alice")
	bob := createWsUser(t, gdb, "bob")

	bobConn := dialAs(t, srv, cfg, bob)
	connectedAt := time.Now()

	aliceConn := dialAs(t, srv, cfg, alice)
	waitForOnline(t, gdb, alice.ID, true)

	if event, _ := readEvent(t, bobConn); event != EventUserOnline {
		t.Fatalf("expected online broadcast")
	}

	_ = aliceConn.Close()

	// 最后一个连接断开：置离线、写 last_seen、广播下线事件。
	user := waitForOnline(t, gdb, alice.ID, false)
	if user.LastSeen.Before(connectedAt) {
		t.Errorf("lastSeen %v before connect time %v", user.LastSeen, connectedAt)
	}

	event, data := readEvent(t, bobConn)
	if event != EventUserOffline {
		t.Fatalf("event = %q, want %q", event, EventUserOffline)
	}
	var offline offlineEvent
	_ = json.Unmarshal(data, &offline)
	if offline.UserID != alice.ID {
		t.Errorf("offline userId = %d, want %d", offline.UserID, alice.ID)
	}
	if offline.LastSeen.IsZero() {
		t.Error("offline event missing lastSeen")
	}
}

func TestGateway_ReconnectChurnKeepsPresenceConsistent(t *testing.T) {
	srv, gdb, cfg := testGatewayServer(t)
	alice := createWsUser(t, gdb, "alice")

	// 新连接与旧连接的拆除交错反复发生时，在线标记必须始终跟随最终的连接状态。
	for i := 0; i < 5; i++ {
		first := dialAs(t, srv, cfg, alice)
		waitForOnline(t, gdb, alice.ID, true)

		second := dialAs(t, srv, cfg, alice)
		_ = first.Close()

		// 等旧连接拆除完成后再看：第二个连接还在，不允许"连接着却离线"落库。
		time.Sleep(150 * time.Millisecond)
		var user models.User
		if err := gdb.First(&user, alice.ID).Error; err != nil {
			t.Fatalf("load user: %v", err)
		}
		if !user.IsOnline {
			t.Fatalf("round %d: user offline while second connection is live", i)
		}

		_ = second.Close()
		waitForOnline(t, gdb, alice.ID, false)
	}
}

func TestGateway_SecondDeviceKeepsUserOnline(t *testing.T) {
	srv, gdb, cfg := testGatewayServer(t)
	alice := createWsUser(t, gdb, "alice")
	bob := createWsUser(t, gdb, "bob")

	bobConn := dialAs(t, srv, cfg, bob)

	first := dialAs(t, srv, cfg, alice)
	waitForOnline(t, gdb, alice.ID, true)
	if event, _ := readEvent(t, bobConn); event != EventUserOnline {
		t.Fatalf("expected online broadcast for first device")
	}

	second := dialAs(t, srv, cfg, alice)
	time.Sleep(100 * time.Millisecond)

	// 第一台设备断开后另一台还在，身份保持在线，不广播下线。
	_ = first.Close()
	time.Sleep(100 * time.Millisecond)

	var user models.User
	if err := gdb.First(&user, alice.ID).Error; err != nil {
		t.Fatalf("load user: %v", err)
	}
	if !user.IsOnline {
		t.Error("user went offline while a device is still connected")
	}

	_ = second.Close()
	waitForOnline(t, gdb, alice.ID, false)
}
