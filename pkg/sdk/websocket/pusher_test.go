package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePusher 最小 Pusher 服务端：握手、私有频道鉴权、订阅确认、ping/pong
type fakePusher struct {
	upgrader websocket.Upgrader

	mu          sync.Mutex
	conns       []*websocket.Conn
	writeMu     sync.Mutex
	subscribes  []subscribeData
	authHeaders []string
	authForms   []map[string]string
	rejectAuth  bool

	subscribed chan subscribeData
}

func newFakePusher(t *testing.T) (*fakePusher, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fakePusher{subscribed: make(chan subscribeData, 8)}
	r := gin.New()
	r.GET("/app/:key", func(c *gin.Context) { f.serveWS(c.Writer, c.Request) })
	r.POST("/broadcasting/auth", func(c *gin.Context) {
		f.mu.Lock()
		f.authHeaders = append(f.authHeaders, c.GetHeader("Authorization"))
		f.authForms = append(f.authForms, map[string]string{
			"socket_id":    c.PostForm("socket_id"),
			"channel_name": c.PostForm("channel_name"),
		})
		reject := f.rejectAuth
		f.mu.Unlock()

		if reject {
			c.JSON(http.StatusForbidden, gin.H{"message": "forbidden"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"auth": "key:" + c.PostForm("socket_id") + ":" + c.PostForm("channel_name")})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakePusher) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()

	est, _ := json.Marshal(connectionEstablished{SocketID: "123.456", ActivityTimeout: 120})
	f.send(conn, frame{Event: eventConnectionEstablished, Data: mustString(est)})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var in frame
		if err := json.Unmarshal(msg, &in); err != nil {
			continue
		}
		switch in.Event {
		case eventSubscribe:
			var sub subscribeData
			_ = json.Unmarshal(in.Data, &sub)
			f.mu.Lock()
			f.subscribes = append(f.subscribes, sub)
			f.mu.Unlock()
			f.send(conn, frame{Event: eventSubscriptionSucceeded, Channel: sub.Channel, Data: mustString([]byte("{}"))})
			f.subscribed <- sub
		case eventPing:
			f.send(conn, frame{Event: eventPong, Data: json.RawMessage("{}")})
		}
	}
}

func (f *fakePusher) send(conn *websocket.Conn, fr frame) {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	_ = conn.WriteJSON(fr)
}

// push 向所有连接推送频道事件（data 按 Pusher 惯例编码为字符串）
func (f *fakePusher) push(channel, event string, data any) {
	raw, _ := json.Marshal(data)
	f.mu.Lock()
	conns := append([]*websocket.Conn(nil), f.conns...)
	f.mu.Unlock()
	for _, c := range conns {
		f.send(c, frame{Event: event, Channel: channel, Data: mustString(raw)})
	}
}

// dropAll 模拟服务端断开
func (f *fakePusher) dropAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		c.Close()
	}
	f.conns = nil
}

func mustString(b []byte) json.RawMessage {
	s, _ := json.Marshal(string(b))
	return s
}

func testConfig(srv *httptest.Server) *Config {
	cfg := DefaultConfig()
	cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/app/test-key?protocol=7"
	cfg.AuthEndpoint = srv.URL + "/broadcasting/auth"
	cfg.ReconnectEnabled = false
	cfg.HandshakeTimeout = 2 * time.Second
	return cfg
}

func TestPusherChannel_SubscribeAndDispatch(t *testing.T) {
	fake, srv := newFakePusher(t)
	channel := NewPusherChannel(testConfig(srv))

	sub, err := channel.Subscribe(context.Background(), "private-user.7", "tok-7")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	got := <-fake.subscribed
	assert.Equal(t, "private-user.7", got.Channel)
	assert.Equal(t, "key:123.456:private-user.7", got.Auth)

	fake.mu.Lock()
	require.Len(t, fake.authHeaders, 1)
	assert.Equal(t, "Bearer tok-7", fake.authHeaders[0])
	assert.Equal(t, "123.456", fake.authForms[0]["socket_id"])
	assert.Equal(t, "private-user.7", fake.authForms[0]["channel_name"])
	fake.mu.Unlock()

	received := make(chan json.RawMessage, 1)
	sub.On("order.status", func(ctx context.Context, payload json.RawMessage) error {
		received <- payload
		return nil
	})

	fake.push("private-user.7", "order.status", map[string]any{"order_id": "o1", "status": 2})

	select {
	case payload := <-received:
		assert.JSONEq(t, `{"order_id":"o1","status":2}`, string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not called")
	}
}

func TestPusherChannel_IgnoresOtherChannels(t *testing.T) {
	fake, srv := newFakePusher(t)
	channel := NewPusherChannel(testConfig(srv))

	sub, err := channel.Subscribe(context.Background(), "private-user.7", "tok")
	require.NoError(t, err)
	defer sub.Unsubscribe()
	<-fake.subscribed

	received := make(chan string, 2)
	sub.On("order.status", func(ctx context.Context, payload json.RawMessage) error {
		received <- string(payload)
		return nil
	})

	fake.push("private-user.8", "order.status", map[string]string{"order_id": "other"})
	fake.push("private-user.7", "order.status", map[string]string{"order_id": "mine"})

	select {
	case payload := <-received:
		assert.Contains(t, payload, "mine")
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not called")
	}
}

func TestPusherChannel_AuthRejected(t *testing.T) {
	fake, srv := newFakePusher(t)
	fake.rejectAuth = true
	channel := NewPusherChannel(testConfig(srv))

	sub, err := channel.Subscribe(context.Background(), "private-user.7", "bad")
	require.Error(t, err)
	assert.Nil(t, sub)
	assert.Contains(t, err.Error(), "403")
}

func TestPusherChannel_PrivateChannelNeedsAuthEndpoint(t *testing.T) {
	_, srv := newFakePusher(t)
	cfg := testConfig(srv)
	cfg.AuthEndpoint = ""

	_, err := NewPusherChannel(cfg).Subscribe(context.Background(), "private-user.7", "tok")
	require.Error(t, err)
}

func TestSubscription_UnsubscribeClosesErrors(t *testing.T) {
	fake, srv := newFakePusher(t)
	sub, err := NewPusherChannel(testConfig(srv)).Subscribe(context.Background(), "private-user.1", "tok")
	require.NoError(t, err)
	<-fake.subscribed

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())

	select {
	case _, ok := <-sub.Errors():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("errors channel was not closed")
	}
}

func TestSubscription_ConnectionLossReported(t *testing.T) {
	fake, srv := newFakePusher(t)
	sub, err := NewPusherChannel(testConfig(srv)).Subscribe(context.Background(), "private-user.1", "tok")
	require.NoError(t, err)
	defer sub.Unsubscribe()
	<-fake.subscribed

	fake.dropAll()

	select {
	case err, ok := <-sub.Errors():
		require.True(t, ok)
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("connection loss was not reported")
	}

	// 不重连时订阅随之结束
	select {
	case _, ok := <-sub.Errors():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("errors channel was not closed")
	}
}

func TestSubscription_ReconnectResubscribes(t *testing.T) {
	fake, srv := newFakePusher(t)
	cfg := testConfig(srv)
	cfg.ReconnectEnabled = true
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectAttempts = 3

	sub, err := NewPusherChannel(cfg).Subscribe(context.Background(), "private-user.1", "tok")
	require.NoError(t, err)
	defer sub.Unsubscribe()
	<-fake.subscribed

	received := make(chan struct{}, 1)
	sub.On("order.matched", func(ctx context.Context, payload json.RawMessage) error {
		received <- struct{}{}
		return nil
	})

	fake.dropAll()

	select {
	case again := <-fake.subscribed:
		assert.Equal(t, "private-user.1", again.Channel)
	case <-time.After(3 * time.Second):
		t.Fatal("subscription was not re-established")
	}

	fake.push("private-user.1", "order.matched", map[string]string{"trade_id": "t1"})
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("handler lost after reconnect")
	}
}
