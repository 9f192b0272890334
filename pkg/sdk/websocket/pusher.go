package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "pusher")

// ErrSubscriptionClosed 订阅已关闭
var ErrSubscriptionClosed = errors.New("pusher: subscription closed")

// Handler 频道事件处理函数；payload 为事件 data（已还原为 JSON）
type Handler func(ctx context.Context, payload json.RawMessage) error

// PusherChannel 建立 Pusher 频道订阅。每次 Subscribe 都是一条独立连接，
// 由返回的 Subscription 独占并负责其生命周期。
type PusherChannel struct {
	config *Config
	auth   *resty.Client
}

// NewPusherChannel 创建 Pusher 频道客户端
func NewPusherChannel(config *Config) *PusherChannel {
	if config == nil {
		config = DefaultConfig()
	}
	auth := resty.New().
		SetTimeout(config.HandshakeTimeout).
		SetHeader("Accept", "application/json")
	if config.ProxyURL != "" {
		auth.SetProxy(config.ProxyURL)
	}
	return &PusherChannel{config: config, auth: auth}
}

// Subscribe 连接、鉴权并订阅频道，等到 subscription_succeeded 才返回
func (p *PusherChannel) Subscribe(ctx context.Context, channelName, authToken string) (*Subscription, error) {
	if channelName == "" {
		return nil, errors.New("pusher: channel name is required")
	}
	conn, socketID, err := p.handshake(ctx, channelName, authToken)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.Background())
	s := &Subscription{
		id:       uuid.NewString(),
		channel:  channelName,
		token:    authToken,
		parent:   p,
		conn:     conn,
		socketID: socketID,
		handlers: make(map[string][]Handler),
		errCh:    make(chan error, p.config.ErrorBufferSize),
		ctx:      subCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go s.readLoop()
	go s.pingLoop()

	log.WithFields(logrus.Fields{"channel": channelName, "socket_id": socketID, "sub": s.id}).Info("✅ 频道订阅成功")
	return s, nil
}

// handshake 完成 connection_established → auth → subscribe → subscription_succeeded
func (p *PusherChannel) handshake(ctx context.Context, channelName, authToken string) (*websocket.Conn, string, error) {
	endpoint, err := p.config.Endpoint()
	if err != nil {
		return nil, "", err
	}

	dialer := websocket.Dialer{
		ReadBufferSize:   p.config.ReadBufferSize,
		WriteBufferSize:  p.config.WriteBufferSize,
		HandshakeTimeout: p.config.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	if p.config.ProxyURL != "" {
		proxyURL, err := url.Parse(p.config.ProxyURL)
		if err != nil {
			return nil, "", errors.Wrap(err, "invalid proxy url")
		}
		dialer.Proxy = http.ProxyURL(proxyURL)
	}

	headers := make(http.Header)
	headers.Set("User-Agent", "tradesync/1.0")

	conn, _, err := dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		return nil, "", errors.Wrap(err, "pusher dial")
	}

	deadline := time.Now().Add(p.config.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	socketID, err := awaitEstablished(conn)
	if err != nil {
		conn.Close()
		return nil, "", err
	}

	sub := subscribeData{Channel: channelName}
	if IsPrivateChannel(channelName) {
		auth, err := p.authorize(ctx, socketID, channelName, authToken)
		if err != nil {
			conn.Close()
			return nil, "", err
		}
		sub.Auth = auth
	}

	if err := writeFrame(conn, eventSubscribe, "", sub); err != nil {
		conn.Close()
		return nil, "", errors.Wrap(err, "send subscribe")
	}
	if err := awaitSubscribed(conn, channelName); err != nil {
		conn.Close()
		return nil, "", err
	}

	_ = conn.SetReadDeadline(time.Time{})
	return conn, socketID, nil
}

// authorize 用 bearer token 向后端换取私有频道签名
func (p *PusherChannel) authorize(ctx context.Context, socketID, channelName, authToken string) (string, error) {
	if p.config.AuthEndpoint == "" {
		return "", errors.New("pusher: auth endpoint is required for private channels")
	}

	var out authResponse
	r := p.auth.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"socket_id":    socketID,
			"channel_name": channelName,
		}).
		SetResult(&out)
	if authToken != "" {
		r.SetAuthToken(authToken)
	}

	resp, err := r.Post(p.config.AuthEndpoint)
	if err != nil {
		return "", errors.Wrap(err, "channel auth request")
	}
	if resp.IsError() {
		return "", errors.Errorf("channel auth rejected: status %d", resp.StatusCode())
	}
	if out.Auth == "" {
		return "", errors.New("channel auth response has no signature")
	}
	return out.Auth, nil
}

func awaitEstablished(conn *websocket.Conn) (string, error) {
	for {
		f, err := readFrame(conn)
		if err != nil {
			return "", errors.Wrap(err, "await connection_established")
		}
		switch f.Event {
		case eventConnectionEstablished:
			var est connectionEstablished
			if err := json.Unmarshal(f.payload(), &est); err != nil {
				return "", errors.Wrap(err, "decode connection_established")
			}
			if est.SocketID == "" {
				return "", errors.New("connection_established without socket_id")
			}
			return est.SocketID, nil
		case eventError:
			return "", decodePusherError(f)
		}
	}
}

func awaitSubscribed(conn *websocket.Conn, channelName string) error {
	for {
		f, err := readFrame(conn)
		if err != nil {
			return errors.Wrap(err, "await subscription_succeeded")
		}
		switch f.Event {
		case eventSubscriptionSucceeded:
			if f.Channel == channelName {
				return nil
			}
		case eventSubscriptionError:
			return errors.Errorf("subscription to %s failed: %s", channelName, string(f.payload()))
		case eventError:
			return decodePusherError(f)
		case eventPing:
			_ = writeFrame(conn, eventPong, "", struct{}{})
		}
	}
}

func decodePusherError(f frame) error {
	var pe pusherError
	if err := json.Unmarshal(f.payload(), &pe); err != nil {
		return errors.Errorf("pusher error: %s", string(f.Data))
	}
	return errors.Errorf("pusher error %d: %s", pe.Code, pe.Message)
}

func readFrame(conn *websocket.Conn) (frame, error) {
	var f frame
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return f, err
	}
	if err := json.Unmarshal(msg, &f); err != nil {
		return f, errors.Wrapf(err, "decode frame %q", string(msg))
	}
	return f, nil
}

func writeFrame(conn *websocket.Conn, event, channel string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return conn.WriteJSON(frame{Event: event, Channel: channel, Data: raw})
}

// Subscription 一条已鉴权的频道订阅（独占一条 ws 连接）
type Subscription struct {
	id       string
	channel  string
	token    string
	parent   *PusherChannel
	socketID string

	conn   *websocket.Conn
	connMu sync.Mutex // 保护 conn 替换以及写操作

	handlers   map[string][]Handler
	handlersMu sync.RWMutex

	// errCh 只由 readLoop 写入和关闭
	errCh chan error

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// ID 订阅标识（日志关联用）
func (s *Subscription) ID() string { return s.id }

// Channel 频道名
func (s *Subscription) Channel() string { return s.channel }

// On 注册事件处理器
func (s *Subscription) On(eventName string, handler Handler) {
	if handler == nil {
		return
	}
	s.handlersMu.Lock()
	s.handlers[eventName] = append(s.handlers[eventName], handler)
	s.handlersMu.Unlock()
}

// Errors 异步传输错误；订阅结束时关闭
func (s *Subscription) Errors() <-chan error {
	return s.errCh
}

// Unsubscribe 退订并关闭连接，可重复调用
func (s *Subscription) Unsubscribe() error {
	s.closeOnce.Do(func() {
		s.cancel()

		s.connMu.Lock()
		if s.conn != nil {
			_ = writeFrame(s.conn, eventUnsubscribe, "", subscribeData{Channel: s.channel})
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			s.conn.Close()
		}
		s.connMu.Unlock()

		select {
		case <-s.done:
		case <-time.After(5 * time.Second):
			log.WithField("sub", s.id).Warn("关闭订阅超时")
		}
		log.WithFields(logrus.Fields{"channel": s.channel, "sub": s.id}).Info("频道已退订")
	})
	return nil
}

func (s *Subscription) currentConn() *websocket.Conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn
}

func (s *Subscription) write(event string, data any) error {
	if s.ctx.Err() != nil {
		return ErrSubscriptionClosed
	}
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return ErrSubscriptionClosed
	}
	return writeFrame(s.conn, event, "", data)
}

func (s *Subscription) report(err error) {
	select {
	case s.errCh <- err:
	default:
		log.WithField("sub", s.id).Warnf("错误通道已满，丢弃: %v", err)
	}
}

func (s *Subscription) readTimeout() time.Duration {
	cfg := s.parent.config
	if cfg.PingInterval <= 0 {
		return 0
	}
	return cfg.PingInterval + cfg.PongTimeout
}

// readLoop 读取循环：分发事件，连接失败时按配置重连
func (s *Subscription) readLoop() {
	defer close(s.done)
	defer close(s.errCh)

	for {
		conn := s.currentConn()
		if conn == nil {
			return
		}
		if timeout := s.readTimeout(); timeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(timeout))
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.report(errors.Wrap(err, "pusher connection lost"))

			if !s.parent.config.ReconnectEnabled {
				s.closeConn()
				return
			}
			if err := s.reconnect(); err != nil {
				if s.ctx.Err() == nil {
					s.report(err)
				}
				s.closeConn()
				return
			}
			continue
		}

		var f frame
		if err := json.Unmarshal(msg, &f); err != nil {
			log.WithField("sub", s.id).Debugf("忽略无法解析的消息: %s", string(msg))
			continue
		}
		s.handleFrame(f)
	}
}

func (s *Subscription) handleFrame(f frame) {
	switch f.Event {
	case eventPing:
		_ = s.write(eventPong, struct{}{})
		return
	case eventPong, eventSubscriptionSucceeded, eventConnectionEstablished:
		return
	case eventError:
		s.report(decodePusherError(f))
		return
	}

	if f.Channel != s.channel {
		return
	}

	s.handlersMu.RLock()
	handlers := append([]Handler(nil), s.handlers[f.Event]...)
	s.handlersMu.RUnlock()

	payload := f.payload()
	for _, h := range handlers {
		if err := s.safeCall(h, payload); err != nil {
			log.WithFields(logrus.Fields{"event": f.Event, "sub": s.id}).Warnf("事件处理失败: %v", err)
		}
	}
}

func (s *Subscription) safeCall(h Handler, payload json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(s.ctx, payload)
}

// pingLoop 定期发送 pusher:ping，服务端回 pong 刷新读超时
func (s *Subscription) pingLoop() {
	interval := s.parent.config.PingInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.write(eventPing, struct{}{}); err != nil && !errors.Is(err, ErrSubscriptionClosed) {
				log.WithField("sub", s.id).Debugf("PING 发送失败: %v", err)
			}
		}
	}
}

// reconnect 重连逻辑（线性退避，封顶 MaxReconnectDelay）
func (s *Subscription) reconnect() error {
	cfg := s.parent.config
	s.closeConn()

	for attempt := 1; attempt <= cfg.MaxReconnectAttempts; attempt++ {
		delay := cfg.ReconnectDelay * time.Duration(attempt)
		if delay > cfg.MaxReconnectDelay {
			delay = cfg.MaxReconnectDelay
		}
		log.WithField("sub", s.id).Infof("%v 后重连 (尝试 %d/%d)...", delay, attempt, cfg.MaxReconnectAttempts)

		select {
		case <-s.ctx.Done():
			return ErrSubscriptionClosed
		case <-time.After(delay):
		}

		conn, socketID, err := s.parent.handshake(s.ctx, s.channel, s.token)
		if err != nil {
			log.WithField("sub", s.id).Warnf("重连失败: %v", err)
			continue
		}

		s.connMu.Lock()
		if s.ctx.Err() != nil {
			s.connMu.Unlock()
			conn.Close()
			return ErrSubscriptionClosed
		}
		s.conn = conn
		s.socketID = socketID
		s.connMu.Unlock()

		log.WithFields(logrus.Fields{"sub": s.id, "socket_id": socketID}).Info("✅ 重连成功")
		return nil
	}
	return errors.Errorf("pusher: max reconnect attempts (%d) reached", cfg.MaxReconnectAttempts)
}

func (s *Subscription) closeConn() {
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()
}
