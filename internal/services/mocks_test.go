package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/betbot/tradesync/internal/domain"
	"github.com/betbot/tradesync/internal/ports"
)

// MockAPIClient 按 "METHOD path" 返回预置响应
type MockAPIClient struct {
	mu sync.Mutex

	// Responses 固定响应；Queue 中有数据时优先按调用顺序取出
	Responses map[string]any
	Queue     map[string][]any

	// Gates 每次调用按顺序取一个 gate，阻塞直到 gate 关闭
	Gates map[string][]chan struct{}

	// Started 调用开始时写入 key（可选）
	Started chan string

	// Call tracking
	Calls  map[string]int
	Log    []string
	Bodies map[string][]any

	// Error injection
	ErrorOnNext map[string]error
}

func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{
		Responses:   make(map[string]any),
		Queue:       make(map[string][]any),
		Gates:       make(map[string][]chan struct{}),
		Calls:       make(map[string]int),
		Bodies:      make(map[string][]any),
		ErrorOnNext: make(map[string]error),
	}
}

func (m *MockAPIClient) Get(ctx context.Context, path string, out any) error {
	return m.do(ctx, "GET "+path, nil, out)
}

func (m *MockAPIClient) Post(ctx context.Context, path string, body any, out any) error {
	return m.do(ctx, "POST "+path, body, out)
}

func (m *MockAPIClient) do(ctx context.Context, key string, body any, out any) error {
	m.mu.Lock()
	m.Calls[key]++
	m.Log = append(m.Log, key)
	m.Bodies[key] = append(m.Bodies[key], body)

	var resp any
	if q := m.Queue[key]; len(q) > 0 {
		resp = q[0]
		m.Queue[key] = q[1:]
	} else {
		resp = m.Responses[key]
	}
	var gate chan struct{}
	if g := m.Gates[key]; len(g) > 0 {
		gate = g[0]
		m.Gates[key] = g[1:]
	}
	err, hasErr := m.ErrorOnNext[key]
	if hasErr {
		delete(m.ErrorOnNext, key)
	}
	started := m.Started
	m.mu.Unlock()

	if started != nil {
		started <- key
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if hasErr {
		return err
	}
	if out == nil || resp == nil {
		return nil
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (m *MockAPIClient) CallCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[key]
}

func (m *MockAPIClient) CallLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Log...)
}

func (m *MockAPIClient) SetResponse(key string, resp any) {
	m.mu.Lock()
	m.Responses[key] = resp
	m.mu.Unlock()
}

func (m *MockAPIClient) SetError(key string, err error) {
	m.mu.Lock()
	m.ErrorOnNext[key] = err
	m.mu.Unlock()
}

func (m *MockAPIClient) AddGate(key string) chan struct{} {
	g := make(chan struct{})
	m.mu.Lock()
	m.Gates[key] = append(m.Gates[key], g)
	m.mu.Unlock()
	return g
}

// MockStore 内存键值存储，支持按 "op:key" 注入错误
type MockStore struct {
	mu   sync.Mutex
	Data map[string]string

	Calls       map[string]int
	ErrorOnNext map[string]error
}

func NewMockStore() *MockStore {
	return &MockStore{
		Data:        make(map[string]string),
		Calls:       make(map[string]int),
		ErrorOnNext: make(map[string]error),
	}
}

func (s *MockStore) trackCall(name string) error {
	s.Calls[name]++
	if err, ok := s.ErrorOnNext[name]; ok {
		delete(s.ErrorOnNext, name)
		return err
	}
	return nil
}

func (s *MockStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.trackCall("get:" + key); err != nil {
		return "", false, err
	}
	v, ok := s.Data[key]
	return v, ok, nil
}

func (s *MockStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.trackCall("set:" + key); err != nil {
		return err
	}
	s.Data[key] = value
	return nil
}

func (s *MockStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.trackCall("delete:" + key); err != nil {
		return err
	}
	delete(s.Data, key)
	return nil
}

func (s *MockStore) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.Data))
	for k, v := range s.Data {
		out[k] = v
	}
	return out
}

// MockChannel 记录订阅/退订顺序
type MockChannel struct {
	mu   sync.Mutex
	Subs []*MockSubscription
	Log  []string

	ErrorOnNext error
}

func NewMockChannel() *MockChannel { return &MockChannel{} }

func (c *MockChannel) Subscribe(ctx context.Context, channelName, authToken string) (ports.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Log = append(c.Log, "subscribe:"+authToken)
	if err := c.ErrorOnNext; err != nil {
		c.ErrorOnNext = nil
		return nil, err
	}
	sub := &MockSubscription{
		parent:   c,
		Channel:  channelName,
		Token:    authToken,
		handlers: make(map[string][]ports.EventHandler),
		errs:     make(chan error, 4),
	}
	c.Subs = append(c.Subs, sub)
	return sub, nil
}

func (c *MockChannel) record(entry string) {
	c.mu.Lock()
	c.Log = append(c.Log, entry)
	c.mu.Unlock()
}

// Live 未退订的订阅数
func (c *MockChannel) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.Subs {
		if !s.Closed() {
			n++
		}
	}
	return n
}

func (c *MockChannel) Last() *MockSubscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Subs) == 0 {
		return nil
	}
	return c.Subs[len(c.Subs)-1]
}

func (c *MockChannel) CallLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.Log...)
}

type MockSubscription struct {
	parent  *MockChannel
	Channel string
	Token   string

	mu       sync.Mutex
	handlers map[string][]ports.EventHandler
	errs     chan error
	closed   bool
}

func (s *MockSubscription) On(eventName string, handler ports.EventHandler) {
	s.mu.Lock()
	s.handlers[eventName] = append(s.handlers[eventName], handler)
	s.mu.Unlock()
}

func (s *MockSubscription) Unsubscribe() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.errs)
	s.mu.Unlock()
	s.parent.record("unsubscribe:" + s.Token)
	return nil
}

func (s *MockSubscription) Errors() <-chan error { return s.errs }

func (s *MockSubscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *MockSubscription) HandlerCount(eventName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers[eventName])
}

// Deliver 模拟服务端推送（即使已退订也会调用，用于验证过期事件被丢弃）
func (s *MockSubscription) Deliver(eventName string, payload any) {
	raw, _ := json.Marshal(payload)
	s.mu.Lock()
	handlers := append([]ports.EventHandler(nil), s.handlers[eventName]...)
	s.mu.Unlock()
	for _, h := range handlers {
		_ = h(context.Background(), raw)
	}
}

// Fail 模拟异步传输错误
func (s *MockSubscription) Fail(err error) {
	s.errs <- err
}

// recordingListener 记录会话事件，并在回调中检查不变量
type recordingListener struct {
	t     *testing.T
	store *SessionStore

	mu     sync.Mutex
	events []string
}

func (l *recordingListener) OnSessionEstablished(ctx context.Context, s domain.Session) {
	assert.True(l.t, s.Valid())
	assert.True(l.t, l.store.Session().Valid())
	l.mu.Lock()
	l.events = append(l.events, "established:"+s.Token)
	l.mu.Unlock()
}

func (l *recordingListener) OnSessionEnded(ctx context.Context) {
	assert.True(l.t, l.store.Session().Empty())
	l.mu.Lock()
	l.events = append(l.events, "ended")
	l.mu.Unlock()
}

func (l *recordingListener) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func testUser(id string) *domain.User {
	return &domain.User{ID: id, Name: "user " + id, Email: id + "@example.com", Balance: decimal.RequireFromString("1000.50")}
}

func authResponse(id, token string) domain.AuthResult {
	return domain.AuthResult{User: testUser(id), Token: token}
}

func testOrder(id string, symbol domain.Symbol, side domain.Side, status domain.OrderStatus) domain.Order {
	return domain.Order{
		ID:     id,
		Symbol: symbol,
		Side:   side,
		Price:  decimal.RequireFromString("100"),
		Amount: decimal.RequireFromString("0.5"),
		Total:  decimal.RequireFromString("50"),
		Status: status,
	}
}

// fixedEpoch 测试用的可控会话代号
type fixedEpoch struct {
	mu sync.Mutex
	v  uint64
}

func (e *fixedEpoch) Epoch() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.v
}

func (e *fixedEpoch) Bump() {
	e.mu.Lock()
	e.v++
	e.mu.Unlock()
}
