// Package websocket 提供 Pusher 协议（protocol 7）的实时频道客户端
// 支持私有频道鉴权（bearer token 换取 channel auth）、心跳与断线重连
package websocket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// Pusher 协议版本
	protocolVersion = 7

	// 重连设置
	defaultReconnectDelay    = 2 * time.Second
	defaultMaxReconnectDelay = 30 * time.Second
	defaultPingInterval      = 30 * time.Second
	defaultPongTimeout       = 30 * time.Second

	defaultErrorBufferSize = 16
)

// 协议事件
const (
	eventConnectionEstablished = "pusher:connection_established"
	eventError                 = "pusher:error"
	eventPing                  = "pusher:ping"
	eventPong                  = "pusher:pong"
	eventSubscribe             = "pusher:subscribe"
	eventUnsubscribe           = "pusher:unsubscribe"
	eventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	eventSubscriptionError     = "pusher:subscription_error"
)

// Config 是 Pusher 客户端配置
type Config struct {
	// 直接指定 ws 地址（测试/自建 soketi 使用）；为空时由 AppKey+Cluster 拼出官方地址
	URL     string
	AppKey  string
	Cluster string

	// 私有频道鉴权地址，例如 https://api.example.com/broadcasting/auth
	AuthEndpoint string

	// 代理设置
	ProxyURL string

	// 重连设置
	ReconnectEnabled     bool
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int

	// 心跳设置
	PingInterval time.Duration
	PongTimeout  time.Duration

	ErrorBufferSize int

	// 连接设置
	ReadBufferSize   int
	WriteBufferSize  int
	HandshakeTimeout time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Cluster:              "mt1",
		ReconnectEnabled:     true,
		ReconnectDelay:       defaultReconnectDelay,
		MaxReconnectDelay:    defaultMaxReconnectDelay,
		MaxReconnectAttempts: 10,
		PingInterval:         defaultPingInterval,
		PongTimeout:          defaultPongTimeout,
		ErrorBufferSize:      defaultErrorBufferSize,
		ReadBufferSize:       4096,
		WriteBufferSize:      4096,
		HandshakeTimeout:     15 * time.Second,
	}
}

// Endpoint 返回 ws 连接地址
func (c *Config) Endpoint() (string, error) {
	if c.URL != "" {
		return c.URL, nil
	}
	if c.AppKey == "" {
		return "", fmt.Errorf("pusher app key is required")
	}
	cluster := c.Cluster
	if cluster == "" {
		cluster = "mt1"
	}
	q := url.Values{}
	q.Set("protocol", fmt.Sprint(protocolVersion))
	q.Set("client", "tradesync-go")
	q.Set("version", "1.0")
	q.Set("flash", "false")
	return fmt.Sprintf("wss://ws-%s.pusher.com/app/%s?%s", cluster, url.PathEscape(c.AppKey), q.Encode()), nil
}

// IsPrivateChannel private-/presence- 频道需要鉴权
func IsPrivateChannel(name string) bool {
	return strings.HasPrefix(name, "private-") || strings.HasPrefix(name, "presence-")
}

// frame 是 Pusher 线上消息
type frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// payload 返回事件数据：Pusher 的 data 通常是 JSON 编码后的字符串，这里统一还原成 JSON
func (f frame) payload() json.RawMessage {
	d := bytes.TrimSpace(f.Data)
	if len(d) == 0 {
		return nil
	}
	if d[0] == '"' {
		var s string
		if err := json.Unmarshal(d, &s); err == nil {
			return json.RawMessage(s)
		}
	}
	return json.RawMessage(d)
}

type connectionEstablished struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

type pusherError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type subscribeData struct {
	Channel string `json:"channel"`
	Auth    string `json:"auth,omitempty"`
}

type authResponse struct {
	Auth string `json:"auth"`
}
