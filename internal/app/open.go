package app

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/tradesync/internal/ports"
	"github.com/betbot/tradesync/pkg/config"
	"github.com/betbot/tradesync/pkg/kvstore"
	"github.com/betbot/tradesync/pkg/ratelimit"
	sdkhttp "github.com/betbot/tradesync/pkg/sdk/http"
	"github.com/betbot/tradesync/pkg/sdk/websocket"
)

const (
	defaultRetryWait    = 500 * time.Millisecond
	defaultRetryMaxWait = 5 * time.Second
)

// Open 按配置构建具体适配器（resty REST 客户端、Pusher 频道、本地 KV 存储）并创建环境
func Open(cfg *config.Config) (*Environment, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	key, err := kvstore.ParseKey(cfg.Store.EncryptionKey)
	if err != nil {
		return nil, errors.Wrap(err, "parse store encryption key")
	}
	store, err := kvstore.Open(kvstore.Options{
		Driver:        cfg.Store.Driver,
		Path:          cfg.Store.Path,
		EncryptionKey: key,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open session store")
	}

	opts := []sdkhttp.Option{
		sdkhttp.WithTimeout(cfg.API.Timeout),
		sdkhttp.WithRetry(cfg.API.RetryCount, defaultRetryWait, defaultRetryMaxWait),
	}
	if cfg.API.RateLimit > 0 {
		opts = append(opts, sdkhttp.WithLimiter(ratelimit.NewSlidingWindow(cfg.API.RateLimit, cfg.API.RateWindow)))
	}
	client := sdkhttp.NewClient(cfg.API.BaseURL, opts...)

	wsCfg := websocket.DefaultConfig()
	wsCfg.URL = cfg.Realtime.WSURL
	wsCfg.AppKey = cfg.Realtime.AppKey
	wsCfg.Cluster = cfg.Realtime.Cluster
	wsCfg.AuthEndpoint = cfg.Realtime.AuthEndpoint
	wsCfg.ProxyURL = cfg.API.ProxyURL
	wsCfg.ReconnectEnabled = cfg.Realtime.Reconnect
	wsCfg.MaxReconnectAttempts = cfg.Realtime.MaxReconnectAttempts
	if cfg.Realtime.PingInterval > 0 {
		wsCfg.PingInterval = cfg.Realtime.PingInterval
	}

	env := NewEnvironment(Options{
		API:     client,
		Channel: NewPusherAdapter(websocket.NewPusherChannel(wsCfg)),
		Store:   store,
	})
	client.SetTokenSource(env.Session.Token)

	log.WithFields(logrus.Fields{
		"api":   cfg.API.BaseURL,
		"store": cfg.Store.Driver,
	}).Info("环境已创建")
	return env, nil
}

// PusherAdapter 把 websocket.PusherChannel 适配为 ports.RealtimeChannel
type PusherAdapter struct {
	channel *websocket.PusherChannel
}

func NewPusherAdapter(channel *websocket.PusherChannel) *PusherAdapter {
	return &PusherAdapter{channel: channel}
}

func (a *PusherAdapter) Subscribe(ctx context.Context, channelName, authToken string) (ports.Subscription, error) {
	sub, err := a.channel.Subscribe(ctx, channelName, authToken)
	if err != nil {
		return nil, err
	}
	return pusherSubscription{sub}, nil
}

type pusherSubscription struct {
	*websocket.Subscription
}

func (s pusherSubscription) On(eventName string, handler ports.EventHandler) {
	s.Subscription.On(eventName, websocket.Handler(handler))
}
