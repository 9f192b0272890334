package app

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/tradesync/internal/domain"
	"github.com/betbot/tradesync/internal/ports"
	"github.com/betbot/tradesync/internal/services"
	"github.com/betbot/tradesync/pkg/syncgroup"
)

var log = logrus.WithField("component", "environment")

// Options 环境依赖（全部为窄接口，测试可替换）
type Options struct {
	API     ports.APIClient
	Channel ports.RealtimeChannel
	Store   ports.KeyValueStore

	// ChannelNamer 由用户 ID 生成私有频道名，默认 private-user.{id}
	ChannelNamer func(userID string) string

	// RefreshTimeout 成交推送触发的后台刷新超时
	RefreshTimeout time.Duration
}

// Environment 组合根：持有会话、缓存、实时频道与交易编排，并负责它们之间的联动
type Environment struct {
	Session  *services.SessionStore
	Books    *services.OrderBookCache
	Orders   *services.UserOrderCache
	Profile  *services.ProfileCache
	Realtime *services.RealtimeSession
	Trading  *services.TradingFacade
	Ops      *services.OpTracker

	store          ports.KeyValueStore
	channelName    func(userID string) string
	refreshTimeout time.Duration

	// 后台刷新（成交推送触发）
	bg       *syncgroup.SyncGroup
	bgCtx    context.Context
	bgCancel context.CancelFunc

	closeOnce sync.Once
}

// NewEnvironment 创建环境并完成组件之间的接线
func NewEnvironment(opts Options) *Environment {
	namer := opts.ChannelNamer
	if namer == nil {
		namer = domain.UserChannelName
	}
	timeout := opts.RefreshTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	session := services.NewSessionStore(opts.API, opts.Store)
	books := services.NewOrderBookCache(opts.API, session)
	orders := services.NewUserOrderCache(opts.API, session)
	profile := services.NewProfileCache(opts.API, session, session)
	ops := services.NewOpTracker()

	bgCtx, bgCancel := context.WithCancel(context.Background())
	e := &Environment{
		Session:        session,
		Books:          books,
		Orders:         orders,
		Profile:        profile,
		Realtime:       services.NewRealtimeSession(opts.Channel),
		Trading:        services.NewTradingFacade(opts.API, orders, books, profile, ops),
		Ops:            ops,
		store:          opts.Store,
		channelName:    namer,
		refreshTimeout: timeout,
		bg:             syncgroup.NewSyncGroup(),
		bgCtx:          bgCtx,
		bgCancel:       bgCancel,
	}

	session.AddListener(&sessionBridge{env: e})
	e.Realtime.OnEvent(domain.EventOrderStatus, e.handleOrderStatus)
	e.Realtime.OnEvent(domain.EventOrderMatched, e.handleOrderMatched)
	return e
}

// Bootstrap 从本地存储恢复会话；恢复成功会同步触发订阅
func (e *Environment) Bootstrap(ctx context.Context) error {
	return e.Session.Initialize(ctx)
}

// Refresh 拉取用户订单、资产以及指定 symbol 的订单簿，返回第一个错误
func (e *Environment) Refresh(ctx context.Context, symbols ...domain.Symbol) error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if e.Session.IsAuthenticated() {
		_, err := e.Trading.FetchUserOrders(ctx)
		keep(err)
		_, err = e.Trading.FetchProfile(ctx)
		keep(err)
	}
	for _, sym := range symbols {
		_, err := e.Trading.FetchOrderBook(ctx, sym)
		keep(errors.Wrapf(err, "fetch order book %s", sym))
	}
	return first
}

// Close 拆除实时订阅、等待后台刷新结束并关闭存储
func (e *Environment) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.Realtime.Stop()
		e.bgCancel()
		e.bg.CloseAndWait()
		if c, ok := e.store.(io.Closer); ok {
			err = c.Close()
		}
		log.Info("环境已关闭")
	})
	return err
}

func (e *Environment) resetCaches() {
	e.Books.Reset()
	e.Orders.Reset()
	e.Profile.Reset()
	e.Ops.Reset()
}

// sessionBridge 把会话变化转成缓存清理与频道切换
type sessionBridge struct {
	env *Environment
}

func (b *sessionBridge) OnSessionEstablished(ctx context.Context, session domain.Session) {
	e := b.env
	e.resetCaches()

	channel := e.channelName(session.User.ID)
	if err := e.Realtime.Start(ctx, channel, session.Token); err != nil {
		// 订阅失败不影响会话本身，状态由 Realtime.Degraded 暴露
		log.WithFields(logrus.Fields{"channel": channel, "epoch": e.Session.Epoch()}).Errorf("❌ 订阅私有频道失败: %v", err)
		return
	}
	log.WithFields(logrus.Fields{"channel": channel, "epoch": e.Session.Epoch()}).Info("已订阅私有频道")
}

func (b *sessionBridge) OnSessionEnded(ctx context.Context) {
	e := b.env
	e.Realtime.Stop()
	e.resetCaches()
	log.WithField("epoch", e.Session.Epoch()).Info("会话结束，缓存已清空")
}

func (e *Environment) handleOrderStatus(ctx context.Context, payload json.RawMessage) error {
	var evt domain.OrderStatusEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return errors.Wrap(err, "decode order.status")
	}
	if evt.OrderID == "" {
		return errors.New("order.status without order_id")
	}
	if !e.Orders.ApplyStatusEvent(evt.OrderID, evt.Status) {
		log.WithField("order_id", evt.OrderID).Debug("订单不在缓存中，忽略状态推送")
	}
	return nil
}

func (e *Environment) handleOrderMatched(ctx context.Context, payload json.RawMessage) error {
	var evt domain.OrderMatchedEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return errors.Wrap(err, "decode order.matched")
	}
	if user := e.Session.User(); user != nil && !evt.Involves(user.ID) {
		log.WithField("trade_id", evt.TradeID).Debug("成交与当前用户无关，忽略")
		return nil
	}

	log.WithFields(logrus.Fields{
		"trade_id": evt.TradeID,
		"symbol":   evt.Symbol,
		"price":    evt.Price.String(),
		"amount":   evt.Amount.String(),
	}).Info("💰 收到成交推送，后台刷新")

	symbol := evt.Symbol.Normalize()
	e.spawn(func(ctx context.Context) {
		if _, err := e.Trading.FetchUserOrders(ctx); err != nil {
			log.Warnf("成交后刷新用户订单失败: %v", err)
		}
		if _, err := e.Trading.FetchProfile(ctx); err != nil {
			log.Warnf("成交后刷新资产失败: %v", err)
		}
		if symbol != "" && e.Books.Has(symbol) {
			if _, err := e.Trading.FetchOrderBook(ctx, symbol); err != nil {
				log.WithField("symbol", symbol).Warnf("成交后刷新订单簿失败: %v", err)
			}
		}
	})
	return nil
}

// spawn 在环境生命周期内执行后台任务
func (e *Environment) spawn(fn func(ctx context.Context)) {
	e.bg.Go(func() {
		ctx, cancel := context.WithTimeout(e.bgCtx, e.refreshTimeout)
		defer cancel()
		fn(ctx)
	})
}
