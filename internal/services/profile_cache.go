package services

import (
	"context"
	"sync"

	"github.com/betbot/tradesync/internal/domain"
	"github.com/betbot/tradesync/internal/ports"
	"github.com/betbot/tradesync/pkg/sigchan"
)

// ProfileCache 用户资产快照；拉取到的用户信息经 UserUpdater 写回 SessionStore
type ProfileCache struct {
	api     ports.APIClient
	epochs  ports.EpochSource
	updater ports.UserUpdater

	mu     sync.RWMutex
	assets []domain.Asset

	updated *sigchan.Chan
	discard DiscardObserver
}

func NewProfileCache(api ports.APIClient, epochs ports.EpochSource, updater ports.UserUpdater) *ProfileCache {
	return &ProfileCache{
		api:     api,
		epochs:  epochs,
		updater: updater,
		updated: sigchan.New(1),
	}
}

func (c *ProfileCache) SetDiscardObserver(obs DiscardObserver) {
	c.mu.Lock()
	c.discard = obs
	c.mu.Unlock()
}

// Fetch 拉取 /profile：用户整体替换到会话，资产整体替换。
// 返回 (nil, nil) 表示响应因会话切换被丢弃。
func (c *ProfileCache) Fetch(ctx context.Context) (*domain.Profile, error) {
	issued := c.epochs.Epoch()
	var profile domain.Profile
	if err := c.api.Get(ctx, "/profile", &profile); err != nil {
		return nil, err
	}

	// 不持有 c.mu 调用 updater，避免与会话监听器中的 Reset 互相等待
	if profile.User != nil && c.updater != nil {
		applied, err := c.updater.UpdateUserAt(issued, profile.User)
		if err != nil {
			return nil, err
		}
		if !applied {
			c.reportStale(issued)
			return nil, nil
		}
	}

	assets := append([]domain.Asset(nil), profile.Assets...)
	c.mu.Lock()
	if cur := c.epochs.Epoch(); cur != issued {
		c.mu.Unlock()
		c.reportStale(issued)
		return nil, nil
	}
	c.assets = assets
	c.mu.Unlock()

	c.updated.Emit()
	log.WithField("assets", len(assets)).Debug("资产已更新")

	out := profile
	out.Assets = append([]domain.Asset(nil), assets...)
	return &out, nil
}

func (c *ProfileCache) reportStale(issued uint64) {
	c.mu.RLock()
	obs := c.discard
	c.mu.RUnlock()
	reportDiscard(obs, Discard{Op: OpProfile, Reason: DiscardSessionChanged, IssuedEpoch: issued, CurrentEpoch: c.epochs.Epoch()})
}

// Assets 资产副本
func (c *ProfileCache) Assets() []domain.Asset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.Asset(nil), c.assets...)
}

// AssetBySymbol 按币种查询资产
func (c *ProfileCache) AssetBySymbol(symbol domain.Symbol) (domain.Asset, bool) {
	symbol = symbol.Normalize()
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, a := range c.assets {
		if a.Symbol.Normalize() == symbol {
			return a, true
		}
	}
	return domain.Asset{}, false
}

// UpdateAssets 整体替换资产
func (c *ProfileCache) UpdateAssets(assets []domain.Asset) {
	c.mu.Lock()
	c.assets = append([]domain.Asset(nil), assets...)
	c.mu.Unlock()
	c.updated.Emit()
}

func (c *ProfileCache) Reset() {
	c.mu.Lock()
	c.assets = nil
	c.mu.Unlock()
	c.updated.Emit()
}

func (c *ProfileCache) Updated() <-chan struct{} { return c.updated.C() }
