package services

import "github.com/sirupsen/logrus"

// DiscardReason 过期响应被丢弃的原因
type DiscardReason string

const (
	// DiscardSessionChanged 请求发出后会话已切换（登出/重新登录）
	DiscardSessionChanged DiscardReason = "session_changed"
)

// Discard 一次被丢弃的响应（不是错误，只用于观测）
type Discard struct {
	Op           string
	Reason       DiscardReason
	IssuedEpoch  uint64
	CurrentEpoch uint64
}

// DiscardObserver 过期响应观测钩子（测试/指标使用）
type DiscardObserver func(Discard)

func reportDiscard(obs DiscardObserver, d Discard) {
	log.WithFields(logrus.Fields{
		"op":            d.Op,
		"reason":        d.Reason,
		"issued_epoch":  d.IssuedEpoch,
		"current_epoch": d.CurrentEpoch,
	}).Debug("丢弃过期响应")
	if obs != nil {
		obs(d)
	}
}
