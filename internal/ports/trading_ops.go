package ports

import (
	"context"

	"github.com/betbot/tradesync/internal/domain"
)

// Small capability interfaces shared across layers (facade/caches/app).

type OrderBookFetcher interface {
	// Fetch replaces the cached book for symbol wholesale.
	Fetch(ctx context.Context, symbol domain.Symbol) (*domain.OrderBook, error)
}

type UserOrdersFetcher interface {
	// Fetch replaces the cached user order collection wholesale.
	Fetch(ctx context.Context) ([]domain.Order, error)
}

type ProfileFetcher interface {
	Fetch(ctx context.Context) (*domain.Profile, error)
}
