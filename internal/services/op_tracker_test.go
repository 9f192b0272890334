package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/betbot/tradesync/internal/domain"
)

const (
	timeoutShort = 2 * time.Second
	tick         = 5 * time.Millisecond
)

func TestOpKeys(t *testing.T) {
	assert.Equal(t, "place_order:BTC", OpPlaceOrder("btc"))
	assert.Equal(t, "cancel_order:o1", OpCancelOrder("o1"))
	assert.Equal(t, "orderbook:ETH", OpOrderBook(domain.SymbolETH))
}

func TestOpTracker_OverlappingSameKey(t *testing.T) {
	tr := NewOpTracker()
	key := OpOrderBook(domain.SymbolBTC)

	tr.Begin(key)
	tr.Begin(key)
	tr.End(key, nil)
	assert.True(t, tr.Loading(key))

	tr.End(key, errors.New("late failure"))
	st := tr.State(key)
	assert.False(t, st.Loading)
	assert.Zero(t, st.InFlight)
	assert.EqualError(t, st.Err, "late failure")
}

func TestOpTracker_BeginClearsError(t *testing.T) {
	tr := NewOpTracker()
	_ = tr.Track(OpUserOrders, func() error { return errors.New("x") })
	assert.Error(t, tr.Err(OpUserOrders))

	tr.Begin(OpUserOrders)
	assert.NoError(t, tr.Err(OpUserOrders))
	assert.True(t, tr.Loading(OpUserOrders))
}

func TestOpTracker_ResetKeepsInFlight(t *testing.T) {
	tr := NewOpTracker()
	_ = tr.Track(OpProfile, func() error { return errors.New("x") })
	tr.Begin(OpUserOrders)

	tr.Reset()

	snap := tr.Snapshot()
	_, hasProfile := snap[OpProfile]
	assert.False(t, hasProfile)
	assert.True(t, snap[OpUserOrders].Loading)

	tr.End(OpUserOrders, nil)
	assert.False(t, tr.Loading(OpUserOrders))
}

func TestOpTracker_UpdatedSignal(t *testing.T) {
	tr := NewOpTracker()
	ch := tr.Updated()
	tr.Begin("k")
	select {
	case <-ch:
	case <-time.After(timeoutShort):
		t.Fatal("no update signal")
	}
}
