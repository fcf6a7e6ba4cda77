package client

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GBurgardt/interactive-brokers/gateway"
)

// Quote is a resolved live (or delayed) price for a symbol.
type Quote struct {
	Symbol string
	Price  float64
	Field  gateway.TickField
	At     time.Time
}

// interestingFields are the tick fields a quote may resolve from, in the
// order the gateway happens to emit them; everything else is ignored.
var interestingFields = map[gateway.TickField]struct{}{
	gateway.TickLast:         {},
	gateway.TickDelayedLast:  {},
	gateway.TickMark:         {},
	gateway.TickBid:          {},
	gateway.TickAsk:          {},
	gateway.TickClose:        {},
	gateway.TickDelayedClose: {},
}

// QuoteCache resolves live prices. There is no TTL; every Fetch may hit the
// gateway, but concurrent fetches of one symbol share a single request. The
// last resolved price per symbol is kept for the reserved-cash view.
type QuoteCache struct {
	logger  *zap.SugaredLogger
	mux     *Multiplexer
	gw      gateway.Gateway
	timeout time.Duration

	mu   sync.RWMutex
	last map[string]Quote
}

func NewQuoteCache(logger *zap.SugaredLogger, mux *Multiplexer, gw gateway.Gateway, timeout time.Duration) *QuoteCache {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &QuoteCache{
		logger:  logger,
		mux:     mux,
		gw:      gw,
		timeout: timeout,
		last:    make(map[string]Quote),
	}
}

// Fetch resolves on the first interesting tick field with a strictly positive
// price. Delayed data mode is requested first so the call still resolves when
// real-time entitlements are unavailable.
func (c *QuoteCache) Fetch(ctx context.Context, symbol string) (Quote, error) {
	quote, err := do[Quote](ctx, c.mux, Request{
		Kind:    KindQuote,
		Key:     symbol,
		Timeout: c.timeout,
		Issue: func(id int64) error {
			if err := c.gw.RequestMarketDataType(gateway.MarketDataDelayed); err != nil {
				return err
			}
			return c.gw.RequestMarketData(id, gateway.Stock(symbol))
		},
		Cancel: func(id int64) {
			if err := c.gw.CancelMarketData(id); err != nil {
				c.logger.Debugw("cancel market data", "symbol", symbol, "error", err)
			}
		},
		Handle: func(ev any) (any, bool, error) {
			tick, ok := ev.(gateway.TickPrice)
			if !ok {
				return nil, false, nil
			}
			if _, ok := interestingFields[tick.Field]; !ok {
				return nil, false, nil
			}
			if tick.Price <= 0 {
				return nil, false, nil
			}
			return Quote{Symbol: symbol, Price: tick.Price, Field: tick.Field, At: time.Now()}, true, nil
		},
	})
	if err != nil {
		return Quote{}, err
	}

	c.mu.Lock()
	c.last[symbol] = quote
	c.mu.Unlock()
	return quote, nil
}

// LastKnown returns the most recently resolved price for a symbol, if any.
func (c *QuoteCache) LastKnown(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.last[symbol]
	return q.Price, ok
}
