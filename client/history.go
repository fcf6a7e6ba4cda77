package client

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GBurgardt/interactive-brokers/gateway"
)

// Period maps a display period to the gateway's duration/barSize pair.
type Period struct {
	Duration string
	BarSize  string
}

// Periods supported by the application, matching the chart screens.
var Periods = map[string]Period{
	"1W": {Duration: "1 W", BarSize: "1 hour"},
	"1M": {Duration: "1 M", BarSize: "1 day"},
	"3M": {Duration: "3 M", BarSize: "1 day"},
	"6M": {Duration: "6 M", BarSize: "1 day"},
	"1Y": {Duration: "1 Y", BarSize: "1 day"},
}

const DefaultPeriod = "3M"

type histKey struct {
	symbol string
	period string
}

type seriesEntry struct {
	bars       []gateway.Bar
	insertedAt time.Time
}

// HistoricalSeriesCache resolves ordered bar series per (symbol, period),
// cached with a TTL. The gateway streams bars one event at a time and may
// signal completion either with a sentinel "finished..." bar or a separate
// end event; both are accepted.
type HistoricalSeriesCache struct {
	logger  *zap.SugaredLogger
	mux     *Multiplexer
	gw      gateway.Gateway
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time

	mu    sync.RWMutex
	cache map[histKey]seriesEntry
}

func NewHistoricalSeriesCache(logger *zap.SugaredLogger, mux *Multiplexer, gw gateway.Gateway, ttl, timeout time.Duration) *HistoricalSeriesCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HistoricalSeriesCache{
		logger:  logger,
		mux:     mux,
		gw:      gw,
		ttl:     ttl,
		timeout: timeout,
		now:     time.Now,
		cache:   make(map[histKey]seriesEntry),
	}
}

// Fetch returns the bar series for (symbol, period), ascending by date. A
// fresh cache entry short-circuits the gateway entirely; a stale one is
// refreshed, not served.
func (c *HistoricalSeriesCache) Fetch(ctx context.Context, symbol, period string) ([]gateway.Bar, error) {
	p, ok := Periods[period]
	if !ok {
		return nil, fmt.Errorf("unsupported period %q", period)
	}
	var key = histKey{symbol: symbol, period: period}

	c.mu.RLock()
	entry, cached := c.cache[key]
	c.mu.RUnlock()
	if cached {
		if c.now().Sub(entry.insertedAt) <= c.ttl {
			mtxSeriesCache.WithLabelValues("hit").Inc()
			return entry.bars, nil
		}
		mtxSeriesCache.WithLabelValues("stale").Inc()
	} else {
		mtxSeriesCache.WithLabelValues("miss").Inc()
	}

	var bars []gateway.Bar
	result, err := do[[]gateway.Bar](ctx, c.mux, Request{
		Kind:    KindHistory,
		Key:     symbol + "-" + period,
		Timeout: c.timeout,
		Issue: func(id int64) error {
			return c.gw.RequestHistoricalData(id, gateway.Stock(symbol), p.Duration, p.BarSize)
		},
		Handle: func(ev any) (any, bool, error) {
			switch e := ev.(type) {
			case gateway.HistoricalBar:
				if strings.HasPrefix(e.Bar.Date, "finished") {
					return sortBars(bars), true, nil
				}
				bars = append(bars, e.Bar)
			case gateway.HistoricalDone:
				return sortBars(bars), true, nil
			}
			return nil, false, nil
		},
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = seriesEntry{bars: result, insertedAt: c.now()}
	c.mu.Unlock()
	c.logger.Debugw("historical series cached", "symbol", symbol, "period", period, "bars", len(result))
	return result, nil
}

// sortBars orders ascending by date; the gateway does not guarantee emission
// order.
func sortBars(bars []gateway.Bar) []gateway.Bar {
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Date < bars[j].Date
	})
	return bars
}

// LastClose returns the close of the most recent bar among fresh cache
// entries for the symbol, any period. It is the fallback price source of the
// reserved-cash calculation.
func (c *HistoricalSeriesCache) LastClose(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var best gateway.Bar
	var found bool
	for key, entry := range c.cache {
		if key.symbol != symbol || len(entry.bars) == 0 {
			continue
		}
		if c.now().Sub(entry.insertedAt) > c.ttl {
			continue
		}
		var last = entry.bars[len(entry.bars)-1]
		if !found || last.Date > best.Date {
			best = last
			found = true
		}
	}
	if !found {
		return 0, false
	}
	return best.Close, true
}
