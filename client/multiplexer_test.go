package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GBurgardt/interactive-brokers/gateway"
)

// fakeGateway is the in-memory gateway the client tests script against. Hooks
// run synchronously inside the request they answer, which keeps tests
// deterministic without sleeps.
type fakeGateway struct {
	events *gateway.EventManager

	mu        sync.Mutex
	calls     []string
	cancelled []int64

	onRequestIDs      func()
	onMarketData      func(id int64, contract gateway.Contract)
	onHistoricalData  func(id int64, contract gateway.Contract, duration, barSize string)
	onAccountSummary  func(id int64)
	onPositions       func()
	onPlaceOrder      func(id int64, contract gateway.Contract, order gateway.OrderSpec)
	placeOrderErr     error
	lastOrderContract gateway.Contract
	lastOrderSpec     gateway.OrderSpec
}

var _ gateway.Gateway = (*fakeGateway)(nil)

func newFakeGateway() *fakeGateway {
	return &fakeGateway{events: gateway.NewEventManager()}
}

func (g *fakeGateway) record(call string) {
	g.mu.Lock()
	g.calls = append(g.calls, call)
	g.mu.Unlock()
}

func (g *fakeGateway) callCount(call string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	var n int
	for _, c := range g.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (g *fakeGateway) Connect(context.Context) error       { g.record("connect"); return nil }
func (g *fakeGateway) Close() error                        { g.record("close"); return nil }
func (g *fakeGateway) Events() gateway.Subscriber          { return g.events }
func (g *fakeGateway) RequestManagedAccounts() error       { g.record("managedAccounts"); return nil }
func (g *fakeGateway) RequestMarketDataType(gateway.MarketDataMode) error {
	g.record("marketDataType")
	return nil
}

func (g *fakeGateway) RequestIDs() error {
	g.record("reqIds")
	if g.onRequestIDs != nil {
		g.onRequestIDs()
	}
	return nil
}

func (g *fakeGateway) RequestMarketData(id int64, contract gateway.Contract) error {
	g.record("marketData")
	if g.onMarketData != nil {
		g.onMarketData(id, contract)
	}
	return nil
}

func (g *fakeGateway) CancelMarketData(id int64) error {
	g.mu.Lock()
	g.cancelled = append(g.cancelled, id)
	g.mu.Unlock()
	return nil
}

func (g *fakeGateway) RequestHistoricalData(id int64, contract gateway.Contract, duration, barSize string) error {
	g.record("historicalData")
	if g.onHistoricalData != nil {
		g.onHistoricalData(id, contract, duration, barSize)
	}
	return nil
}

func (g *fakeGateway) RequestAccountSummary(id int64, group string, tags []string) error {
	g.record("accountSummary")
	if g.onAccountSummary != nil {
		g.onAccountSummary(id)
	}
	return nil
}

func (g *fakeGateway) CancelAccountSummary(id int64) error {
	g.mu.Lock()
	g.cancelled = append(g.cancelled, id)
	g.mu.Unlock()
	return nil
}

func (g *fakeGateway) RequestPositions() error {
	g.record("positions")
	if g.onPositions != nil {
		g.onPositions()
	}
	return nil
}

func (g *fakeGateway) CancelPositions() error {
	g.record("cancelPositions")
	return nil
}

func (g *fakeGateway) PlaceOrder(id int64, contract gateway.Contract, order gateway.OrderSpec) error {
	g.record("placeOrder")
	g.mu.Lock()
	g.lastOrderContract = contract
	g.lastOrderSpec = order
	g.mu.Unlock()
	if g.placeOrderErr != nil {
		return g.placeOrderErr
	}
	if g.onPlaceOrder != nil {
		g.onPlaceOrder(id, contract, order)
	}
	return nil
}

func newTestMux(t *testing.T) (*fakeGateway, *gateway.Session, *Multiplexer) {
	t.Helper()
	var logger = zap.NewNop().Sugar()
	var gw = newFakeGateway()
	var session = gateway.NewSession(logger, gw, time.Second)
	var mux = NewMultiplexer(logger, session, nil)
	t.Cleanup(mux.Close)
	return gw, session, mux
}

func TestMultiplexerResolvesOnEvent(t *testing.T) {
	gw, _, mux := newTestMux(t)

	res, err := mux.Do(context.Background(), Request{
		Kind: KindQuote,
		Key:  "AAPL",
		Issue: func(id int64) error {
			gw.events.Publish(gateway.TickPrice{ReqID: id, Field: gateway.TickLast, Price: 187.5})
			return nil
		},
		Handle: func(ev any) (any, bool, error) {
			tick, ok := ev.(gateway.TickPrice)
			if !ok {
				return nil, false, nil
			}
			return tick.Price, true, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 187.5, res)
	assert.Equal(t, 0, mux.PendingCount())
}

func TestMultiplexerDedup(t *testing.T) {
	gw, _, mux := newTestMux(t)

	var issued int64
	var issues int
	var request = Request{
		Kind: KindQuote,
		Key:  "AAPL",
		Issue: func(id int64) error {
			issued = id
			issues++
			return nil
		},
		Handle: func(ev any) (any, bool, error) {
			return ev.(gateway.TickPrice).Price, true, nil
		},
	}

	var first = make(chan any, 1)
	go func() {
		res, err := mux.Do(context.Background(), request)
		assert.NoError(t, err)
		first <- res
	}()
	require.Eventually(t, func() bool { return mux.PendingCount() == 1 },
		time.Second, time.Millisecond)

	var before = testutil.ToFloat64(mtxDedup.WithLabelValues(string(KindQuote)))
	var second = make(chan any, 1)
	go func() {
		res, err := mux.Do(context.Background(), request)
		assert.NoError(t, err)
		second <- res
	}()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(mtxDedup.WithLabelValues(string(KindQuote))) > before
	}, time.Second, time.Millisecond)

	gw.events.Publish(gateway.TickPrice{ReqID: issued, Field: gateway.TickLast, Price: 42.0})

	assert.Equal(t, 42.0, <-first)
	assert.Equal(t, 42.0, <-second)
	assert.Equal(t, 1, issues, "one request in flight per (kind, key)")
	assert.Equal(t, 0, mux.PendingCount())
}

func TestMultiplexerCorrelationIsolation(t *testing.T) {
	gw, _, mux := newTestMux(t)

	var request = func(key string, issued chan<- int64, out chan<- any) {
		res, err := mux.Do(context.Background(), Request{
			Kind:  KindQuote,
			Key:   key,
			Issue: func(id int64) error { issued <- id; return nil },
			Handle: func(ev any) (any, bool, error) {
				return ev.(gateway.TickPrice).Price, true, nil
			},
		})
		assert.NoError(t, err)
		out <- res
	}

	var aaplID = make(chan int64, 1)
	var msftID = make(chan int64, 1)
	var aapl = make(chan any, 1)
	var msft = make(chan any, 1)
	go request("AAPL", aaplID, aapl)
	go request("MSFT", msftID, msft)

	// Settling MSFT leaves AAPL untouched.
	gw.events.Publish(gateway.TickPrice{ReqID: <-msftID, Field: gateway.TickLast, Price: 410.0})
	assert.Equal(t, 410.0, <-msft)
	assert.Equal(t, 1, mux.PendingCount())

	gw.events.Publish(gateway.TickPrice{ReqID: <-aaplID, Field: gateway.TickLast, Price: 187.5})
	assert.Equal(t, 187.5, <-aapl)
	assert.Equal(t, 0, mux.PendingCount())
}

func TestMultiplexerTimeout(t *testing.T) {
	gw, _, mux := newTestMux(t)

	var issued int64
	_, err := mux.Do(context.Background(), Request{
		Kind:    KindQuote,
		Key:     "AAPL",
		Timeout: 20 * time.Millisecond,
		Issue:   func(id int64) error { issued = id; return nil },
		Cancel:  func(id int64) { gw.CancelMarketData(id) },
		Handle: func(ev any) (any, bool, error) {
			return nil, false, nil
		},
	})

	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, KindQuote, timeout.Kind)
	assert.Equal(t, "AAPL", timeout.Key)
	assert.Equal(t, 0, mux.PendingCount())
	assert.Contains(t, gw.cancelled, issued)

	// A late event for the expired id is dropped silently.
	gw.events.Publish(gateway.TickPrice{ReqID: issued, Field: gateway.TickLast, Price: 187.5})
	assert.Equal(t, 0, mux.PendingCount())
}

func TestMultiplexerOnTimeout(t *testing.T) {
	_, _, mux := newTestMux(t)

	res, err := mux.Do(context.Background(), Request{
		Kind:    KindOrder,
		Key:     "1",
		Timeout: 10 * time.Millisecond,
		Issue:   func(int64) error { return nil },
		Handle: func(ev any) (any, bool, error) {
			return nil, false, nil
		},
		OnTimeout: func() (any, error) {
			return "still working", nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "still working", res)
}

func TestMultiplexerNoticeHandling(t *testing.T) {
	gw, _, mux := newTestMux(t)

	var issued int64
	var done = make(chan struct{})
	var resErr error
	go func() {
		defer close(done)
		_, resErr = mux.Do(context.Background(), Request{
			Kind:  KindHistory,
			Key:   "AAPL-3M",
			Issue: func(id int64) error { issued = id; return nil },
			Handle: func(ev any) (any, bool, error) {
				return nil, false, nil
			},
		})
	}()
	require.Eventually(t, func() bool { return mux.PendingCount() == 1 },
		time.Second, time.Millisecond)

	// Informational notices never settle anything.
	gw.events.Publish(gateway.Notice{ReqID: issued, Code: 2104, Message: "market data farm ok"})
	gw.events.Publish(gateway.Notice{ReqID: gateway.NoReqID, Code: 2158, Message: "sec-def farm ok"})
	assert.Equal(t, 1, mux.PendingCount())

	// A fatal notice correlated to the request rejects exactly that request.
	gw.events.Publish(gateway.Notice{ReqID: issued, Code: 162, Message: "historical data query cancelled"})
	<-done

	var gwErr *GatewayError
	require.ErrorAs(t, resErr, &gwErr)
	assert.Equal(t, 162, gwErr.Code)
	assert.Equal(t, 0, mux.PendingCount())
}

func TestMultiplexerIssueFailure(t *testing.T) {
	_, _, mux := newTestMux(t)

	var boom = errors.New("wire closed")
	_, err := mux.Do(context.Background(), Request{
		Kind:  KindQuote,
		Key:   "AAPL",
		Issue: func(int64) error { return boom },
		Handle: func(ev any) (any, bool, error) {
			return nil, false, nil
		},
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, mux.PendingCount())
}

func TestMultiplexerUncorrelatedFIFO(t *testing.T) {
	gw, _, mux := newTestMux(t)

	var handle = func(ev any) (any, bool, error) {
		if e, ok := ev.(gateway.NextValidID); ok {
			return e.ID, true, nil
		}
		return nil, false, nil
	}
	var results = make(chan any, 2)
	var submit = func(key string) {
		res, err := mux.Do(context.Background(), Request{
			Kind:         KindOrderID,
			Key:          key,
			Uncorrelated: true,
			Issue:        func(int64) error { return nil },
			Handle:       handle,
		})
		assert.NoError(t, err)
		results <- res
	}
	go submit("a")
	require.Eventually(t, func() bool { return mux.PendingCount() == 1 },
		time.Second, time.Millisecond)
	go submit("b")
	require.Eventually(t, func() bool { return mux.PendingCount() == 2 },
		time.Second, time.Millisecond)

	// Ids are consumed in registration order, one per waiter.
	gw.events.Publish(gateway.NextValidID{ID: 100})
	assert.Equal(t, int64(100), <-results)
	gw.events.Publish(gateway.NextValidID{ID: 101})
	assert.Equal(t, int64(101), <-results)
	assert.Equal(t, 0, mux.PendingCount())
}

func TestMultiplexerClose(t *testing.T) {
	gw, _, mux := newTestMux(t)

	var done = make(chan error, 1)
	go func() {
		_, err := mux.Do(context.Background(), Request{
			Kind:  KindQuote,
			Key:   "AAPL",
			Issue: func(int64) error { return nil },
			Handle: func(ev any) (any, bool, error) {
				return nil, false, nil
			},
		})
		done <- err
	}()
	require.Eventually(t, func() bool { return mux.PendingCount() == 1 },
		time.Second, time.Millisecond)

	mux.Close()
	require.Error(t, <-done)
	assert.Equal(t, 0, mux.PendingCount())
	assert.Equal(t, 0, gw.events.Len(), "route handler unsubscribed")

	_, err := mux.Do(context.Background(), Request{Kind: KindQuote, Key: "AAPL"})
	require.Error(t, err)
}

func TestMultiplexerContextCancellation(t *testing.T) {
	gw, _, mux := newTestMux(t)

	ctx, cancel := context.WithCancel(context.Background())
	var issued int64
	var done = make(chan error, 1)
	go func() {
		_, err := mux.Do(ctx, Request{
			Kind:  KindQuote,
			Key:   "AAPL",
			Issue: func(id int64) error { issued = id; return nil },
			Handle: func(ev any) (any, bool, error) {
				return ev.(gateway.TickPrice).Price, true, nil
			},
		})
		done <- err
	}()
	require.Eventually(t, func() bool { return mux.PendingCount() == 1 },
		time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	// The caller gave up but the table entry remains until an event or a
	// timeout settles it; a late event still cleans up.
	gw.events.Publish(gateway.TickPrice{ReqID: issued, Field: gateway.TickLast, Price: 1})
	assert.Equal(t, 0, mux.PendingCount())
}
