package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeGateway records calls and lets tests script the event stream.
type fakeGateway struct {
	events *EventManager
	calls  []string

	onRequestIDs func()
	connectErr   error
}

var _ Gateway = (*fakeGateway)(nil)

func newFakeGateway() *fakeGateway {
	return &fakeGateway{events: NewEventManager()}
}

func (g *fakeGateway) Connect(ctx context.Context) error {
	g.calls = append(g.calls, "connect")
	return g.connectErr
}
func (g *fakeGateway) Close() error {
	g.calls = append(g.calls, "close")
	return nil
}
func (g *fakeGateway) Events() Subscriber { return g.events }
func (g *fakeGateway) RequestIDs() error {
	g.calls = append(g.calls, "reqIds")
	if g.onRequestIDs != nil {
		g.onRequestIDs()
	}
	return nil
}
func (g *fakeGateway) RequestManagedAccounts() error {
	g.calls = append(g.calls, "reqManagedAccts")
	return nil
}
func (g *fakeGateway) RequestMarketDataType(MarketDataMode) error { return nil }
func (g *fakeGateway) RequestMarketData(int64, Contract) error    { return nil }
func (g *fakeGateway) CancelMarketData(int64) error               { return nil }
func (g *fakeGateway) RequestHistoricalData(int64, Contract, string, string) error {
	return nil
}
func (g *fakeGateway) RequestAccountSummary(int64, string, []string) error { return nil }
func (g *fakeGateway) CancelAccountSummary(int64) error                    { return nil }
func (g *fakeGateway) RequestPositions() error                             { return nil }
func (g *fakeGateway) CancelPositions() error                              { return nil }
func (g *fakeGateway) PlaceOrder(int64, Contract, OrderSpec) error         { return nil }

func TestSessionConnect(t *testing.T) {
	var gw = newFakeGateway()
	gw.onRequestIDs = func() {
		gw.events.Publish(NextValidID{ID: 42})
		gw.events.Publish(ManagedAccounts{IDs: []string{"DU123456", "DU999"}})
	}
	var s = NewSession(zap.NewNop().Sugar(), gw, time.Second)

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, StateConnected, s.State())

	account, ok := s.AccountID()
	require.True(t, ok)
	assert.Equal(t, "DU123456", account)

	// Request ids are monotonic and clear of gateway-issued order ids.
	var first = s.NextID()
	assert.Greater(t, first, int64(42))
	assert.Equal(t, first+1, s.NextID())

	// Connect again is a no-op once connected.
	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, []string{"connect", "reqIds", "reqManagedAccts"}, gw.calls)
}

func TestSessionConnectTimeout(t *testing.T) {
	var gw = newFakeGateway() // never answers the handshake
	var s = NewSession(zap.NewNop().Sugar(), gw, 20*time.Millisecond)

	var err = s.Connect(context.Background())
	require.Error(t, err)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, StateError, s.State())
	assert.Equal(t, 0, gw.events.Len(), "handshake listener must be removed")
}

func TestSessionConnectRefused(t *testing.T) {
	var gw = newFakeGateway()
	gw.connectErr = assert.AnError
	var s = NewSession(zap.NewNop().Sugar(), gw, time.Second)

	var err = s.Connect(context.Background())
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, StateError, s.State())
}

func TestSessionCloseIdempotent(t *testing.T) {
	var gw = newFakeGateway()
	gw.onRequestIDs = func() { gw.events.Publish(NextValidID{ID: 1}) }
	var s = NewSession(zap.NewNop().Sugar(), gw, time.Second)
	require.NoError(t, s.Connect(context.Background()))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, 0, gw.events.Len())
}
