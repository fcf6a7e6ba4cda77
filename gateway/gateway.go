// Package gateway owns the single brokerage connection: dialing, the wire
// protocol, the event stream and request/order identifier issuance. Everything
// above it (caches, order tracking) talks to the gateway only through the
// Gateway interface and the published events.
package gateway

import "context"

// MarketDataMode selects the market data entitlement mode requested before a
// quote subscription.
type MarketDataMode int

const (
	MarketDataRealtime MarketDataMode = 1
	MarketDataFrozen   MarketDataMode = 2
	// MarketDataDelayed lets quote requests resolve with delayed ticks when
	// no real-time subscription is available for the account.
	MarketDataDelayed MarketDataMode = 3
)

// TickField identifies the price field of a tick event.
type TickField int

const (
	TickBid          TickField = 1
	TickAsk          TickField = 2
	TickLast         TickField = 4
	TickClose        TickField = 9
	TickMark         TickField = 37
	TickDelayedLast  TickField = 68
	TickDelayedClose TickField = 75
)

func (f TickField) String() string {
	switch f {
	case TickBid:
		return "bid"
	case TickAsk:
		return "ask"
	case TickLast:
		return "last"
	case TickClose:
		return "close"
	case TickMark:
		return "mark"
	case TickDelayedLast:
		return "delayedLast"
	case TickDelayedClose:
		return "delayedClose"
	}
	return "unknown"
}

// Contract identifies a tradable instrument.
type Contract struct {
	Symbol   string `json:"symbol"`
	SecType  string `json:"secType"`
	Exchange string `json:"exchange"`
	Currency string `json:"currency"`
}

// Stock builds a smart-routed USD stock contract, the only instrument kind
// this application trades.
func Stock(symbol string) Contract {
	return Contract{
		Symbol:   symbol,
		SecType:  "STK",
		Exchange: "SMART",
		Currency: "USD",
	}
}

// OrderSpec describes an order to be placed.
type OrderSpec struct {
	Action    string  `json:"action"` // "BUY" or "SELL"
	Quantity  float64 `json:"quantity"`
	OrderType string  `json:"orderType"` // "MKT"
}

// MarketOrder builds a plain market order.
func MarketOrder(action string, quantity float64) OrderSpec {
	return OrderSpec{Action: action, Quantity: quantity, OrderType: "MKT"}
}

// Gateway is the call surface of the brokerage connection. Every call is
// fire-and-forget on the wire; outcomes arrive as events tagged with the
// request or order identifier the caller supplied.
type Gateway interface {
	Connect(ctx context.Context) error
	Close() error
	Events() Subscriber

	RequestIDs() error
	RequestManagedAccounts() error
	RequestMarketDataType(mode MarketDataMode) error
	RequestMarketData(reqID int64, contract Contract) error
	CancelMarketData(reqID int64) error
	RequestHistoricalData(reqID int64, contract Contract, duration, barSize string) error
	RequestAccountSummary(reqID int64, group string, tags []string) error
	CancelAccountSummary(reqID int64) error
	RequestPositions() error
	CancelPositions() error
	PlaceOrder(orderID int64, contract Contract, order OrderSpec) error
}
