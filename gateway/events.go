package gateway

import "sync"

// Events published by the gateway. A correlation id of NoReqID means the
// message is not tied to any outstanding request.

const NoReqID int64 = -1

// NextValidID is the identifier handshake: the first one confirms the
// connection, later ones answer RequestIDs calls.
type NextValidID struct {
	ID int64
}

// ManagedAccounts carries the account identifiers the session may use.
type ManagedAccounts struct {
	IDs []string
}

// Disconnected signals that the connection was lost or closed.
type Disconnected struct{}

// Notice is the gateway's shared error/info channel. Whether it is fatal for
// the correlated request is decided by a CodeSet, not here.
type Notice struct {
	ReqID   int64
	Code    int
	Message string
}

// TickPrice is one price field of a market data subscription.
type TickPrice struct {
	ReqID int64
	Field TickField
	Price float64
}

// Bar is a single historical bar. Date keeps the gateway's string form
// ("20240131" for day bars) so that lexicographic order is chronological.
type Bar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// HistoricalBar is one bar of a historical data request. Some gateway
// versions signal completion with a sentinel bar whose date starts with
// "finished" instead of emitting HistoricalDone.
type HistoricalBar struct {
	ReqID int64
	Bar   Bar
}

// HistoricalDone signals the end of a historical bar stream.
type HistoricalDone struct {
	ReqID int64
}

// AccountSummaryTag is one tagged value of an account summary request.
type AccountSummaryTag struct {
	ReqID    int64
	Account  string
	Tag      string
	Value    string
	Currency string
}

// AccountSummaryEnd marks an account summary as complete.
type AccountSummaryEnd struct {
	ReqID int64
}

// PositionUpdate is one position of the position stream. The stream carries
// no correlation id.
type PositionUpdate struct {
	Account  string
	Contract Contract
	Quantity float64
	AvgCost  float64
}

// PositionEnd marks the position stream as complete.
type PositionEnd struct{}

// OrderStatus reports an order state transition, correlated by order id.
type OrderStatus struct {
	OrderID      int64
	Status       string
	Filled       float64
	Remaining    float64
	AvgFillPrice float64
}

// CorrelationID extracts the request/order identifier an event is tagged
// with, if any.
func CorrelationID(ev any) (int64, bool) {
	switch e := ev.(type) {
	case TickPrice:
		return e.ReqID, true
	case HistoricalBar:
		return e.ReqID, true
	case HistoricalDone:
		return e.ReqID, true
	case AccountSummaryTag:
		return e.ReqID, true
	case AccountSummaryEnd:
		return e.ReqID, true
	case OrderStatus:
		return e.OrderID, true
	case Notice:
		if e.ReqID != NoReqID {
			return e.ReqID, true
		}
	}
	return 0, false
}

type Handler func(ev any)

type UnsubscribeFunc func()

type Publisher interface {
	Publish(ev any)
}

type Subscriber interface {
	Subscribe(h Handler) UnsubscribeFunc
}

// EventManager fans events out to all subscribed handlers. Handlers run on
// the publishing goroutine, so they must not block.
type EventManager struct {
	mu       sync.RWMutex
	nextKey  int
	handlers map[int]Handler
}

func NewEventManager() *EventManager {
	return &EventManager{handlers: make(map[int]Handler)}
}

func (e *EventManager) Publish(ev any) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, h := range e.handlers {
		h(ev)
	}
}

func (e *EventManager) Subscribe(h Handler) UnsubscribeFunc {
	e.mu.Lock()
	defer e.mu.Unlock()
	var key = e.nextKey
	e.nextKey++
	e.handlers[key] = h
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.handlers, key)
	}
}

// Len reports the number of registered handlers.
func (e *EventManager) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers)
}
