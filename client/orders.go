package client

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GBurgardt/interactive-brokers/gateway"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Status is an order state as reported by the gateway.
type Status string

const (
	StatusCreated   Status = "Created"
	StatusSubmitted Status = "Submitted"
	StatusFilled    Status = "Filled"
	StatusCancelled Status = "Cancelled"
	StatusInactive  Status = "Inactive"
)

// Terminal reports whether no further transition can occur.
func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusInactive
}

// Order is one tracked order. Status transitions are driven only by gateway
// status events.
type Order struct {
	LocalID      int64
	Symbol       string
	Side         Side
	Quantity     float64
	Status       Status
	Filled       float64
	AvgFillPrice float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OrderResult is the outcome Submit resolves with. Final is false when the
// safety bound elapsed before a terminal status; the order may still be
// working at the gateway.
type OrderResult struct {
	OrderID      int64
	Status       Status
	Filled       float64
	AvgFillPrice float64
	Final        bool
}

// OrderUpdate is published to observers on every status event, regardless of
// whether the submitting call already returned.
type OrderUpdate struct {
	OrderID      int64
	Symbol       string
	Side         Side
	Status       Status
	Filled       float64
	Remaining    float64
	AvgFillPrice float64
}

// SnapshotSource supplies the positions a sell is validated against.
type SnapshotSource interface {
	Fetch(ctx context.Context) (Snapshot, error)
}

// Tracker submits orders and follows them to a terminal status. It keeps the
// live order table the pending-orders view is derived from.
type Tracker struct {
	logger       *zap.SugaredLogger
	mux          *Multiplexer
	gw           gateway.Gateway
	snapshots    SnapshotSource
	aliases      *AliasTable
	idTimeout    time.Duration
	orderTimeout time.Duration
	updates      *gateway.EventManager

	mu     sync.Mutex
	orders map[int64]*Order
	unsub  gateway.UnsubscribeFunc
}

func NewTracker(
	logger *zap.SugaredLogger,
	mux *Multiplexer,
	session *gateway.Session,
	snapshots SnapshotSource,
	aliases *AliasTable,
	idTimeout, orderTimeout time.Duration,
) *Tracker {
	if idTimeout <= 0 {
		idTimeout = 5 * time.Second
	}
	if orderTimeout <= 0 {
		orderTimeout = 30 * time.Second
	}
	var t = &Tracker{
		logger:       logger,
		mux:          mux,
		gw:           session.Gateway(),
		snapshots:    snapshots,
		aliases:      aliases,
		idTimeout:    idTimeout,
		orderTimeout: orderTimeout,
		updates:      gateway.NewEventManager(),
		orders:       make(map[int64]*Order),
	}
	t.unsub = session.Events().Subscribe(t.handleEvent)
	return t
}

// Close stops observing status events.
func (t *Tracker) Close() {
	t.unsub()
}

// Updates lets observers follow every order status transition.
func (t *Tracker) Updates() gateway.Subscriber {
	return t.updates
}

// Submit validates, places and tracks one order. It resolves on the first
// terminal status, or with the last observed status once the safety bound
// elapses. It never retries: an ambiguous post-send failure surfaces as
// AmbiguousOrderError for the caller to decide.
func (t *Tracker) Submit(ctx context.Context, symbol string, side Side, quantity float64) (OrderResult, error) {
	if quantity <= 0 {
		return OrderResult{}, &ValidationError{Reason: "quantity must be positive"}
	}
	symbol = normalizeSymbol(symbol)

	if side == SideSell {
		snapshot, err := t.snapshots.Fetch(ctx)
		if err != nil {
			return OrderResult{}, err
		}
		symbol, err = resolveSell(symbol, quantity, snapshot, t.aliases)
		if err != nil {
			return OrderResult{}, err
		}
	}

	orderID, err := t.nextOrderID(ctx)
	if err != nil {
		return OrderResult{}, err
	}

	t.mu.Lock()
	t.orders[orderID] = &Order{
		LocalID:   orderID,
		Symbol:    symbol,
		Side:      side,
		Quantity:  quantity,
		Status:    StatusCreated,
		CreatedAt: time.Now(),
	}
	t.mu.Unlock()
	mtxOrders.WithLabelValues(strings.ToLower(string(side))).Inc()
	t.logger.Infow("submitting order",
		"orderId", orderID, "symbol", symbol, "side", side, "quantity", quantity)

	// last is only touched by Handle and OnTimeout, both of which run under
	// the multiplexer's lock.
	var last = gateway.OrderStatus{OrderID: orderID, Status: string(StatusCreated)}

	return do[OrderResult](ctx, t.mux, Request{
		Kind:    KindOrder,
		Key:     strconv.FormatInt(orderID, 10),
		ID:      orderID,
		Timeout: t.orderTimeout,
		Issue: func(id int64) error {
			var order = gateway.MarketOrder(string(side), quantity)
			if err := t.gw.PlaceOrder(id, gateway.Stock(symbol), order); err != nil {
				return &AmbiguousOrderError{OrderID: id, Err: err}
			}
			return nil
		},
		Handle: func(ev any) (any, bool, error) {
			status, ok := ev.(gateway.OrderStatus)
			if !ok {
				return nil, false, nil
			}
			last = status
			if !Status(status.Status).Terminal() {
				return nil, false, nil
			}
			return OrderResult{
				OrderID:      orderID,
				Status:       Status(status.Status),
				Filled:       status.Filled,
				AvgFillPrice: status.AvgFillPrice,
				Final:        true,
			}, true, nil
		},
		OnTimeout: func() (any, error) {
			// Not an error: the order may legitimately still be working after
			// the caller stops waiting.
			return OrderResult{
				OrderID:      orderID,
				Status:       Status(last.Status),
				Filled:       last.Filled,
				AvgFillPrice: last.AvgFillPrice,
				Final:        false,
			}, nil
		},
	})
}

// nextOrderID obtains a fresh order id through the multiplexer. The key is
// unique per call so two concurrent submissions never share an id.
func (t *Tracker) nextOrderID(ctx context.Context) (int64, error) {
	return do[int64](ctx, t.mux, Request{
		Kind:         KindOrderID,
		Key:          uuid.NewString(),
		Timeout:      t.idTimeout,
		Uncorrelated: true,
		Issue: func(int64) error {
			return t.gw.RequestIDs()
		},
		Handle: func(ev any) (any, bool, error) {
			if e, ok := ev.(gateway.NextValidID); ok {
				return e.ID, true, nil
			}
			return nil, false, nil
		},
	})
}

// handleEvent keeps the order table current and republishes every transition
// to observers, even after the submitting call settled.
func (t *Tracker) handleEvent(ev any) {
	status, ok := ev.(gateway.OrderStatus)
	if !ok {
		return
	}
	t.mu.Lock()
	order, ok := t.orders[status.OrderID]
	if !ok {
		t.mu.Unlock()
		return // not one of ours
	}
	order.Status = Status(status.Status)
	order.Filled = status.Filled
	order.AvgFillPrice = status.AvgFillPrice
	order.UpdatedAt = time.Now()
	symbol, side := order.Symbol, order.Side
	t.mu.Unlock()
	mtxOrderStatus.WithLabelValues(status.Status).Inc()
	t.updates.Publish(OrderUpdate{
		OrderID:      status.OrderID,
		Symbol:       symbol,
		Side:         side,
		Status:       Status(status.Status),
		Filled:       status.Filled,
		Remaining:    status.Remaining,
		AvgFillPrice: status.AvgFillPrice,
	})
}

// PendingOrders is the derived read-only view of non-terminal orders,
// recomputed from the live table on every call.
func (t *Tracker) PendingOrders() []Order {
	t.mu.Lock()
	var res = make([]Order, 0, len(t.orders))
	for _, o := range t.orders {
		if !o.Status.Terminal() {
			res = append(res, *o)
		}
	}
	t.mu.Unlock()
	sort.Slice(res, func(i, j int) bool { return res[i].LocalID < res[j].LocalID })
	return res
}
