package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GBurgardt/interactive-brokers/gateway"
)

// Kind names one call shape against the gateway. The (kind, key) pair is the
// deduplication identity: at most one request per pair is in flight.
type Kind string

const (
	KindQuote          Kind = "quote"
	KindHistory        Kind = "history"
	KindAccountSummary Kind = "accountSummary"
	KindPositions      Kind = "positions"
	KindOrderID        Kind = "orderId"
	KindOrder          Kind = "order"
)

type requestKey struct {
	kind Kind
	key  string
}

// Request describes one correlated operation for Multiplexer.Do.
type Request struct {
	Kind Kind
	Key  string
	// ID is an optional preallocated correlation id. Zero means the
	// multiplexer allocates a fresh one from the session.
	ID      int64
	Timeout time.Duration
	// Issue sends the request tagged with the correlation id.
	Issue func(id int64) error
	// Cancel is the best-effort gateway cancellation invoked on timeout.
	Cancel func(id int64)
	// Handle consumes one event already matched to this request. It may
	// accumulate state in its closure; done settles the request with result.
	Handle func(ev any) (result any, done bool, err error)
	// OnTimeout, when set, settles the request instead of rejecting it with
	// a TimeoutError (order tracking resolves with the last known status).
	OnTimeout func() (any, error)
	// Uncorrelated requests receive events that carry no correlation id
	// (position stream, next order id), routed FIFO per kind.
	Uncorrelated bool
}

type pending struct {
	kind      Kind
	key       requestKey
	id        int64
	createdAt time.Time

	handle    func(ev any) (any, bool, error)
	onTimeout func() (any, error)
	cancel    func(id int64)
	timeout   time.Duration
	timer     *time.Timer

	done    chan struct{}
	result  any
	err     error
	settled bool
}

func (p *pending) wait(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return p.result, p.err
	}
}

// Multiplexer is the correlation table every client operation is built on:
// issue an action, await its completion event(s), with timeout and dedup.
// All table state is guarded by one mutex; event handlers run while holding
// it, so they must stay cheap and never block.
type Multiplexer struct {
	logger  *zap.SugaredLogger
	session *gateway.Session
	codes   *gateway.CodeSet

	mu      sync.Mutex
	byID    map[int64]*pending
	byKey   map[requestKey]*pending
	streams map[Kind][]*pending
	unsub   gateway.UnsubscribeFunc
	closed  bool
}

func NewMultiplexer(logger *zap.SugaredLogger, session *gateway.Session, codes *gateway.CodeSet) *Multiplexer {
	if codes == nil {
		codes = gateway.DefaultCodeSet()
	}
	var m = &Multiplexer{
		logger:  logger,
		session: session,
		codes:   codes,
		byID:    make(map[int64]*pending),
		byKey:   make(map[requestKey]*pending),
		streams: make(map[Kind][]*pending),
	}
	m.unsub = session.Events().Subscribe(m.route)
	return m
}

// Close unregisters from the event stream and rejects everything pending.
func (m *Multiplexer) Close() {
	m.unsub()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for _, p := range m.byKey {
		m.settleLocked(p, nil, fmt.Errorf("multiplexer closed"))
	}
}

// Do issues the request unless one with the same (kind, key) is already
// pending, in which case the caller joins it and shares its outcome. Exactly
// one cleanup path runs per request: completion, fatal error, or timeout.
func (m *Multiplexer) Do(ctx context.Context, req Request) (any, error) {
	var key = requestKey{kind: req.Kind, key: req.Key}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("multiplexer closed")
	}
	if p, ok := m.byKey[key]; ok {
		m.mu.Unlock()
		mtxDedup.WithLabelValues(string(req.Kind)).Inc()
		return p.wait(ctx)
	}

	var id = req.ID
	if id == 0 {
		id = m.session.NextID()
	}
	var p = &pending{
		kind:      req.Kind,
		key:       key,
		id:        id,
		createdAt: time.Now(),
		handle:    req.Handle,
		onTimeout: req.OnTimeout,
		cancel:    req.Cancel,
		timeout:   req.Timeout,
		done:      make(chan struct{}),
	}
	m.byKey[key] = p
	if req.Uncorrelated {
		m.streams[req.Kind] = append(m.streams[req.Kind], p)
	} else {
		m.byID[id] = p
	}
	m.mu.Unlock()

	mtxRequests.WithLabelValues(string(req.Kind)).Inc()

	if err := req.Issue(id); err != nil {
		m.mu.Lock()
		m.settleLocked(p, nil, err)
		m.mu.Unlock()
		return p.wait(ctx)
	}

	m.mu.Lock()
	if !p.settled && req.Timeout > 0 {
		p.timer = time.AfterFunc(req.Timeout, func() { m.expire(p) })
	}
	m.mu.Unlock()

	return p.wait(ctx)
}

// route is the single entry point for gateway events. Late events whose id is
// no longer in the table are dropped, never errors.
func (m *Multiplexer) route(ev any) {
	if n, ok := ev.(gateway.Notice); ok {
		if m.codes.Informational(n.Code) {
			return
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if p, ok := m.byID[n.ReqID]; ok {
			mtxErrors.WithLabelValues(string(p.kind)).Inc()
			m.settleLocked(p, nil, &GatewayError{ReqID: n.ReqID, Code: n.Code, Message: n.Message})
		} else {
			m.logger.Warnw("gateway error", "code", n.Code, "message", n.Message, "reqId", n.ReqID)
		}
		return
	}

	if id, ok := gateway.CorrelationID(ev); ok {
		m.mu.Lock()
		defer m.mu.Unlock()
		if p, ok := m.byID[id]; ok {
			m.deliverLocked(p, ev)
		}
		return
	}

	var kind Kind
	switch ev.(type) {
	case gateway.NextValidID:
		kind = KindOrderID
	case gateway.PositionUpdate, gateway.PositionEnd:
		kind = KindPositions
	default:
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if list := m.streams[kind]; len(list) > 0 {
		m.deliverLocked(list[0], ev)
	}
}

func (m *Multiplexer) deliverLocked(p *pending, ev any) {
	if p.settled {
		return
	}
	result, done, err := p.handle(ev)
	if err != nil {
		m.settleLocked(p, nil, err)
		return
	}
	if done {
		m.settleLocked(p, result, nil)
	}
}

// settleLocked runs the single cleanup path: settle once, remove every table
// reference, stop the timer.
func (m *Multiplexer) settleLocked(p *pending, result any, err error) {
	if p.settled {
		return
	}
	p.settled = true
	p.result = result
	p.err = err
	delete(m.byKey, p.key)
	delete(m.byID, p.id)
	if list, ok := m.streams[p.kind]; ok {
		for i, q := range list {
			if q == p {
				m.streams[p.kind] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(m.streams[p.kind]) == 0 {
			delete(m.streams, p.kind)
		}
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	close(p.done)
}

func (m *Multiplexer) expire(p *pending) {
	m.mu.Lock()
	if p.settled {
		m.mu.Unlock()
		return
	}
	mtxTimeouts.WithLabelValues(string(p.kind)).Inc()
	if p.onTimeout != nil {
		result, err := p.onTimeout()
		m.settleLocked(p, result, err)
	} else {
		m.settleLocked(p, nil, &TimeoutError{Kind: p.kind, Key: p.key.key, After: p.timeout})
	}
	var cancel = p.cancel
	var id = p.id
	m.mu.Unlock()

	// Best-effort cancellation; the gateway may still emit a few events for
	// this id afterwards, which route drops.
	if cancel != nil {
		cancel(id)
	}
}

// PendingCount reports the number of outstanding requests.
func (m *Multiplexer) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byKey)
}

// do is the typed wrapper every client operation uses.
func do[T any](ctx context.Context, m *Multiplexer, req Request) (T, error) {
	var zero T
	res, err := m.Do(ctx, req)
	if err != nil {
		return zero, err
	}
	v, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("%v %q: unexpected result type %T", req.Kind, req.Key, res)
	}
	return v, nil
}
