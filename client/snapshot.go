package client

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GBurgardt/interactive-brokers/gateway"
)

// AccountSnapshot holds the tagged account summary values. It is only
// exposed after the gateway's explicit summary-complete signal.
type AccountSnapshot struct {
	NetLiquidation float64
	TotalCash      float64
	SettledCash    float64
	AvailableFunds float64
	BuyingPower    float64
}

// Cash is the value the gateway actually validates purchases against: settled
// cash for cash accounts, falling back to total cash, then available funds.
func (a AccountSnapshot) Cash() float64 {
	if a.SettledCash != 0 {
		return a.SettledCash
	}
	if a.TotalCash != 0 {
		return a.TotalCash
	}
	return a.AvailableFunds
}

var summaryTags = []string{
	"NetLiquidation", "TotalCashValue", "SettledCash", "AvailableFunds", "BuyingPower",
}

// Position is one holding of the account.
type Position struct {
	Symbol   string
	SecType  string
	Quantity float64
	AvgCost  float64
	Currency string
}

// Snapshot is a consistent view of the whole account: both source streams
// finished before it was assembled.
type Snapshot struct {
	Account   AccountSnapshot
	Positions []Position
	At        time.Time
}

// Quantity returns the owned quantity of a symbol.
func (s Snapshot) Quantity(symbol string) (float64, bool) {
	for _, p := range s.Positions {
		if p.Symbol == symbol {
			return p.Quantity, true
		}
	}
	return 0, false
}

// SnapshotAggregator retrieves a full portfolio snapshot: a fan-in barrier
// over the account summary request and the position stream. Each fetch cycle
// accumulates into scratch state owned by its own closures, so concurrent
// cycles never share mutable fields.
type SnapshotAggregator struct {
	logger  *zap.SugaredLogger
	mux     *Multiplexer
	gw      gateway.Gateway
	timeout time.Duration
}

func NewSnapshotAggregator(logger *zap.SugaredLogger, mux *Multiplexer, gw gateway.Gateway, timeout time.Duration) *SnapshotAggregator {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SnapshotAggregator{logger: logger, mux: mux, gw: gw, timeout: timeout}
}

// Fetch resolves once both streams completed. Arrival order between the two
// streams is not assumed; either may finish first.
func (a *SnapshotAggregator) Fetch(ctx context.Context) (Snapshot, error) {
	var account AccountSnapshot
	var positions []Position

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		account, err = a.fetchAccountSummary(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		positions, err = a.fetchPositions(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	a.logger.Debugw("snapshot complete",
		"positions", len(positions),
		"netLiquidation", account.NetLiquidation)
	return Snapshot{Account: account, Positions: positions, At: time.Now()}, nil
}

func (a *SnapshotAggregator) fetchAccountSummary(ctx context.Context) (AccountSnapshot, error) {
	// Scratch accumulation: the snapshot under construction is never visible
	// to callers before the end signal.
	var scratch AccountSnapshot
	return do[AccountSnapshot](ctx, a.mux, Request{
		Kind:    KindAccountSummary,
		Key:     "summary",
		Timeout: a.timeout,
		Issue: func(id int64) error {
			return a.gw.RequestAccountSummary(id, "All", summaryTags)
		},
		Cancel: func(id int64) {
			if err := a.gw.CancelAccountSummary(id); err != nil {
				a.logger.Debugw("cancel account summary", "error", err)
			}
		},
		Handle: func(ev any) (any, bool, error) {
			switch e := ev.(type) {
			case gateway.AccountSummaryTag:
				value, err := strconv.ParseFloat(e.Value, 64)
				if err != nil {
					return nil, false, nil
				}
				switch e.Tag {
				case "NetLiquidation":
					scratch.NetLiquidation = value
				case "TotalCashValue":
					scratch.TotalCash = value
				case "SettledCash":
					scratch.SettledCash = value
				case "AvailableFunds":
					scratch.AvailableFunds = value
				case "BuyingPower":
					scratch.BuyingPower = value
				}
			case gateway.AccountSummaryEnd:
				return scratch, true, nil
			}
			return nil, false, nil
		},
	})
}

func (a *SnapshotAggregator) fetchPositions(ctx context.Context) ([]Position, error) {
	var scratch []Position
	return do[[]Position](ctx, a.mux, Request{
		Kind:         KindPositions,
		Key:          "positions",
		Timeout:      a.timeout,
		Uncorrelated: true,
		Issue: func(int64) error {
			return a.gw.RequestPositions()
		},
		Cancel: func(int64) {
			if err := a.gw.CancelPositions(); err != nil {
				a.logger.Debugw("cancel positions", "error", err)
			}
		},
		Handle: func(ev any) (any, bool, error) {
			switch e := ev.(type) {
			case gateway.PositionUpdate:
				if e.Quantity == 0 {
					return nil, false, nil
				}
				var pos = Position{
					Symbol:   e.Contract.Symbol,
					SecType:  e.Contract.SecType,
					Quantity: e.Quantity,
					AvgCost:  e.AvgCost,
					Currency: currencyOrUSD(e.Contract.Currency),
				}
				// The stream may repeat a symbol; the last update wins.
				var replaced bool
				for i := range scratch {
					if scratch[i].Symbol == pos.Symbol {
						scratch[i] = pos
						replaced = true
						break
					}
				}
				if !replaced {
					scratch = append(scratch, pos)
				}
			case gateway.PositionEnd:
				return scratch, true, nil
			}
			return nil, false, nil
		},
	})
}

func currencyOrUSD(currency string) string {
	if currency == "" {
		return "USD"
	}
	return currency
}
