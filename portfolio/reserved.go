// Package portfolio derives cash and performance views from live client
// data: how much cash pending orders have spoken for, and how the account
// value moved net of deposits and withdrawals.
package portfolio

import (
	"github.com/shopspring/decimal"

	"github.com/GBurgardt/interactive-brokers/client"
)

// PriceSource yields the last live price resolved for a symbol.
type PriceSource interface {
	LastKnown(symbol string) (float64, bool)
}

// CloseSource yields the most recent cached historical close for a symbol.
type CloseSource interface {
	LastClose(symbol string) (float64, bool)
}

// DefaultBufferRatio pads reserved cash above the marked price, because a
// market order may fill above the last print.
const DefaultBufferRatio = 1.05

// Reservation is the cash committed to pending buy orders.
type Reservation struct {
	Amount decimal.Decimal
	// Estimated marks that at least one order was priced from a historical
	// close instead of a live quote.
	Estimated bool
	// Excluded lists symbols with no usable price at all. Their orders are
	// left out of Amount rather than priced at zero.
	Excluded []string
}

// Calculator prices pending buys against the best available source.
type Calculator struct {
	quotes PriceSource
	closes CloseSource
	buffer decimal.Decimal
}

func NewCalculator(quotes PriceSource, closes CloseSource, bufferRatio float64) *Calculator {
	if bufferRatio <= 1 {
		bufferRatio = DefaultBufferRatio
	}
	return &Calculator{
		quotes: quotes,
		closes: closes,
		buffer: decimal.NewFromFloat(bufferRatio),
	}
}

// Reserved sums unfilled buy quantity times price times the buffer ratio.
// Sell orders reserve nothing; they release cash when they fill.
func (c *Calculator) Reserved(pending []client.Order) Reservation {
	var res = Reservation{Amount: decimal.Zero}
	for _, order := range pending {
		if order.Side != client.SideBuy {
			continue
		}
		var remaining = order.Quantity - order.Filled
		if remaining <= 0 {
			continue
		}
		price, ok := c.quotes.LastKnown(order.Symbol)
		if !ok {
			price, ok = c.closes.LastClose(order.Symbol)
			if !ok {
				res.Excluded = append(res.Excluded, order.Symbol)
				continue
			}
			res.Estimated = true
		}
		var line = decimal.NewFromFloat(price).
			Mul(decimal.NewFromFloat(remaining)).
			Mul(c.buffer)
		res.Amount = res.Amount.Add(line)
	}
	return res
}

// AvailableCash is the spendable remainder after reservations, floored at
// zero.
func (c *Calculator) AvailableCash(cash float64, pending []client.Order) float64 {
	var available = decimal.NewFromFloat(cash).Sub(c.Reserved(pending).Amount)
	if available.IsNegative() {
		return 0
	}
	f, _ := available.Float64()
	return f
}
