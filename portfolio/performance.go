package portfolio

import (
	"math"
	"sync"
	"time"
)

// Point is one observation of account value.
type Point struct {
	At             time.Time
	NetLiquidation float64
	Cash           float64
}

// CashflowConfig sets the thresholds separating deposits and withdrawals
// from market moves. A step is a cashflow when net liquidation and cash move
// in the same direction and each move exceeds max(MinAbs, frac*|previous|).
// The gateway reports no transfer events, so this heuristic is all there is.
type CashflowConfig struct {
	MinAbs   float64
	NetFrac  float64
	CashFrac float64
}

func DefaultCashflowConfig() CashflowConfig {
	return CashflowConfig{MinAbs: 100, NetFrac: 0.003, CashFrac: 0.01}
}

// Classify reports whether the step from prev to curr looks like an external
// cashflow, and its signed amount (the cash delta).
func (c CashflowConfig) Classify(prev, curr Point) (float64, bool) {
	var dNet = curr.NetLiquidation - prev.NetLiquidation
	var dCash = curr.Cash - prev.Cash
	var netGate = math.Max(c.MinAbs, math.Abs(prev.NetLiquidation)*c.NetFrac)
	var cashGate = math.Max(c.MinAbs, math.Abs(prev.Cash)*c.CashFrac)
	if math.Abs(dNet) <= netGate || math.Abs(dCash) <= cashGate {
		return 0, false
	}
	if dNet*dCash <= 0 {
		return 0, false
	}
	return dCash, true
}

// History is a bounded series of observations with cashflow-adjusted growth.
type History struct {
	cfg      CashflowConfig
	capacity int

	mu            sync.Mutex
	points        []Point
	contributions float64
}

func NewHistory(cfg CashflowConfig, capacity int) *History {
	if capacity <= 0 {
		capacity = 500
	}
	return &History{cfg: cfg, capacity: capacity}
}

// Record appends an observation, classifying the step from the previous one.
func (h *History) Record(p Point) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n := len(h.points); n > 0 {
		if flow, ok := h.cfg.Classify(h.points[n-1], p); ok {
			h.contributions += flow
		}
	}
	h.points = append(h.points, p)
	if len(h.points) > h.capacity {
		h.points = h.points[len(h.points)-h.capacity:]
	}
}

// Growth is the net liquidation change across the retained series with
// classified deposits and withdrawals removed. Zero until two points exist.
func (h *History) Growth() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.points) < 2 {
		return 0
	}
	var first = h.points[0]
	var last = h.points[len(h.points)-1]
	return last.NetLiquidation - first.NetLiquidation - h.contributions
}

// Contributions is the accumulated signed cashflow over the series.
func (h *History) Contributions() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.contributions
}

// Points returns a copy of the retained observations, oldest first.
func (h *History) Points() []Point {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out = make([]Point, len(h.points))
	copy(out, h.points)
	return out
}
