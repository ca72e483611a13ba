package domain

import "time"

// TakeProfit is one rung of the staged take-profit ladder. Hit flips once
// and stays set so a rung fires at most one partial exit.
type TakeProfit struct {
	TriggerPct    float64 `json:"trigger_pct"`
	CloseFraction float64 `json:"close_fraction"`
	Hit           bool    `json:"hit"`
}

// ProtectedPosition is an open position under protective management.
// StopLoss is mutated only by the ladder engine and only monotonically:
// non-decreasing for a long, non-increasing for a short.
type ProtectedPosition struct {
	ID         string
	Symbol     string
	Side       Side
	EntryPrice float64
	Quantity   float64
	Leverage   float64

	StopLoss         float64
	BreakEvenLevel   float64
	TrailingTrigger  float64
	TrailingDistance float64
	TakeProfits      []TakeProfit

	HighestPrice   float64
	LowestPrice    float64
	AtBreakEven    bool
	TrailingActive bool

	OpenedAt time.Time
}

// Clone returns a deep copy, so callers can snapshot a position without
// holding the ladder's lock.
func (p *ProtectedPosition) Clone() *ProtectedPosition {
	c := *p
	c.TakeProfits = make([]TakeProfit, len(p.TakeProfits))
	copy(c.TakeProfits, p.TakeProfits)
	return &c
}

// ProfitPct is the unrealized move from entry in the position's favor.
func (p *ProtectedPosition) ProfitPct(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	if p.Side == SideShort {
		return (p.EntryPrice - price) / p.EntryPrice
	}
	return (price - p.EntryPrice) / p.EntryPrice
}
