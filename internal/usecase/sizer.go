package usecase

import (
	"math"

	"github.com/vitos/crypto_risk_engine/internal/domain"
)

// SizeRequest carries everything the sizer needs for one consistent
// sizing decision. Equity and OpenExposure must come from the same account
// snapshot, read under the caller's commit lock.
type SizeRequest struct {
	Symbol         string
	EntryPrice     float64
	StopPrice      float64
	Equity         float64
	OpenExposure   float64
	OpenPositions  int
	Mode           domain.ProtectionMode
	RiskMultiplier float64
	Leverage       domain.LeverageDecision
}

// PositionSizer converts a priced signal into an order quantity. The risked
// capital is fixed by the stop distance: leverage may raise the notional
// back up to the risk-derived ceiling when allocation caps cut it, but never
// past it.
type PositionSizer struct {
	profile *domain.RiskProfile
}

func NewPositionSizer(profile *domain.RiskProfile) *PositionSizer {
	return &PositionSizer{profile: profile}
}

func (s *PositionSizer) Size(req SizeRequest) domain.SizeResult {
	if req.Mode == domain.ModeLockdown || req.RiskMultiplier <= 0 {
		return domain.SizeResult{Reject: domain.RejectLockdown}
	}
	if req.OpenPositions >= s.profile.MaxPositions {
		return domain.SizeResult{Reject: domain.RejectMaxPositions}
	}

	stopDistPct := SafeDiv(math.Abs(req.EntryPrice-req.StopPrice), req.EntryPrice, 0)
	if stopDistPct <= 0 {
		return domain.SizeResult{Reject: domain.RejectInvalidStop}
	}

	riskAmount := req.Equity * s.profile.BaseRiskPerTrade * req.RiskMultiplier
	riskCeiling := SafeDiv(riskAmount, stopDistPct, 0)

	value := riskCeiling
	if allocCap := req.Equity * s.profile.AllocationCap(req.Symbol); value > allocCap {
		value = allocCap
	}

	headroom := s.profile.MaxTotalExposurePct*req.Equity - req.OpenExposure
	if headroom <= 0 {
		return domain.SizeResult{Reject: domain.RejectNoExposureLeft}
	}
	if value > headroom {
		value = headroom
	}

	if req.Leverage.Eligible && req.Leverage.Multiplier > 1 {
		value = math.Min(value*req.Leverage.Multiplier, riskCeiling)
	}

	qty := SafeDiv(value, req.EntryPrice, 0)
	qty = roundToLot(qty, s.profile.LotStep(req.Symbol))

	if qty < s.profile.MinQuantity(req.Symbol) || qty <= 0 {
		return domain.SizeResult{Reject: domain.RejectPositionTooSmall}
	}

	return domain.SizeResult{
		Quantity: qty,
		Notional: qty * req.EntryPrice,
	}
}

// roundToLot floors qty to the instrument's lot granularity. Flooring keeps
// the risk cap an upper bound; the epsilon stops an exact multiple from
// dropping a whole step to float noise in the division.
func roundToLot(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	return math.Floor(qty/step+1e-9) * step
}
