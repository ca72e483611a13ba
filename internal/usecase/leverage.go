package usecase

import "github.com/vitos/crypto_risk_engine/internal/domain"

// LeverageDecider maps the unified score to a leverage multiplier and a
// tightened stop, behind hard eligibility gates. One banding contract serves
// both directions: in macro panic the direction flips to SHORT and the band
// input becomes the inverted score, with an extra fixed stop tightening for
// squeeze risk. Bands are contiguous and the multiplier is non-decreasing in
// score; the stop factor is non-increasing in tier.
type LeverageDecider struct {
	profile *domain.RiskProfile
}

func NewLeverageDecider(profile *domain.RiskProfile) *LeverageDecider {
	return &LeverageDecider{profile: profile}
}

// PanicActive reports whether the macro-panic short regime is on: extreme
// fear combined with a sharp negative 24h market move.
func (d *LeverageDecider) PanicActive(m domain.MarketSnapshot) bool {
	return m.FearGreed < d.profile.PanicFearGreed && m.MarketCapChange24h <= d.profile.PanicMarketDrop
}

func (d *LeverageDecider) Decide(
	score domain.ScoreBreakdown,
	market domain.MarketSnapshot,
	mode domain.ProtectionMode,
	openLeveragedCount int,
	signal domain.TradeSignal,
) domain.LeverageDecision {
	if market.CalendarBlock {
		// High-impact event window: no direction is tradable, panic
		// included. The inverted band would otherwise read a blocked
		// zero score as maximum short conviction.
		return domain.LeverageDecision{
			Eligible:            false,
			Multiplier:          1.0,
			AdjustedStopLossPct: signal.StopLossPct,
			Direction:           domain.SideNone,
			Reason:              "calendar block",
		}
	}

	direction := domain.SideLong
	bandScore := score.Total
	stopExtra := 1.0
	if d.PanicActive(market) {
		// Panic regime: low conviction in the long score is exactly the
		// condition for short exposure.
		direction = domain.SideShort
		bandScore = 100 - score.Total
		stopExtra = d.profile.PanicStopFactor
	}

	if bandScore < d.profile.MinScore {
		return domain.LeverageDecision{
			Eligible:            false,
			Multiplier:          1.0,
			AdjustedStopLossPct: signal.StopLossPct,
			Direction:           domain.SideNone,
			Reason:              "score below minimum",
		}
	}

	if mode == domain.ModeLockdown {
		return unleveraged(direction, signal, "lockdown active")
	}
	if signal.Confidence < d.profile.MinConfidence {
		return unleveraged(direction, signal, "confidence below minimum")
	}
	if openLeveragedCount >= d.profile.MaxLeveragedPositions {
		return unleveraged(direction, signal, "leveraged position cap reached")
	}

	tier := d.tierFor(bandScore)
	if tier == nil || tier.Multiplier <= 1.0 {
		return unleveraged(direction, signal, "score in base tier")
	}

	return domain.LeverageDecision{
		Eligible:            true,
		Multiplier:          tier.Multiplier,
		AdjustedStopLossPct: signal.StopLossPct * tier.StopFactor * stopExtra,
		Direction:           direction,
	}
}

func (d *LeverageDecider) tierFor(score float64) *domain.LeverageTier {
	for i := range d.profile.LeverageTiers {
		if score >= d.profile.LeverageTiers[i].MinScore {
			return &d.profile.LeverageTiers[i]
		}
	}
	return nil
}

func unleveraged(direction domain.Side, signal domain.TradeSignal, reason string) domain.LeverageDecision {
	return domain.LeverageDecision{
		Eligible:            false,
		Multiplier:          1.0,
		AdjustedStopLossPct: signal.StopLossPct,
		Direction:           direction,
		Reason:              reason,
	}
}
