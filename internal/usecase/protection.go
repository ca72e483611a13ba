package usecase

import "github.com/vitos/crypto_risk_engine/internal/domain"

// ProtectionModeController derives the global protection mode from ledger
// state. It is a pure query: the mode is recomputed from the state on every
// call, never patched incrementally. The LOCKDOWN ratchet comes from the
// ledger's WorstDailyLossPct, which only the daily reset clears, so a mode
// of LOCKDOWN survives an intraday recovery by construction.
type ProtectionModeController struct {
	profile *domain.RiskProfile
}

func NewProtectionModeController(profile *domain.RiskProfile) *ProtectionModeController {
	return &ProtectionModeController{profile: profile}
}

// Evaluate returns the protection mode for the given ledger state.
// Thresholds apply in strict severity order, first match wins.
func (c *ProtectionModeController) Evaluate(s domain.LedgerState) domain.ProtectionMode {
	lossPct := dailyLossPct(s)

	worst := s.WorstDailyLossPct
	if lossPct > worst {
		worst = lossPct
	}
	if worst >= c.profile.LockdownLossPct {
		return domain.ModeLockdown
	}

	switch {
	case lossPct >= c.profile.DefensiveLossPct:
		return domain.ModeDefensive
	case lossPct >= c.profile.CautiousLossPct:
		return domain.ModeCautious
	default:
		return domain.ModeNormal
	}
}

// RiskMultiplier maps the mode to its risk scaling, further reduced after
// consecutive losses. LOCKDOWN always yields 0.
func (c *ProtectionModeController) RiskMultiplier(s domain.LedgerState) float64 {
	var base float64
	switch c.Evaluate(s) {
	case domain.ModeLockdown:
		return 0
	case domain.ModeDefensive:
		base = 0.3
	case domain.ModeCautious:
		base = 0.6
	default:
		base = 1.0
	}

	switch {
	case s.ConsecutiveLosses >= 3:
		return base * 0.5
	case s.ConsecutiveLosses >= 2:
		return base * 0.7
	default:
		return base
	}
}

func dailyLossPct(s domain.LedgerState) float64 {
	loss := -s.DailyPnL
	if loss < 0 {
		loss = 0
	}
	return SafeDiv(loss, s.InitialCapital, 0)
}
