package usecase

import (
	"sync"
	"time"

	"github.com/vitos/crypto_risk_engine/internal/domain"
)

// CapitalLedger tracks account equity, the high-water mark and periodic P&L.
// CurrentCapital moves only through ApplyPnL; the high-water mark invariant
// holds after every mutation. Safe for concurrent use.
type CapitalLedger struct {
	mu    sync.Mutex
	state domain.LedgerState
}

func NewCapitalLedger(initialCapital float64) *CapitalLedger {
	return &CapitalLedger{
		state: domain.LedgerState{
			InitialCapital: initialCapital,
			CurrentCapital: initialCapital,
			HighWaterMark:  initialCapital,
			UpdatedAt:      time.Now(),
		},
	}
}

// Restore replaces the ledger state, used to rehydrate after a restart so a
// same-day restart keeps the worst-loss ratchet.
func (l *CapitalLedger) Restore(s domain.LedgerState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = s
}

// ApplyPnL applies a realized profit or loss to the ledger. A negative delta
// increments the consecutive-loss counter; anything else resets it.
func (l *CapitalLedger) ApplyPnL(delta float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.CurrentCapital += delta
	l.state.DailyPnL += delta
	l.state.WeeklyPnL += delta

	if l.state.CurrentCapital > l.state.HighWaterMark {
		l.state.HighWaterMark = l.state.CurrentCapital
	}

	if delta < 0 {
		l.state.ConsecutiveLosses++
	} else {
		l.state.ConsecutiveLosses = 0
	}

	lossPct := SafeDiv(-l.state.DailyPnL, l.state.InitialCapital, 0)
	if lossPct > l.state.WorstDailyLossPct {
		l.state.WorstDailyLossPct = lossPct
	}
	l.state.UpdatedAt = time.Now()
}

// DrawdownPct is (HWM - current) / HWM, or 0 when the HWM is not positive.
func (l *CapitalLedger) DrawdownPct() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return SafeDiv(l.state.HighWaterMark-l.state.CurrentCapital, l.state.HighWaterMark, 0)
}

// State returns a copy of the current ledger state.
func (l *CapitalLedger) State() domain.LedgerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// ResetDaily zeroes the daily counters and releases the lockdown ratchet.
// Called by the external scheduler at the day boundary.
func (l *CapitalLedger) ResetDaily() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.DailyPnL = 0
	l.state.WorstDailyLossPct = 0
	l.state.UpdatedAt = time.Now()
}

// ResetWeekly zeroes the weekly counter.
func (l *CapitalLedger) ResetWeekly() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.WeeklyPnL = 0
	l.state.UpdatedAt = time.Now()
}
