package usecase

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_risk_engine/internal/domain"
)

// ProtectiveLadderEngine owns the protective state machine of every open
// position: stop-loss, staged take-profits, break-even move and trailing
// stop. Ticks for different symbols may run in parallel; each position has
// its own lock, so updates to one position's stop and flags are serialized
// and the monotonic-stop invariant holds under concurrent ticks.
type ProtectiveLadderEngine struct {
	profile *domain.RiskProfile
	log     *zap.Logger

	mu        sync.RWMutex
	positions map[string]*guardedPosition // by symbol
}

type guardedPosition struct {
	mu  sync.Mutex
	pos *domain.ProtectedPosition
}

func NewProtectiveLadderEngine(profile *domain.RiskProfile, log *zap.Logger) *ProtectiveLadderEngine {
	return &ProtectiveLadderEngine{
		profile:   profile,
		log:       log,
		positions: make(map[string]*guardedPosition),
	}
}

// BuildProtectedPosition derives all protection levels for a fresh fill.
// stopLossPct is the (possibly leverage-tightened) stop distance as a
// fraction of entry.
func BuildProtectedPosition(
	profile *domain.RiskProfile,
	id, symbol string,
	side domain.Side,
	entryPrice, quantity, leverage, stopLossPct float64,
) *domain.ProtectedPosition {
	dir := 1.0
	if side == domain.SideShort {
		dir = -1.0
	}

	tps := make([]domain.TakeProfit, len(profile.TakeProfits))
	for i, lvl := range profile.TakeProfits {
		tps[i] = domain.TakeProfit{TriggerPct: lvl.TriggerPct, CloseFraction: lvl.CloseFraction}
	}

	return &domain.ProtectedPosition{
		ID:               id,
		Symbol:           symbol,
		Side:             side,
		EntryPrice:       entryPrice,
		Quantity:         quantity,
		Leverage:         leverage,
		StopLoss:         entryPrice * (1 - dir*stopLossPct),
		BreakEvenLevel:   entryPrice * (1 + dir*profile.BreakEvenTrigger),
		TrailingTrigger:  entryPrice * (1 + dir*profile.TrailingTrigger),
		TrailingDistance: profile.TrailingDistance,
		TakeProfits:      tps,
		HighestPrice:     entryPrice,
		LowestPrice:      entryPrice,
		OpenedAt:         time.Now(),
	}
}

// Register puts a position under ladder management.
func (e *ProtectiveLadderEngine) Register(pos *domain.ProtectedPosition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions[pos.Symbol] = &guardedPosition{pos: pos}
}

// Rehydrate restores positions persisted before a restart. Subsequent ticks
// behave exactly as if the process had never stopped.
func (e *ProtectiveLadderEngine) Rehydrate(list []*domain.ProtectedPosition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range list {
		e.positions[p.Symbol] = &guardedPosition{pos: p}
	}
}

// Remove drops a position from management after a full exit.
func (e *ProtectiveLadderEngine) Remove(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.positions, symbol)
}

// Position returns a copy of the managed position for symbol.
func (e *ProtectiveLadderEngine) Position(symbol string) (*domain.ProtectedPosition, bool) {
	e.mu.RLock()
	g, ok := e.positions[symbol]
	e.mu.RUnlock()
	if !ok {
		return nil, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pos.Clone(), true
}

// Positions returns copies of all managed positions.
func (e *ProtectiveLadderEngine) Positions() []*domain.ProtectedPosition {
	e.mu.RLock()
	gs := make([]*guardedPosition, 0, len(e.positions))
	for _, g := range e.positions {
		gs = append(gs, g)
	}
	e.mu.RUnlock()

	out := make([]*domain.ProtectedPosition, 0, len(gs))
	for _, g := range gs {
		g.mu.Lock()
		out = append(out, g.pos.Clone())
		g.mu.Unlock()
	}
	return out
}

// LeveragedCount reports how many managed positions carry leverage above 1x.
func (e *ProtectiveLadderEngine) LeveragedCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, g := range e.positions {
		g.mu.Lock()
		if g.pos.Leverage > 1 {
			n++
		}
		g.mu.Unlock()
	}
	return n
}

// ReduceQuantity shrinks the managed quantity after a partial exit fill.
func (e *ProtectiveLadderEngine) ReduceQuantity(symbol string, fraction float64) {
	e.mu.RLock()
	g, ok := e.positions[symbol]
	e.mu.RUnlock()
	if !ok {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pos.Quantity *= 1 - Clamp(fraction, 0, 1)
}

// Tick evaluates the protective rules for symbol at price, in fixed
// priority order: stop first and unconditional, then the final take-profit,
// then unflagged intermediate take-profits, break-even and trailing. Exit
// rules return a single action; the others may co-occur and are returned
// together. An empty rule set yields HOLD.
func (e *ProtectiveLadderEngine) Tick(symbol string, price float64) []domain.LadderAction {
	if price <= 0 {
		return nil
	}

	e.mu.RLock()
	g, ok := e.positions[symbol]
	e.mu.RUnlock()
	if !ok {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	pos := g.pos
	if price > pos.HighestPrice {
		pos.HighestPrice = price
	}
	if price < pos.LowestPrice {
		pos.LowestPrice = price
	}

	// 1. Stop-loss. Always first, cannot be suppressed.
	if crossedAdversely(pos, price, pos.StopLoss) {
		e.log.Info("stop loss hit",
			zap.String("symbol", symbol),
			zap.Float64("price", price),
			zap.Float64("stop", pos.StopLoss))
		return []domain.LadderAction{{
			Type:   domain.LadderExitAll,
			Symbol: symbol,
			Reason: "STOP",
		}}
	}

	profit := pos.ProfitPct(price)

	// 2. Final take-profit tier.
	if n := len(pos.TakeProfits); n > 0 && profit >= pos.TakeProfits[n-1].TriggerPct {
		return []domain.LadderAction{{
			Type:   domain.LadderExitAll,
			Symbol: symbol,
			Reason: "TP_FINAL",
		}}
	}

	var actions []domain.LadderAction

	// 3. Intermediate take-profit tiers, each at most once.
	for i := 0; i < len(pos.TakeProfits)-1; i++ {
		tp := &pos.TakeProfits[i]
		if !tp.Hit && profit >= tp.TriggerPct {
			tp.Hit = true
			actions = append(actions, domain.LadderAction{
				Type:     domain.LadderPartialExit,
				Symbol:   symbol,
				Fraction: tp.CloseFraction,
				Reason:   fmt.Sprintf("TP%d", i+1),
			})
		}
	}

	// 4. Break-even move, once.
	if !pos.AtBreakEven && favorableCross(pos, price, pos.BreakEvenLevel) {
		pos.AtBreakEven = true
		buffer := e.profile.BreakEvenBuffer
		target := pos.EntryPrice * (1 + buffer)
		if pos.Side == domain.SideShort {
			target = pos.EntryPrice * (1 - buffer)
		}
		if raiseStop(pos, target) {
			actions = append(actions, domain.LadderAction{
				Type:    domain.LadderMoveStop,
				Symbol:  symbol,
				NewStop: pos.StopLoss,
				Reason:  "BREAK_EVEN",
			})
		}
	}

	// 5. Trailing stop.
	if favorableCross(pos, price, pos.TrailingTrigger) {
		pos.TrailingActive = true
		candidate := price * (1 - pos.TrailingDistance)
		if pos.Side == domain.SideShort {
			candidate = price * (1 + pos.TrailingDistance)
		}
		if raiseStop(pos, candidate) {
			e.log.Debug("trailing stop advanced",
				zap.String("symbol", symbol),
				zap.Float64("stop", pos.StopLoss))
			actions = append(actions, domain.LadderAction{
				Type:    domain.LadderTrailStop,
				Symbol:  symbol,
				NewStop: pos.StopLoss,
				Reason:  "TRAIL",
			})
		}
	}

	if len(actions) == 0 {
		return []domain.LadderAction{{Type: domain.LadderHold, Symbol: symbol, Reason: "HOLD"}}
	}
	return actions
}

// raiseStop assigns a new stop only when it is strictly more favorable than
// the stored one. The monotonic-stop invariant is enforced here, at the
// point of assignment, regardless of which rule produced the candidate.
func raiseStop(pos *domain.ProtectedPosition, candidate float64) bool {
	if pos.Side == domain.SideShort {
		if candidate < pos.StopLoss {
			pos.StopLoss = candidate
			return true
		}
		return false
	}
	if candidate > pos.StopLoss {
		pos.StopLoss = candidate
		return true
	}
	return false
}

func crossedAdversely(pos *domain.ProtectedPosition, price, level float64) bool {
	if pos.Side == domain.SideShort {
		return price >= level
	}
	return price <= level
}

func favorableCross(pos *domain.ProtectedPosition, price, level float64) bool {
	if pos.Side == domain.SideShort {
		return price <= level
	}
	return price >= level
}
