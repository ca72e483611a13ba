package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_risk_engine/internal/domain"
	"github.com/vitos/crypto_risk_engine/internal/metrics"
	"github.com/vitos/crypto_risk_engine/pkg/id"
)

const decisionHistorySize = 128

// DecisionRecord is one scored signal and what the engine did with it.
// The web status endpoint serves the recent history.
type DecisionRecord struct {
	Symbol    string                  `json:"symbol"`
	Score     domain.ScoreBreakdown   `json:"score"`
	Leverage  domain.LeverageDecision `json:"leverage"`
	Size      domain.SizeResult       `json:"size"`
	Mode      string                  `json:"mode"`
	Submitted bool                    `json:"submitted"`
	Note      string                  `json:"note,omitempty"`
	At        time.Time               `json:"at"`
}

// StatusReport is the engine state summary served by the web layer.
type StatusReport struct {
	Mode           string             `json:"mode"`
	RiskMultiplier float64            `json:"risk_multiplier"`
	Ledger         domain.LedgerState `json:"ledger"`
	DrawdownPct    float64            `json:"drawdown_pct"`
	OpenPositions  int                `json:"open_positions"`
	Decisions      []DecisionRecord   `json:"decisions"`
}

// TradeServiceDeps is the full dependency set of the service.
type TradeServiceDeps struct {
	Profile    *domain.RiskProfile
	Logger     *zap.Logger
	Ledger     *CapitalLedger
	Protection *ProtectionModeController
	Scorer     *UnifiedScorer
	Decider    *LeverageDecider
	Sizer      *PositionSizer
	Ladder     *ProtectiveLadderEngine
	Broker     domain.BrokerGateway
	Intel      domain.MarketIntel
	Positions  domain.PositionRepository
	LedgerRepo domain.LedgerRepository
	Metrics    *metrics.Metrics
}

// TradeService runs the decision cycle: score inbound signals in parallel,
// then commit at most one entry per cycle through the protection gates.
// Scoring is embarrassingly parallel; everything that reads or writes
// capital, exposure or positions happens in the single-threaded commit
// section under commitMu, so the gates always see one consistent snapshot.
type TradeService struct {
	profile    *domain.RiskProfile
	log        *zap.Logger
	ledger     *CapitalLedger
	protection *ProtectionModeController
	scorer     *UnifiedScorer
	decider    *LeverageDecider
	sizer      *PositionSizer
	ladder     *ProtectiveLadderEngine
	broker     domain.BrokerGateway
	intel      domain.MarketIntel
	positions  domain.PositionRepository
	ledgerRepo domain.LedgerRepository
	metrics    *metrics.Metrics

	commitMu sync.Mutex

	queueMu sync.Mutex
	queue   []domain.TradeSignal

	histMu  sync.Mutex
	history []DecisionRecord
}

func NewTradeService(deps TradeServiceDeps) *TradeService {
	return &TradeService{
		profile:    deps.Profile,
		log:        deps.Logger,
		ledger:     deps.Ledger,
		protection: deps.Protection,
		scorer:     deps.Scorer,
		decider:    deps.Decider,
		sizer:      deps.Sizer,
		ladder:     deps.Ladder,
		broker:     deps.Broker,
		intel:      deps.Intel,
		positions:  deps.Positions,
		ledgerRepo: deps.LedgerRepo,
		metrics:    deps.Metrics,
	}
}

// EnqueueSignal queues a signal for the next decision cycle.
func (s *TradeService) EnqueueSignal(sig domain.TradeSignal) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	s.queue = append(s.queue, sig)
}

func (s *TradeService) drainQueue() []domain.TradeSignal {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	out := s.queue
	s.queue = nil
	return out
}

type scoredSignal struct {
	signal domain.TradeSignal
	score  domain.ScoreBreakdown
}

// RunCycle scores the queued signals plus any passed in, then tries to open
// at most one position. It returns the record of the chosen candidate, or
// nil when nothing was actionable.
func (s *TradeService) RunCycle(ctx context.Context, extra []domain.TradeSignal) (*DecisionRecord, error) {
	s.metrics.CyclesTotal.Inc()

	signals := append(s.drainQueue(), extra...)
	if len(signals) == 0 {
		return nil, nil
	}

	market, err := s.intel.Snapshot(ctx)
	if err != nil {
		s.log.Warn("market intel unavailable, scoring with neutral snapshot", zap.Error(err))
		market = domain.NeutralSnapshot()
	}

	scored := s.scoreAll(market, signals)
	sort.Slice(scored, func(i, j int) bool {
		return scored[i].score.Total > scored[j].score.Total
	})
	if s.decider.PanicActive(market) {
		// In the panic regime the weakest long score is the strongest
		// short candidate.
		sort.Slice(scored, func(i, j int) bool {
			return scored[i].score.Total < scored[j].score.Total
		})
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	state := s.ledger.State()
	mode := s.protection.Evaluate(state)
	riskMult := s.protection.RiskMultiplier(state)
	s.publishGauges(state, mode)

	if mode == domain.ModeLockdown {
		s.metrics.RejectsTotal.WithLabelValues(string(domain.RejectLockdown)).Inc()
		s.log.Warn("cycle skipped, lockdown active",
			zap.Float64("daily_pnl", state.DailyPnL),
			zap.Float64("worst_daily_loss_pct", state.WorstDailyLossPct))
		return nil, nil
	}

	account, err := s.broker.GetAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}

	for _, cand := range scored {
		if _, open := s.ladder.Position(cand.signal.Symbol); open {
			continue
		}
		rec := s.tryOpen(ctx, cand, market, mode, riskMult, account)
		if rec == nil {
			continue
		}
		s.record(*rec)
		if rec.Submitted {
			return rec, nil
		}
	}
	return nil, nil
}

func (s *TradeService) scoreAll(market domain.MarketSnapshot, signals []domain.TradeSignal) []scoredSignal {
	workers := s.profile.ScanWorkers
	if workers < 1 {
		workers = 1
	}

	in := make(chan domain.TradeSignal)
	out := make(chan scoredSignal, len(signals))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sig := range in {
				out <- scoredSignal{signal: sig, score: s.scorer.Score(market, sig.Features)}
			}
		}()
	}
	for _, sig := range signals {
		in <- sig
	}
	close(in)
	wg.Wait()
	close(out)

	scored := make([]scoredSignal, 0, len(signals))
	for sc := range out {
		scored = append(scored, sc)
	}
	return scored
}

// tryOpen runs one candidate through the leverage and sizing gates and, if
// both pass, submits the order and registers the protective ladder. Called
// with commitMu held.
func (s *TradeService) tryOpen(
	ctx context.Context,
	cand scoredSignal,
	market domain.MarketSnapshot,
	mode domain.ProtectionMode,
	riskMult float64,
	account *domain.AccountSnapshot,
) *DecisionRecord {
	rec := &DecisionRecord{
		Symbol: cand.signal.Symbol,
		Score:  cand.score,
		Mode:   mode.String(),
		At:     time.Now(),
	}

	decision := s.decider.Decide(cand.score, market, mode, s.ladder.LeveragedCount(), cand.signal)
	rec.Leverage = decision
	if decision.Direction == domain.SideNone {
		rec.Note = decision.Reason
		return rec
	}

	dir := 1.0
	if decision.Direction == domain.SideShort {
		dir = -1.0
	}
	stopPrice := cand.signal.EntryPrice * (1 - dir*decision.AdjustedStopLossPct)

	result := s.sizer.Size(SizeRequest{
		Symbol:         cand.signal.Symbol,
		EntryPrice:     cand.signal.EntryPrice,
		StopPrice:      stopPrice,
		Equity:         account.Equity,
		OpenExposure:   account.OpenExposure(),
		OpenPositions:  len(s.ladder.Positions()),
		Mode:           mode,
		RiskMultiplier: riskMult,
		Leverage:       decision,
	})
	rec.Size = result
	if result.Reject != domain.RejectNone {
		s.metrics.RejectsTotal.WithLabelValues(string(result.Reject)).Inc()
		rec.Note = string(result.Reject)
		return rec
	}

	intent := &domain.OrderIntent{
		ID:          id.New(),
		Symbol:      cand.signal.Symbol,
		Side:        decision.Direction,
		Quantity:    result.Quantity,
		TimeInForce: "gtc",
		Leverage:    decision.Multiplier,
		StopLoss:    stopPrice,
		CreatedAt:   time.Now(),
	}
	if err := s.broker.SubmitOrder(ctx, intent); err != nil {
		s.log.Error("order submit failed",
			zap.String("symbol", intent.Symbol),
			zap.Error(err))
		rec.Note = "submit failed: " + err.Error()
		return rec
	}
	s.metrics.OrdersTotal.Inc()

	pos := BuildProtectedPosition(
		s.profile,
		intent.ID,
		intent.Symbol,
		decision.Direction,
		cand.signal.EntryPrice,
		result.Quantity,
		decision.Multiplier,
		decision.AdjustedStopLossPct,
	)
	s.ladder.Register(pos)
	if err := s.positions.SavePosition(ctx, pos); err != nil {
		s.log.Error("position persist failed", zap.String("id", pos.ID), zap.Error(err))
	}

	s.log.Info("position opened",
		zap.String("symbol", pos.Symbol),
		zap.String("side", string(pos.Side)),
		zap.Float64("qty", pos.Quantity),
		zap.Float64("leverage", pos.Leverage),
		zap.Float64("stop", pos.StopLoss),
		zap.Float64("score", cand.score.Total))

	rec.Submitted = true
	return rec
}

// OnTick feeds one price tick through the protective ladder and executes the
// resulting actions against the broker, the ledger and storage. It is the
// broker stream's trade-update callback.
func (s *TradeService) OnTick(ctx context.Context, symbol string, price float64) {
	actions := s.ladder.Tick(symbol, price)
	if len(actions) == 0 {
		return
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	for _, act := range actions {
		if act.Type != domain.LadderHold {
			s.metrics.LadderActionsTotal.WithLabelValues(string(act.Type)).Inc()
		}
		switch act.Type {
		case domain.LadderExitAll:
			s.closeAll(ctx, symbol, price, act.Reason)
		case domain.LadderPartialExit:
			s.closePartial(ctx, symbol, price, act)
		case domain.LadderMoveStop, domain.LadderTrailStop:
			if err := s.broker.ReplaceStop(ctx, symbol, act.NewStop); err != nil {
				s.log.Error("stop replace failed", zap.String("symbol", symbol), zap.Error(err))
			}
			s.persistPosition(ctx, symbol)
		}
	}
	s.publishGauges(s.ledger.State(), s.protection.Evaluate(s.ledger.State()))
}

func (s *TradeService) closeAll(ctx context.Context, symbol string, price float64, reason string) {
	pos, ok := s.ladder.Position(symbol)
	if !ok {
		return
	}
	if err := s.broker.ClosePosition(ctx, symbol, 1); err != nil {
		s.log.Error("close failed", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	s.settle(ctx, pos, price, pos.Quantity, reason)
	s.ladder.Remove(symbol)
	if err := s.positions.DeletePosition(ctx, pos.ID); err != nil {
		s.log.Error("position delete failed", zap.String("id", pos.ID), zap.Error(err))
	}
}

func (s *TradeService) closePartial(ctx context.Context, symbol string, price float64, act domain.LadderAction) {
	pos, ok := s.ladder.Position(symbol)
	if !ok {
		return
	}
	if err := s.broker.ClosePosition(ctx, symbol, act.Fraction); err != nil {
		s.log.Error("partial close failed", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	s.settle(ctx, pos, price, pos.Quantity*act.Fraction, act.Reason)
	s.ladder.ReduceQuantity(symbol, act.Fraction)
	s.persistPosition(ctx, symbol)
}

// settle books realized P&L for qty units exited at price.
func (s *TradeService) settle(ctx context.Context, pos *domain.ProtectedPosition, price, qty float64, reason string) {
	pnl := (price - pos.EntryPrice) * qty
	if pos.Side == domain.SideShort {
		pnl = -pnl
	}
	s.ledger.ApplyPnL(pnl)

	trade := &domain.ClosedTrade{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Quantity:   qty,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  price,
		PnL:        pnl,
		Reason:     reason,
		ClosedAt:   time.Now(),
	}
	if err := s.ledgerRepo.AppendClosedTrade(ctx, trade); err != nil {
		s.log.Error("closed trade persist failed", zap.String("symbol", pos.Symbol), zap.Error(err))
	}
	if err := s.ledgerRepo.SaveLedger(ctx, s.ledger.State()); err != nil {
		s.log.Error("ledger persist failed", zap.Error(err))
	}

	s.log.Info("exit settled",
		zap.String("symbol", pos.Symbol),
		zap.String("reason", reason),
		zap.Float64("qty", qty),
		zap.Float64("pnl", pnl))
}

func (s *TradeService) persistPosition(ctx context.Context, symbol string) {
	pos, ok := s.ladder.Position(symbol)
	if !ok {
		return
	}
	if err := s.positions.SavePosition(ctx, pos); err != nil {
		s.log.Error("position persist failed", zap.String("id", pos.ID), zap.Error(err))
	}
}

// ResetDaily clears the daily window at the session boundary. A LOCKDOWN
// held by the intraday ratchet releases here and nowhere else.
func (s *TradeService) ResetDaily(ctx context.Context) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	s.ledger.ResetDaily()
	if err := s.ledgerRepo.SaveLedger(ctx, s.ledger.State()); err != nil {
		s.log.Error("ledger persist failed", zap.Error(err))
	}
	s.log.Info("daily window reset")
}

func (s *TradeService) ResetWeekly(ctx context.Context) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	s.ledger.ResetWeekly()
	if err := s.ledgerRepo.SaveLedger(ctx, s.ledger.State()); err != nil {
		s.log.Error("ledger persist failed", zap.Error(err))
	}
	s.log.Info("weekly window reset")
}

// Status snapshots the engine for the web layer.
func (s *TradeService) Status() StatusReport {
	state := s.ledger.State()
	mode := s.protection.Evaluate(state)

	s.histMu.Lock()
	decisions := make([]DecisionRecord, len(s.history))
	copy(decisions, s.history)
	s.histMu.Unlock()

	return StatusReport{
		Mode:           mode.String(),
		RiskMultiplier: s.protection.RiskMultiplier(state),
		Ledger:         state,
		DrawdownPct:    s.ledger.DrawdownPct(),
		OpenPositions:  len(s.ladder.Positions()),
		Decisions:      decisions,
	}
}

// OpenPositions returns copies of the positions under management.
func (s *TradeService) OpenPositions() []*domain.ProtectedPosition {
	return s.ladder.Positions()
}

// ClosedTrades returns the most recent realized exits.
func (s *TradeService) ClosedTrades(ctx context.Context, limit int) ([]*domain.ClosedTrade, error) {
	return s.ledgerRepo.ListClosedTrades(ctx, limit)
}

// LedgerState returns the current ledger snapshot.
func (s *TradeService) LedgerState() domain.LedgerState {
	return s.ledger.State()
}

func (s *TradeService) record(rec DecisionRecord) {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	s.history = append(s.history, rec)
	if len(s.history) > decisionHistorySize {
		s.history = s.history[len(s.history)-decisionHistorySize:]
	}
}

func (s *TradeService) publishGauges(state domain.LedgerState, mode domain.ProtectionMode) {
	s.metrics.Equity.Set(state.CurrentCapital)
	s.metrics.DrawdownPct.Set(s.ledger.DrawdownPct())
	s.metrics.ProtectionMode.Set(float64(mode))
	s.metrics.OpenPositions.Set(float64(len(s.ladder.Positions())))
}
