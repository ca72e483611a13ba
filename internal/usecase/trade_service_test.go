package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitos/crypto_risk_engine/internal/domain"
	"github.com/vitos/crypto_risk_engine/internal/metrics"
	"github.com/vitos/crypto_risk_engine/internal/usecase"
)

type fakeBroker struct {
	account      domain.AccountSnapshot
	accountErr   error
	orders       []*domain.OrderIntent
	closed       map[string][]float64
	stops        map[string]float64
	accountCalls int
}

func newFakeBroker(equity float64) *fakeBroker {
	return &fakeBroker{
		account: domain.AccountSnapshot{Equity: equity, Cash: equity},
		closed:  make(map[string][]float64),
		stops:   make(map[string]float64),
	}
}

func (b *fakeBroker) GetAccount(ctx context.Context) (*domain.AccountSnapshot, error) {
	b.accountCalls++
	if b.accountErr != nil {
		return nil, b.accountErr
	}
	acc := b.account
	return &acc, nil
}

func (b *fakeBroker) ListPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	return b.account.Positions, nil
}

func (b *fakeBroker) SubmitOrder(ctx context.Context, intent *domain.OrderIntent) error {
	b.orders = append(b.orders, intent)
	return nil
}

func (b *fakeBroker) ClosePosition(ctx context.Context, symbol string, fraction float64) error {
	b.closed[symbol] = append(b.closed[symbol], fraction)
	return nil
}

func (b *fakeBroker) ReplaceStop(ctx context.Context, symbol string, newStop float64) error {
	b.stops[symbol] = newStop
	return nil
}

func (b *fakeBroker) OnTradeUpdate(callback func(symbol string, price float64)) {}
func (b *fakeBroker) Subscribe(symbols []string) error                          { return nil }

type fakeIntel struct {
	snapshot domain.MarketSnapshot
	err      error
}

func (f *fakeIntel) Snapshot(ctx context.Context) (domain.MarketSnapshot, error) {
	return f.snapshot, f.err
}

type memPositionRepo struct {
	store map[string]*domain.ProtectedPosition
}

func newMemPositionRepo() *memPositionRepo {
	return &memPositionRepo{store: make(map[string]*domain.ProtectedPosition)}
}

func (r *memPositionRepo) SavePosition(ctx context.Context, pos *domain.ProtectedPosition) error {
	r.store[pos.ID] = pos.Clone()
	return nil
}

func (r *memPositionRepo) GetPosition(ctx context.Context, id string) (*domain.ProtectedPosition, error) {
	if p, ok := r.store[id]; ok {
		return p.Clone(), nil
	}
	return nil, errors.New("not found")
}

func (r *memPositionRepo) ListPositions(ctx context.Context) ([]*domain.ProtectedPosition, error) {
	out := make([]*domain.ProtectedPosition, 0, len(r.store))
	for _, p := range r.store {
		out = append(out, p.Clone())
	}
	return out, nil
}

func (r *memPositionRepo) DeletePosition(ctx context.Context, id string) error {
	delete(r.store, id)
	return nil
}

type memLedgerRepo struct {
	saved  *domain.LedgerState
	trades []*domain.ClosedTrade
}

func (r *memLedgerRepo) SaveLedger(ctx context.Context, state domain.LedgerState) error {
	r.saved = &state
	return nil
}

func (r *memLedgerRepo) LoadLedger(ctx context.Context) (*domain.LedgerState, error) {
	return r.saved, nil
}

func (r *memLedgerRepo) AppendClosedTrade(ctx context.Context, trade *domain.ClosedTrade) error {
	r.trades = append(r.trades, trade)
	return nil
}

func (r *memLedgerRepo) ListClosedTrades(ctx context.Context, limit int) ([]*domain.ClosedTrade, error) {
	return r.trades, nil
}

type serviceFixture struct {
	service *usecase.TradeService
	ledger  *usecase.CapitalLedger
	ladder  *usecase.ProtectiveLadderEngine
	broker  *fakeBroker
	intel   *fakeIntel
	posRepo *memPositionRepo
	ledRepo *memLedgerRepo
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	profile := domain.DefaultProfile()
	log := zap.NewNop()

	fx := &serviceFixture{
		ledger:  usecase.NewCapitalLedger(10000),
		ladder:  usecase.NewProtectiveLadderEngine(profile, log),
		broker:  newFakeBroker(10000),
		intel:   &fakeIntel{snapshot: domain.NeutralSnapshot()},
		posRepo: newMemPositionRepo(),
		ledRepo: &memLedgerRepo{},
	}
	fx.service = usecase.NewTradeService(usecase.TradeServiceDeps{
		Profile:    profile,
		Logger:     log,
		Ledger:     fx.ledger,
		Protection: usecase.NewProtectionModeController(profile),
		Scorer:     usecase.NewUnifiedScorer(profile),
		Decider:    usecase.NewLeverageDecider(profile),
		Sizer:      usecase.NewPositionSizer(profile),
		Ladder:     fx.ladder,
		Broker:     fx.broker,
		Intel:      fx.intel,
		Positions:  fx.posRepo,
		LedgerRepo: fx.ledRepo,
		Metrics:    metrics.New(),
	})
	return fx
}

func strongFeatures() domain.SignalFeatures {
	return domain.SignalFeatures{
		domain.FeatureClose:        105,
		domain.FeatureEMAFast:      104,
		domain.FeatureEMAMid:       103,
		domain.FeatureEMASlow:      100,
		domain.FeatureRSI:          55,
		domain.FeatureRSIPrev:      50,
		domain.FeatureMACDHist:     1.5,
		domain.FeatureMACDHistPrev: 1.0,
		domain.FeatureADX:          40,
		domain.FeatureBBPosition:   0.3,
		domain.FeatureVolumeRatio:  2.1,
		domain.FeatureMomentum:     2,
		domain.FeatureMFI:          35,
		domain.FeatureCMF:          0.25,
	}
}

func TestRunCyclePicksBestCandidate(t *testing.T) {
	fx := newServiceFixture(t)
	fx.intel.snapshot = domain.MarketSnapshot{
		FearGreed:          55,
		VIX:                15,
		DollarIndex:        domain.DollarBullish,
		MarketCapChange24h: 4,
	}

	signals := []domain.TradeSignal{
		{Symbol: "ETH/USD", Confidence: 80, EntryPrice: 3000, StopLossPct: 0.02, Features: domain.SignalFeatures{}},
		{Symbol: "SOL/USD", Confidence: 90, EntryPrice: 100, StopLossPct: 0.02, Features: strongFeatures()},
	}

	rec, err := fx.service.RunCycle(context.Background(), signals)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, "SOL/USD", rec.Symbol)
	assert.True(t, rec.Submitted)
	assert.True(t, rec.Leverage.Eligible)

	require.Len(t, fx.broker.orders, 1)
	order := fx.broker.orders[0]
	assert.Equal(t, "SOL/USD", order.Symbol)
	assert.Equal(t, domain.SideLong, order.Side)
	assert.NotEmpty(t, order.ID)

	// Ladder picked the fill up and storage has it for restart.
	_, managed := fx.ladder.Position("SOL/USD")
	assert.True(t, managed)
	assert.Len(t, fx.posRepo.store, 1)
}

func TestRunCycleLockdownSkips(t *testing.T) {
	fx := newServiceFixture(t)
	fx.ledger.ApplyPnL(-850) // 8.5% of initial capital

	rec, err := fx.service.RunCycle(context.Background(), []domain.TradeSignal{
		{Symbol: "SOL/USD", Confidence: 90, EntryPrice: 100, StopLossPct: 0.02, Features: strongFeatures()},
	})
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Empty(t, fx.broker.orders)
	assert.Zero(t, fx.broker.accountCalls, "lockdown must short-circuit before the broker")
}

func TestRunCycleIntelFailureFallsBackNeutral(t *testing.T) {
	fx := newServiceFixture(t)
	fx.intel.err = errors.New("feed down")

	// Neutral macro keeps the total under the entry minimum, so the
	// candidate is recorded but no order goes out.
	rec, err := fx.service.RunCycle(context.Background(), []domain.TradeSignal{
		{Symbol: "SOL/USD", Confidence: 90, EntryPrice: 100, StopLossPct: 0.02, Features: domain.SignalFeatures{}},
	})
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Empty(t, fx.broker.orders)
}

func TestRunCycleSkipsOpenSymbols(t *testing.T) {
	fx := newServiceFixture(t)
	fx.intel.snapshot = domain.MarketSnapshot{FearGreed: 55, VIX: 15, DollarIndex: domain.DollarBullish, MarketCapChange24h: 4}
	fx.ladder.Register(usecase.BuildProtectedPosition(domain.DefaultProfile(), "p1", "SOL/USD", domain.SideLong, 100, 10, 1, 0.02))

	rec, err := fx.service.RunCycle(context.Background(), []domain.TradeSignal{
		{Symbol: "SOL/USD", Confidence: 90, EntryPrice: 100, StopLossPct: 0.02, Features: strongFeatures()},
	})
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Empty(t, fx.broker.orders)
}

func TestOnTickStopExitSettles(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	pos := usecase.BuildProtectedPosition(domain.DefaultProfile(), "p1", "SOL/USD", domain.SideLong, 100, 10, 1, 0.02)
	fx.ladder.Register(pos)
	require.NoError(t, fx.posRepo.SavePosition(ctx, pos))

	// Price through the stop: full close, realized loss, trade recorded.
	fx.service.OnTick(ctx, "SOL/USD", 97)

	require.Len(t, fx.broker.closed["SOL/USD"], 1)
	assert.Equal(t, 1.0, fx.broker.closed["SOL/USD"][0])

	state := fx.ledger.State()
	assert.Equal(t, -30.0, state.DailyPnL)
	assert.Equal(t, 1, state.ConsecutiveLosses)

	require.Len(t, fx.ledRepo.trades, 1)
	assert.Equal(t, "STOP", fx.ledRepo.trades[0].Reason)
	assert.Equal(t, -30.0, fx.ledRepo.trades[0].PnL)

	_, managed := fx.ladder.Position("SOL/USD")
	assert.False(t, managed, "exited position must leave the ladder")
	assert.Empty(t, fx.posRepo.store)
	require.NotNil(t, fx.ledRepo.saved)
	assert.Equal(t, 9970.0, fx.ledRepo.saved.CurrentCapital)
}

func TestOnTickPartialExitBooksProfit(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	pos := usecase.BuildProtectedPosition(domain.DefaultProfile(), "p1", "SOL/USD", domain.SideLong, 100, 10, 1, 0.02)
	fx.ladder.Register(pos)
	require.NoError(t, fx.posRepo.SavePosition(ctx, pos))

	// +3%: 30% comes off at a profit and the trail replaces the stop.
	fx.service.OnTick(ctx, "SOL/USD", 103)

	require.Len(t, fx.broker.closed["SOL/USD"], 1)
	assert.Equal(t, 0.30, fx.broker.closed["SOL/USD"][0])
	assert.InDelta(t, 101.764, fx.broker.stops["SOL/USD"], 1e-9)

	state := fx.ledger.State()
	assert.InDelta(t, 9.0, state.DailyPnL, 1e-9)

	remaining, managed := fx.ladder.Position("SOL/USD")
	require.True(t, managed)
	assert.InDelta(t, 7.0, remaining.Quantity, 1e-9)
}

func TestResetDailyPersists(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	fx.ledger.ApplyPnL(-850)
	fx.service.ResetDaily(ctx)

	state := fx.ledger.State()
	assert.Zero(t, state.DailyPnL)
	assert.Zero(t, state.WorstDailyLossPct)
	require.NotNil(t, fx.ledRepo.saved)
	assert.Zero(t, fx.ledRepo.saved.DailyPnL)
}
