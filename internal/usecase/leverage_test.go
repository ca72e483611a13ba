package usecase_test

import (
	"math"
	"testing"

	"github.com/vitos/crypto_risk_engine/internal/domain"
	"github.com/vitos/crypto_risk_engine/internal/usecase"
)

func breakdown(total float64) domain.ScoreBreakdown {
	return domain.ScoreBreakdown{Total: total}
}

func calmMarket() domain.MarketSnapshot {
	return domain.MarketSnapshot{FearGreed: 50, VIX: 18, DollarIndex: domain.DollarNeutral}
}

func TestLeverageTierMapping(t *testing.T) {
	decider := usecase.NewLeverageDecider(domain.DefaultProfile())
	signal := domain.TradeSignal{Symbol: "BTC/USD", Confidence: 90, StopLossPct: 0.02}

	cases := []struct {
		score    float64
		mult     float64
		eligible bool
	}{
		{95, 5.0, true},
		{90, 5.0, true},
		{82, 3.0, true},
		{80, 3.0, true},
		{75, 2.0, true},
		{65, 1.5, true},
		{57, 1.0, false}, // base tier: in-market but no leverage
	}
	for _, c := range cases {
		d := decider.Decide(breakdown(c.score), calmMarket(), domain.ModeNormal, 0, signal)
		if d.Eligible != c.eligible || d.Multiplier != c.mult {
			t.Errorf("score %f: expected (%v, %fx), got (%v, %fx)", c.score, c.eligible, c.mult, d.Eligible, d.Multiplier)
		}
		if d.Direction != domain.SideLong {
			t.Errorf("score %f: expected LONG, got %v", c.score, d.Direction)
		}
	}
}

func TestLeverageStopTightening(t *testing.T) {
	profile := domain.DefaultProfile()
	decider := usecase.NewLeverageDecider(profile)
	signal := domain.TradeSignal{Symbol: "BTC/USD", Confidence: 90, StopLossPct: 0.02}

	// 82 lands in the 3x tier with stop factor 0.40.
	d := decider.Decide(breakdown(82), calmMarket(), domain.ModeNormal, 0, signal)
	if math.Abs(d.AdjustedStopLossPct-0.02*0.40) > 1e-12 {
		t.Errorf("expected stop 0.008, got %f", d.AdjustedStopLossPct)
	}

	// Higher multiplier always means a tighter or equal stop.
	prev := math.Inf(1)
	for _, tier := range profile.LeverageTiers {
		d := decider.Decide(breakdown(tier.MinScore), calmMarket(), domain.ModeNormal, 0, signal)
		if d.AdjustedStopLossPct > prev {
			t.Errorf("stop widened at tier %f: %f > %f", tier.MinScore, d.AdjustedStopLossPct, prev)
		}
		prev = d.AdjustedStopLossPct
	}
}

func TestLeverageGates(t *testing.T) {
	decider := usecase.NewLeverageDecider(domain.DefaultProfile())
	signal := domain.TradeSignal{Symbol: "BTC/USD", Confidence: 90, StopLossPct: 0.02}

	// 1. Lockdown: direction survives, leverage does not.
	d := decider.Decide(breakdown(92), calmMarket(), domain.ModeLockdown, 0, signal)
	if d.Eligible || d.Multiplier != 1.0 || d.Direction != domain.SideLong {
		t.Errorf("lockdown gate: %+v", d)
	}
	if d.AdjustedStopLossPct != signal.StopLossPct {
		t.Errorf("ineligible decision must keep the raw stop, got %f", d.AdjustedStopLossPct)
	}

	// 2. Confidence below minimum.
	weak := signal
	weak.Confidence = 50
	d = decider.Decide(breakdown(92), calmMarket(), domain.ModeNormal, 0, weak)
	if d.Eligible {
		t.Errorf("confidence gate failed: %+v", d)
	}

	// 3. Leveraged position cap.
	d = decider.Decide(breakdown(92), calmMarket(), domain.ModeNormal, 1, signal)
	if d.Eligible {
		t.Errorf("leveraged cap gate failed: %+v", d)
	}

	// 4. Score below minimum: no trade at all.
	d = decider.Decide(breakdown(40), calmMarket(), domain.ModeNormal, 0, signal)
	if d.Direction != domain.SideNone {
		t.Errorf("expected NONE below minimum score, got %v", d.Direction)
	}
}

func TestPanicShortRegime(t *testing.T) {
	profile := domain.DefaultProfile()
	decider := usecase.NewLeverageDecider(profile)
	signal := domain.TradeSignal{Symbol: "BTC/USD", Confidence: 90, StopLossPct: 0.02}

	panicMarket := domain.MarketSnapshot{FearGreed: 10, MarketCapChange24h: -5}
	if !decider.PanicActive(panicMarket) {
		t.Fatal("expected panic regime")
	}

	// A terrible long score of 15 inverts to a short band score of 85.
	d := decider.Decide(breakdown(15), panicMarket, domain.ModeNormal, 0, signal)
	if d.Direction != domain.SideShort {
		t.Fatalf("expected SHORT, got %v", d.Direction)
	}
	if !d.Eligible || d.Multiplier != 3.0 {
		t.Errorf("expected 3x short, got %+v", d)
	}
	// Panic shorts get the extra stop tightening on top of the tier factor.
	want := 0.02 * 0.40 * profile.PanicStopFactor
	if math.Abs(d.AdjustedStopLossPct-want) > 1e-12 {
		t.Errorf("expected stop %f, got %f", want, d.AdjustedStopLossPct)
	}

	// A strong long score of 80 inverts to 20: no short conviction.
	d = decider.Decide(breakdown(80), panicMarket, domain.ModeNormal, 0, signal)
	if d.Direction != domain.SideNone {
		t.Errorf("expected NONE for inverted 20, got %v", d.Direction)
	}

	// Panic needs both legs: fear alone is not enough.
	fearOnly := domain.MarketSnapshot{FearGreed: 10, MarketCapChange24h: 1}
	if decider.PanicActive(fearOnly) {
		t.Error("fear without a market drop must not trigger panic")
	}
}

func TestCalendarBlockStopsAllDirections(t *testing.T) {
	decider := usecase.NewLeverageDecider(domain.DefaultProfile())
	signal := domain.TradeSignal{Symbol: "BTC/USD", Confidence: 90, StopLossPct: 0.02}

	// 1. A blocked calm market never trades, whatever the score.
	blocked := calmMarket()
	blocked.CalendarBlock = true
	d := decider.Decide(breakdown(95), blocked, domain.ModeNormal, 0, signal)
	if d.Eligible || d.Direction != domain.SideNone {
		t.Errorf("calendar block long: %+v", d)
	}

	// 2. A blocked panic market must not short either. The scorer zeroes
	// the total during a block, and an inverted zero would otherwise read
	// as the strongest possible short band.
	blockedPanic := domain.MarketSnapshot{FearGreed: 10, MarketCapChange24h: -5, CalendarBlock: true}
	if !decider.PanicActive(blockedPanic) {
		t.Fatal("expected panic regime")
	}
	d = decider.Decide(breakdown(0), blockedPanic, domain.ModeNormal, 0, signal)
	if d.Eligible || d.Direction != domain.SideNone || d.Multiplier != 1.0 {
		t.Errorf("calendar block panic: %+v", d)
	}
	if d.AdjustedStopLossPct != signal.StopLossPct {
		t.Errorf("blocked decision must keep the raw stop, got %f", d.AdjustedStopLossPct)
	}
}
