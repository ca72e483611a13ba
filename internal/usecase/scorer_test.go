package usecase_test

import (
	"testing"

	"github.com/vitos/crypto_risk_engine/internal/domain"
	"github.com/vitos/crypto_risk_engine/internal/usecase"
)

func TestScorerNeutralInputs(t *testing.T) {
	scorer := usecase.NewUnifiedScorer(domain.DefaultProfile())

	// Empty feature map: every indicator takes its neutral default.
	b := scorer.Score(domain.NeutralSnapshot(), domain.SignalFeatures{})

	if b.Market != 27 {
		t.Errorf("expected market 27, got %f", b.Market)
	}
	if b.Technical != 10 {
		t.Errorf("expected technical 10, got %f", b.Technical)
	}
	if b.Volume != 5 {
		t.Errorf("expected volume 5, got %f", b.Volume)
	}
	if b.Confirmation != 2 {
		t.Errorf("expected confirmation 2, got %f", b.Confirmation)
	}
	if b.Total != 44 {
		t.Errorf("expected total 44, got %f", b.Total)
	}
}

func TestScorerStrongSetup(t *testing.T) {
	scorer := usecase.NewUnifiedScorer(domain.DefaultProfile())

	market := domain.MarketSnapshot{
		FearGreed:          55,
		VIX:                15,
		DollarIndex:        domain.DollarBullish,
		MarketCapChange24h: 4,
	}
	features := domain.SignalFeatures{
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

	b := scorer.Score(market, features)

	if b.Market != 35 {
		t.Errorf("expected market at cap 35, got %f", b.Market)
	}
	if b.Technical != 36 {
		t.Errorf("expected technical 36, got %f", b.Technical)
	}
	if b.Volume != 15 {
		t.Errorf("expected volume at cap 15, got %f", b.Volume)
	}
	// All five pairwise confirmations agree.
	if b.Confirmation != 10 {
		t.Errorf("expected confirmation 10, got %f", b.Confirmation)
	}
	if b.Total != 96 {
		t.Errorf("expected total 96, got %f", b.Total)
	}
}

func TestScorerCalendarBlock(t *testing.T) {
	scorer := usecase.NewUnifiedScorer(domain.DefaultProfile())

	market := domain.MarketSnapshot{
		FearGreed:     40,
		VIX:           15,
		DollarIndex:   domain.DollarBullish,
		CalendarBlock: true,
	}
	b := scorer.Score(market, domain.SignalFeatures{domain.FeatureRSI: 40})

	if b.Total != 0 || b.Market != 0 || b.Technical != 0 || b.Volume != 0 || b.Confirmation != 0 {
		t.Errorf("calendar block must zero the breakdown, got %+v", b)
	}
}

func TestScorerDeterministic(t *testing.T) {
	scorer := usecase.NewUnifiedScorer(domain.DefaultProfile())
	market := domain.NeutralSnapshot()
	features := domain.SignalFeatures{domain.FeatureRSI: 42, domain.FeatureADX: 27}

	first := scorer.Score(market, features)
	for i := 0; i < 10; i++ {
		if got := scorer.Score(market, features); got != first {
			t.Fatalf("run %d diverged: %+v vs %+v", i, got, first)
		}
	}
}

func FuzzScoreBounds(f *testing.F) {
	f.Add(50.0, 20.0, 0.0, 50.0, 20.0, 1.0, 0.5, 50.0, 0.0)
	f.Add(0.0, 50.0, -10.0, 0.0, 0.0, 0.0, 0.0, 0.0, -1.0)
	f.Add(100.0, 5.0, 10.0, 100.0, 60.0, 5.0, 1.0, 100.0, 1.0)

	profile := domain.DefaultProfile()
	scorer := usecase.NewUnifiedScorer(profile)

	f.Fuzz(func(t *testing.T, fg, vix, mc, rsi, adx, vol, bb, mfi, cmf float64) {
		market := domain.MarketSnapshot{
			FearGreed:          fg,
			VIX:                vix,
			DollarIndex:        domain.DollarNeutral,
			MarketCapChange24h: mc,
		}
		b := scorer.Score(market, domain.SignalFeatures{
			domain.FeatureRSI:         rsi,
			domain.FeatureADX:         adx,
			domain.FeatureVolumeRatio: vol,
			domain.FeatureBBPosition:  bb,
			domain.FeatureMFI:         mfi,
			domain.FeatureCMF:         cmf,
		})

		if b.Total < 0 || b.Total > 100 {
			t.Fatalf("total out of range: %f", b.Total)
		}
		if b.Market < 0 || b.Market > profile.MarketScoreCap {
			t.Fatalf("market component out of range: %f", b.Market)
		}
		if b.Technical < 0 || b.Technical > profile.TechnicalScoreCap {
			t.Fatalf("technical component out of range: %f", b.Technical)
		}
		if b.Volume < 0 || b.Volume > profile.VolumeScoreCap {
			t.Fatalf("volume component out of range: %f", b.Volume)
		}
		if b.Confirmation < 0 || b.Confirmation > profile.ConfirmationScoreCap {
			t.Fatalf("confirmation component out of range: %f", b.Confirmation)
		}
	})
}
