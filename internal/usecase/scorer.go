package usecase

import "github.com/vitos/crypto_risk_engine/internal/domain"

// UnifiedScorer combines the macro snapshot and the technical feature vector
// into one 0-100 score. Deterministic, pure, no I/O: missing features take
// neutral defaults, every component is clamped to its cap before summation,
// and a calendar block zeroes the whole breakdown.
//
// Neutral defaults per feature: RSI 50, ADX 20, MACD histogram 0, volume
// ratio 1, Bollinger position 0.5, MFI 50, CMF 0, momentum 0; snapshot
// defaults are fear-greed 50, VIX 20, dollar index NEUTRAL.
type UnifiedScorer struct {
	profile *domain.RiskProfile
}

func NewUnifiedScorer(profile *domain.RiskProfile) *UnifiedScorer {
	return &UnifiedScorer{profile: profile}
}

func (u *UnifiedScorer) Score(market domain.MarketSnapshot, signal domain.SignalFeatures) domain.ScoreBreakdown {
	// No signal is trusted around a high-impact scheduled event.
	if market.CalendarBlock {
		return domain.ScoreBreakdown{}
	}

	b := domain.ScoreBreakdown{
		Market:       Clamp(u.scoreMarket(market), 0, u.profile.MarketScoreCap),
		Technical:    Clamp(u.scoreTechnical(signal), 0, u.profile.TechnicalScoreCap),
		Volume:       Clamp(u.scoreVolumeFlow(signal), 0, u.profile.VolumeScoreCap),
		Confirmation: Clamp(u.scoreConfirmations(market, signal), 0, u.profile.ConfirmationScoreCap),
	}
	b.Total = Clamp(b.Market+b.Technical+b.Volume+b.Confirmation, 0, 100)
	return b
}

func (u *UnifiedScorer) scoreMarket(m domain.MarketSnapshot) float64 {
	score := 0.0

	// Fear & Greed: contrarian tent peaking in the 25-55 band.
	fg := m.FearGreed
	switch {
	case fg >= 25 && fg <= 55:
		score += 12
	case fg > 55 && fg <= 70:
		score += 8
	case fg > 80:
		score += 2
	case fg > 15 && fg < 25:
		score += 10
	}

	// VIX: lower is better, nothing above the danger floor.
	switch {
	case m.VIX <= 18:
		score += 8
	case m.VIX <= 22:
		score += 6
	case m.VIX <= 28:
		score += 3
	}

	switch m.DollarIndex {
	case domain.DollarBullish:
		score += 5
	case domain.DollarNeutral:
		score += 3
	}

	switch {
	case m.MarketCapChange24h > 3:
		score += 5
	case m.MarketCapChange24h > 0:
		score += 3
	case m.MarketCapChange24h > -3:
		score += 1
	}

	// A clear calendar is itself worth something.
	score += 5

	return score
}

func (u *UnifiedScorer) scoreTechnical(f domain.SignalFeatures) float64 {
	score := 0.0

	closePrice := f.Get(domain.FeatureClose, 0)
	emaFast := f.Get(domain.FeatureEMAFast, 0)
	emaMid := f.Get(domain.FeatureEMAMid, 0)
	emaSlow := f.Get(domain.FeatureEMASlow, 0)

	// Trend alignment of the moving-average stack.
	switch {
	case closePrice > emaFast && emaFast > emaMid && emaMid > emaSlow:
		score += 10
	case closePrice > emaMid && emaMid > emaSlow:
		score += 7
	case closePrice > emaSlow:
		score += 4
	}

	rsi := f.Get(domain.FeatureRSI, 50)
	rsiPrev := f.Get(domain.FeatureRSIPrev, 50)
	switch {
	case rsi >= 30 && rsi <= 45:
		score += 6
	case rsi > 45 && rsi < 60:
		score += 4
	case rsi < 30:
		score += 3
	case rsi >= 70:
		score += 1
	}
	if rsi > rsiPrev && rsi < 65 {
		score += 2
	}

	hist := f.Get(domain.FeatureMACDHist, 0)
	histPrev := f.Get(domain.FeatureMACDHistPrev, 0)
	if hist > 0 {
		score += 4
		if hist > histPrev {
			score += 2
		}
	} else if hist > histPrev {
		score += 2
	}

	// ADX only counts above the trend floor.
	adx := f.Get(domain.FeatureADX, 20)
	switch {
	case adx >= 35:
		score += 8
	case adx >= 25:
		score += 6
	case adx >= 20:
		score += 4
	}

	bbPos := f.Get(domain.FeatureBBPosition, 0.5)
	switch {
	case bbPos < 0.4:
		score += 4
	case bbPos <= 0.85:
		score += 2
	}

	if f.Get(domain.FeatureMomentum, 0) > 0 {
		score += 2
	}

	return score
}

func (u *UnifiedScorer) scoreVolumeFlow(f domain.SignalFeatures) float64 {
	score := 0.0

	vol := f.Get(domain.FeatureVolumeRatio, 1)
	switch {
	case vol >= 2:
		score += 5
	case vol >= 1.5:
		score += 4
	case vol >= 1.2:
		score += 3
	case vol >= 0.8:
		score += 1
	}

	mfi := f.Get(domain.FeatureMFI, 50)
	switch {
	case mfi >= 20 && mfi <= 40:
		score += 5
	case mfi < 20:
		score += 4
	case mfi > 40 && mfi < 60:
		score += 3
	case mfi > 80:
		score += 1
	default:
		score += 2
	}

	cmf := f.Get(domain.FeatureCMF, 0)
	switch {
	case cmf > 0.2:
		score += 5
	case cmf > 0.1:
		score += 4
	case cmf > 0:
		score += 3
	case cmf > -0.1:
		score += 1
	}

	return score
}

// scoreConfirmations rewards convergent evidence: each independent pairwise
// agreement across sources is worth a fixed number of points.
func (u *UnifiedScorer) scoreConfirmations(m domain.MarketSnapshot, f domain.SignalFeatures) float64 {
	confirmations := 0

	fg := m.FearGreed
	rsi := f.Get(domain.FeatureRSI, 50)
	if (fg < 50 && rsi < 50) || (fg >= 50 && rsi >= 50) {
		confirmations++
	}

	if f.Get(domain.FeatureClose, 0) > f.Get(domain.FeatureEMAMid, 0) && f.Get(domain.FeatureMACDHist, 0) > 0 {
		confirmations++
	}

	if f.Get(domain.FeatureVolumeRatio, 1) > 1.2 && f.Get(domain.FeatureADX, 20) > 25 {
		confirmations++
	}

	if f.Get(domain.FeatureMFI, 50) < 60 && f.Get(domain.FeatureCMF, 0) > 0 {
		confirmations++
	}

	if m.MarketCapChange24h > 0 && f.Get(domain.FeatureMomentum, 0) > 0 {
		confirmations++
	}

	return float64(confirmations) * u.profile.ConfirmationPoints
}
