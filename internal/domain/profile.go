package domain

// LeverageTier maps a score band to a leverage multiplier and the stop
// tightening factor that goes with it. Tiers are sorted by MinScore
// descending; the first band the score clears wins.
type LeverageTier struct {
	MinScore   float64 `yaml:"min_score"`
	Multiplier float64 `yaml:"multiplier"`
	StopFactor float64 `yaml:"stop_factor"`
}

// TPLevel is a take-profit rung template: at +TriggerPct, close CloseFraction
// of the remaining position. The last rung closes everything.
type TPLevel struct {
	TriggerPct    float64 `yaml:"trigger_pct"`
	CloseFraction float64 `yaml:"close_fraction"`
}

// RiskProfile is the single versioned bundle of every threshold and weight
// the decision engine uses. Components take it by reference at construction;
// bot variants differ only by profile, never by code.
type RiskProfile struct {
	Version string `yaml:"version"`

	// Protection mode thresholds (fractions of initial capital lost today).
	CautiousLossPct  float64 `yaml:"cautious_loss_pct"`
	DefensiveLossPct float64 `yaml:"defensive_loss_pct"`
	LockdownLossPct  float64 `yaml:"lockdown_loss_pct"`

	// Leverage gate and tiers.
	MinConfidence         float64        `yaml:"min_confidence"`
	MinScore              float64        `yaml:"min_score"`
	MaxLeveragedPositions int            `yaml:"max_leveraged_positions"`
	LeverageTiers         []LeverageTier `yaml:"leverage_tiers"`
	PanicFearGreed        float64        `yaml:"panic_fear_greed"`
	PanicMarketDrop       float64        `yaml:"panic_market_drop"`
	PanicStopFactor       float64        `yaml:"panic_stop_factor"`

	// Position sizing.
	BaseRiskPerTrade    float64            `yaml:"base_risk_per_trade"`
	MaxTotalExposurePct float64            `yaml:"max_total_exposure_pct"`
	MaxPositions        int                `yaml:"max_positions"`
	AllocationCaps      map[string]float64 `yaml:"allocation_caps"`
	DefaultAllocCap     float64            `yaml:"default_alloc_cap"`
	LotSteps            map[string]float64 `yaml:"lot_steps"`
	DefaultLotStep      float64            `yaml:"default_lot_step"`
	MinQuantities       map[string]float64 `yaml:"min_quantities"`
	DefaultMinQty       float64            `yaml:"default_min_qty"`

	// Protective ladder.
	BreakEvenTrigger float64   `yaml:"break_even_trigger"`
	BreakEvenBuffer  float64   `yaml:"break_even_buffer"`
	TrailingTrigger  float64   `yaml:"trailing_trigger"`
	TrailingDistance float64   `yaml:"trailing_distance"`
	TakeProfits      []TPLevel `yaml:"take_profits"`

	// Scoring caps and weights.
	MarketScoreCap       float64 `yaml:"market_score_cap"`
	TechnicalScoreCap    float64 `yaml:"technical_score_cap"`
	VolumeScoreCap       float64 `yaml:"volume_score_cap"`
	ConfirmationScoreCap float64 `yaml:"confirmation_score_cap"`
	ConfirmationPoints   float64 `yaml:"confirmation_points"`

	// Decision cycle.
	ScanWorkers int `yaml:"scan_workers"`
}

// DefaultProfile returns the baseline conservative profile.
func DefaultProfile() *RiskProfile {
	return &RiskProfile{
		Version: "v2",

		CautiousLossPct:  0.03,
		DefensiveLossPct: 0.05,
		LockdownLossPct:  0.08,

		MinConfidence:         65,
		MinScore:              55,
		MaxLeveragedPositions: 1,
		LeverageTiers: []LeverageTier{
			{MinScore: 90, Multiplier: 5.0, StopFactor: 0.24},
			{MinScore: 80, Multiplier: 3.0, StopFactor: 0.40},
			{MinScore: 70, Multiplier: 2.0, StopFactor: 0.60},
			{MinScore: 60, Multiplier: 1.5, StopFactor: 0.80},
			{MinScore: 55, Multiplier: 1.0, StopFactor: 1.0},
		},
		PanicFearGreed:  20,
		PanicMarketDrop: -3,
		PanicStopFactor: 0.8,

		BaseRiskPerTrade:    0.01,
		MaxTotalExposurePct: 0.5,
		MaxPositions:        5,
		AllocationCaps: map[string]float64{
			"BTC/USD": 0.50,
			"ETH/USD": 0.45,
			"SOL/USD": 0.30,
		},
		DefaultAllocCap: 0.20,
		LotSteps: map[string]float64{
			"BTC/USD": 0.0001,
			"ETH/USD": 0.001,
			"SOL/USD": 0.01,
		},
		DefaultLotStep: 0.01,
		MinQuantities: map[string]float64{
			"BTC/USD": 0.0001,
			"ETH/USD": 0.001,
			"SOL/USD": 0.01,
		},
		DefaultMinQty: 0.01,

		BreakEvenTrigger: 0.015,
		BreakEvenBuffer:  0.001,
		TrailingTrigger:  0.025,
		TrailingDistance: 0.012,
		TakeProfits: []TPLevel{
			{TriggerPct: 0.03, CloseFraction: 0.30},
			{TriggerPct: 0.05, CloseFraction: 0.30},
			{TriggerPct: 0.08, CloseFraction: 1.0},
		},

		MarketScoreCap:       35,
		TechnicalScoreCap:    40,
		VolumeScoreCap:       15,
		ConfirmationScoreCap: 10,
		ConfirmationPoints:   2,

		ScanWorkers: 8,
	}
}

// AllocationCap returns the per-instrument allocation cap for symbol.
func (p *RiskProfile) AllocationCap(symbol string) float64 {
	if cap, ok := p.AllocationCaps[symbol]; ok {
		return cap
	}
	return p.DefaultAllocCap
}

// LotStep returns the order quantity granularity for symbol.
func (p *RiskProfile) LotStep(symbol string) float64 {
	if step, ok := p.LotSteps[symbol]; ok {
		return step
	}
	return p.DefaultLotStep
}

// MinQuantity returns the minimum order quantity for symbol.
func (p *RiskProfile) MinQuantity(symbol string) float64 {
	if q, ok := p.MinQuantities[symbol]; ok {
		return q
	}
	return p.DefaultMinQty
}
