package domain

import (
	"math"
	"time"
)

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
	SideNone  Side = "NONE"
)

// ProtectionMode is the global capital-protection state, ordered by severity.
type ProtectionMode int

const (
	ModeNormal ProtectionMode = iota
	ModeCautious
	ModeDefensive
	ModeLockdown
)

func (m ProtectionMode) String() string {
	switch m {
	case ModeCautious:
		return "CAUTIOUS"
	case ModeDefensive:
		return "DEFENSIVE"
	case ModeLockdown:
		return "LOCKDOWN"
	default:
		return "NORMAL"
	}
}

type DollarSignal string

const (
	DollarBullish DollarSignal = "BULLISH"
	DollarNeutral DollarSignal = "NEUTRAL"
	DollarBearish DollarSignal = "BEARISH"
)

// MarketSnapshot is the flat macro/sentiment view consumed by the scorer.
// Producers substitute neutral values for any source they could not reach.
type MarketSnapshot struct {
	FearGreed          float64
	VIX                float64
	DollarIndex        DollarSignal
	MarketCapChange24h float64
	CalendarBlock      bool
	CalendarReason     string
	FetchedAt          time.Time
}

// NeutralSnapshot is the all-defaults snapshot used when no intel is available.
func NeutralSnapshot() MarketSnapshot {
	return MarketSnapshot{
		FearGreed:   50,
		VIX:         20,
		DollarIndex: DollarNeutral,
	}
}

// SignalFeatures is a flat map of named technical indicator values produced
// by the (external) indicator pipeline.
type SignalFeatures map[string]float64

// Feature names recognized by the scorer.
const (
	FeatureClose        = "close"
	FeatureEMAFast      = "ema_fast"
	FeatureEMAMid       = "ema_mid"
	FeatureEMASlow      = "ema_slow"
	FeatureRSI          = "rsi"
	FeatureRSIPrev      = "rsi_prev"
	FeatureMACDHist     = "macd_hist"
	FeatureMACDHistPrev = "macd_hist_prev"
	FeatureADX          = "adx"
	FeatureBBPosition   = "bb_position"
	FeatureVolumeRatio  = "volume_ratio"
	FeatureMomentum     = "momentum"
	FeatureMFI          = "mfi"
	FeatureCMF          = "cmf"
	FeatureATRPct       = "atr_pct"
)

// Get returns the named feature, or def when it is absent or non-finite.
func (f SignalFeatures) Get(name string, def float64) float64 {
	v, ok := f[name]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return v
}

// TradeSignal is the raw inbound signal the decision engine evaluates.
type TradeSignal struct {
	Symbol     string  `json:"symbol"`
	Confidence float64 `json:"confidence"`
	EntryPrice float64 `json:"entry_price"`
	// StopLossPct is the unleveraged stop distance as a fraction of entry.
	StopLossPct float64        `json:"stop_loss_pct"`
	Features    SignalFeatures `json:"features"`
}

// ScoreBreakdown is the unified 0-100 opportunity score with its
// per-component contributions. Total is always the sum of the components,
// each clamped to its cap before summation.
type ScoreBreakdown struct {
	Market       float64 `json:"market"`
	Technical    float64 `json:"technical"`
	Volume       float64 `json:"volume"`
	Confirmation float64 `json:"confirmation"`
	Total        float64 `json:"total"`
}

// LeverageDecision is the outcome of the leverage eligibility gate and tier
// mapping. Multiplier > 1 implies Eligible.
type LeverageDecision struct {
	Eligible            bool    `json:"eligible"`
	Multiplier          float64 `json:"multiplier"`
	AdjustedStopLossPct float64 `json:"adjusted_stop_loss_pct"`
	Direction           Side    `json:"direction"`
	Reason              string  `json:"reason,omitempty"`
}

type RejectReason string

const (
	RejectNone             RejectReason = ""
	RejectLockdown         RejectReason = "LOCKDOWN"
	RejectInvalidStop      RejectReason = "INVALID_STOP"
	RejectPositionTooSmall RejectReason = "POSITION_TOO_SMALL"
	RejectMaxPositions     RejectReason = "MAX_POSITIONS"
	RejectNoExposureLeft   RejectReason = "NO_EXPOSURE_LEFT"
)

// SizeResult is the sizing outcome. Quantity is zero whenever Reject is set.
type SizeResult struct {
	Quantity float64      `json:"quantity"`
	Notional float64      `json:"notional"`
	Reject   RejectReason `json:"reject,omitempty"`
}

type LadderActionType string

const (
	LadderExitAll     LadderActionType = "EXIT_ALL"
	LadderPartialExit LadderActionType = "PARTIAL_EXIT"
	LadderMoveStop    LadderActionType = "MOVE_STOP"
	LadderTrailStop   LadderActionType = "TRAIL_STOP"
	LadderHold        LadderActionType = "HOLD"
)

// LadderAction is one protective action emitted by the ladder engine on a
// price tick. Fraction is set for partial exits, NewStop for stop moves.
type LadderAction struct {
	Type     LadderActionType
	Symbol   string
	Fraction float64
	NewStop  float64
	Reason   string
}

// OrderIntent is the outbound order request handed to the broker gateway.
type OrderIntent struct {
	ID          string
	Symbol      string
	Side        Side
	Quantity    float64
	TimeInForce string
	Leverage    float64
	StopLoss    float64
	CreatedAt   time.Time
}

// BrokerPosition is one open position as reported by the broker.
type BrokerPosition struct {
	Symbol       string
	Qty          float64
	EntryPrice   float64
	CurrentPrice float64
}

// AccountSnapshot is the broker account state read at the start of a
// decision cycle.
type AccountSnapshot struct {
	Equity    float64
	Cash      float64
	Positions []BrokerPosition
}

// OpenExposure is the total absolute notional across open positions.
func (a AccountSnapshot) OpenExposure() float64 {
	total := 0.0
	for _, p := range a.Positions {
		v := p.Qty * p.CurrentPrice
		if v < 0 {
			v = -v
		}
		total += v
	}
	return total
}

// LedgerState is the capital ledger snapshot consumed by the protection
// controller and persisted across restarts. WorstDailyLossPct is the worst
// intraday loss fraction seen since the last daily reset; it is what makes
// the LOCKDOWN ratchet survive an intraday recovery.
type LedgerState struct {
	InitialCapital    float64   `json:"initial_capital"`
	CurrentCapital    float64   `json:"current_capital"`
	HighWaterMark     float64   `json:"high_water_mark"`
	DailyPnL          float64   `json:"daily_pnl"`
	WeeklyPnL         float64   `json:"weekly_pnl"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	WorstDailyLossPct float64   `json:"worst_daily_loss_pct"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ClosedTrade is one realized exit recorded for history endpoints.
type ClosedTrade struct {
	ID         int64     `json:"id"`
	PositionID string    `json:"position_id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	PnL        float64   `json:"pnl"`
	Reason     string    `json:"reason"`
	ClosedAt   time.Time `json:"closed_at"`
}
