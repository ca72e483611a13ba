package domain

import "context"

// BrokerGateway defines the interface for interacting with the brokerage.
type BrokerGateway interface {
	GetAccount(ctx context.Context) (*AccountSnapshot, error)
	ListPositions(ctx context.Context) ([]BrokerPosition, error)
	SubmitOrder(ctx context.Context, intent *OrderIntent) error
	// ClosePosition closes fraction (0..1] of the open position in symbol.
	ClosePosition(ctx context.Context, symbol string, fraction float64) error
	ReplaceStop(ctx context.Context, symbol string, newStop float64) error
	OnTradeUpdate(callback func(symbol string, price float64))
	Subscribe(symbols []string) error
}

// MarketIntel produces the macro/sentiment snapshot for the scorer.
type MarketIntel interface {
	Snapshot(ctx context.Context) (MarketSnapshot, error)
}

// PositionRepository persists protected positions so ladder state survives
// restarts.
type PositionRepository interface {
	SavePosition(ctx context.Context, pos *ProtectedPosition) error
	GetPosition(ctx context.Context, id string) (*ProtectedPosition, error)
	ListPositions(ctx context.Context) ([]*ProtectedPosition, error)
	DeletePosition(ctx context.Context, id string) error
}

// LedgerRepository persists capital ledger snapshots and closed trades.
type LedgerRepository interface {
	SaveLedger(ctx context.Context, state LedgerState) error
	LoadLedger(ctx context.Context) (*LedgerState, error)
	AppendClosedTrade(ctx context.Context, trade *ClosedTrade) error
	ListClosedTrades(ctx context.Context, limit int) ([]*ClosedTrade, error)
}
