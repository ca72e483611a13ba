// Package broker adapts the Alpaca trading API to the engine's gateway
// interface.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vitos/crypto_risk_engine/internal/domain"
	"github.com/vitos/crypto_risk_engine/internal/infrastructure/httpx"
)

const (
	AlpacaPaperURL    = "https://paper-api.alpaca.markets"
	AlpacaCryptoWSURL = "wss://stream.data.alpaca.markets/v1beta3/crypto/us"
)

// AlpacaAdapter implements domain.BrokerGateway against the Alpaca REST API
// and the crypto trade stream.
type AlpacaAdapter struct {
	apiKey    string
	apiSecret string
	baseURL   string
	wsURL     string
	client    *httpx.Client
	log       *zap.Logger

	mu         sync.Mutex
	wsConn     *websocket.Conn
	subscribed []string
	callbacks  []func(symbol string, price float64)
	stopOrders map[string]string // symbol -> open stop order id
}

func NewAlpacaAdapter(apiKey, apiSecret, baseURL, wsURL string, log *zap.Logger) *AlpacaAdapter {
	if baseURL == "" {
		baseURL = AlpacaPaperURL
	}
	if wsURL == "" {
		wsURL = AlpacaCryptoWSURL
	}
	return &AlpacaAdapter{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		wsURL:     wsURL,
		client: httpx.NewClient(httpx.ClientOptions{
			Timeout:        10 * time.Second,
			RequestsPerSec: 3,
		}),
		log:        log,
		stopOrders: make(map[string]string),
	}
}

// --- REST API ---

func (a *AlpacaAdapter) sendRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body []byte
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = jsonBody
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("APCA-API-KEY-ID", a.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", a.apiSecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

type alpacaAccount struct {
	Equity string `json:"equity"`
	Cash   string `json:"cash"`
}

type alpacaPosition struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	AvgEntryPrice string `json:"avg_entry_price"`
	CurrentPrice  string `json:"current_price"`
}

func (a *AlpacaAdapter) GetAccount(ctx context.Context) (*domain.AccountSnapshot, error) {
	body, err := a.sendRequest(ctx, http.MethodGet, "/v2/account", nil)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}

	var acc alpacaAccount
	if err := json.Unmarshal(body, &acc); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	equity, _ := strconv.ParseFloat(acc.Equity, 64)
	cash, _ := strconv.ParseFloat(acc.Cash, 64)

	positions, err := a.ListPositions(ctx)
	if err != nil {
		return nil, err
	}

	return &domain.AccountSnapshot{
		Equity:    equity,
		Cash:      cash,
		Positions: positions,
	}, nil
}

func (a *AlpacaAdapter) ListPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	body, err := a.sendRequest(ctx, http.MethodGet, "/v2/positions", nil)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	var raw []alpacaPosition
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}

	positions := make([]domain.BrokerPosition, 0, len(raw))
	for _, p := range raw {
		qty, _ := strconv.ParseFloat(p.Qty, 64)
		entry, _ := strconv.ParseFloat(p.AvgEntryPrice, 64)
		current, _ := strconv.ParseFloat(p.CurrentPrice, 64)
		positions = append(positions, domain.BrokerPosition{
			Symbol:       p.Symbol,
			Qty:          qty,
			EntryPrice:   entry,
			CurrentPrice: current,
		})
	}
	return positions, nil
}

func (a *AlpacaAdapter) SubmitOrder(ctx context.Context, intent *domain.OrderIntent) error {
	side := "buy"
	if intent.Side == domain.SideShort {
		side = "sell"
	}
	payload := map[string]any{
		"client_order_id": intent.ID,
		"symbol":          intent.Symbol,
		"qty":             strconv.FormatFloat(intent.Quantity, 'f', -1, 64),
		"side":            side,
		"type":            "market",
		"time_in_force":   intent.TimeInForce,
	}
	if _, err := a.sendRequest(ctx, http.MethodPost, "/v2/orders", payload); err != nil {
		return fmt.Errorf("submit order %s: %w", intent.Symbol, err)
	}

	a.log.Info("order submitted",
		zap.String("symbol", intent.Symbol),
		zap.String("side", side),
		zap.Float64("qty", intent.Quantity))
	return nil
}

func (a *AlpacaAdapter) ClosePosition(ctx context.Context, symbol string, fraction float64) error {
	path := "/v2/positions/" + symbol
	if fraction < 1 {
		pct := strconv.FormatFloat(fraction*100, 'f', 2, 64)
		path += "?percentage=" + pct
	}
	if _, err := a.sendRequest(ctx, http.MethodDelete, path, nil); err != nil {
		return fmt.Errorf("close position %s: %w", symbol, err)
	}

	a.mu.Lock()
	if fraction >= 1 {
		delete(a.stopOrders, symbol)
	}
	a.mu.Unlock()
	return nil
}

// ReplaceStop moves the resting stop order for symbol. The first call places
// the order, later calls patch it in place.
func (a *AlpacaAdapter) ReplaceStop(ctx context.Context, symbol string, newStop float64) error {
	a.mu.Lock()
	orderID := a.stopOrders[symbol]
	a.mu.Unlock()

	stopPrice := strconv.FormatFloat(newStop, 'f', -1, 64)

	if orderID != "" {
		payload := map[string]any{"stop_price": stopPrice}
		if _, err := a.sendRequest(ctx, http.MethodPatch, "/v2/orders/"+orderID, payload); err != nil {
			return fmt.Errorf("replace stop %s: %w", symbol, err)
		}
		return nil
	}

	// First placement: size the stop to the whole open position.
	positions, err := a.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("place stop %s: %w", symbol, err)
	}
	var qty float64
	side := "sell"
	for _, p := range positions {
		if p.Symbol == symbol {
			qty = p.Qty
			if qty < 0 {
				qty, side = -qty, "buy"
			}
			break
		}
	}
	if qty == 0 {
		return fmt.Errorf("place stop %s: no open position", symbol)
	}

	payload := map[string]any{
		"symbol":        symbol,
		"side":          side,
		"type":          "stop",
		"stop_price":    stopPrice,
		"time_in_force": "gtc",
		"qty":           strconv.FormatFloat(qty, 'f', -1, 64),
	}
	body, err := a.sendRequest(ctx, http.MethodPost, "/v2/orders", payload)
	if err != nil {
		return fmt.Errorf("place stop %s: %w", symbol, err)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err == nil && created.ID != "" {
		a.mu.Lock()
		a.stopOrders[symbol] = created.ID
		a.mu.Unlock()
	}
	return nil
}

// --- Trade stream ---

func (a *AlpacaAdapter) OnTradeUpdate(callback func(symbol string, price float64)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callbacks = append(a.callbacks, callback)
}

// Subscribe connects the trade stream (once) and subscribes to symbols. The
// read loop reconnects with exponential backoff on failure.
func (a *AlpacaAdapter) Subscribe(symbols []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.subscribed = append(a.subscribed, symbols...)
	if a.wsConn != nil {
		return a.subscribeLocked(symbols)
	}

	if err := a.connectLocked(); err != nil {
		return err
	}
	go a.readLoop()
	return a.subscribeLocked(a.subscribed)
}

func (a *AlpacaAdapter) connectLocked() error {
	c, _, err := websocket.DefaultDialer.Dial(a.wsURL, nil)
	if err != nil {
		return err
	}
	a.wsConn = c

	auth := map[string]string{
		"action": "auth",
		"key":    a.apiKey,
		"secret": a.apiSecret,
	}
	return c.WriteJSON(auth)
}

func (a *AlpacaAdapter) subscribeLocked(symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	msg := map[string]any{
		"action": "subscribe",
		"trades": symbols,
	}
	return a.wsConn.WriteJSON(msg)
}

type streamTrade struct {
	Type   string  `json:"T"`
	Symbol string  `json:"S"`
	Price  float64 `json:"p"`
}

func (a *AlpacaAdapter) readLoop() {
	for {
		a.mu.Lock()
		conn := a.wsConn
		a.mu.Unlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			a.log.Warn("trade stream read error, reconnecting", zap.Error(err))
			a.reconnect()
			continue
		}

		var events []streamTrade
		if err := json.Unmarshal(message, &events); err != nil {
			continue
		}
		for _, ev := range events {
			if ev.Type != "t" || ev.Price <= 0 {
				continue
			}
			a.mu.Lock()
			cbs := make([]func(string, float64), len(a.callbacks))
			copy(cbs, a.callbacks)
			a.mu.Unlock()
			for _, cb := range cbs {
				cb(ev.Symbol, ev.Price)
			}
		}
	}
}

func (a *AlpacaAdapter) reconnect() {
	a.mu.Lock()
	if a.wsConn != nil {
		a.wsConn.Close()
		a.wsConn = nil
	}
	a.mu.Unlock()

	strategy := backoff.NewExponentialBackOff()
	strategy.MaxElapsedTime = 0 // retry until the process exits

	_ = backoff.Retry(func() error {
		a.mu.Lock()
		defer a.mu.Unlock()
		if err := a.connectLocked(); err != nil {
			a.log.Warn("trade stream reconnect failed", zap.Error(err))
			return err
		}
		return a.subscribeLocked(a.subscribed)
	}, strategy)
}
