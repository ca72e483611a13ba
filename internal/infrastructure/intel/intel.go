// Package intel aggregates the macro and sentiment feeds into one snapshot
// for the scorer.
package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_risk_engine/internal/domain"
	"github.com/vitos/crypto_risk_engine/internal/infrastructure/httpx"
)

const (
	fearGreedURL  = "https://api.alternative.me/fng/?limit=1"
	coingeckoURL  = "https://api.coingecko.com/api/v3/global"
	yahooQuoteURL = "https://query1.finance.yahoo.com/v8/finance/chart/%s?range=1d&interval=1d"

	vixTicker = "^VIX"
	dxyTicker = "DX-Y.NYB"
)

// Fetcher pulls all sources concurrently and caches the merged snapshot.
// A source failure degrades that field to its neutral default; the snapshot
// is always usable. DXY is classified against the prior close: a stronger
// dollar is a headwind for risk assets, so up reads as BEARISH here.
type Fetcher struct {
	client *httpx.Client
	log    *zap.Logger
	ttl    time.Duration
	now    func() time.Time

	mu     sync.Mutex
	cached domain.MarketSnapshot

	// endpoint overrides for tests
	fearGreedURL string
	coingeckoURL string
	yahooURL     string
}

func NewFetcher(log *zap.Logger, ttl time.Duration) *Fetcher {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Fetcher{
		client: httpx.NewClient(httpx.ClientOptions{
			Timeout:         10 * time.Second,
			RequestsPerSec:  4,
			MaxRetryElapsed: 20 * time.Second,
		}),
		log:          log,
		ttl:          ttl,
		now:          time.Now,
		fearGreedURL: fearGreedURL,
		coingeckoURL: coingeckoURL,
		yahooURL:     yahooQuoteURL,
	}
}

// Snapshot returns the cached snapshot when fresh, otherwise refreshes all
// sources in parallel. It never returns an error together with an unusable
// snapshot; the error reports only a total refresh failure.
func (f *Fetcher) Snapshot(ctx context.Context) (domain.MarketSnapshot, error) {
	f.mu.Lock()
	if !f.cached.FetchedAt.IsZero() && f.now().Sub(f.cached.FetchedAt) < f.ttl {
		snap := f.cached
		f.mu.Unlock()
		return snap, nil
	}
	f.mu.Unlock()

	snap := domain.NeutralSnapshot()
	var wg sync.WaitGroup

	var (
		fg, fgErr   = 0.0, error(nil)
		mc, mcErr   = 0.0, error(nil)
		vix, vixErr = 0.0, error(nil)
		dxy, dxyErr = domain.DollarNeutral, error(nil)
	)

	wg.Add(4)
	go func() {
		defer wg.Done()
		fg, fgErr = f.fetchFearGreed(ctx)
	}()
	go func() {
		defer wg.Done()
		mc, mcErr = f.fetchMarketCapChange(ctx)
	}()
	go func() {
		defer wg.Done()
		vix, vixErr = f.fetchQuote(ctx, vixTicker)
	}()
	go func() {
		defer wg.Done()
		dxy, dxyErr = f.fetchDollarSignal(ctx)
	}()
	wg.Wait()

	failures := 0
	if fgErr != nil {
		f.log.Warn("fear-greed fetch failed", zap.Error(fgErr))
		failures++
	} else {
		snap.FearGreed = fg
	}
	if mcErr != nil {
		f.log.Warn("market cap fetch failed", zap.Error(mcErr))
		failures++
	} else {
		snap.MarketCapChange24h = mc
	}
	if vixErr != nil {
		f.log.Warn("vix fetch failed", zap.Error(vixErr))
		failures++
	} else {
		snap.VIX = vix
	}
	if dxyErr != nil {
		f.log.Warn("dollar index fetch failed", zap.Error(dxyErr))
		failures++
	} else {
		snap.DollarIndex = dxy
	}

	snap.CalendarBlock, snap.CalendarReason = eventWindow(f.now().UTC())
	snap.FetchedAt = f.now()

	f.mu.Lock()
	f.cached = snap
	f.mu.Unlock()

	if failures == 4 {
		return snap, fmt.Errorf("all intel sources failed")
	}
	return snap, nil
}

func (f *Fetcher) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "crypto-risk-engine/1.0")

	resp, err := f.client.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func (f *Fetcher) fetchFearGreed(ctx context.Context) (float64, error) {
	var payload struct {
		Data []struct {
			Value string `json:"value"`
		} `json:"data"`
	}
	if err := f.getJSON(ctx, f.fearGreedURL, &payload); err != nil {
		return 0, err
	}
	if len(payload.Data) == 0 {
		return 0, fmt.Errorf("empty fear-greed response")
	}
	return strconv.ParseFloat(payload.Data[0].Value, 64)
}

func (f *Fetcher) fetchMarketCapChange(ctx context.Context) (float64, error) {
	var payload struct {
		Data struct {
			MarketCapChangePct float64 `json:"market_cap_change_percentage_24h_usd"`
		} `json:"data"`
	}
	if err := f.getJSON(ctx, f.coingeckoURL, &payload); err != nil {
		return 0, err
	}
	return payload.Data.MarketCapChangePct, nil
}

type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				PreviousClose      float64 `json:"chartPreviousClose"`
			} `json:"meta"`
		} `json:"result"`
	} `json:"chart"`
}

func (f *Fetcher) fetchQuote(ctx context.Context, ticker string) (float64, error) {
	var payload yahooChart
	if err := f.getJSON(ctx, fmt.Sprintf(f.yahooURL, ticker), &payload); err != nil {
		return 0, err
	}
	if len(payload.Chart.Result) == 0 {
		return 0, fmt.Errorf("empty chart response for %s", ticker)
	}
	return payload.Chart.Result[0].Meta.RegularMarketPrice, nil
}

func (f *Fetcher) fetchDollarSignal(ctx context.Context) (domain.DollarSignal, error) {
	var payload yahooChart
	if err := f.getJSON(ctx, fmt.Sprintf(f.yahooURL, dxyTicker), &payload); err != nil {
		return domain.DollarNeutral, err
	}
	if len(payload.Chart.Result) == 0 {
		return domain.DollarNeutral, fmt.Errorf("empty chart response for %s", dxyTicker)
	}

	meta := payload.Chart.Result[0].Meta
	if meta.PreviousClose <= 0 {
		return domain.DollarNeutral, nil
	}
	change := (meta.RegularMarketPrice - meta.PreviousClose) / meta.PreviousClose
	switch {
	case change > 0.003:
		return domain.DollarBearish, nil
	case change < -0.003:
		return domain.DollarBullish, nil
	default:
		return domain.DollarNeutral, nil
	}
}

// eventWindow flags the recurring high-impact macro slots: FOMC decision
// afternoons (the Wednesday announcements cluster at 18:00 UTC) and the NFP
// release on the first Friday of the month at 12:30 UTC, with an hour of
// padding on both sides.
func eventWindow(now time.Time) (bool, string) {
	if now.Weekday() == time.Friday && now.Day() <= 7 {
		release := time.Date(now.Year(), now.Month(), now.Day(), 12, 30, 0, 0, time.UTC)
		if now.After(release.Add(-time.Hour)) && now.Before(release.Add(time.Hour)) {
			return true, "NFP release window"
		}
	}
	if now.Weekday() == time.Wednesday {
		decision := time.Date(now.Year(), now.Month(), now.Day(), 18, 0, 0, 0, time.UTC)
		if now.After(decision.Add(-time.Hour)) && now.Before(decision.Add(time.Hour)) {
			return true, "FOMC decision window"
		}
	}
	return false, ""
}
