package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/vitos/crypto_risk_engine/internal/domain"
	"github.com/vitos/crypto_risk_engine/internal/infrastructure/broker"
	"github.com/vitos/crypto_risk_engine/internal/infrastructure/intel"
	"github.com/vitos/crypto_risk_engine/internal/infrastructure/logger"
	"github.com/vitos/crypto_risk_engine/internal/infrastructure/storage"
	"github.com/vitos/crypto_risk_engine/internal/metrics"
	"github.com/vitos/crypto_risk_engine/internal/usecase"
	"github.com/vitos/crypto_risk_engine/internal/web"
)

type Config struct {
	Broker struct {
		RESTEndpoint string `yaml:"rest_endpoint"`
		WSEndpoint   string `yaml:"ws_endpoint"`
	} `yaml:"broker"`
	Engine struct {
		InitialCapital float64  `yaml:"initial_capital"`
		Symbols        []string `yaml:"symbols"`
		CycleSeconds   int      `yaml:"cycle_seconds"`
		IntelTTLSec    int      `yaml:"intel_ttl_seconds"`
		DatabasePath   string   `yaml:"database_path"`
	} `yaml:"engine"`
	Profile *domain.RiskProfile `yaml:"profile"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Seed the profile with the built-in defaults so a partial yaml
	// profile block overlays them instead of zeroing omitted fields.
	cfg := Config{Profile: domain.DefaultProfile()}
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	// 1. Load config and credentials. API keys come from the environment
	// only, never from the yaml file.
	_ = godotenv.Load()

	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	profile := cfg.Profile
	if profile == nil {
		profile = domain.DefaultProfile()
	}

	// 2. Init loggers. Trades also go to the audit file.
	log, err := logger.NewFileLogger("risk_engine.log", cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init storage.
	dbPath := cfg.Engine.DatabasePath
	if dbPath == "" {
		dbPath = "engine.db"
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Init broker adapter.
	apiKey := os.Getenv("ALPACA_API_KEY")
	apiSecret := os.Getenv("ALPACA_API_SECRET")
	if apiKey == "" || apiSecret == "" {
		log.Fatal("ALPACA_API_KEY and ALPACA_API_SECRET must be set")
	}
	gateway := broker.NewAlpacaAdapter(apiKey, apiSecret, cfg.Broker.RESTEndpoint, cfg.Broker.WSEndpoint, log)

	// 5. Build the engine.
	m := metrics.New()
	ledger := usecase.NewCapitalLedger(cfg.Engine.InitialCapital)
	ladder := usecase.NewProtectiveLadderEngine(profile, log)
	fetcher := intel.NewFetcher(log, time.Duration(cfg.Engine.IntelTTLSec)*time.Second)

	service := usecase.NewTradeService(usecase.TradeServiceDeps{
		Profile:    profile,
		Logger:     log,
		Ledger:     ledger,
		Protection: usecase.NewProtectionModeController(profile),
		Scorer:     usecase.NewUnifiedScorer(profile),
		Decider:    usecase.NewLeverageDecider(profile),
		Sizer:      usecase.NewPositionSizer(profile),
		Ladder:     ladder,
		Broker:     gateway,
		Intel:      fetcher,
		Positions:  store,
		LedgerRepo: store,
		Metrics:    m,
	})

	// 6. Rehydrate state from the last run.
	ctx := context.Background()
	if saved, err := store.LoadLedger(ctx); err != nil {
		log.Error("Failed to load ledger", zap.Error(err))
	} else if saved != nil {
		ledger.Restore(*saved)
		log.Info("Ledger restored",
			zap.Float64("capital", saved.CurrentCapital),
			zap.Float64("worst_daily_loss_pct", saved.WorstDailyLossPct))
	}
	if positions, err := store.ListPositions(ctx); err != nil {
		log.Error("Failed to load positions", zap.Error(err))
	} else if len(positions) > 0 {
		ladder.Rehydrate(positions)
		log.Info("Positions rehydrated", zap.Int("count", len(positions)))
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// 7. Wire the trade stream into the protective ladder.
	gateway.OnTradeUpdate(func(symbol string, price float64) {
		service.OnTick(context.Background(), symbol, price)
	})
	if err := gateway.Subscribe(cfg.Engine.Symbols); err != nil {
		log.Error("Failed to subscribe trade stream", zap.Error(err))
	}

	// 8. Decision cycle loop.
	cycle := time.Duration(cfg.Engine.CycleSeconds) * time.Second
	if cycle <= 0 {
		cycle = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(cycle)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := service.RunCycle(context.Background(), nil); err != nil {
					log.Error("Decision cycle failed", zap.Error(err))
				}
			case <-stop:
				return
			}
		}
	}()

	// 9. Reset scheduler: daily at 00:00 UTC, weekly on Monday.
	go func() {
		for {
			next := nextMidnightUTC(time.Now())
			select {
			case <-time.After(time.Until(next)):
				service.ResetDaily(context.Background())
				if next.Weekday() == time.Monday {
					service.ResetWeekly(context.Background())
				}
			case <-stop:
				return
			}
		}
	}()

	// 10. Web server.
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	server := web.NewServer(port, service, m, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// 11. Wait for shutdown.
	<-stop

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if err := store.SaveLedger(shutdownCtx, ledger.State()); err != nil {
		log.Error("Failed to persist ledger on shutdown", zap.Error(err))
	}
}

func nextMidnightUTC(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
