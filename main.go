package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"polymarket-copytrader/api"
	"polymarket-copytrader/config"
	"polymarket-copytrader/executor"
	"polymarket-copytrader/handlers"
	"polymarket-copytrader/middleware"
	"polymarket-copytrader/models"
	"polymarket-copytrader/storage"
	"polymarket-copytrader/strategy"
	"polymarket-copytrader/syncer"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using defaults")
	}

	cfg, err := config.Load(os.Getenv("COPYTRADER_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	switch os.Getenv("COPYTRADER_PRESET") {
	case "conservative":
		cfg.Strategy = config.ConservativePreset()
		log.Println("[main] Using conservative strategy preset")
	case "aggressive":
		cfg.Strategy = config.AggressivePreset()
		log.Println("[main] Using aggressive strategy preset")
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	store := openStore()
	defer store.Close()

	client, err := api.NewPolygonClient(cfg.Chain.RPCURL, cfg.Chain.ContractAddress,
		time.Duration(cfg.Chain.RequestTimeoutMS)*time.Millisecond)
	if err != nil {
		log.Fatalf("failed to connect to polygon: %v", err)
	}
	defer client.Close()

	gamma := api.NewGammaClient(cfg.Gamma.BaseURL,
		time.Duration(cfg.Gamma.RequestTimeoutMS)*time.Millisecond, store)
	clob := api.NewClobClient(cfg.Clob.BaseURL,
		time.Duration(cfg.Clob.RequestTimeoutMS)*time.Millisecond)

	tracker := syncer.NewOnChainTracker(client, gamma, syncer.TrackerConfig{
		PollInterval:     time.Duration(cfg.Chain.PollIntervalSec) * time.Second,
		MaxCatchupBlocks: cfg.Chain.MaxCatchupBlocks,
		SkipMargin:       cfg.Chain.SkipMargin,
		MaxBatchBlocks:   cfg.Chain.MaxBatchBlocks,
		MaxSeenCache:     cfg.Chain.MaxSeenCache,
		MinTradeSize:     cfg.Strategy.MinTradeSize,
		DefaultPrice:     cfg.Strategy.DefaultPrice,
	})
	tracker.SetPriceResolver(clob)

	traders, err := store.LoadActiveTraders(context.Background())
	if err != nil {
		log.Printf("[main] failed to load traders: %v", err)
	}
	for _, t := range traders {
		tracker.AddTrader(t)
	}
	log.Printf("[main] Loaded %d traders", len(traders))

	wallet := executor.NewPaperWallet(cfg.Paper.InitialBalance, cfg.Strategy.DefaultPrice)
	engine := strategy.NewDecisionEngine(cfg.Strategy, tracker, wallet, wallet)

	tracker.RegisterSignalCallback(engine.HandleSignal)
	tracker.RegisterSignalCallback(func(sig models.TradeSignal) {
		rec := tracker.LookupTrader(sig.TraderAddress)
		if rec == nil {
			return
		}
		if err := store.UpsertTrader(context.Background(), *rec); err != nil {
			log.Printf("[main] failed to update trader stats: %v", err)
		}
	})
	engine.RegisterDecisionCallback(func(d models.SignalDecision) {
		if d.Action == models.ActionSkip {
			return
		}
		trade := storage.CopyTrade{
			Timestamp:     time.Now().UTC(),
			TraderAddress: d.Signal.TraderAddress,
			TokenID:       d.Signal.TokenID,
			Side:          string(d.Signal.Side),
			Action:        string(d.Action),
			Shares:        d.CopySize,
			Price:         d.Signal.Price,
			AmountUsd:     d.CopyAmountUsd,
			TxHash:        d.Signal.TxHash,
		}
		if err := store.SaveCopyTrade(context.Background(), trade); err != nil {
			log.Printf("[main] failed to persist copy trade: %v", err)
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := engine.Start(ctx); err != nil {
		log.Fatalf("failed to start engine: %v", err)
	}
	if err := tracker.Start(ctx); err != nil {
		log.Fatalf("failed to start tracker: %v", err)
	}

	var blocksWS *api.BlocksWSClient
	if cfg.Chain.WSURL != "" {
		blocksWS = api.NewBlocksWSClient(cfg.Chain.WSURL, tracker.NotifyHead)
		if err := blocksWS.Start(ctx); err != nil {
			log.Printf("[main] newHeads feed unavailable, polling only: %v", err)
			blocksWS = nil
		}
	}

	r := gin.Default()
	r.Use(middleware.BasicAuth())
	h := handlers.NewHandler(tracker, engine, wallet, store, blocksWS)
	h.Register(r)

	port := os.Getenv("PORT")
	if port == "" {
		port = strconv.Itoa(cfg.Server.Port)
	}

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutMS) * time.Millisecond,
	}

	go func() {
		log.Printf("[main] Server starting on http://localhost:%s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[main] Shutting down...")

	if blocksWS != nil {
		blocksWS.Stop()
	}
	tracker.Stop()
	engine.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeoutMS)*time.Millisecond)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] server shutdown: %v", err)
	}

	summary := wallet.Summary()
	log.Printf("[main] Final portfolio: balance $%.2f, %d positions, %d trades, realized pnl $%.2f",
		summary.UsdcBalance, summary.PositionCount, summary.TradeCount, summary.RealizedPnl)
}

// openStore picks the best available backend: postgres when configured,
// sqlite otherwise, memory as last resort.
func openStore() storage.TraderStore {
	if os.Getenv("POSTGRES_HOST") != "" {
		store, err := storage.NewPostgres()
		if err == nil {
			return store
		}
		log.Printf("[main] postgres unavailable, falling back to sqlite: %v", err)
	}

	dbPath := os.Getenv("COPYTRADER_DB")
	if dbPath == "" {
		dbPath = filepath.Join("data", "copytrader.db")
	}
	store, err := storage.NewSQLite(dbPath)
	if err == nil {
		return store
	}
	log.Printf("[main] sqlite unavailable, running in-memory: %v", err)

	return storage.NewMemory()
}
