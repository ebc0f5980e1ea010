// Command addtrader registers a trader in the copy trader's registry.
//
// Usage:
//
//	addtrader -address 0xabc... -alias whale1 -trades 120 -winrate 0.62 -pnl 45000
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"polymarket-copytrader/middleware"
	"polymarket-copytrader/models"
	"polymarket-copytrader/storage"
	"polymarket-copytrader/utils"
)

func main() {
	address := flag.String("address", "", "trader wallet address (required)")
	alias := flag.String("alias", "", "display alias")
	trades := flag.Int("trades", 0, "historical trade count")
	winning := flag.Int("winning", 0, "historical winning trade count")
	winRate := flag.Float64("winrate", 0, "historical win rate [0,1]")
	pnl := flag.Float64("pnl", 0, "historical total pnl in USD")
	deactivate := flag.Bool("deactivate", false, "deactivate instead of adding")
	flag.Parse()

	if *address == "" {
		flag.Usage()
		os.Exit(2)
	}
	if !middleware.IsValidEthAddress(*address) {
		log.Fatalf("invalid address: %s", *address)
	}

	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env")
	}

	store := openStore()
	defer store.Close()

	ctx := context.Background()
	addr := utils.NormalizeAddress(*address)

	if *deactivate {
		if err := store.DeactivateTrader(ctx, addr); err != nil {
			log.Fatalf("deactivate failed: %v", err)
		}
		log.Printf("Deactivated %s", addr)
		return
	}

	trader := models.TraderRecord{
		Address:       addr,
		Alias:         *alias,
		TotalTrades:   *trades,
		WinningTrades: *winning,
		WinRate:       *winRate,
		TotalPnl:      *pnl,
		IsActive:      true,
	}
	if err := store.UpsertTrader(ctx, trader); err != nil {
		log.Fatalf("upsert failed: %v", err)
	}
	log.Printf("Added %s (%s): trades=%d winrate=%.2f pnl=$%.2f",
		trader.Alias, addr, trader.TotalTrades, trader.WinRate, trader.TotalPnl)
}

func openStore() storage.TraderStore {
	if os.Getenv("POSTGRES_HOST") != "" {
		store, err := storage.NewPostgres()
		if err == nil {
			return store
		}
		log.Printf("postgres unavailable, falling back to sqlite: %v", err)
	}

	dbPath := os.Getenv("COPYTRADER_DB")
	if dbPath == "" {
		dbPath = filepath.Join("data", "copytrader.db")
	}
	store, err := storage.NewSQLite(dbPath)
	if err != nil {
		log.Fatalf("open sqlite: %v", err)
	}
	return store
}
