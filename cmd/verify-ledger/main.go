// Package main provides a CLI tool that audits the stock ledger.
//
// It replays the full kardex history of every (warehouse, presentation)
// key and compares the folded state against the live balance rows. Any
// divergence means the ledger and the balances were mutated outside a
// common transaction and needs manual investigation.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"facturo/internal/core/apperror"
	"facturo/internal/core/entity"
	"facturo/internal/core/id"
	"facturo/internal/domain/registers/kardex"
	"facturo/internal/domain/registers/stock"
	"facturo/internal/infrastructure/storage/postgres"
	"facturo/internal/infrastructure/storage/postgres/register_repo"
	"facturo/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: true,
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(dbURL))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	txManager := postgres.NewTxManager(pool)
	kardexRepo := register_repo.NewKardexRepo(txManager)
	stockRepo := register_repo.NewStockRepo(txManager)
	kardexSvc := kardex.NewService(kardexRepo)

	v := &verifier{
		log:    log,
		kardex: kardexSvc,
		stock:  stockRepo,
		seen:   make(map[stock.Key]bool),
	}

	// A read-only transaction gives one consistent snapshot for the whole
	// run; replays never race with concurrent postings.
	err = txManager.ReadOnly(ctx, func(ctx context.Context) error {
		if err := kardexRepo.ListKeys(ctx, func(warehouseID, presentationID id.ID) error {
			return v.verifyKey(ctx, warehouseID, presentationID)
		}); err != nil {
			return err
		}
		return stockRepo.ListAll(ctx, v.checkOrphanBalance)
	})
	if err != nil {
		log.Fatalw("verification run failed", "error", err)
	}

	if v.mismatches > 0 {
		log.Errorw("ledger verification failed",
			"keys_checked", v.checked,
			"mismatches", v.mismatches,
		)
		os.Exit(1)
	}

	log.Infow("ledger verification passed", "keys_checked", v.checked)
}

type verifier struct {
	log    *logger.Logger
	kardex *kardex.Service
	stock  *register_repo.StockRepo

	seen       map[stock.Key]bool
	checked    int
	mismatches int
}

// verifyKey replays one key's history and compares it to the balance row.
func (v *verifier) verifyKey(ctx context.Context, warehouseID, presentationID id.ID) error {
	key := stock.Key{WarehouseID: warehouseID, PresentationID: presentationID}
	v.seen[key] = true
	v.checked++

	state, err := v.kardex.Verify(ctx, warehouseID, presentationID)
	if err != nil {
		if appErr, ok := apperror.AsAppError(err); ok {
			v.mismatches++
			v.log.Errorw("kardex history is not reproducible",
				"warehouse_id", warehouseID,
				"presentation_id", presentationID,
				"details", appErr.Details,
			)
			return nil
		}
		return fmt.Errorf("verify key %s/%s: %w", warehouseID, presentationID, err)
	}

	balance, err := v.stock.GetBalance(ctx, key)
	if err != nil {
		if apperror.IsNotFound(err) {
			balance = entity.StockBalance{WarehouseID: warehouseID, PresentationID: presentationID}
		} else {
			return fmt.Errorf("get balance %s/%s: %w", warehouseID, presentationID, err)
		}
	}

	if balance.Quantity != state.Quantity || !balance.AverageCost.Equal(state.AverageCost) {
		v.mismatches++
		v.log.Errorw("balance diverges from ledger",
			"warehouse_id", warehouseID,
			"presentation_id", presentationID,
			"ledger_quantity", state.Quantity.String(),
			"balance_quantity", balance.Quantity.String(),
			"ledger_average", state.AverageCost.String(),
			"balance_average", balance.AverageCost.String(),
		)
	}

	return nil
}

// checkOrphanBalance flags balance rows whose key has no ledger history.
// Reservations alone create rows legitimately; only stock without history
// is a defect.
func (v *verifier) checkOrphanBalance(balance entity.StockBalance) error {
	key := stock.Key{WarehouseID: balance.WarehouseID, PresentationID: balance.PresentationID}
	if v.seen[key] {
		return nil
	}

	v.checked++
	if !balance.Quantity.IsZero() {
		v.mismatches++
		v.log.Errorw("balance has stock but no ledger history",
			"warehouse_id", balance.WarehouseID,
			"presentation_id", balance.PresentationID,
			"quantity", balance.Quantity.String(),
		)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
