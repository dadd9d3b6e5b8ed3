// Package main provides a CLI tool for seeding the database with demo data.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"facturo/internal/core/apperror"
	"facturo/internal/core/id"
	"facturo/internal/core/types"
	"facturo/internal/domain/catalogs/product"
	"facturo/internal/domain/catalogs/warehouse"
	"facturo/internal/domain/registers/kardex"
	"facturo/internal/domain/registers/stock"
	"facturo/internal/infrastructure/storage/postgres"
	"facturo/internal/infrastructure/storage/postgres/catalog_repo"
	"facturo/internal/infrastructure/storage/postgres/register_repo"
	"facturo/pkg/logger"
	"facturo/pkg/numerator"
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

	poolCfg := postgres.DefaultPoolConfig(dbURL)
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	log.Info("connected to database")

	txManager := postgres.NewTxManager(pool)
	num := numerator.New(postgres.NewNumeratorQuerier(txManager))

	warehouseRepo := catalog_repo.NewWarehouseRepo(txManager)
	productRepo := catalog_repo.NewProductRepo(txManager)
	presentationRepo := catalog_repo.NewPresentationRepo(txManager)
	stockRepo := register_repo.NewStockRepo(txManager)
	kardexRepo := register_repo.NewKardexRepo(txManager)

	auditSvc, err := postgres.NewAuditService(txManager)
	if err != nil {
		log.Fatalw("failed to create audit service", "error", err)
	}

	warehouseSvc := warehouse.NewService(warehouseRepo, txManager, num)
	productSvc := product.NewService(productRepo, presentationRepo, txManager, num)
	stockSvc := stock.NewService(stockRepo, kardex.NewService(kardexRepo), txManager, auditSvc)

	s := &seeder{
		log:          log,
		txManager:    txManager,
		warehouses:   warehouseSvc,
		products:     productSvc,
		stock:        stockSvc,
		warehouseIDs: make(map[string]id.ID),
	}

	if err := s.seedWarehouses(ctx); err != nil {
		log.Fatalw("failed to seed warehouses", "error", err)
	}
	if err := s.seedCatalog(ctx); err != nil {
		log.Fatalw("failed to seed catalog", "error", err)
	}

	if size := getEnvInt("SEED_BULK_PRODUCTS", 0); size > 0 {
		inserter := postgres.NewBatchInserter(txManager)
		if err := s.seedBulkCatalog(ctx, inserter, size); err != nil {
			log.Fatalw("failed to seed bulk catalog", "error", err)
		}
	}

	log.Info("seeding completed successfully")
}

type seeder struct {
	log        *logger.Logger
	txManager  *postgres.TxManager
	warehouses *warehouse.Service
	products   *product.Service
	stock      *stock.Service

	warehouseIDs map[string]id.ID
}

func (s *seeder) seedWarehouses(ctx context.Context) error {
	specs := []struct {
		code, name string
		whType     warehouse.WarehouseType
		isDefault  bool
	}{
		{"MAIN", "Main Warehouse", warehouse.TypeMain, true},
		{"SHOP", "Retail Store", warehouse.TypeRetail, false},
	}

	for _, spec := range specs {
		existing, err := s.warehouses.GetByCode(ctx, spec.code)
		if err == nil {
			s.warehouseIDs[spec.code] = existing.ID
			s.log.Infow("warehouse already exists", "code", spec.code)
			continue
		}
		if !apperror.IsNotFound(err) {
			return fmt.Errorf("check warehouse %s: %w", spec.code, err)
		}

		wh := warehouse.NewWarehouse(spec.code, spec.name, spec.whType)
		wh.IsDefault = spec.isDefault
		if err := s.warehouses.Create(ctx, wh); err != nil {
			return fmt.Errorf("create warehouse %s: %w", spec.code, err)
		}
		s.warehouseIDs[spec.code] = wh.ID
		s.log.Infow("created warehouse", "code", spec.code, "id", wh.ID)
	}

	return nil
}

type productSpec struct {
	code, name string
	prodType   product.ProductType
	sku        string
	uom        string
	price      string
	cost       string
	fractional bool
	taxRate    string
	opening    float64 // opening stock in MAIN, zero for none
}

func (s *seeder) seedCatalog(ctx context.Context) error {
	specs := []productSpec{
		{"PRD-00001", "Widget", product.TypeGoods, "W-UNIT", "und", "100.00", "60.00", false, "19", 50},
		{"PRD-00002", "Premium Coffee", product.TypeGoods, "COF-KG", "kg", "42.50", "28.00", true, "19", 120.5},
		{"PRD-00003", "Gift Box", product.TypeGoods, "GIFT-BOX", "und", "15.90", "9.40", false, "5", 200},
		{"PRD-00004", "Delivery", product.TypeService, "SVC-DLV", "srv", "8.00", "0", false, "19", 0},
	}

	mainID := s.warehouseIDs["MAIN"]

	for _, spec := range specs {
		if err := s.seedProduct(ctx, spec, mainID); err != nil {
			return err
		}
	}

	return nil
}

func (s *seeder) seedProduct(ctx context.Context, spec productSpec, warehouseID id.ID) error {
	if _, err := s.products.GetByCode(ctx, spec.code); err == nil {
		s.log.Infow("product already exists", "code", spec.code)
		return nil
	} else if !apperror.IsNotFound(err) {
		return fmt.Errorf("check product %s: %w", spec.code, err)
	}

	p := product.NewProduct(spec.code, spec.name, spec.prodType)
	if err := s.products.Create(ctx, p); err != nil {
		return fmt.Errorf("create product %s: %w", spec.code, err)
	}

	pres := product.NewPresentation(p.ID, spec.sku, spec.name)
	pres.UnitOfMeasure = spec.uom
	pres.Price = decimal.RequireFromString(spec.price)
	pres.Cost = decimal.RequireFromString(spec.cost)
	pres.IsDefault = true
	pres.AllowFractionalSale = spec.fractional
	if spec.taxRate != "" {
		pres.Taxes = []product.PresentationTax{{
			Name: "IVA",
			Rate: decimal.RequireFromString(spec.taxRate),
		}}
	}
	if err := s.products.CreatePresentation(ctx, pres); err != nil {
		return fmt.Errorf("create presentation %s: %w", spec.sku, err)
	}

	s.log.Infow("created product", "code", spec.code, "sku", spec.sku)

	if spec.opening == 0 || !p.HasInventoryImpact() {
		return nil
	}

	qty := types.NewQuantityFromFloat64(spec.opening)

	return s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		_, _, err := s.stock.Credit(ctx, stock.CreditRequest{
			Key:           stock.Key{WarehouseID: warehouseID, PresentationID: pres.ID},
			Quantity:      qty,
			UnitCost:      pres.Cost,
			Timestamp:     time.Now().UTC(),
			ReferenceID:   id.New(),
			ReferenceType: "opening",
		})
		if err != nil {
			return fmt.Errorf("credit opening stock for %s: %w", spec.sku, err)
		}
		return nil
	})
}

// seedBulkCatalog loads a synthetic catalog through the COPY protocol.
// Used for load testing; regular demo data goes through the services.
func (s *seeder) seedBulkCatalog(ctx context.Context, inserter *postgres.BatchInserter, size int) error {
	s.log.Infow("seeding bulk catalog", "products", size)

	return s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		now := time.Now().UTC()

		productCols := []string{
			"id", "code", "name", "type", "track_inventory",
			"allow_negative_stock", "active", "deletion_mark", "version",
			"created_at", "updated_at",
		}
		presentationCols := []string{
			"id", "product_id", "sku", "name", "unit_of_measure", "factor",
			"price", "cost", "is_default", "allow_fractional_sale", "active",
			"deletion_mark", "version", "created_at", "updated_at",
		}

		productRows := make([][]any, 0, size)
		presentationRows := make([][]any, 0, size)
		for i := 0; i < size; i++ {
			productID := id.New()
			code := fmt.Sprintf("BULK-%06d", i+1)
			productRows = append(productRows, []any{
				productID, code, "Bulk Item " + code, string(product.TypeGoods), true,
				false, true, false, 1,
				now, now,
			})
			presentationRows = append(presentationRows, []any{
				id.New(), productID, code + "-U", "Bulk Item " + code, "und", decimal.NewFromInt(1),
				decimal.RequireFromString("10.00"), decimal.RequireFromString("6.00"), true, false, true,
				false, 1, now, now,
			})
		}

		if _, err := inserter.CopyFromSlice(ctx, "cat_products", productCols, productRows); err != nil {
			return fmt.Errorf("copy products: %w", err)
		}
		if _, err := inserter.CopyFromSlice(ctx, "cat_presentations", presentationCols, presentationRows); err != nil {
			return fmt.Errorf("copy presentations: %w", err)
		}
		return nil
	})
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
