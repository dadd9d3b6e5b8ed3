// Package register_repo provides PostgreSQL implementations for register repositories.
package register_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"facturo/internal/core/apperror"
	"facturo/internal/core/entity"
	"facturo/internal/core/id"
	"facturo/internal/domain/registers/stock"
	"facturo/internal/infrastructure/storage/postgres"
)

const stockBalancesTable = "reg_stock_balances"

var balanceCols = []string{
	"warehouse_id", "presentation_id",
	"quantity", "reserved", "average_cost",
	"last_movement_at", "updated_at",
}

// StockRepo implements stock.Repository.
type StockRepo struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

// NewStockRepo creates a new stock balance repository.
func NewStockRepo(txManager *postgres.TxManager) *StockRepo {
	return &StockRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Ensure interface compliance.
var _ stock.Repository = (*StockRepo)(nil)

// GetBalance returns the balance row for a key, or NotFound.
func (r *StockRepo) GetBalance(ctx context.Context, key stock.Key) (entity.StockBalance, error) {
	var balance entity.StockBalance

	q := r.builder.Select(balanceCols...).
		From(stockBalancesTable).
		Where(squirrel.Eq{
			"warehouse_id":    key.WarehouseID,
			"presentation_id": key.PresentationID,
		}).Limit(1)

	sql, args, err := q.ToSql()
	if err != nil {
		return balance, fmt.Errorf("build query: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, &balance, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return balance, apperror.NewNotFound("stock balance", key)
		}
		return balance, fmt.Errorf("get balance: %w", err)
	}

	return balance, nil
}

// LockBalance locks the balance row for a key and returns it. Keys with no
// history get a zero row inserted first, so the caller always ends up holding
// a row lock: without it, two concurrent first movements on the same key
// would both fold from zero and one update would be lost.
func (r *StockRepo) LockBalance(ctx context.Context, key stock.Key) (entity.StockBalance, error) {
	var balance entity.StockBalance

	querier := r.txManager.GetQuerier(ctx)

	insertSQL := `
		INSERT INTO reg_stock_balances (warehouse_id, presentation_id)
		VALUES ($1, $2)
		ON CONFLICT (warehouse_id, presentation_id) DO NOTHING
	`
	if _, err := querier.Exec(ctx, insertSQL, key.WarehouseID, key.PresentationID); err != nil {
		return balance, fmt.Errorf("init balance row: %w", err)
	}

	lockSQL := `
		SELECT warehouse_id, presentation_id, quantity, reserved, average_cost,
		       last_movement_at, updated_at
		FROM reg_stock_balances
		WHERE warehouse_id = $1 AND presentation_id = $2
		FOR UPDATE
	`
	err := pgxscan.Get(ctx, querier, &balance, lockSQL, key.WarehouseID, key.PresentationID)
	if err != nil {
		if pgxscan.NotFound(err) {
			return balance, apperror.NewNotFound("stock balance", key)
		}
		return balance, fmt.Errorf("lock balance: %w", err)
	}

	return balance, nil
}

// LockBalances locks rows for the given keys in stable lock order.
// Every key ends up in the result; missing rows are materialized as zero
// balances by LockBalance.
func (r *StockRepo) LockBalances(ctx context.Context, keys []stock.Key) (map[stock.Key]entity.StockBalance, error) {
	out := make(map[stock.Key]entity.StockBalance, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	ordered := make([]stock.Key, len(keys))
	copy(ordered, keys)
	stock.SortKeys(ordered)

	// Row locks are taken one key at a time in sorted order; a single
	// IN-query would leave the lock order to the planner.
	for _, key := range ordered {
		balance, err := r.LockBalance(ctx, key)
		if err != nil {
			return nil, err
		}
		out[key] = balance
	}

	return out, nil
}

// UpsertBalance creates or updates a balance row.
func (r *StockRepo) UpsertBalance(ctx context.Context, balance *entity.StockBalance) error {
	sql := `
		INSERT INTO reg_stock_balances (
			warehouse_id, presentation_id, quantity, reserved, average_cost,
			last_movement_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (warehouse_id, presentation_id) DO UPDATE SET
			quantity         = EXCLUDED.quantity,
			reserved         = EXCLUDED.reserved,
			average_cost     = EXCLUDED.average_cost,
			last_movement_at = EXCLUDED.last_movement_at,
			updated_at       = EXCLUDED.updated_at
	`

	querier := r.txManager.GetQuerier(ctx)
	_, err := querier.Exec(ctx, sql,
		balance.WarehouseID, balance.PresentationID,
		balance.Quantity, balance.Reserved, balance.AverageCost,
		balance.LastMovementAt, balance.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert balance: %w", err)
	}
	return nil
}

// ListByWarehouse returns balances for a warehouse.
func (r *StockRepo) ListByWarehouse(ctx context.Context, warehouseID id.ID, filter stock.BalanceFilter) ([]entity.StockBalance, error) {
	q := r.builder.Select(balanceCols...).
		From(stockBalancesTable).
		Where(squirrel.Eq{"warehouse_id": warehouseID})

	if filter.ExcludeZero {
		q = q.Where(squirrel.NotEq{"quantity": int64(0)})
	}

	if len(filter.PresentationIDs) > 0 {
		q = q.Where(squirrel.Eq{"presentation_id": filter.PresentationIDs})
	}

	if filter.MinQuantity != nil {
		q = q.Where(squirrel.GtOrEq{"quantity": filter.MinQuantity.Int64Scaled()})
	}

	q = q.OrderBy("presentation_id")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var balances []entity.StockBalance
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &balances, sql, args...); err != nil {
		return nil, fmt.Errorf("select balances: %w", err)
	}

	return balances, nil
}

// ListByPresentation returns balances across warehouses for one item.
func (r *StockRepo) ListByPresentation(ctx context.Context, presentationID id.ID) ([]entity.StockBalance, error) {
	q := r.builder.Select(balanceCols...).
		From(stockBalancesTable).
		Where(squirrel.Eq{"presentation_id": presentationID}).
		Where(squirrel.NotEq{"quantity": int64(0)}).
		OrderBy("warehouse_id")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var balances []entity.StockBalance
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &balances, sql, args...); err != nil {
		return nil, fmt.Errorf("select balances: %w", err)
	}

	return balances, nil
}

// ListAll streams every balance row. Used by ledger verification.
func (r *StockRepo) ListAll(ctx context.Context, batch func(entity.StockBalance) error) error {
	sql, args, err := r.builder.Select(balanceCols...).
		From(stockBalancesTable).
		OrderBy("warehouse_id", "presentation_id").
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	rows, err := r.txManager.GetQuerier(ctx).Query(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("query balances: %w", err)
	}
	defer rows.Close()

	rs := pgxscan.NewRowScanner(rows)
	for rows.Next() {
		var balance entity.StockBalance
		if err := rs.Scan(&balance); err != nil {
			return fmt.Errorf("scan balance: %w", err)
		}
		if err := batch(balance); err != nil {
			return err
		}
	}

	return rows.Err()
}
