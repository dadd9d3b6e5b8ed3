package register_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"facturo/internal/core/apperror"
	"facturo/internal/core/entity"
	"facturo/internal/core/id"
	"facturo/internal/domain/registers/kardex"
	"facturo/internal/infrastructure/storage/postgres"
)

const kardexTable = "reg_kardex_entries"

var kardexCols = []string{
	"seq", "ts", "warehouse_id", "presentation_id", "movement_type",
	"quantity_in", "quantity_out", "balance_quantity",
	"unit_cost", "movement_cost", "average_cost",
	"reference_id", "reference_type", "created_at",
}

// KardexRepo implements kardex.Repository.
// Entries are append-only; there is no update or delete path.
type KardexRepo struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

// NewKardexRepo creates a new kardex repository.
func NewKardexRepo(txManager *postgres.TxManager) *KardexRepo {
	return &KardexRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Ensure interface compliance.
var _ kardex.Repository = (*KardexRepo)(nil)

// Append inserts an entry and returns it with the database-assigned seq.
func (r *KardexRepo) Append(ctx context.Context, entry *entity.KardexEntry) (entity.KardexEntry, error) {
	stored := *entry
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	sql := `
		INSERT INTO reg_kardex_entries (
			ts, warehouse_id, presentation_id, movement_type,
			quantity_in, quantity_out, balance_quantity,
			unit_cost, movement_cost, average_cost,
			reference_id, reference_type, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING seq
	`

	querier := r.txManager.GetQuerier(ctx)
	err := querier.QueryRow(ctx, sql,
		stored.Timestamp, stored.WarehouseID, stored.PresentationID, stored.MovementType,
		stored.QuantityIn, stored.QuantityOut, stored.BalanceQuantity,
		stored.UnitCost, stored.MovementCost, stored.AverageCost,
		stored.ReferenceID, stored.ReferenceType, stored.CreatedAt,
	).Scan(&stored.Seq)
	if err != nil {
		return entity.KardexEntry{}, fmt.Errorf("append kardex entry: %w", err)
	}

	return stored, nil
}

// ListByKey returns every entry of one key in replay order.
func (r *KardexRepo) ListByKey(ctx context.Context, warehouseID, presentationID id.ID) ([]entity.KardexEntry, error) {
	q := r.builder.Select(kardexCols...).
		From(kardexTable).
		Where(squirrel.Eq{
			"warehouse_id":    warehouseID,
			"presentation_id": presentationID,
		}).
		OrderBy("ts ASC", "seq ASC")

	return r.selectEntries(ctx, q)
}

// LastByKey returns the latest entry of a key, or NotFound.
func (r *KardexRepo) LastByKey(ctx context.Context, warehouseID, presentationID id.ID) (entity.KardexEntry, error) {
	var entry entity.KardexEntry

	q := r.builder.Select(kardexCols...).
		From(kardexTable).
		Where(squirrel.Eq{
			"warehouse_id":    warehouseID,
			"presentation_id": presentationID,
		}).
		OrderBy("ts DESC", "seq DESC").
		Limit(1)

	sql, args, err := q.ToSql()
	if err != nil {
		return entry, fmt.Errorf("build query: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, &entry, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return entry, apperror.NewNotFound("kardex entry", nil)
		}
		return entry, fmt.Errorf("get last entry: %w", err)
	}

	return entry, nil
}

// ListByReference returns the entries produced by one document.
func (r *KardexRepo) ListByReference(ctx context.Context, referenceID id.ID) ([]entity.KardexEntry, error) {
	q := r.builder.Select(kardexCols...).
		From(kardexTable).
		Where(squirrel.Eq{"reference_id": referenceID}).
		OrderBy("ts ASC", "seq ASC")

	return r.selectEntries(ctx, q)
}

// ListKeys streams every distinct (warehouse, presentation) key that has
// ledger entries. Used by ledger verification.
func (r *KardexRepo) ListKeys(ctx context.Context, batch func(warehouseID, presentationID id.ID) error) error {
	sql := `
		SELECT DISTINCT warehouse_id, presentation_id
		FROM reg_kardex_entries
		ORDER BY warehouse_id, presentation_id
	`

	rows, err := r.txManager.GetQuerier(ctx).Query(ctx, sql)
	if err != nil {
		return fmt.Errorf("query kardex keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var warehouseID, presentationID id.ID
		if err := rows.Scan(&warehouseID, &presentationID); err != nil {
			return fmt.Errorf("scan key: %w", err)
		}
		if err := batch(warehouseID, presentationID); err != nil {
			return err
		}
	}

	return rows.Err()
}

// History returns entries of a key filtered by date window, newest last.
func (r *KardexRepo) History(ctx context.Context, warehouseID, presentationID id.ID, filter kardex.HistoryFilter) ([]entity.KardexEntry, error) {
	q := r.builder.Select(kardexCols...).
		From(kardexTable).
		Where(squirrel.Eq{
			"warehouse_id":    warehouseID,
			"presentation_id": presentationID,
		})

	if filter.FromDate != nil {
		q = q.Where(squirrel.GtOrEq{"ts": *filter.FromDate})
	}
	if filter.ToDate != nil {
		q = q.Where(squirrel.LtOrEq{"ts": *filter.ToDate})
	}

	q = q.OrderBy("ts ASC", "seq ASC")

	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	return r.selectEntries(ctx, q)
}

func (r *KardexRepo) selectEntries(ctx context.Context, q squirrel.SelectBuilder) ([]entity.KardexEntry, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var entries []entity.KardexEntry
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &entries, sql, args...); err != nil {
		return nil, fmt.Errorf("select kardex entries: %w", err)
	}

	return entries, nil
}
