package document_repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"facturo/internal/core/apperror"
	"facturo/internal/core/entity"
	"facturo/internal/core/id"
	"facturo/internal/core/types"
	"facturo/internal/domain"
	"facturo/internal/domain/billing"
	"facturo/internal/domain/documents/invoice"
	"facturo/internal/infrastructure/storage/postgres"
)

const (
	invoiceTable     = "doc_invoices"
	invoiceLineTable = "doc_invoice_lines"
)

var invoiceLineCols = []string{
	"invoice_id", "line_id", "line_no",
	"presentation_id", "sku", "name", "unit_of_measure",
	"quantity", "unit_price",
	"discount_type", "discount_value", "taxes",
	"discount_amount", "subtotal", "tax_amount", "total",
}

// invoiceLineRow is the storage shape of an invoice line. Discount is
// flattened into two columns, taxes are stored as a JSONB snapshot.
type invoiceLineRow struct {
	InvoiceID id.ID `db:"invoice_id"`
	LineID    id.ID `db:"line_id"`
	LineNo    int   `db:"line_no"`

	PresentationID id.ID  `db:"presentation_id"`
	SKU            string `db:"sku"`
	Name           string `db:"name"`
	UnitOfMeasure  string `db:"unit_of_measure"`

	Quantity      types.Quantity `db:"quantity"`
	UnitPrice     types.Money    `db:"unit_price"`
	DiscountType  string         `db:"discount_type"`
	DiscountValue types.Money    `db:"discount_value"`
	Taxes         []byte         `db:"taxes"`

	DiscountAmount types.Money `db:"discount_amount"`
	Subtotal       types.Money `db:"subtotal"`
	TaxAmount      types.Money `db:"tax_amount"`
	Total          types.Money `db:"total"`
}

// InvoiceRepo implements invoice.Repository.
// Header writes go through the base repo; lines are replaced as a set in
// a single batch round-trip.
type InvoiceRepo struct {
	*BaseDocumentRepo[*invoice.Invoice]
	batch *postgres.BatchExecutor
}

// NewInvoiceRepo creates a new invoice repository.
func NewInvoiceRepo(txManager *postgres.TxManager) *InvoiceRepo {
	return &InvoiceRepo{
		BaseDocumentRepo: NewBaseDocumentRepo[*invoice.Invoice](
			txManager,
			invoiceTable,
			postgres.ExtractDBColumns[invoice.Invoice](),
			func() *invoice.Invoice { return &invoice.Invoice{} },
		),
		batch: postgres.NewBatchExecutor(txManager),
	}
}

// Ensure interface compliance.
var _ invoice.Repository = (*InvoiceRepo)(nil)

// Create inserts the invoice header and its lines.
// Must run inside a transaction; line writes use a pgx batch.
func (r *InvoiceRepo) Create(ctx context.Context, inv *invoice.Invoice) error {
	if err := r.CreateHeader(ctx, inv); err != nil {
		return err
	}
	return r.insertLines(ctx, inv)
}

// Update rewrites the header with optimistic locking and replaces the lines.
func (r *InvoiceRepo) Update(ctx context.Context, inv *invoice.Invoice) error {
	if err := r.UpdateHeader(ctx, inv); err != nil {
		return err
	}

	delSQL, delArgs, err := r.Builder().
		Delete(invoiceLineTable).
		Where(squirrel.Eq{"invoice_id": inv.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := r.Querier(ctx).Exec(ctx, delSQL, delArgs...); err != nil {
		return fmt.Errorf("delete invoice lines: %w", err)
	}

	return r.insertLines(ctx, inv)
}

// GetByID loads the full invoice aggregate including its lines.
func (r *InvoiceRepo) GetByID(ctx context.Context, invoiceID id.ID) (*invoice.Invoice, error) {
	inv, err := r.GetHeaderByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// GetByNumber loads the full invoice aggregate by document number.
func (r *InvoiceRepo) GetByNumber(ctx context.Context, number string) (*invoice.Invoice, error) {
	inv, err := r.GetHeaderByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// List returns invoice headers matching the filter. Lines are not loaded;
// callers needing the table part fetch the document by ID.
func (r *InvoiceRepo) List(ctx context.Context, f invoice.Filter) (domain.ListResult[*invoice.Invoice], error) {
	q := r.BaseSelect()

	if f.Status != nil {
		q = q.Where(squirrel.Eq{"status": string(*f.Status)})
	}
	if f.CustomerID != nil {
		q = q.Where(squirrel.Eq{"customer_id": *f.CustomerID})
	}
	if f.WarehouseID != nil {
		q = q.Where(squirrel.Eq{"warehouse_id": *f.WarehouseID})
	}
	if f.DateFrom != nil {
		q = q.Where(squirrel.GtOrEq{"date": *f.DateFrom})
	}
	if f.DateTo != nil {
		q = q.Where(squirrel.LtOrEq{"date": *f.DateTo})
	}

	return r.ListHeaders(ctx, q, f.ListFilter)
}

// UpdateStatus applies a lifecycle transition on the stored row.
// The WHERE clause matches the expected current status, so a transition
// that already happened in another transaction updates zero rows and fails
// with InvalidTransition, rolling back the surrounding posting transaction
// and its stock movements. Runs on the transaction bound to ctx.
func (r *InvoiceRepo) UpdateStatus(ctx context.Context, invoiceID id.ID, from, to entity.DocumentStatus, at time.Time) error {
	q := r.Builder().
		Update(invoiceTable).
		Set("status", string(to)).
		Set("version", squirrel.Expr("version + 1")).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": invoiceID, "status": string(from)})

	switch to {
	case entity.StatusPosted:
		q = q.Set("posted_at", at)
	case entity.StatusCancelled:
		q = q.Set("cancelled_at", at)
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	result, err := r.Querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update invoice status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperror.NewInvalidTransition(string(from), string(to)).
			WithDetail("document_id", invoiceID.String())
	}
	return nil
}

func (r *InvoiceRepo) insertLines(ctx context.Context, inv *invoice.Invoice) error {
	if len(inv.Lines) == 0 {
		return nil
	}

	queries := make([]postgres.BatchQuery, 0, len(inv.Lines))
	for _, line := range inv.Lines {
		taxes, err := json.Marshal(line.Taxes)
		if err != nil {
			return fmt.Errorf("marshal line taxes: %w", err)
		}

		sql, args, err := r.Builder().
			Insert(invoiceLineTable).
			Columns(invoiceLineCols...).
			Values(
				inv.ID, line.LineID, line.LineNo,
				line.PresentationID, line.SKU, line.Name, line.UnitOfMeasure,
				line.Quantity, line.UnitPrice,
				string(line.Discount.Type), line.Discount.Value, taxes,
				line.DiscountAmount, line.Subtotal, line.TaxAmount, line.Total,
			).
			ToSql()
		if err != nil {
			return fmt.Errorf("build line insert: %w", err)
		}
		queries = append(queries, postgres.BatchQuery{SQL: sql, Args: args})
	}

	return r.batch.ExecuteBatch(ctx, queries)
}

func (r *InvoiceRepo) loadLines(ctx context.Context, inv *invoice.Invoice) error {
	sql, args, err := r.Builder().
		Select(invoiceLineCols...).
		From(invoiceLineTable).
		Where(squirrel.Eq{"invoice_id": inv.ID}).
		OrderBy("line_no ASC").
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	var rows []invoiceLineRow
	if err := pgxscan.Select(ctx, r.Querier(ctx), &rows, sql, args...); err != nil {
		return fmt.Errorf("load invoice lines: %w", err)
	}

	inv.Lines = make([]invoice.Line, 0, len(rows))
	for _, row := range rows {
		line := invoice.Line{
			LineID:         row.LineID,
			LineNo:         row.LineNo,
			PresentationID: row.PresentationID,
			SKU:            row.SKU,
			Name:           row.Name,
			UnitOfMeasure:  row.UnitOfMeasure,
			Quantity:       row.Quantity,
			UnitPrice:      row.UnitPrice,
			Discount: billing.Discount{
				Type:  billing.DiscountType(row.DiscountType),
				Value: row.DiscountValue,
			},
			DiscountAmount: row.DiscountAmount,
			Subtotal:       row.Subtotal,
			TaxAmount:      row.TaxAmount,
			Total:          row.Total,
		}
		if len(row.Taxes) > 0 {
			if err := json.Unmarshal(row.Taxes, &line.Taxes); err != nil {
				return fmt.Errorf("unmarshal line taxes: %w", err)
			}
		}
		inv.Lines = append(inv.Lines, line)
	}

	return nil
}
