package catalog_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"facturo/internal/core/apperror"
	"facturo/internal/core/id"
	"facturo/internal/domain/catalogs/product"
	"facturo/internal/infrastructure/storage/postgres"
)

const (
	productTable          = "cat_products"
	presentationTable     = "cat_presentations"
	presentationTaxeTable = "cat_presentation_taxes"
)

// ProductRepo implements product.Repository.
type ProductRepo struct {
	*BaseCatalogRepo[*product.Product]
}

// NewProductRepo creates a new product repository.
func NewProductRepo(txManager *postgres.TxManager) *ProductRepo {
	return &ProductRepo{
		BaseCatalogRepo: NewBaseCatalogRepo[*product.Product](
			txManager,
			productTable,
			postgres.ExtractDBColumns[product.Product](),
			func() *product.Product { return &product.Product{} },
		),
	}
}

// PresentationRepo implements product.PresentationRepository.
// Presentations are loaded with their default tax rules; taxes live in a
// child table and are replaced as a set.
type PresentationRepo struct {
	txManager  *postgres.TxManager
	selectCols []string
	taxCols    []string
}

// NewPresentationRepo creates a new presentation repository.
func NewPresentationRepo(txManager *postgres.TxManager) *PresentationRepo {
	return &PresentationRepo{
		txManager:  txManager,
		selectCols: postgres.ExtractDBColumns[product.Presentation](),
		taxCols:    postgres.ExtractDBColumns[product.PresentationTax](),
	}
}

func (r *PresentationRepo) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// Create inserts a new presentation.
func (r *PresentationRepo) Create(ctx context.Context, p *product.Presentation) error {
	data := postgres.StructToMap(p)
	filtered := make(map[string]any, len(r.selectCols))
	for _, col := range r.selectCols {
		if val, ok := data[col]; ok {
			filtered[col] = val
		}
	}

	sql, args, err := r.builder().
		Insert(presentationTable).
		SetMap(filtered).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	_, err = r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		if postgres.IsUniqueViolation(err, "") {
			return apperror.NewDuplicate("presentation", "sku", p.SKU).WithCause(err)
		}
		return fmt.Errorf("insert presentation: %w", err)
	}
	return nil
}

// GetByID retrieves a presentation with its tax rules.
func (r *PresentationRepo) GetByID(ctx context.Context, presentationID id.ID) (*product.Presentation, error) {
	p := &product.Presentation{}

	sql, args, err := r.builder().
		Select(r.selectCols...).
		From(presentationTable).
		Where(squirrel.Eq{"id": presentationID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, p, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("presentation", presentationID.String())
		}
		return nil, fmt.Errorf("get presentation: %w", err)
	}

	if err := r.loadTaxes(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetBySKU retrieves a presentation by its stock-keeping code.
func (r *PresentationRepo) GetBySKU(ctx context.Context, sku string) (*product.Presentation, error) {
	p := &product.Presentation{}

	sql, args, err := r.builder().
		Select(r.selectCols...).
		From(presentationTable).
		Where(squirrel.Eq{"sku": sku}).
		Where(squirrel.Eq{"deletion_mark": false}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, p, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("presentation", sku)
		}
		return nil, fmt.Errorf("get presentation by sku: %w", err)
	}

	if err := r.loadTaxes(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Update modifies a presentation with optimistic locking.
func (r *PresentationRepo) Update(ctx context.Context, p *product.Presentation) error {
	data := postgres.StructToMap(p)
	filtered := make(map[string]any, len(r.selectCols))
	for _, col := range r.selectCols {
		if col == "id" || col == "version" {
			continue
		}
		if val, ok := data[col]; ok {
			filtered[col] = val
		}
	}

	sql, args, err := r.builder().
		Update(presentationTable).
		SetMap(filtered).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{"id": p.ID}).
		Where(squirrel.Eq{"version": p.Version}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	result, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update presentation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperror.NewConcurrentModification("presentation", p.ID.String())
	}
	return nil
}

// ListByProduct returns all presentations of a product with their taxes.
func (r *PresentationRepo) ListByProduct(ctx context.Context, productID id.ID) ([]*product.Presentation, error) {
	sql, args, err := r.builder().
		Select(r.selectCols...).
		From(presentationTable).
		Where(squirrel.Eq{"product_id": productID}).
		Where(squirrel.Eq{"deletion_mark": false}).
		OrderBy("sku ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var items []*product.Presentation
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &items, sql, args...); err != nil {
		return nil, fmt.Errorf("list presentations: %w", err)
	}

	for _, p := range items {
		if err := r.loadTaxes(ctx, p); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// ClearDefault clears the default flag on all presentations of a product.
func (r *PresentationRepo) ClearDefault(ctx context.Context, productID id.ID) error {
	sql, args, err := r.builder().
		Update(presentationTable).
		Set("is_default", false).
		Where(squirrel.Eq{"product_id": productID}).
		Where(squirrel.Eq{"is_default": true}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	_, err = r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("clear default presentation: %w", err)
	}
	return nil
}

// ReplaceTaxes swaps the default tax set of a presentation.
func (r *PresentationRepo) ReplaceTaxes(ctx context.Context, presentationID id.ID, taxes []product.PresentationTax) error {
	querier := r.txManager.GetQuerier(ctx)

	delSQL, delArgs, err := r.builder().
		Delete(presentationTaxeTable).
		Where(squirrel.Eq{"presentation_id": presentationID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := querier.Exec(ctx, delSQL, delArgs...); err != nil {
		return fmt.Errorf("delete presentation taxes: %w", err)
	}

	for _, tax := range taxes {
		if id.IsNil(tax.ID) {
			tax.ID = id.New()
		}
		tax.PresentationID = presentationID

		insSQL, insArgs, err := r.builder().
			Insert(presentationTaxeTable).
			Columns("id", "presentation_id", "name", "rate", "is_included").
			Values(tax.ID, tax.PresentationID, tax.Name, tax.Rate, tax.IsIncluded).
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert: %w", err)
		}
		if _, err := querier.Exec(ctx, insSQL, insArgs...); err != nil {
			return fmt.Errorf("insert presentation tax: %w", err)
		}
	}
	return nil
}

func (r *PresentationRepo) loadTaxes(ctx context.Context, p *product.Presentation) error {
	sql, args, err := r.builder().
		Select(r.taxCols...).
		From(presentationTaxeTable).
		Where(squirrel.Eq{"presentation_id": p.ID}).
		OrderBy("name ASC").
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	var taxes []product.PresentationTax
	querier := r.txManager.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &taxes, sql, args...); err != nil {
		return fmt.Errorf("load presentation taxes: %w", err)
	}
	p.Taxes = taxes
	return nil
}
