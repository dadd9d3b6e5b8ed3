package invoice

import (
	"context"
	"fmt"
	"time"

	"facturo/internal/core/apperror"
	"facturo/internal/core/entity"
	"facturo/internal/core/id"
	"facturo/internal/core/tx"
	"facturo/internal/core/types"
	"facturo/internal/domain"
	"facturo/internal/domain/billing"
	"facturo/internal/domain/catalogs/product"
	"facturo/internal/domain/catalogs/warehouse"
	"facturo/internal/domain/posting"
	"facturo/internal/domain/registers/stock"
	"facturo/pkg/logger"
	"facturo/pkg/numerator"
)

// Service provides business logic for invoices.
type Service struct {
	repo       Repository
	products   *product.Service
	warehouses *warehouse.Service
	engine     *posting.Engine
	txManager  tx.Manager
	numerator  *numerator.Service
}

// NewService creates a new invoice service.
func NewService(
	repo Repository,
	products *product.Service,
	warehouses *warehouse.Service,
	engine *posting.Engine,
	txm tx.Manager,
	num *numerator.Service,
) *Service {
	return &Service{
		repo:       repo,
		products:   products,
		warehouses: warehouses,
		engine:     engine,
		txManager:  txm,
		numerator:  num,
	}
}

// BuildLine assembles a line from a presentation: SKU, name, unit and
// default taxes are snapshotted at this moment, the price defaults to the
// presentation's list price. The caller may override price and discount
// before adding the line.
func (s *Service) BuildLine(ctx context.Context, presentationID id.ID, quantity types.Quantity) (Line, error) {
	unit, err := s.products.ResolveSaleUnit(ctx, presentationID)
	if err != nil {
		return Line{}, err
	}

	if err := checkFractionalSale(unit, quantity, 0); err != nil {
		return Line{}, err
	}

	return Line{
		LineID:         id.New(),
		PresentationID: presentationID,
		SKU:            unit.Presentation.SKU,
		Name:           unit.Presentation.Name,
		UnitOfMeasure:  unit.Presentation.UnitOfMeasure,
		Quantity:       quantity,
		UnitPrice:      unit.Presentation.Price,
		Discount:       billing.NoDiscount(),
		Taxes:          unit.Presentation.TaxRules(),
	}, nil
}

// Create validates, numbers and persists a new draft invoice.
func (s *Service) Create(ctx context.Context, inv *Invoice) error {
	if inv.Status != entity.StatusDraft {
		return apperror.NewBusinessRule(
			apperror.CodeBusinessRule,
			"new invoices must be created in draft status",
		).WithDetail("status", string(inv.Status))
	}

	if err := s.checkWarehouse(ctx, inv.WarehouseID); err != nil {
		return err
	}

	if err := inv.RecalculateTotals(); err != nil {
		return err
	}

	if err := inv.Validate(ctx); err != nil {
		return err
	}

	return s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if inv.Number == "" {
			number, err := s.numerator.GetNextNumber(ctx, NumberingConfig(), NumeratorStrategy, inv.Date)
			if err != nil {
				return fmt.Errorf("generate invoice number: %w", err)
			}
			inv.Number = number
		}
		if err := s.repo.Create(ctx, inv); err != nil {
			return fmt.Errorf("create invoice: %w", err)
		}
		return nil
	})
}

// Update persists changes to a draft invoice, replacing its lines.
// Posted and cancelled invoices are immutable.
func (s *Service) Update(ctx context.Context, inv *Invoice) error {
	stored, err := s.repo.GetByID(ctx, inv.ID)
	if err != nil {
		return err
	}
	if err := stored.CanModify(); err != nil {
		return err
	}

	if inv.Version != stored.Version {
		return apperror.NewBusinessRule(
			apperror.CodeConcurrentModification,
			"The invoice was modified by another operation. Reload and retry.",
		).WithDetail("document_id", inv.ID.String())
	}

	if err := s.checkWarehouse(ctx, inv.WarehouseID); err != nil {
		return err
	}

	if err := inv.RecalculateTotals(); err != nil {
		return err
	}

	if err := inv.Validate(ctx); err != nil {
		return err
	}

	inv.Touch()
	return s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.Update(ctx, inv); err != nil {
			return fmt.Errorf("update invoice: %w", err)
		}
		return nil
	})
}

// GetByID loads an invoice with its lines.
func (s *Service) GetByID(ctx context.Context, invoiceID id.ID) (*Invoice, error) {
	return s.repo.GetByID(ctx, invoiceID)
}

// GetByNumber loads an invoice by its document number.
func (s *Service) GetByNumber(ctx context.Context, number string) (*Invoice, error) {
	return s.repo.GetByNumber(ctx, number)
}

// List returns invoices matching the filter.
func (s *Service) List(ctx context.Context, f Filter) (domain.ListResult[*Invoice], error) {
	return s.repo.List(ctx, f)
}

// Post runs the Draft -> Posted transition for an invoice.
//
// Each line is re-resolved against the catalogs: fractional-sale policy is
// enforced, lines of service items or items without inventory tracking carry
// no stock demand. The posting engine then locks balances, re-validates
// availability and debits stock atomically with the status change.
func (s *Service) Post(ctx context.Context, invoiceID id.ID) error {
	inv, err := s.repo.GetByID(ctx, invoiceID)
	if err != nil {
		return err
	}

	if err := s.checkWarehouse(ctx, inv.WarehouseID); err != nil {
		return err
	}

	demands, err := s.buildDemands(ctx, inv)
	if err != nil {
		return err
	}

	return s.engine.Post(ctx, posting.PostRequest{
		DocumentID:   inv.ID,
		DocumentType: DocumentType,
		Status:       inv.Status,
		Demands:      demands,
		Persist: func(ctx context.Context, postedAt time.Time) error {
			return s.repo.UpdateStatus(ctx, inv.ID, entity.StatusDraft, entity.StatusPosted, postedAt)
		},
	})
}

// Cancel transitions an invoice to Cancelled.
// Stock movements of a posted invoice stay in place; use a stock adjustment
// to return goods.
func (s *Service) Cancel(ctx context.Context, invoiceID id.ID) error {
	inv, err := s.repo.GetByID(ctx, invoiceID)
	if err != nil {
		return err
	}

	return s.engine.Cancel(ctx, posting.CancelRequest{
		DocumentID:   inv.ID,
		DocumentType: DocumentType,
		Status:       inv.Status,
		Persist: func(ctx context.Context, cancelledAt time.Time) error {
			return s.repo.UpdateStatus(ctx, inv.ID, inv.Status, entity.StatusCancelled, cancelledAt)
		},
	})
}

func (s *Service) buildDemands(ctx context.Context, inv *Invoice) ([]posting.Demand, error) {
	demands := make([]posting.Demand, 0, len(inv.Lines))
	for _, line := range inv.Lines {
		unit, err := s.products.ResolveSaleUnit(ctx, line.PresentationID)
		if err != nil {
			if appErr, ok := apperror.AsAppError(err); ok {
				return nil, appErr.WithDetail("lineNo", line.LineNo)
			}
			return nil, fmt.Errorf("resolve line %d: %w", line.LineNo, err)
		}

		if err := checkFractionalSale(unit, line.Quantity, line.LineNo); err != nil {
			return nil, err
		}

		if !unit.Product.HasInventoryImpact() {
			logger.Debug(ctx, "line has no inventory impact",
				"invoice_id", inv.ID,
				"line_no", line.LineNo,
				"sku", line.SKU,
			)
			continue
		}

		demands = append(demands, posting.Demand{
			LineNo: line.LineNo,
			SKU:    line.SKU,
			Key: stock.Key{
				WarehouseID:    inv.WarehouseID,
				PresentationID: line.PresentationID,
			},
			Quantity:      line.Quantity,
			AllowNegative: unit.Product.AllowNegativeStock,
		})
	}
	return demands, nil
}

func (s *Service) checkWarehouse(ctx context.Context, warehouseID id.ID) error {
	wh, err := s.warehouses.GetByID(ctx, warehouseID)
	if err != nil {
		return err
	}
	if !wh.CanShip() {
		return apperror.NewBusinessRule(
			apperror.CodeBusinessRule,
			"warehouse cannot ship goods",
		).WithDetail("warehouse_id", warehouseID.String()).
			WithDetail("code", wh.Code)
	}
	return nil
}

func checkFractionalSale(unit product.SaleUnit, quantity types.Quantity, lineNo int) error {
	if unit.Presentation.AllowFractionalSale || quantity.IsWhole() {
		return nil
	}
	err := apperror.NewValidation("presentation does not allow fractional quantities").
		WithDetail("sku", unit.Presentation.SKU).
		WithDetail("quantity", quantity.String())
	if lineNo > 0 {
		err = err.WithDetail("lineNo", lineNo)
	}
	return err
}
