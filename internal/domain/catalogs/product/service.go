package product

import (
	"context"
	"fmt"
	"time"

	"facturo/internal/core/apperror"
	"facturo/internal/core/id"
	"facturo/internal/core/tx"
	"facturo/internal/domain"
	"facturo/pkg/numerator"
)

// Service provides business logic for the Product catalog and its
// presentations.
type Service struct {
	*domain.CatalogService[*Product]
	repo          Repository
	presentations PresentationRepository
	txManager     tx.Manager
	numerator     *numerator.Service
}

// NewService creates a new Product service.
func NewService(repo Repository, presentations PresentationRepository, txm tx.Manager, num *numerator.Service) *Service {
	base := domain.NewCatalogService(domain.CatalogServiceConfig[*Product]{
		Repo:       repo,
		TxManager:  txm,
		Numerator:  num,
		EntityName: "product",
	})

	svc := &Service{
		CatalogService: base,
		repo:           repo,
		presentations:  presentations,
		txManager:      txm,
		numerator:      num,
	}

	base.Hooks().OnBeforeCreate(svc.generateCode)

	return svc
}

func (s *Service) generateCode(ctx context.Context, p *Product) error {
	if p.Code == "" {
		code, err := s.numerator.GetNextNumber(ctx, numerator.DefaultConfig("PRD"), nil, time.Now())
		if err != nil {
			return fmt.Errorf("generate code: %w", err)
		}
		p.Code = code
	}
	return nil
}

// --- Presentations ---

// CreatePresentation persists a new presentation.
// Setting IsDefault clears the flag on every sibling of the same product
// inside the same transaction; the flag is an invariant of the write path,
// not a side effect of saving.
func (s *Service) CreatePresentation(ctx context.Context, p *Presentation) error {
	if err := p.Validate(ctx); err != nil {
		return err
	}

	return s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if p.IsDefault {
			if err := s.presentations.ClearDefault(ctx, p.ProductID); err != nil {
				return fmt.Errorf("clear default presentation: %w", err)
			}
		}
		if err := s.presentations.Create(ctx, p); err != nil {
			return fmt.Errorf("create presentation: %w", err)
		}
		if len(p.Taxes) > 0 {
			if err := s.presentations.ReplaceTaxes(ctx, p.ID, p.Taxes); err != nil {
				return fmt.Errorf("save presentation taxes: %w", err)
			}
		}
		return nil
	})
}

// UpdatePresentation persists presentation changes under the same
// default-flag invariant as CreatePresentation.
func (s *Service) UpdatePresentation(ctx context.Context, p *Presentation) error {
	if err := p.Validate(ctx); err != nil {
		return err
	}

	return s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if p.IsDefault {
			if err := s.presentations.ClearDefault(ctx, p.ProductID); err != nil {
				return fmt.Errorf("clear default presentation: %w", err)
			}
		}
		if err := s.presentations.Update(ctx, p); err != nil {
			return fmt.Errorf("update presentation: %w", err)
		}
		if err := s.presentations.ReplaceTaxes(ctx, p.ID, p.Taxes); err != nil {
			return fmt.Errorf("save presentation taxes: %w", err)
		}
		return nil
	})
}

// SetDefaultPresentation makes one presentation the default of its product.
func (s *Service) SetDefaultPresentation(ctx context.Context, presentationID id.ID) error {
	p, err := s.presentations.GetByID(ctx, presentationID)
	if err != nil {
		return err
	}

	return s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.presentations.ClearDefault(ctx, p.ProductID); err != nil {
			return fmt.Errorf("clear default presentation: %w", err)
		}
		p.IsDefault = true
		p.Touch()
		if err := s.presentations.Update(ctx, p); err != nil {
			return fmt.Errorf("update presentation: %w", err)
		}
		return nil
	})
}

// Presentations lists a product's presentations with their tax rules.
func (s *Service) Presentations(ctx context.Context, productID id.ID) ([]*Presentation, error) {
	return s.presentations.ListByProduct(ctx, productID)
}

// GetPresentation returns one presentation with its tax rules.
func (s *Service) GetPresentation(ctx context.Context, presentationID id.ID) (*Presentation, error) {
	return s.presentations.GetByID(ctx, presentationID)
}

// SaleUnit is a resolved (product, presentation) pair with the policies a
// document line needs.
type SaleUnit struct {
	Product      *Product
	Presentation *Presentation
}

// ResolveSaleUnit loads the presentation and its product and verifies the
// pair is saleable. Invoice lines resolve through here before posting.
func (s *Service) ResolveSaleUnit(ctx context.Context, presentationID id.ID) (SaleUnit, error) {
	presentation, err := s.presentations.GetByID(ctx, presentationID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return SaleUnit{}, apperror.NewNotFound("presentation", presentationID.String())
		}
		return SaleUnit{}, fmt.Errorf("get presentation: %w", err)
	}

	prod, err := s.repo.GetByID(ctx, presentation.ProductID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return SaleUnit{}, apperror.NewNotFound("product", presentation.ProductID.String())
		}
		return SaleUnit{}, fmt.Errorf("get product: %w", err)
	}

	if !presentation.IsSaleable() || prod.DeletionMark || !prod.Active {
		return SaleUnit{}, apperror.NewBusinessRule(
			apperror.CodeBusinessRule,
			"presentation is not saleable",
		).WithDetail("presentation_id", presentationID.String()).
			WithDetail("sku", presentation.SKU)
	}

	return SaleUnit{Product: prod, Presentation: presentation}, nil
}
