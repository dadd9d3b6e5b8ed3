package warehouse

import (
	"context"
	"fmt"
	"time"

	"facturo/internal/core/tx"
	"facturo/internal/domain"
	"facturo/pkg/numerator"
)

// Service provides business logic for the Warehouse catalog.
// Uses composition with domain.CatalogService for common CRUD operations.
type Service struct {
	*domain.CatalogService[*Warehouse]
	repo      Repository
	numerator *numerator.Service
}

// NewService creates a new Warehouse service.
func NewService(repo Repository, txm tx.Manager, num *numerator.Service) *Service {
	base := domain.NewCatalogService(domain.CatalogServiceConfig[*Warehouse]{
		Repo:       repo,
		TxManager:  txm,
		Numerator:  num,
		EntityName: "warehouse",
	})

	svc := &Service{
		CatalogService: base,
		repo:           repo,
		numerator:      num,
	}

	base.Hooks().OnBeforeCreate(svc.prepareForWrite)
	base.Hooks().OnBeforeUpdate(svc.prepareForWrite)

	return svc
}

// prepareForWrite generates a missing code and keeps the default flag
// exclusive: setting it clears every sibling inside the same transaction.
func (s *Service) prepareForWrite(ctx context.Context, wh *Warehouse) error {
	if wh.Code == "" {
		code, err := s.numerator.GetNextNumber(ctx, numerator.DefaultConfig("WH"), nil, time.Now())
		if err != nil {
			return fmt.Errorf("generate code: %w", err)
		}
		wh.Code = code
	}

	if wh.IsDefault {
		if err := s.repo.ClearDefault(ctx); err != nil {
			return fmt.Errorf("clear default warehouse: %w", err)
		}
	}

	return nil
}
