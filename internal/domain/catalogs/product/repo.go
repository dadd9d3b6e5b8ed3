package product

import (
	"context"

	"facturo/internal/core/id"
	"facturo/internal/domain"
)

// Repository defines the interface for Product persistence.
type Repository interface {
	domain.CatalogRepository[*Product]
}

// PresentationRepository defines persistence for presentations.
// Loading a presentation always includes its default tax rules.
type PresentationRepository interface {
	Create(ctx context.Context, p *Presentation) error
	GetByID(ctx context.Context, presentationID id.ID) (*Presentation, error)
	GetBySKU(ctx context.Context, sku string) (*Presentation, error)
	Update(ctx context.Context, p *Presentation) error
	ListByProduct(ctx context.Context, productID id.ID) ([]*Presentation, error)

	// ClearDefault clears the default flag on all presentations of a product.
	ClearDefault(ctx context.Context, productID id.ID) error

	// ReplaceTaxes swaps the default tax set of a presentation.
	ReplaceTaxes(ctx context.Context, presentationID id.ID, taxes []PresentationTax) error
}
