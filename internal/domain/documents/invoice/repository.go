package invoice

import (
	"context"
	"time"

	"facturo/internal/core/entity"
	"facturo/internal/core/id"
	"facturo/internal/domain"
)

// Filter narrows invoice listings.
type Filter struct {
	domain.ListFilter

	Status      *entity.DocumentStatus
	CustomerID  *id.ID
	WarehouseID *id.ID
	DateFrom    *time.Time
	DateTo      *time.Time
}

// Repository defines invoice persistence.
// Create and Update write the header and replace the lines in one shot;
// GetByID and GetByNumber load the full aggregate including lines.
type Repository interface {
	Create(ctx context.Context, inv *Invoice) error
	Update(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, invoiceID id.ID) (*Invoice, error)
	GetByNumber(ctx context.Context, number string) (*Invoice, error)
	List(ctx context.Context, f Filter) (domain.ListResult[*Invoice], error)

	// UpdateStatus applies a lifecycle transition, guarded by the expected
	// current status. When the stored row is no longer in `from` the update
	// matches nothing and InvalidTransition is returned, so a caller holding
	// a stale snapshot cannot repeat a transition another transaction already
	// committed. Called from within the posting transaction; it must use the
	// transaction bound to ctx.
	UpdateStatus(ctx context.Context, invoiceID id.ID, from, to entity.DocumentStatus, at time.Time) error
}
