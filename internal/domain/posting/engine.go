// Package posting implements the document posting state machine.
//
// Draft -> Posted debits stock and appends kardex entries for every line
// inside one serializable transaction together with the status change.
// Draft -> Cancelled and Posted -> Cancelled only mark status; stock is not
// reversed automatically, compensating adjustments are explicit.
// Every other transition fails with InvalidTransition.
package posting

import (
	"context"
	"fmt"
	"time"

	"facturo/internal/core/apperror"
	"facturo/internal/core/entity"
	"facturo/internal/core/id"
	"facturo/internal/core/tx"
	"facturo/internal/core/types"
	"facturo/internal/domain/registers/stock"
	"facturo/pkg/logger"
)

// Auditor records posting actions for the audit trail.
type Auditor interface {
	RecordAction(ctx context.Context, action, entityType string, entityID id.ID, payload any) error
}

// Demand is the inventory impact of one document line.
// The invoice service resolves items and saleable units before building
// demands; the engine only re-validates availability under locks.
type Demand struct {
	LineNo int
	SKU    string
	Key    stock.Key

	Quantity types.Quantity

	// AllowNegative comes from the item's negative-stock policy.
	AllowNegative bool
}

// PostRequest carries a document into the Draft -> Posted transition.
type PostRequest struct {
	DocumentID   id.ID
	DocumentType string

	// Status is the document's current state; anything but Draft is rejected.
	Status entity.DocumentStatus

	// Demands lists every line with physical inventory impact, in line order.
	Demands []Demand

	// Persist applies the document's own status change within the posting
	// transaction. It must guard the update on the stored status, so a
	// request built from a stale snapshot fails here and the stock movements
	// roll back with it. It must not commit or open transactions of its own.
	Persist func(ctx context.Context, postedAt time.Time) error
}

// CancelRequest carries a document into the Cancelled state.
type CancelRequest struct {
	DocumentID   id.ID
	DocumentType string
	Status       entity.DocumentStatus

	// Persist applies the status change within the transaction.
	Persist func(ctx context.Context, cancelledAt time.Time) error
}

// Engine executes document status transitions.
type Engine struct {
	stock   *stock.Service
	txm     tx.SerializableManager
	auditor Auditor
}

// NewEngine creates a posting engine.
// auditor may be nil; transitions are then not written to the audit trail.
func NewEngine(stockSvc *stock.Service, txm tx.SerializableManager, auditor Auditor) *Engine {
	return &Engine{
		stock:   stockSvc,
		txm:     txm,
		auditor: auditor,
	}
}

// Post runs the Draft -> Posted transition.
//
// All balance rows touched by the demands are locked in stable key order,
// availability is re-validated under the locks, and only then is stock
// debited and the kardex written. A failed line never leaves partial
// movements behind: the whole transaction rolls back.
//
// InsufficientStock carries every offending line, not just the first.
// Serialization and lock conflicts surface as retryable Contention.
func (e *Engine) Post(ctx context.Context, req PostRequest) error {
	if req.Status != entity.StatusDraft {
		return apperror.NewInvalidTransition(string(req.Status), string(entity.StatusPosted)).
			WithDetail("document_id", req.DocumentID.String())
	}
	if req.Persist == nil {
		return apperror.NewValidation("post request requires a persist callback")
	}
	if err := validateDemands(req.Demands); err != nil {
		return err
	}

	// Kardex entries are stamped with the posting time, not the document's
	// business date: the per-key ledger is ordered by (ts, seq), so entries
	// must be appended with monotonically increasing timestamps or replay
	// would see movements out of order.
	postedAt := time.Now().UTC()

	err := e.txm.Serializable(ctx, func(ctx context.Context) error {
		locked, err := e.stock.LockForPosting(ctx, demandKeys(req.Demands))
		if err != nil {
			return err
		}

		if shortages := collectShortages(req.Demands, locked); len(shortages) > 0 {
			return apperror.NewInsufficientStock(shortages)
		}

		for _, d := range req.Demands {
			if _, _, err := e.stock.Debit(ctx, stock.DebitRequest{
				Key:           d.Key,
				Quantity:      d.Quantity,
				Timestamp:     postedAt,
				ReferenceID:   req.DocumentID,
				ReferenceType: req.DocumentType,
				AllowNegative: d.AllowNegative,
			}); err != nil {
				return fmt.Errorf("debit line %d: %w", d.LineNo, err)
			}
		}

		if err := req.Persist(ctx, postedAt); err != nil {
			return fmt.Errorf("persist status change: %w", err)
		}

		if e.auditor != nil {
			payload := map[string]any{
				"document_type": req.DocumentType,
				"lines":         len(req.Demands),
				"posted_at":     postedAt,
			}
			if err := e.auditor.RecordAction(ctx, "document.post", req.DocumentType, req.DocumentID, payload); err != nil {
				return fmt.Errorf("record audit event: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "document posted",
		"document_id", req.DocumentID,
		"document_type", req.DocumentType,
		"lines", len(req.Demands),
	)
	return nil
}

// Cancel runs the Draft -> Cancelled or Posted -> Cancelled transition.
// Only status and timestamp change; posted stock movements stay in place.
func (e *Engine) Cancel(ctx context.Context, req CancelRequest) error {
	if !req.Status.CanTransitionTo(entity.StatusCancelled) {
		return apperror.NewInvalidTransition(string(req.Status), string(entity.StatusCancelled)).
			WithDetail("document_id", req.DocumentID.String())
	}
	if req.Persist == nil {
		return apperror.NewValidation("cancel request requires a persist callback")
	}

	cancelledAt := time.Now().UTC()

	err := e.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := req.Persist(ctx, cancelledAt); err != nil {
			return fmt.Errorf("persist status change: %w", err)
		}

		if e.auditor != nil {
			payload := map[string]any{
				"document_type": req.DocumentType,
				"from_status":   string(req.Status),
				"cancelled_at":  cancelledAt,
			}
			if err := e.auditor.RecordAction(ctx, "document.cancel", req.DocumentType, req.DocumentID, payload); err != nil {
				return fmt.Errorf("record audit event: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "document cancelled",
		"document_id", req.DocumentID,
		"document_type", req.DocumentType,
		"from_status", string(req.Status),
	)
	return nil
}

func validateDemands(demands []Demand) error {
	for _, d := range demands {
		if id.IsNil(d.Key.WarehouseID) || id.IsNil(d.Key.PresentationID) {
			return apperror.NewValidation("demand must reference a warehouse and an item").
				WithDetail("line", d.LineNo)
		}
		if !d.Quantity.IsPositive() {
			return apperror.NewValidation("demand quantity must be positive").
				WithDetail("line", d.LineNo).
				WithDetail("quantity", d.Quantity.String())
		}
	}
	return nil
}

func demandKeys(demands []Demand) []stock.Key {
	seen := make(map[stock.Key]bool, len(demands))
	keys := make([]stock.Key, 0, len(demands))
	for _, d := range demands {
		if !seen[d.Key] {
			seen[d.Key] = true
			keys = append(keys, d.Key)
		}
	}
	return keys
}

// collectShortages checks every demand against the locked balances,
// accounting for quantity claimed by earlier lines of the same document.
func collectShortages(demands []Demand, locked map[stock.Key]entity.StockBalance) []apperror.StockShortage {
	remaining := make(map[stock.Key]types.Quantity, len(locked))
	for key, balance := range locked {
		remaining[key] = balance.Available()
	}

	var shortages []apperror.StockShortage
	for _, d := range demands {
		avail := remaining[d.Key]
		if !d.AllowNegative && d.Quantity > avail {
			shortages = append(shortages, apperror.StockShortage{
				LineNo:      d.LineNo,
				ItemID:      d.Key.PresentationID.String(),
				SKU:         d.SKU,
				WarehouseID: d.Key.WarehouseID.String(),
				Requested:   d.Quantity,
				Available:   avail,
			})
			continue
		}
		remaining[d.Key] = avail - d.Quantity
	}
	return shortages
}
