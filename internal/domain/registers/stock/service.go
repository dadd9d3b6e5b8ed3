package stock

import (
	"context"
	"fmt"
	"time"

	"facturo/internal/core/apperror"
	"facturo/internal/core/entity"
	"facturo/internal/core/id"
	"facturo/internal/core/tx"
	"facturo/internal/core/types"
	"facturo/internal/domain/registers/kardex"
	"facturo/pkg/logger"
)

// Auditor records business actions for the audit trail.
// Implemented by the postgres audit service.
type Auditor interface {
	RecordAction(ctx context.Context, action, entityType string, entityID id.ID, payload any) error
}

// Service owns stock balances and their kardex trail.
//
// Every mutation updates the balance row and appends the matching kardex
// entry in one step, under the row lock, so the ledger can never drift from
// the live balance. Debit, Credit, Reserve and Release expect to run inside
// a transaction owned by the caller (the posting engine); RecordAdjustment
// opens its own.
type Service struct {
	repo    Repository
	kardex  *kardex.Service
	txm     tx.Manager
	auditor Auditor
}

// NewService creates a new stock service.
// auditor may be nil; adjustments are then recorded without an audit event.
func NewService(repo Repository, kardexSvc *kardex.Service, txm tx.Manager, auditor Auditor) *Service {
	return &Service{
		repo:    repo,
		kardex:  kardexSvc,
		txm:     txm,
		auditor: auditor,
	}
}

// GetAvailable returns quantity minus reserved for a key.
// Unknown keys are a zero balance, never an error.
func (s *Service) GetAvailable(ctx context.Context, key Key) (types.Quantity, error) {
	balance, err := s.repo.GetBalance(ctx, key)
	if err != nil {
		if apperror.IsNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance.Available(), nil
}

// GetBalance returns the full balance row, zero-valued for unknown keys.
func (s *Service) GetBalance(ctx context.Context, key Key) (entity.StockBalance, error) {
	balance, err := s.repo.GetBalance(ctx, key)
	if err != nil {
		if apperror.IsNotFound(err) {
			return zeroBalance(key), nil
		}
		return entity.StockBalance{}, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// LockForPosting locks every balance row touched by a posting, acquiring
// the locks in stable key order. Keys with no stock yet come back as zero
// balances, locked like any other row.
func (s *Service) LockForPosting(ctx context.Context, keys []Key) (map[Key]entity.StockBalance, error) {
	sorted := make([]Key, len(keys))
	copy(sorted, keys)
	SortKeys(sorted)

	locked, err := s.repo.LockBalances(ctx, sorted)
	if err != nil {
		return nil, fmt.Errorf("lock balances: %w", err)
	}

	for _, key := range sorted {
		if _, ok := locked[key]; !ok {
			locked[key] = zeroBalance(key)
		}
	}
	return locked, nil
}

// DebitRequest describes one outgoing movement.
type DebitRequest struct {
	Key           Key
	Quantity      types.Quantity
	Timestamp     time.Time
	ReferenceID   id.ID
	ReferenceType string

	// AllowNegative comes from the item's negative-stock policy.
	AllowNegative bool

	// MovementType defaults to MovementOut.
	MovementType entity.MovementType
}

// Debit atomically decrements the on-hand quantity and appends the kardex
// entry. Fails with InsufficientStock when the requested quantity exceeds
// availability and the item's negative-stock policy is disabled.
// Must run inside the caller's transaction.
func (s *Service) Debit(ctx context.Context, req DebitRequest) (entity.StockBalance, entity.KardexEntry, error) {
	if !req.Quantity.IsPositive() {
		return entity.StockBalance{}, entity.KardexEntry{}, apperror.NewValidation("debit quantity must be positive").
			WithDetail("quantity", req.Quantity.String())
	}

	balance, err := s.lockOrInit(ctx, req.Key)
	if err != nil {
		return entity.StockBalance{}, entity.KardexEntry{}, err
	}

	if !req.AllowNegative && req.Quantity > balance.Available() {
		return entity.StockBalance{}, entity.KardexEntry{}, apperror.NewInsufficientStock([]apperror.StockShortage{{
			ItemID:      req.Key.PresentationID.String(),
			WarehouseID: req.Key.WarehouseID.String(),
			Requested:   req.Quantity,
			Available:   balance.Available(),
		}})
	}

	movementType := req.MovementType
	if movementType == "" {
		movementType = entity.MovementOut
	}

	entry, err := s.kardex.Record(ctx, kardexState(balance), kardex.Movement{
		Timestamp:      req.Timestamp,
		WarehouseID:    req.Key.WarehouseID,
		PresentationID: req.Key.PresentationID,
		Type:           movementType,
		QuantityOut:    req.Quantity,
		ReferenceID:    req.ReferenceID,
		ReferenceType:  req.ReferenceType,
	})
	if err != nil {
		return entity.StockBalance{}, entity.KardexEntry{}, err
	}

	balance.Quantity = entry.BalanceQuantity
	balance.AverageCost = entry.AverageCost
	balance.LastMovementAt = req.Timestamp
	balance.UpdatedAt = time.Now().UTC()

	if err := s.repo.UpsertBalance(ctx, &balance); err != nil {
		return entity.StockBalance{}, entity.KardexEntry{}, fmt.Errorf("upsert balance: %w", err)
	}

	logger.Debug(ctx, "stock debit",
		"warehouse_id", req.Key.WarehouseID,
		"presentation_id", req.Key.PresentationID,
		"quantity", req.Quantity.String(),
		"new_quantity", balance.Quantity.String(),
	)

	return balance, entry, nil
}

// CreditRequest describes one incoming movement.
type CreditRequest struct {
	Key           Key
	Quantity      types.Quantity
	UnitCost      types.Money
	Timestamp     time.Time
	ReferenceID   id.ID
	ReferenceType string

	// MovementType defaults to MovementIn.
	MovementType entity.MovementType
}

// Credit atomically increments the on-hand quantity, recomputes the moving
// average from the unit cost, and appends the kardex entry.
// Must run inside the caller's transaction.
func (s *Service) Credit(ctx context.Context, req CreditRequest) (entity.StockBalance, entity.KardexEntry, error) {
	if !req.Quantity.IsPositive() {
		return entity.StockBalance{}, entity.KardexEntry{}, apperror.NewValidation("credit quantity must be positive").
			WithDetail("quantity", req.Quantity.String())
	}
	if req.UnitCost.IsNegative() {
		return entity.StockBalance{}, entity.KardexEntry{}, apperror.NewValidation("unit cost must not be negative").
			WithDetail("unitCost", req.UnitCost.String())
	}

	balance, err := s.lockOrInit(ctx, req.Key)
	if err != nil {
		return entity.StockBalance{}, entity.KardexEntry{}, err
	}

	movementType := req.MovementType
	if movementType == "" {
		movementType = entity.MovementIn
	}

	entry, err := s.kardex.Record(ctx, kardexState(balance), kardex.Movement{
		Timestamp:      req.Timestamp,
		WarehouseID:    req.Key.WarehouseID,
		PresentationID: req.Key.PresentationID,
		Type:           movementType,
		QuantityIn:     req.Quantity,
		UnitCost:       req.UnitCost,
		ReferenceID:    req.ReferenceID,
		ReferenceType:  req.ReferenceType,
	})
	if err != nil {
		return entity.StockBalance{}, entity.KardexEntry{}, err
	}

	balance.Quantity = entry.BalanceQuantity
	balance.AverageCost = entry.AverageCost
	balance.LastMovementAt = req.Timestamp
	balance.UpdatedAt = time.Now().UTC()

	if err := s.repo.UpsertBalance(ctx, &balance); err != nil {
		return entity.StockBalance{}, entity.KardexEntry{}, fmt.Errorf("upsert balance: %w", err)
	}

	return balance, entry, nil
}

// Reserve increases the reserved quantity, clamped to [0, quantity].
func (s *Service) Reserve(ctx context.Context, key Key, quantity types.Quantity) (entity.StockBalance, error) {
	return s.adjustReserved(ctx, key, quantity)
}

// Release decreases the reserved quantity, clamped to [0, quantity].
func (s *Service) Release(ctx context.Context, key Key, quantity types.Quantity) (entity.StockBalance, error) {
	return s.adjustReserved(ctx, key, quantity.Neg())
}

func (s *Service) adjustReserved(ctx context.Context, key Key, delta types.Quantity) (entity.StockBalance, error) {
	if delta.IsZero() {
		return entity.StockBalance{}, apperror.NewValidation("reservation change must not be zero")
	}

	var result entity.StockBalance
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		balance, err := s.lockOrInit(ctx, key)
		if err != nil {
			return err
		}

		reserved := balance.Reserved + delta
		if reserved.IsNegative() {
			reserved = 0
		}
		if reserved > balance.Quantity {
			reserved = balance.Quantity
		}

		balance.Reserved = reserved
		balance.UpdatedAt = time.Now().UTC()
		if err := s.repo.UpsertBalance(ctx, &balance); err != nil {
			return fmt.Errorf("upsert balance: %w", err)
		}
		result = balance
		return nil
	})
	return result, err
}

// AdjustmentRequest describes a manual stock correction.
// Delta > 0 increases stock, delta < 0 decreases it. Both directions are
// valued at the current moving average, so the average is unchanged.
type AdjustmentRequest struct {
	Key    Key
	Delta  types.Quantity
	Reason string
}

// RecordAdjustment applies a manual correction in its own transaction and
// returns the resulting kardex entry (movementType=adjust). A decrease may
// not take the on-hand quantity below zero.
func (s *Service) RecordAdjustment(ctx context.Context, req AdjustmentRequest) (entity.KardexEntry, error) {
	if req.Delta.IsZero() {
		return entity.KardexEntry{}, apperror.NewValidation("adjustment delta must not be zero")
	}
	if req.Reason == "" {
		return entity.KardexEntry{}, apperror.NewValidation("adjustment reason is required")
	}

	referenceID := id.New()
	now := time.Now().UTC()

	var entry entity.KardexEntry
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		balance, err := s.lockOrInit(ctx, req.Key)
		if err != nil {
			return err
		}

		movement := kardex.Movement{
			Timestamp:      now,
			WarehouseID:    req.Key.WarehouseID,
			PresentationID: req.Key.PresentationID,
			Type:           entity.MovementAdjust,
			ReferenceID:    referenceID,
			ReferenceType:  "adjustment",
		}

		if req.Delta.IsPositive() {
			movement.QuantityIn = req.Delta
		} else {
			qty := req.Delta.Abs()
			if qty > balance.Quantity {
				return apperror.NewInsufficientStock([]apperror.StockShortage{{
					ItemID:      req.Key.PresentationID.String(),
					WarehouseID: req.Key.WarehouseID.String(),
					Requested:   qty,
					Available:   balance.Quantity,
				}})
			}
			movement.QuantityOut = qty
		}

		entry, err = s.kardex.Record(ctx, kardexState(balance), movement)
		if err != nil {
			return err
		}

		balance.Quantity = entry.BalanceQuantity
		balance.AverageCost = entry.AverageCost
		balance.LastMovementAt = now
		balance.UpdatedAt = now
		if err := s.repo.UpsertBalance(ctx, &balance); err != nil {
			return fmt.Errorf("upsert balance: %w", err)
		}

		if s.auditor != nil {
			payload := map[string]any{
				"warehouse_id":    req.Key.WarehouseID.String(),
				"presentation_id": req.Key.PresentationID.String(),
				"delta":           req.Delta.String(),
				"reason":          req.Reason,
				"new_quantity":    balance.Quantity.String(),
			}
			if err := s.auditor.RecordAction(ctx, "stock.adjust", "stock_balance", referenceID, payload); err != nil {
				return fmt.Errorf("record audit event: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return entity.KardexEntry{}, err
	}

	logger.Info(ctx, "recorded stock adjustment",
		"warehouse_id", req.Key.WarehouseID,
		"presentation_id", req.Key.PresentationID,
		"delta", req.Delta.String(),
		"reason", req.Reason,
	)

	return entry, nil
}

// WarehouseStock returns all non-zero balances for a warehouse.
func (s *Service) WarehouseStock(ctx context.Context, warehouseID id.ID) ([]entity.StockBalance, error) {
	return s.repo.ListByWarehouse(ctx, warehouseID, BalanceFilter{ExcludeZero: true})
}

// PresentationAvailability returns available quantity across warehouses.
func (s *Service) PresentationAvailability(ctx context.Context, presentationID id.ID) (types.Quantity, error) {
	balances, err := s.repo.ListByPresentation(ctx, presentationID)
	if err != nil {
		return 0, fmt.Errorf("list balances: %w", err)
	}

	var total types.Quantity
	for _, b := range balances {
		total += b.Available()
	}
	return total, nil
}

// lockOrInit returns the locked balance row for a key, zero-valued when
// the key carries no stock yet. The repository materializes missing rows
// under the lock; a NotFound is mapped to a zero balance for stores that
// cannot.
func (s *Service) lockOrInit(ctx context.Context, key Key) (entity.StockBalance, error) {
	balance, err := s.repo.LockBalance(ctx, key)
	if err != nil {
		if apperror.IsNotFound(err) {
			return zeroBalance(key), nil
		}
		return entity.StockBalance{}, fmt.Errorf("lock balance: %w", err)
	}
	return balance, nil
}

func zeroBalance(key Key) entity.StockBalance {
	return entity.StockBalance{
		WarehouseID:    key.WarehouseID,
		PresentationID: key.PresentationID,
		Quantity:       0,
		Reserved:       0,
		AverageCost:    types.Zero(),
	}
}

func kardexState(b entity.StockBalance) kardex.State {
	return kardex.State{Quantity: b.Quantity, AverageCost: b.AverageCost}
}
