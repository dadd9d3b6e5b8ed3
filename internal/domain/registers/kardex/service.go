package kardex

import (
	"context"
	"fmt"
	"time"

	"facturo/internal/core/apperror"
	"facturo/internal/core/entity"
	"facturo/internal/core/id"
	"facturo/internal/core/types"
	"facturo/pkg/logger"
)

// Movement is the input for recording one kardex entry.
// Exactly one of QuantityIn / QuantityOut must be positive.
// UnitCost is required for In movements; Out and Adjust movements are
// valued at the prior moving average and ignore it.
type Movement struct {
	Timestamp      time.Time
	WarehouseID    id.ID
	PresentationID id.ID
	Type           entity.MovementType
	QuantityIn     types.Quantity
	QuantityOut    types.Quantity
	UnitCost       types.Money
	ReferenceID    id.ID
	ReferenceType  string
}

// State is the (quantity, average cost) pair the ledger folds over.
type State struct {
	Quantity    types.Quantity
	AverageCost types.Money
}

// ZeroState is the fold origin for a key with no history.
func ZeroState() State {
	return State{Quantity: 0, AverageCost: types.Zero()}
}

// Service records and verifies kardex entries.
// Record must run inside the same transaction as the balance mutation it
// documents; the caller owns the transaction boundary.
type Service struct {
	repo Repository
}

// NewService creates a new kardex service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// ComputeNext applies the moving-average rule to a prior state.
// Pure function; Record and Fold both go through it so the stored running
// values are reproducible from the entry sequence alone.
//
// In:  newAvg = (oldAvg*oldQty + unitCost*qtyIn) / (oldQty + qtyIn)
//	if oldQty+qtyIn > 0, else unitCost.
// Out: average carries forward; movementCost = priorAvg * qtyOut.
// Adjust: valued at the prior average in both directions.
func ComputeNext(prior State, m Movement) (entity.KardexEntry, error) {
	if !m.Type.IsValid() {
		return entity.KardexEntry{}, apperror.NewValidation("unknown movement type").
			WithDetail("type", string(m.Type))
	}
	if m.QuantityIn.IsNegative() || m.QuantityOut.IsNegative() {
		return entity.KardexEntry{}, apperror.NewValidation("movement quantities must not be negative")
	}
	if m.QuantityIn.IsPositive() == m.QuantityOut.IsPositive() {
		return entity.KardexEntry{}, apperror.NewValidation("exactly one of quantityIn/quantityOut must be positive")
	}

	entry := entity.KardexEntry{
		Timestamp:      m.Timestamp,
		WarehouseID:    m.WarehouseID,
		PresentationID: m.PresentationID,
		MovementType:   m.Type,
		QuantityIn:     m.QuantityIn,
		QuantityOut:    m.QuantityOut,
		ReferenceID:    m.ReferenceID,
		ReferenceType:  m.ReferenceType,
		CreatedAt:      time.Now().UTC(),
	}

	unitCost := m.UnitCost
	inbound := m.QuantityIn.IsPositive()
	if !inbound || m.Type == entity.MovementAdjust {
		unitCost = prior.AverageCost
	}

	if inbound {
		// Unit cost is normalized to CostScale up front so replaying the
		// stored entry reproduces the same average.
		cost := types.RoundCost(unitCost)
		entry.BalanceQuantity = prior.Quantity + m.QuantityIn
		entry.UnitCost = cost
		entry.MovementCost = types.RoundCost(cost.Mul(m.QuantityIn.Decimal()))
		if entry.BalanceQuantity.IsPositive() {
			pool := prior.AverageCost.Mul(prior.Quantity.Decimal()).
				Add(cost.Mul(m.QuantityIn.Decimal()))
			entry.AverageCost = pool.DivRound(entry.BalanceQuantity.Decimal(), types.CostScale)
		} else {
			entry.AverageCost = cost
		}
	} else {
		entry.BalanceQuantity = prior.Quantity - m.QuantityOut
		entry.UnitCost = types.RoundCost(prior.AverageCost)
		entry.MovementCost = types.RoundCost(prior.AverageCost.Mul(m.QuantityOut.Decimal()))
		entry.AverageCost = types.RoundCost(prior.AverageCost)
	}

	return entry, nil
}

// Record appends a movement computed from the prior state.
// The prior state must come from the locked balance row of the same
// transaction, which also guarantees the per-key total order.
func (s *Service) Record(ctx context.Context, prior State, m Movement) (entity.KardexEntry, error) {
	entry, err := ComputeNext(prior, m)
	if err != nil {
		return entity.KardexEntry{}, err
	}

	stored, err := s.repo.Append(ctx, &entry)
	if err != nil {
		return entity.KardexEntry{}, fmt.Errorf("append kardex entry: %w", err)
	}

	logger.Debug(ctx, "recorded kardex entry",
		"warehouse_id", m.WarehouseID,
		"presentation_id", m.PresentationID,
		"movement_type", m.Type,
		"balance", stored.BalanceQuantity.String(),
		"average_cost", stored.AverageCost.String(),
	)

	return stored, nil
}

// Fold replays ordered entries from the zero state.
// The resulting state must match the running values of the last entry and
// the live balance row; Verify checks the former.
func Fold(entries []entity.KardexEntry) State {
	state := ZeroState()
	for _, e := range entries {
		state.Quantity += e.SignedQuantity()
		state.AverageCost = e.AverageCost
	}
	return state
}

// Verify replays the full history of a key through ComputeNext and compares
// the recomputed running values against the ones stored on each entry.
func (s *Service) Verify(ctx context.Context, warehouseID, presentationID id.ID) (State, error) {
	entries, err := s.repo.ListByKey(ctx, warehouseID, presentationID)
	if err != nil {
		return State{}, fmt.Errorf("list kardex entries: %w", err)
	}

	state := ZeroState()
	for i, e := range entries {
		replayed, err := ComputeNext(state, Movement{
			Timestamp:      e.Timestamp,
			WarehouseID:    e.WarehouseID,
			PresentationID: e.PresentationID,
			Type:           e.MovementType,
			QuantityIn:     e.QuantityIn,
			QuantityOut:    e.QuantityOut,
			UnitCost:       e.UnitCost,
			ReferenceID:    e.ReferenceID,
			ReferenceType:  e.ReferenceType,
		})
		if err != nil {
			return State{}, fmt.Errorf("replay entry seq=%d: %w", e.Seq, err)
		}

		if replayed.BalanceQuantity != e.BalanceQuantity || !replayed.AverageCost.Equal(e.AverageCost) {
			return State{}, apperror.NewBusinessRule(
				apperror.CodeBusinessRule,
				"kardex history does not reproduce stored running values",
			).WithDetail("seq", e.Seq).
				WithDetail("position", i).
				WithDetail("computed_balance", replayed.BalanceQuantity.String()).
				WithDetail("stored_balance", e.BalanceQuantity.String()).
				WithDetail("computed_average", replayed.AverageCost.String()).
				WithDetail("stored_average", e.AverageCost.String())
		}

		state = State{Quantity: replayed.BalanceQuantity, AverageCost: replayed.AverageCost}
	}

	return state, nil
}

// History returns ordered entries for a key.
func (s *Service) History(ctx context.Context, warehouseID, presentationID id.ID, filter HistoryFilter) ([]entity.KardexEntry, error) {
	return s.repo.History(ctx, warehouseID, presentationID, filter)
}

// ByReference returns the entries recorded by one document or adjustment.
func (s *Service) ByReference(ctx context.Context, referenceID id.ID) ([]entity.KardexEntry, error) {
	return s.repo.ListByReference(ctx, referenceID)
}
