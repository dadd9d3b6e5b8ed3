package stock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"facturo/internal/core/apperror"
	"facturo/internal/core/entity"
	"facturo/internal/core/id"
	"facturo/internal/core/types"
	"facturo/internal/domain/registers/kardex"
)

// --- test doubles ---

type memoryBalanceRepo struct {
	balances map[Key]entity.StockBalance
}

func newMemoryBalanceRepo() *memoryBalanceRepo {
	return &memoryBalanceRepo{balances: make(map[Key]entity.StockBalance)}
}

func (m *memoryBalanceRepo) GetBalance(ctx context.Context, key Key) (entity.StockBalance, error) {
	b, ok := m.balances[key]
	if !ok {
		return entity.StockBalance{}, apperror.NewNotFound("stock balance", key)
	}
	return b, nil
}

func (m *memoryBalanceRepo) LockBalance(ctx context.Context, key Key) (entity.StockBalance, error) {
	b, ok := m.balances[key]
	if !ok {
		b = entity.StockBalance{
			WarehouseID:    key.WarehouseID,
			PresentationID: key.PresentationID,
			AverageCost:    types.Zero(),
		}
		m.balances[key] = b
	}
	return b, nil
}

func (m *memoryBalanceRepo) LockBalances(ctx context.Context, keys []Key) (map[Key]entity.StockBalance, error) {
	out := make(map[Key]entity.StockBalance)
	for _, k := range keys {
		b, err := m.LockBalance(ctx, k)
		if err != nil {
			return nil, err
		}
		out[k] = b
	}
	return out, nil
}

func (m *memoryBalanceRepo) UpsertBalance(ctx context.Context, balance *entity.StockBalance) error {
	m.balances[Key{WarehouseID: balance.WarehouseID, PresentationID: balance.PresentationID}] = *balance
	return nil
}

func (m *memoryBalanceRepo) ListByWarehouse(ctx context.Context, warehouseID id.ID, filter BalanceFilter) ([]entity.StockBalance, error) {
	var out []entity.StockBalance
	for _, b := range m.balances {
		if b.WarehouseID != warehouseID {
			continue
		}
		if filter.ExcludeZero && b.Quantity.IsZero() {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *memoryBalanceRepo) ListByPresentation(ctx context.Context, presentationID id.ID) ([]entity.StockBalance, error) {
	var out []entity.StockBalance
	for _, b := range m.balances {
		if b.PresentationID == presentationID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memoryBalanceRepo) ListAll(ctx context.Context, batch func(entity.StockBalance) error) error {
	for _, b := range m.balances {
		if err := batch(b); err != nil {
			return err
		}
	}
	return nil
}

type memoryKardexRepo struct {
	entries []entity.KardexEntry
	nextSeq int64
}

func (m *memoryKardexRepo) Append(ctx context.Context, entry *entity.KardexEntry) (entity.KardexEntry, error) {
	m.nextSeq++
	stored := *entry
	stored.Seq = m.nextSeq
	m.entries = append(m.entries, stored)
	return stored, nil
}

func (m *memoryKardexRepo) ListByKey(ctx context.Context, warehouseID, presentationID id.ID) ([]entity.KardexEntry, error) {
	var out []entity.KardexEntry
	for _, e := range m.entries {
		if e.WarehouseID == warehouseID && e.PresentationID == presentationID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryKardexRepo) LastByKey(ctx context.Context, warehouseID, presentationID id.ID) (entity.KardexEntry, error) {
	entries, _ := m.ListByKey(ctx, warehouseID, presentationID)
	if len(entries) == 0 {
		return entity.KardexEntry{}, apperror.NewNotFound("kardex entry", nil)
	}
	return entries[len(entries)-1], nil
}

func (m *memoryKardexRepo) ListByReference(ctx context.Context, referenceID id.ID) ([]entity.KardexEntry, error) {
	var out []entity.KardexEntry
	for _, e := range m.entries {
		if e.ReferenceID == referenceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryKardexRepo) ListKeys(ctx context.Context, batch func(warehouseID, presentationID id.ID) error) error {
	return nil
}

func (m *memoryKardexRepo) History(ctx context.Context, warehouseID, presentationID id.ID, filter kardex.HistoryFilter) ([]entity.KardexEntry, error) {
	return m.ListByKey(ctx, warehouseID, presentationID)
}

type passthroughTx struct{}

func (passthroughTx) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestService() (*Service, *memoryBalanceRepo, *memoryKardexRepo) {
	balances := newMemoryBalanceRepo()
	kardexRepo := &memoryKardexRepo{}
	svc := NewService(balances, kardex.NewService(kardexRepo), passthroughTx{}, nil)
	return svc, balances, kardexRepo
}

func qty(v float64) types.Quantity { return types.NewQuantityFromFloat64(v) }

// --- tests ---

func TestGetAvailable_UnknownKeyIsZero(t *testing.T) {
	svc, _, _ := newTestService()

	available, err := svc.GetAvailable(context.Background(), Key{WarehouseID: id.New(), PresentationID: id.New()})
	require.NoError(t, err)
	require.True(t, available.IsZero())
}

func TestCreditThenDebit_MovingAverageFlow(t *testing.T) {
	svc, _, kardexRepo := newTestService()
	ctx := context.Background()
	key := Key{WarehouseID: id.New(), PresentationID: id.New()}
	now := time.Now().UTC()

	_, _, err := svc.Credit(ctx, CreditRequest{
		Key: key, Quantity: qty(10), UnitCost: types.MustMoney("5"),
		Timestamp: now, ReferenceID: id.New(), ReferenceType: "receipt",
	})
	require.NoError(t, err)

	balance, entry, err := svc.Credit(ctx, CreditRequest{
		Key: key, Quantity: qty(10), UnitCost: types.MustMoney("7"),
		Timestamp: now.Add(time.Minute), ReferenceID: id.New(), ReferenceType: "receipt",
	})
	require.NoError(t, err)
	require.Equal(t, qty(20), balance.Quantity)
	require.Equal(t, "6.000000", entry.AverageCost.StringFixed(6))

	balance, entry, err = svc.Debit(ctx, DebitRequest{
		Key: key, Quantity: qty(5),
		Timestamp: now.Add(2 * time.Minute), ReferenceID: id.New(), ReferenceType: "invoice",
	})
	require.NoError(t, err)
	require.Equal(t, qty(15), balance.Quantity)
	require.Equal(t, "6.000000", balance.AverageCost.StringFixed(6))
	require.Equal(t, "30.000000", entry.MovementCost.StringFixed(6))

	available, err := svc.GetAvailable(ctx, key)
	require.NoError(t, err)
	require.Equal(t, qty(15), available)

	require.Len(t, kardexRepo.entries, 3)
}

func TestDebit_InsufficientStock(t *testing.T) {
	svc, balances, kardexRepo := newTestService()
	ctx := context.Background()
	key := Key{WarehouseID: id.New(), PresentationID: id.New()}

	_, _, err := svc.Credit(ctx, CreditRequest{
		Key: key, Quantity: qty(4), UnitCost: types.MustMoney("5"),
		Timestamp: time.Now().UTC(), ReferenceID: id.New(), ReferenceType: "receipt",
	})
	require.NoError(t, err)
	entriesBefore := len(kardexRepo.entries)

	_, _, err = svc.Debit(ctx, DebitRequest{
		Key: key, Quantity: qty(10),
		Timestamp: time.Now().UTC(), ReferenceID: id.New(), ReferenceType: "invoice",
	})
	require.Error(t, err)
	require.True(t, apperror.IsInsufficientStock(err))

	shortages := apperror.Shortages(err)
	require.Len(t, shortages, 1)
	require.Equal(t, key.PresentationID.String(), shortages[0].ItemID)
	require.Equal(t, qty(10), shortages[0].Requested)
	require.Equal(t, qty(4), shortages[0].Available)

	// Balance and ledger untouched by the failed debit.
	b, err := balances.GetBalance(ctx, key)
	require.NoError(t, err)
	require.Equal(t, qty(4), b.Quantity)
	require.Len(t, kardexRepo.entries, entriesBefore)
}

func TestDebit_NegativeStockPolicy(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	key := Key{WarehouseID: id.New(), PresentationID: id.New()}

	balance, _, err := svc.Debit(ctx, DebitRequest{
		Key: key, Quantity: qty(3), AllowNegative: true,
		Timestamp: time.Now().UTC(), ReferenceID: id.New(), ReferenceType: "invoice",
	})
	require.NoError(t, err)
	require.Equal(t, qty(-3), balance.Quantity)
}

func TestReserve_ClampsToOnHand(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	key := Key{WarehouseID: id.New(), PresentationID: id.New()}

	_, _, err := svc.Credit(ctx, CreditRequest{
		Key: key, Quantity: qty(10), UnitCost: types.MustMoney("2"),
		Timestamp: time.Now().UTC(), ReferenceID: id.New(), ReferenceType: "receipt",
	})
	require.NoError(t, err)

	balance, err := svc.Reserve(ctx, key, qty(15))
	require.NoError(t, err)
	require.Equal(t, qty(10), balance.Reserved)
	require.True(t, balance.Available().IsZero())

	balance, err = svc.Release(ctx, key, qty(4))
	require.NoError(t, err)
	require.Equal(t, qty(6), balance.Reserved)

	// Releasing more than reserved clamps at zero.
	balance, err = svc.Release(ctx, key, qty(100))
	require.NoError(t, err)
	require.True(t, balance.Reserved.IsZero())
}

func TestRecordAdjustment(t *testing.T) {
	svc, balances, _ := newTestService()
	ctx := context.Background()
	key := Key{WarehouseID: id.New(), PresentationID: id.New()}

	_, _, err := svc.Credit(ctx, CreditRequest{
		Key: key, Quantity: qty(10), UnitCost: types.MustMoney("4"),
		Timestamp: time.Now().UTC(), ReferenceID: id.New(), ReferenceType: "receipt",
	})
	require.NoError(t, err)

	entry, err := svc.RecordAdjustment(ctx, AdjustmentRequest{Key: key, Delta: qty(2), Reason: "cycle count"})
	require.NoError(t, err)
	require.Equal(t, entity.MovementAdjust, entry.MovementType)
	require.Equal(t, "adjustment", entry.ReferenceType)
	require.Equal(t, qty(12), entry.BalanceQuantity)
	require.Equal(t, "4.000000", entry.AverageCost.StringFixed(6))

	entry, err = svc.RecordAdjustment(ctx, AdjustmentRequest{Key: key, Delta: qty(-5), Reason: "damage"})
	require.NoError(t, err)
	require.Equal(t, qty(7), entry.BalanceQuantity)
	require.Equal(t, "4.000000", entry.AverageCost.StringFixed(6))

	b, err := balances.GetBalance(ctx, key)
	require.NoError(t, err)
	require.Equal(t, qty(7), b.Quantity)
}

func TestRecordAdjustment_Validation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	key := Key{WarehouseID: id.New(), PresentationID: id.New()}

	_, err := svc.RecordAdjustment(ctx, AdjustmentRequest{Key: key, Delta: 0, Reason: "noop"})
	require.Error(t, err)

	_, err = svc.RecordAdjustment(ctx, AdjustmentRequest{Key: key, Delta: qty(1), Reason: ""})
	require.Error(t, err)

	// Decreasing an empty key cannot take stock below zero.
	_, err = svc.RecordAdjustment(ctx, AdjustmentRequest{Key: key, Delta: qty(-1), Reason: "shrinkage"})
	require.Error(t, err)
	require.True(t, apperror.IsInsufficientStock(err))
}

// Locking a key with no history materializes its zero row, so a second
// first-movement on the same key folds from the committed row instead of
// from zero.
func TestLockForPosting_MaterializesFreshKeys(t *testing.T) {
	svc, balances, _ := newTestService()
	ctx := context.Background()
	key := Key{WarehouseID: id.New(), PresentationID: id.New()}

	locked, err := svc.LockForPosting(ctx, []Key{key})
	require.NoError(t, err)
	require.Contains(t, locked, key)
	require.True(t, locked[key].Quantity.IsZero())

	b, err := balances.GetBalance(ctx, key)
	require.NoError(t, err)
	require.Equal(t, key.WarehouseID, b.WarehouseID)
	require.Equal(t, key.PresentationID, b.PresentationID)
}

func TestSortKeys_StableLockOrder(t *testing.T) {
	a := Key{WarehouseID: id.MustParse("00000000-0000-0000-0000-000000000001"), PresentationID: id.MustParse("00000000-0000-0000-0000-000000000002")}
	b := Key{WarehouseID: id.MustParse("00000000-0000-0000-0000-000000000001"), PresentationID: id.MustParse("00000000-0000-0000-0000-000000000001")}
	c := Key{WarehouseID: id.MustParse("00000000-0000-0000-0000-000000000000"), PresentationID: id.MustParse("00000000-0000-0000-0000-00000000ffff")}

	keys := []Key{a, b, c}
	SortKeys(keys)
	require.Equal(t, []Key{c, b, a}, keys)

	// Sorting an already sorted slice is a no-op.
	SortKeys(keys)
	require.Equal(t, []Key{c, b, a}, keys)
}
