package invoice

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"facturo/internal/core/apperror"
	"facturo/internal/core/entity"
	"facturo/internal/core/id"
	"facturo/internal/core/types"
	"facturo/internal/domain"
	"facturo/internal/domain/billing"
	"facturo/internal/domain/catalogs/product"
	"facturo/internal/domain/catalogs/warehouse"
	"facturo/internal/domain/posting"
	"facturo/internal/domain/registers/kardex"
	"facturo/internal/domain/registers/stock"
)

// --- test doubles ---

type memoryInvoiceRepo struct {
	invoices map[id.ID]*Invoice
}

func newMemoryInvoiceRepo() *memoryInvoiceRepo {
	return &memoryInvoiceRepo{invoices: make(map[id.ID]*Invoice)}
}

func cloneInvoice(inv *Invoice) *Invoice {
	clone := *inv
	clone.Lines = append([]Line(nil), inv.Lines...)
	return &clone
}

func (m *memoryInvoiceRepo) Create(ctx context.Context, inv *Invoice) error {
	m.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

func (m *memoryInvoiceRepo) Update(ctx context.Context, inv *Invoice) error {
	if _, ok := m.invoices[inv.ID]; !ok {
		return apperror.NewNotFound("invoice", inv.ID.String())
	}
	m.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

func (m *memoryInvoiceRepo) GetByID(ctx context.Context, invoiceID id.ID) (*Invoice, error) {
	inv, ok := m.invoices[invoiceID]
	if !ok {
		return nil, apperror.NewNotFound("invoice", invoiceID.String())
	}
	return cloneInvoice(inv), nil
}

func (m *memoryInvoiceRepo) GetByNumber(ctx context.Context, number string) (*Invoice, error) {
	for _, inv := range m.invoices {
		if inv.Number == number {
			return cloneInvoice(inv), nil
		}
	}
	return nil, apperror.NewNotFound("invoice", number)
}

func (m *memoryInvoiceRepo) List(ctx context.Context, f Filter) (domain.ListResult[*Invoice], error) {
	return domain.ListResult[*Invoice]{}, nil
}

func (m *memoryInvoiceRepo) UpdateStatus(ctx context.Context, invoiceID id.ID, from, to entity.DocumentStatus, at time.Time) error {
	inv, ok := m.invoices[invoiceID]
	if !ok || inv.Status != from {
		return apperror.NewInvalidTransition(string(from), string(to)).
			WithDetail("document_id", invoiceID.String())
	}
	switch to {
	case entity.StatusPosted:
		inv.MarkPosted(at)
	case entity.StatusCancelled:
		inv.MarkCancelled(at)
	default:
		inv.Status = to
	}
	return nil
}

type memoryProductRepo struct {
	products map[id.ID]*product.Product
}

func (m *memoryProductRepo) Create(ctx context.Context, p *product.Product) error {
	m.products[p.ID] = p
	return nil
}

func (m *memoryProductRepo) GetByID(ctx context.Context, productID id.ID) (*product.Product, error) {
	p, ok := m.products[productID]
	if !ok {
		return nil, apperror.NewNotFound("product", productID.String())
	}
	return p, nil
}

func (m *memoryProductRepo) GetByCode(ctx context.Context, code string) (*product.Product, error) {
	for _, p := range m.products {
		if p.Code == code {
			return p, nil
		}
	}
	return nil, apperror.NewNotFound("product", code)
}

func (m *memoryProductRepo) Update(ctx context.Context, p *product.Product) error {
	m.products[p.ID] = p
	return nil
}

func (m *memoryProductRepo) Delete(ctx context.Context, productID id.ID) error {
	return m.SetDeletionMark(ctx, productID, true)
}

func (m *memoryProductRepo) SetDeletionMark(ctx context.Context, productID id.ID, marked bool) error {
	p, ok := m.products[productID]
	if !ok {
		return apperror.NewNotFound("product", productID.String())
	}
	p.DeletionMark = marked
	return nil
}

func (m *memoryProductRepo) List(ctx context.Context, f domain.ListFilter) (domain.ListResult[*product.Product], error) {
	return domain.ListResult[*product.Product]{}, nil
}

func (m *memoryProductRepo) Exists(ctx context.Context, productID id.ID) (bool, error) {
	_, ok := m.products[productID]
	return ok, nil
}

func (m *memoryProductRepo) ExistsByCode(ctx context.Context, code string) (bool, error) {
	_, err := m.GetByCode(ctx, code)
	return err == nil, nil
}

type memoryPresentationRepo struct {
	presentations map[id.ID]*product.Presentation
}

func (m *memoryPresentationRepo) Create(ctx context.Context, p *product.Presentation) error {
	clone := *p
	m.presentations[p.ID] = &clone
	return nil
}

func (m *memoryPresentationRepo) GetByID(ctx context.Context, presentationID id.ID) (*product.Presentation, error) {
	p, ok := m.presentations[presentationID]
	if !ok {
		return nil, apperror.NewNotFound("presentation", presentationID.String())
	}
	clone := *p
	return &clone, nil
}

func (m *memoryPresentationRepo) GetBySKU(ctx context.Context, sku string) (*product.Presentation, error) {
	for _, p := range m.presentations {
		if p.SKU == sku {
			clone := *p
			return &clone, nil
		}
	}
	return nil, apperror.NewNotFound("presentation", sku)
}

func (m *memoryPresentationRepo) Update(ctx context.Context, p *product.Presentation) error {
	if _, ok := m.presentations[p.ID]; !ok {
		return apperror.NewNotFound("presentation", p.ID.String())
	}
	clone := *p
	m.presentations[p.ID] = &clone
	return nil
}

func (m *memoryPresentationRepo) ListByProduct(ctx context.Context, productID id.ID) ([]*product.Presentation, error) {
	var out []*product.Presentation
	for _, p := range m.presentations {
		if p.ProductID == productID {
			clone := *p
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *memoryPresentationRepo) ClearDefault(ctx context.Context, productID id.ID) error {
	for _, p := range m.presentations {
		if p.ProductID == productID {
			p.IsDefault = false
		}
	}
	return nil
}

func (m *memoryPresentationRepo) ReplaceTaxes(ctx context.Context, presentationID id.ID, taxes []product.PresentationTax) error {
	p, ok := m.presentations[presentationID]
	if !ok {
		return apperror.NewNotFound("presentation", presentationID.String())
	}
	p.Taxes = taxes
	return nil
}

type memoryWarehouseRepo struct {
	warehouses map[id.ID]*warehouse.Warehouse
}

func (m *memoryWarehouseRepo) Create(ctx context.Context, w *warehouse.Warehouse) error {
	m.warehouses[w.ID] = w
	return nil
}

func (m *memoryWarehouseRepo) GetByID(ctx context.Context, warehouseID id.ID) (*warehouse.Warehouse, error) {
	w, ok := m.warehouses[warehouseID]
	if !ok {
		return nil, apperror.NewNotFound("warehouse", warehouseID.String())
	}
	return w, nil
}

func (m *memoryWarehouseRepo) GetByCode(ctx context.Context, code string) (*warehouse.Warehouse, error) {
	for _, w := range m.warehouses {
		if w.Code == code {
			return w, nil
		}
	}
	return nil, apperror.NewNotFound("warehouse", code)
}

func (m *memoryWarehouseRepo) Update(ctx context.Context, w *warehouse.Warehouse) error {
	m.warehouses[w.ID] = w
	return nil
}

func (m *memoryWarehouseRepo) Delete(ctx context.Context, warehouseID id.ID) error {
	return m.SetDeletionMark(ctx, warehouseID, true)
}

func (m *memoryWarehouseRepo) SetDeletionMark(ctx context.Context, warehouseID id.ID, marked bool) error {
	w, ok := m.warehouses[warehouseID]
	if !ok {
		return apperror.NewNotFound("warehouse", warehouseID.String())
	}
	w.DeletionMark = marked
	return nil
}

func (m *memoryWarehouseRepo) List(ctx context.Context, f domain.ListFilter) (domain.ListResult[*warehouse.Warehouse], error) {
	return domain.ListResult[*warehouse.Warehouse]{}, nil
}

func (m *memoryWarehouseRepo) Exists(ctx context.Context, warehouseID id.ID) (bool, error) {
	_, ok := m.warehouses[warehouseID]
	return ok, nil
}

func (m *memoryWarehouseRepo) ExistsByCode(ctx context.Context, code string) (bool, error) {
	_, err := m.GetByCode(ctx, code)
	return err == nil, nil
}

func (m *memoryWarehouseRepo) ClearDefault(ctx context.Context) error {
	for _, w := range m.warehouses {
		w.IsDefault = false
	}
	return nil
}

type memoryBalanceRepo struct {
	balances map[stock.Key]entity.StockBalance
}

func (m *memoryBalanceRepo) GetBalance(ctx context.Context, key stock.Key) (entity.StockBalance, error) {
	b, ok := m.balances[key]
	if !ok {
		return entity.StockBalance{}, apperror.NewNotFound("stock balance", key)
	}
	return b, nil
}

func (m *memoryBalanceRepo) LockBalance(ctx context.Context, key stock.Key) (entity.StockBalance, error) {
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

func (m *memoryBalanceRepo) LockBalances(ctx context.Context, keys []stock.Key) (map[stock.Key]entity.StockBalance, error) {
	out := make(map[stock.Key]entity.StockBalance)
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
	key := stock.Key{WarehouseID: balance.WarehouseID, PresentationID: balance.PresentationID}
	m.balances[key] = *balance
	return nil
}

func (m *memoryBalanceRepo) ListByWarehouse(ctx context.Context, warehouseID id.ID, f stock.BalanceFilter) ([]entity.StockBalance, error) {
	return nil, nil
}

func (m *memoryBalanceRepo) ListByPresentation(ctx context.Context, presentationID id.ID) ([]entity.StockBalance, error) {
	return nil, nil
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

func (m *memoryKardexRepo) History(ctx context.Context, warehouseID, presentationID id.ID, f kardex.HistoryFilter) ([]entity.KardexEntry, error) {
	return m.ListByKey(ctx, warehouseID, presentationID)
}

type passthroughTx struct{}

func (passthroughTx) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (passthroughTx) Serializable(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// --- fixture ---

type fixture struct {
	svc      *Service
	stockSvc *stock.Service
	invoices *memoryInvoiceRepo
	balances *memoryBalanceRepo
	kardex   *memoryKardexRepo
	products *product.Service

	warehouse    *warehouse.Warehouse
	product      *product.Product
	presentation *product.Presentation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	productSvc := product.NewService(
		&memoryProductRepo{products: make(map[id.ID]*product.Product)},
		&memoryPresentationRepo{presentations: make(map[id.ID]*product.Presentation)},
		passthroughTx{}, nil,
	)
	warehouseSvc := warehouse.NewService(
		&memoryWarehouseRepo{warehouses: make(map[id.ID]*warehouse.Warehouse)},
		passthroughTx{}, nil,
	)

	balances := &memoryBalanceRepo{balances: make(map[stock.Key]entity.StockBalance)}
	kardexRepo := &memoryKardexRepo{}
	stockSvc := stock.NewService(balances, kardex.NewService(kardexRepo), passthroughTx{}, nil)
	engine := posting.NewEngine(stockSvc, passthroughTx{}, nil)

	invoices := newMemoryInvoiceRepo()
	svc := NewService(invoices, productSvc, warehouseSvc, engine, passthroughTx{}, nil)

	wh := warehouse.NewWarehouse("WH-1", "Main warehouse", warehouse.TypeMain)
	require.NoError(t, warehouseSvc.Create(ctx, wh))

	prod := product.NewProduct("PRD-1", "Widget", product.TypeGoods)
	require.NoError(t, productSvc.Create(ctx, prod))

	pres := product.NewPresentation(prod.ID, "W-UNIT", "Widget unit")
	pres.UnitOfMeasure = "und"
	pres.Price = types.MustMoney("100")
	pres.Taxes = []product.PresentationTax{
		{Name: "IVA", Rate: types.MustMoney("19")},
	}
	require.NoError(t, productSvc.CreatePresentation(ctx, pres))

	return &fixture{
		svc:          svc,
		stockSvc:     stockSvc,
		invoices:     invoices,
		balances:     balances,
		kardex:       kardexRepo,
		products:     productSvc,
		warehouse:    wh,
		product:      prod,
		presentation: pres,
	}
}

func (f *fixture) key() stock.Key {
	return stock.Key{WarehouseID: f.warehouse.ID, PresentationID: f.presentation.ID}
}

func (f *fixture) seedStock(t *testing.T, quantity types.Quantity, unitCost string) {
	t.Helper()
	_, _, err := f.stockSvc.Credit(context.Background(), stock.CreditRequest{
		Key:           f.key(),
		Quantity:      quantity,
		UnitCost:      types.MustMoney(unitCost),
		Timestamp:     time.Now().UTC(),
		ReferenceID:   id.New(),
		ReferenceType: "receipt",
	})
	require.NoError(t, err)
}

func (f *fixture) draftInvoice(t *testing.T, quantity types.Quantity) *Invoice {
	t.Helper()
	ctx := context.Background()

	inv := New(id.New(), f.warehouse.ID, "COP")
	inv.Number = "FAC-2026-00001"

	line, err := f.svc.BuildLine(ctx, f.presentation.ID, quantity)
	require.NoError(t, err)
	line.Discount = billing.PercentageDiscount(types.MustMoney("10"))
	require.NoError(t, inv.AddLine(line))

	require.NoError(t, f.svc.Create(ctx, inv))
	return inv
}

func qty(v float64) types.Quantity { return types.NewQuantityFromFloat64(v) }

// --- tests ---

func TestBuildLine_SnapshotsPresentation(t *testing.T) {
	f := newFixture(t)

	line, err := f.svc.BuildLine(context.Background(), f.presentation.ID, qty(2))
	require.NoError(t, err)
	require.Equal(t, "W-UNIT", line.SKU)
	require.Equal(t, "Widget unit", line.Name)
	require.Equal(t, "und", line.UnitOfMeasure)
	require.Equal(t, "100", line.UnitPrice.String())
	require.Len(t, line.Taxes, 1)
	require.Equal(t, "IVA", line.Taxes[0].Name)
}

func TestBuildLine_FractionalSalePolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.BuildLine(ctx, f.presentation.ID, qty(1.5))
	require.Error(t, err)

	f.presentation.AllowFractionalSale = true
	require.NoError(t, f.products.UpdatePresentation(ctx, f.presentation))

	_, err = f.svc.BuildLine(ctx, f.presentation.ID, qty(1.5))
	require.NoError(t, err)
}

func TestCreate_CalculatesTotals(t *testing.T) {
	f := newFixture(t)

	inv := f.draftInvoice(t, qty(2))

	stored, err := f.svc.GetByID(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StatusDraft, stored.Status)
	require.Equal(t, "180.00", stored.Subtotal.StringFixed(2))
	require.Equal(t, "20.00", stored.DiscountTotal.StringFixed(2))
	require.Equal(t, "34.20", stored.TaxTotal.StringFixed(2))
	require.Equal(t, "214.20", stored.Total.StringFixed(2))

	line := stored.Lines[0]
	require.Equal(t, 1, line.LineNo)
	require.Equal(t, "180.00", line.Subtotal.StringFixed(2))
	require.Equal(t, "214.20", line.Total.StringFixed(2))
}

func TestPost_DebitsStockAndMarksPosted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedStock(t, qty(10), "5")

	inv := f.draftInvoice(t, qty(2))
	require.NoError(t, f.svc.Post(ctx, inv.ID))

	stored, err := f.svc.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	require.True(t, stored.IsPosted())
	require.NotNil(t, stored.PostedAt)

	available, err := f.stockSvc.GetAvailable(ctx, f.key())
	require.NoError(t, err)
	require.Equal(t, qty(8), available)

	entries, err := f.kardex.ListByReference(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, DocumentType, entries[0].ReferenceType)
	require.Equal(t, entity.MovementOut, entries[0].MovementType)
	require.Equal(t, "5.000000", entries[0].AverageCost.StringFixed(6))

	// Posting twice is an invalid transition and leaves no extra movements.
	err = f.svc.Post(ctx, inv.ID)
	require.Error(t, err)
	require.True(t, apperror.IsInvalidTransition(err))

	available, err = f.stockSvc.GetAvailable(ctx, f.key())
	require.NoError(t, err)
	require.Equal(t, qty(8), available)

	entries, err = f.kardex.ListByReference(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

// A persist built from a stale draft snapshot matches nothing once another
// transaction has posted the invoice.
func TestUpdateStatus_GuardsOnStoredStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedStock(t, qty(10), "5")

	inv := f.draftInvoice(t, qty(2))
	stale, err := f.svc.GetByID(ctx, inv.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.Post(ctx, inv.ID))

	err = f.invoices.UpdateStatus(ctx, stale.ID, stale.Status, entity.StatusPosted, time.Now().UTC())
	require.Error(t, err)
	require.True(t, apperror.IsInvalidTransition(err))
}

// Goods received between drafting and posting must land earlier in the
// per-key ledger than the posting's own debit: the debit is stamped with the
// posting time, not the document's business date.
func TestPost_KardexStampedWithPostingTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedStock(t, qty(10), "5")

	inv := New(id.New(), f.warehouse.ID, "COP")
	inv.Number = "FAC-2026-00009"
	inv.Date = time.Now().UTC().Add(-24 * time.Hour)
	line, err := f.svc.BuildLine(ctx, f.presentation.ID, qty(2))
	require.NoError(t, err)
	require.NoError(t, inv.AddLine(line))
	require.NoError(t, f.svc.Create(ctx, inv))

	// Goods arrive after the invoice was drafted.
	f.seedStock(t, qty(5), "6")

	require.NoError(t, f.svc.Post(ctx, inv.ID))

	entries, err := f.kardex.ListByKey(ctx, f.warehouse.ID, f.presentation.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	out := entries[2]
	require.Equal(t, entity.MovementOut, out.MovementType)
	require.False(t, out.Timestamp.Before(entries[1].Timestamp))

	// Replaying the history in (ts, seq) order reproduces the live balance.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Seq < entries[j].Seq
		}
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	state := kardex.Fold(entries)
	balance, err := f.stockSvc.GetBalance(ctx, f.key())
	require.NoError(t, err)
	require.Equal(t, balance.Quantity, state.Quantity)
	require.True(t, balance.AverageCost.Equal(state.AverageCost))
}

func TestPost_InsufficientStockKeepsDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedStock(t, qty(1), "5")

	inv := f.draftInvoice(t, qty(2))
	err := f.svc.Post(ctx, inv.ID)
	require.Error(t, err)
	require.True(t, apperror.IsInsufficientStock(err))

	shortages := apperror.Shortages(err)
	require.Len(t, shortages, 1)
	require.Equal(t, "W-UNIT", shortages[0].SKU)
	require.Equal(t, qty(2), shortages[0].Requested)
	require.Equal(t, qty(1), shortages[0].Available)

	stored, err := f.svc.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StatusDraft, stored.Status)

	available, err := f.stockSvc.GetAvailable(ctx, f.key())
	require.NoError(t, err)
	require.Equal(t, qty(1), available)
}

func TestPost_NegativeStockPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.product.AllowNegativeStock = true
	require.NoError(t, f.products.Update(ctx, f.product))

	inv := f.draftInvoice(t, qty(3))
	require.NoError(t, f.svc.Post(ctx, inv.ID))

	balance, err := f.stockSvc.GetBalance(ctx, f.key())
	require.NoError(t, err)
	require.Equal(t, qty(-3), balance.Quantity)
}

func TestPost_ServiceLineHasNoInventoryImpact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	install := product.NewProduct("SRV-1", "Installation", product.TypeService)
	require.NoError(t, f.products.Create(ctx, install))
	installPres := product.NewPresentation(install.ID, "SRV-INST", "Installation visit")
	installPres.Price = types.MustMoney("50")
	require.NoError(t, f.products.CreatePresentation(ctx, installPres))

	inv := New(id.New(), f.warehouse.ID, "COP")
	inv.Number = "FAC-2026-00002"
	line, err := f.svc.BuildLine(ctx, installPres.ID, qty(1))
	require.NoError(t, err)
	require.NoError(t, inv.AddLine(line))
	require.NoError(t, f.svc.Create(ctx, inv))

	require.NoError(t, f.svc.Post(ctx, inv.ID))

	stored, err := f.svc.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	require.True(t, stored.IsPosted())
	require.Empty(t, f.kardex.entries)
}

func TestCancel_PostedStockStaysInPlace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedStock(t, qty(10), "5")

	inv := f.draftInvoice(t, qty(2))
	require.NoError(t, f.svc.Post(ctx, inv.ID))
	require.NoError(t, f.svc.Cancel(ctx, inv.ID))

	stored, err := f.svc.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StatusCancelled, stored.Status)
	require.NotNil(t, stored.CancelledAt)

	// No automatic reversal: the debit stays on the ledger.
	available, err := f.stockSvc.GetAvailable(ctx, f.key())
	require.NoError(t, err)
	require.Equal(t, qty(8), available)

	// A cancelled invoice cannot transition again.
	err = f.svc.Cancel(ctx, inv.ID)
	require.Error(t, err)
	require.True(t, apperror.IsInvalidTransition(err))
}

func TestUpdate_DraftOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedStock(t, qty(10), "5")

	inv := f.draftInvoice(t, qty(2))
	require.NoError(t, f.svc.Post(ctx, inv.ID))

	posted, err := f.svc.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	posted.Comment = "late edit"
	err = f.svc.Update(ctx, posted)
	require.Error(t, err)
}

func TestPost_InactiveWarehouseRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedStock(t, qty(10), "5")

	inv := f.draftInvoice(t, qty(2))

	f.warehouse.Active = false
	err := f.svc.Post(ctx, inv.ID)
	require.Error(t, err)

	stored, err := f.svc.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StatusDraft, stored.Status)
}
