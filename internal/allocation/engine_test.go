package allocation_test

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/fekuna/vetvax-order-service/internal/allocation"
	"github.com/fekuna/vetvax-order-service/internal/apperr"
	"github.com/fekuna/vetvax-order-service/internal/model"
	"github.com/fekuna/vetvax-order-service/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore stands in for every table the engine touches.
type memStore struct {
	orders   map[string]model.Order
	items    map[string][]model.OrderItem
	history  []model.OrderStatusHistory
	products map[string]model.Product
	packs    map[string]model.DosePack
	batches  map[string]model.Batch
	logs     []model.InventoryLog

	recomputeErr error
	recomputed   []string
	lockedOrder  []string
}

func newMemStore() *memStore {
	return &memStore{
		orders:   map[string]model.Order{},
		items:    map[string][]model.OrderItem{},
		products: map[string]model.Product{},
		packs:    map[string]model.DosePack{},
		batches:  map[string]model.Batch{},
	}
}

func (s *memStore) clone() *memStore {
	c := newMemStore()
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.items {
		c.items[k] = append([]model.OrderItem(nil), v...)
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.packs {
		c.packs[k] = v
	}
	for k, v := range s.batches {
		c.batches[k] = v
	}
	c.history = append([]model.OrderStatusHistory(nil), s.history...)
	c.logs = append([]model.InventoryLog(nil), s.logs...)
	return c
}

func (s *memStore) restore(from *memStore) {
	s.orders, s.items, s.history = from.orders, from.items, from.history
	s.products, s.packs, s.batches, s.logs = from.products, from.packs, from.batches, from.logs
}

// OrderStore

func (s *memStore) FindByIDForUpdate(_ context.Context, id string) (*model.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (s *memStore) ListItems(_ context.Context, orderID string) ([]model.OrderItem, error) {
	return append([]model.OrderItem(nil), s.items[orderID]...), nil
}

func (s *memStore) SetItemBatch(_ context.Context, itemID, batchID string) error {
	for orderID, items := range s.items {
		for i := range items {
			if items[i].ID == itemID {
				id := batchID
				s.items[orderID][i].BatchID = &id
			}
		}
	}
	return nil
}

func (s *memStore) UpdateStatus(_ context.Context, orderID string, status model.OrderStatus) error {
	o := s.orders[orderID]
	o.Status = status
	s.orders[orderID] = o
	return nil
}

func (s *memStore) AppendStatusHistory(_ context.Context, h *model.OrderStatusHistory) error {
	s.history = append(s.history, *h)
	return nil
}

// BatchStore

func (s *memStore) ListByProductForUpdate(_ context.Context, productID string) ([]model.Batch, error) {
	s.lockedOrder = append(s.lockedOrder, productID)
	out := []model.Batch{}
	for _, b := range s.batches {
		if b.ProductID == productID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiryDate.Equal(out[j].ExpiryDate) {
			return out[i].ExpiryDate.Before(out[j].ExpiryDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memStore) Update(_ context.Context, b *model.Batch) error {
	s.batches[b.ID] = *b
	return nil
}

// ProductStore

func (s *memStore) FindByID(_ context.Context, id string) (*model.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *memStore) CountDosePacks(_ context.Context, productID string) (int, error) {
	n := 0
	for _, dp := range s.packs {
		if dp.ProductID == productID {
			n++
		}
	}
	return n, nil
}

func (s *memStore) FindDosePackForUpdate(_ context.Context, id string) (*model.DosePack, error) {
	dp, ok := s.packs[id]
	if !ok {
		return nil, nil
	}
	return &dp, nil
}

func (s *memStore) UpdateDosePackUnits(_ context.Context, dp *model.DosePack) error {
	s.packs[dp.ID] = *dp
	return nil
}

// Ledger and StockAggregator

func (s *memStore) Append(_ context.Context, l *model.InventoryLog) error {
	s.logs = append(s.logs, *l)
	return nil
}

func (s *memStore) RecomputeAvailableStock(_ context.Context, productID string) (int, error) {
	if s.recomputeErr != nil {
		return 0, s.recomputeErr
	}
	s.recomputed = append(s.recomputed, productID)
	return 0, nil
}

// memTx discards every change made by a failing callback.
type memTx struct {
	store *memStore
}

func (t *memTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	snapshot := t.store.clone()
	if err := fn(ctx); err != nil {
		t.store.restore(snapshot)
		return err
	}
	return nil
}

func (t *memTx) WithinSavepoint(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return t.WithinTx(ctx, fn)
}

type fixture struct {
	store  *memStore
	engine *allocation.Engine
}

func newFixture() *fixture {
	s := newMemStore()
	e := allocation.NewEngine(s, s, s, s, s, &memTx{store: s}, logger.NewNop())
	return &fixture{store: s, engine: e}
}

var day0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func (f *fixture) product(id, name string) {
	p := model.Product{Name: name}
	p.ID = id
	f.store.products[id] = p
}

func (f *fixture) batch(id, productID string, expiresInDays, qty int) {
	b := model.Batch{
		ProductID:   productID,
		BatchNumber: "BN-" + id,
		ExpiryDate:  day0.AddDate(0, 0, expiresInDays),
		Quantity:    qty,
		Status:      model.BatchStatusAvailable,
	}
	b.ID = id
	f.store.batches[id] = b
}

func (f *fixture) dosePack(id, productID string, doses, units int) {
	f.store.packs[id] = model.DosePack{ID: id, ProductID: productID, Doses: doses, UnitsPerPack: units}
}

func (f *fixture) order(id string, items ...model.OrderItem) {
	o := model.Order{OrderNumber: "ORD" + id, Status: model.OrderStatusRequested}
	o.ID = id
	f.store.orders[id] = o
	for i := range items {
		items[i].OrderID = id
		items[i].Position = i
	}
	f.store.items[id] = items
}

func item(id, productID string, dosePackID string, qty int) model.OrderItem {
	it := model.OrderItem{ID: id, Quantity: qty}
	if productID != "" {
		it.ProductID = &productID
	}
	if dosePackID != "" {
		it.DosePackID = &dosePackID
	}
	return it
}

func sumLogs(logs []model.InventoryLog) int {
	total := 0
	for _, l := range logs {
		total += l.QuantityChanged
	}
	return total
}

func staff() *string {
	id := "staff-1"
	return &id
}

func TestConfirm_SpansBatchesInExpiryOrder(t *testing.T) {
	f := newFixture()
	f.product("p1", "Newcastle ND Live")
	f.batch("b2", "p1", 60, 10)
	f.batch("b1", "p1", 30, 10)
	f.order("o1", item("i1", "p1", "", 15))

	res, err := f.engine.Confirm(context.Background(), "o1", staff())
	require.NoError(t, err)

	assert.Equal(t, 10, f.store.batches["b1"].QuantityReserved)
	assert.Equal(t, 5, f.store.batches["b2"].QuantityReserved)

	require.Len(t, f.store.logs, 2)
	assert.Equal(t, model.ActionReserved, f.store.logs[0].Action)
	assert.Equal(t, -10, f.store.logs[0].QuantityChanged)
	assert.Equal(t, -5, f.store.logs[1].QuantityChanged)
	assert.Equal(t, "Confirmed order ORDo1", f.store.logs[0].Reason)
	assert.Equal(t, "o1", *f.store.logs[0].RelatedOrderID)
	assert.Equal(t, -15, sumLogs(f.store.logs))

	assert.Equal(t, model.OrderStatusConfirmed, f.store.orders["o1"].Status)
	require.Len(t, f.store.history, 1)
	assert.Equal(t, "staff-1", *f.store.history[0].ChangedBy)

	assert.Equal(t, "b2", *f.store.items["o1"][0].BatchID)
	require.Len(t, res.Items, 1)
	assert.Equal(t, allocation.SourceBatches, res.Items[0].Source)
	assert.Equal(t, []string{"p1"}, res.ProductIDs)
	assert.Equal(t, []string{"p1"}, f.store.recomputed)
}

func TestConfirm_SmallOrderUsesOnlyEarliestBatch(t *testing.T) {
	f := newFixture()
	f.product("p1", "Gumboro")
	f.batch("b1", "p1", 30, 10)
	f.batch("b2", "p1", 60, 10)
	f.order("o1", item("i1", "p1", "", 4))

	_, err := f.engine.Confirm(context.Background(), "o1", staff())
	require.NoError(t, err)

	assert.Equal(t, 4, f.store.batches["b1"].QuantityReserved)
	assert.Equal(t, 0, f.store.batches["b2"].QuantityReserved)
	require.Len(t, f.store.logs, 1)
	assert.Equal(t, "b1", *f.store.logs[0].BatchID)
}

func TestConfirm_LedgerCountsUnitsPerPack(t *testing.T) {
	f := newFixture()
	f.product("p1", "PRRS MLV")
	f.dosePack("dp1", "p1", 50, 10)
	f.batch("b1", "p1", 30, 5)
	f.order("o1", item("i1", "p1", "dp1", 2))

	_, err := f.engine.Confirm(context.Background(), "o1", staff())
	require.NoError(t, err)

	require.Len(t, f.store.logs, 1)
	assert.Equal(t, -20, f.store.logs[0].QuantityChanged)
	assert.Equal(t, 2, f.store.batches["b1"].QuantityReserved)
	assert.Equal(t, 10, f.store.packs["dp1"].UnitsPerPack)
}

func TestConfirm_FallsBackToDosePackWithoutBatches(t *testing.T) {
	f := newFixture()
	f.product("p1", "Marek HVT")
	f.dosePack("dp1", "p1", 1000, 5)
	f.order("o1", item("i1", "p1", "dp1", 3))

	res, err := f.engine.Confirm(context.Background(), "o1", staff())
	require.NoError(t, err)

	assert.Equal(t, 2, f.store.packs["dp1"].UnitsPerPack)
	require.Len(t, f.store.logs, 1)
	assert.Equal(t, model.ActionConfirmed, f.store.logs[0].Action)
	assert.Equal(t, -3, f.store.logs[0].QuantityChanged)
	assert.Nil(t, f.store.logs[0].BatchID)
	assert.Contains(t, f.store.logs[0].Reason, "no batches, deducted from dose pack")
	assert.Equal(t, allocation.SourceDosePack, res.Items[0].Source)
	assert.False(t, res.Items[0].Clamped)
	assert.Nil(t, f.store.items["o1"][0].BatchID)
}

func TestConfirm_DosePackClampsAtZero(t *testing.T) {
	f := newFixture()
	f.product("p1", "Marek HVT")
	f.dosePack("dp1", "p1", 1000, 2)
	f.order("o1", item("i1", "p1", "dp1", 5))

	res, err := f.engine.Confirm(context.Background(), "o1", staff())
	require.NoError(t, err)

	assert.Equal(t, 0, f.store.packs["dp1"].UnitsPerPack)
	assert.Equal(t, -5, sumLogs(f.store.logs))
	assert.True(t, res.Items[0].Clamped)
}

func TestConfirm_MixedSourcesConserveUnits(t *testing.T) {
	f := newFixture()
	f.product("p1", "Mycoplasma")
	f.dosePack("dp1", "p1", 100, 10)
	f.batch("b1", "p1", 30, 3)
	f.order("o1", item("i1", "p1", "dp1", 5))

	res, err := f.engine.Confirm(context.Background(), "o1", staff())
	require.NoError(t, err)

	assert.Equal(t, 3, f.store.batches["b1"].QuantityReserved)
	assert.Equal(t, 8, f.store.packs["dp1"].UnitsPerPack)
	// 3 packs from batches at 10 units each, 2 units from the dose pack.
	assert.Equal(t, -(3*10)-2, sumLogs(f.store.logs))
	assert.Equal(t, allocation.SourceMixed, res.Items[0].Source)
	assert.Contains(t, f.store.logs[1].Reason, "batch shortfall")
}

func TestConfirm_NoStockAtAllFails(t *testing.T) {
	f := newFixture()
	f.product("p1", "Coryza")
	f.order("o1", item("i1", "p1", "", 1))

	_, err := f.engine.Confirm(context.Background(), "o1", staff())

	var stockErr *apperr.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, "p1", stockErr.ProductID)
	assert.Equal(t, "Coryza", stockErr.ProductName)
	assert.Equal(t, 1, stockErr.Requested)
	assert.Equal(t, 1, stockErr.Shortfall)
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)

	assert.Equal(t, model.OrderStatusRequested, f.store.orders["o1"].Status)
	assert.Empty(t, f.store.logs)
	assert.Empty(t, f.store.history)
}

func TestConfirm_ShortItemWithoutDosePackIsLeftUncovered(t *testing.T) {
	f := newFixture()
	f.product("p1", "Coryza")
	f.dosePack("dp1", "p1", 100, 50)
	f.batch("b1", "p1", 30, 2)
	f.order("o1", item("i1", "p1", "", 5))

	res, err := f.engine.Confirm(context.Background(), "o1", staff())
	require.NoError(t, err)

	assert.Equal(t, 2, f.store.batches["b1"].QuantityReserved)
	assert.Equal(t, 50, f.store.packs["dp1"].UnitsPerPack)
	require.Len(t, f.store.logs, 1)
	assert.Equal(t, model.ActionReserved, f.store.logs[0].Action)
	assert.Equal(t, allocation.SourceBatches, res.Items[0].Source)
	assert.Equal(t, 3, res.Items[0].Uncovered)
	assert.Equal(t, model.OrderStatusConfirmed, f.store.orders["o1"].Status)
}

func TestConfirm_NoBatchesAndNoItemDosePackSucceeds(t *testing.T) {
	f := newFixture()
	f.product("p1", "Coryza")
	f.dosePack("dp1", "p1", 100, 50)
	f.order("o1", item("i1", "p1", "", 3))

	res, err := f.engine.Confirm(context.Background(), "o1", staff())
	require.NoError(t, err)

	assert.Empty(t, f.store.logs)
	assert.Equal(t, 50, f.store.packs["dp1"].UnitsPerPack)
	assert.Equal(t, allocation.SourceSkipped, res.Items[0].Source)
	assert.Equal(t, 3, res.Items[0].Uncovered)
	assert.Equal(t, model.OrderStatusConfirmed, f.store.orders["o1"].Status)
	require.Len(t, f.store.history, 1)
}

func TestConfirm_UnitsPerPackIsReadBeforeDeduction(t *testing.T) {
	f := newFixture()
	f.product("p1", "Marek HVT")
	f.product("p2", "Marek HVT diluent kit")
	f.dosePack("dp1", "p1", 1000, 5)
	f.batch("b2", "p2", 30, 10)
	f.order("o1",
		item("i1", "p1", "dp1", 3),
		item("i2", "p2", "dp1", 2),
	)

	_, err := f.engine.Confirm(context.Background(), "o1", staff())
	require.NoError(t, err)

	assert.Equal(t, 2, f.store.packs["dp1"].UnitsPerPack)
	require.Len(t, f.store.logs, 2)
	assert.Equal(t, -3, f.store.logs[0].QuantityChanged)
	// 2 packs at the 5 units the pack held when locked.
	assert.Equal(t, -10, f.store.logs[1].QuantityChanged)
}

func TestConfirm_FailureRollsBackEarlierItems(t *testing.T) {
	f := newFixture()
	f.product("p1", "Newcastle")
	f.product("p2", "Bronchitis")
	f.batch("b1", "p1", 30, 10)
	f.order("o1",
		item("i1", "p1", "", 4),
		item("i2", "p2", "", 1),
	)

	_, err := f.engine.Confirm(context.Background(), "o1", staff())
	require.Error(t, err)

	assert.Equal(t, 0, f.store.batches["b1"].QuantityReserved)
	assert.Empty(t, f.store.logs)
	assert.Nil(t, f.store.items["o1"][0].BatchID)
	assert.Equal(t, model.OrderStatusRequested, f.store.orders["o1"].Status)
}

func TestConfirm_AlreadyConfirmedIsNoOp(t *testing.T) {
	f := newFixture()
	f.product("p1", "Newcastle")
	f.batch("b1", "p1", 30, 10)
	f.order("o1", item("i1", "p1", "", 4))

	_, err := f.engine.Confirm(context.Background(), "o1", staff())
	require.NoError(t, err)

	res, err := f.engine.Confirm(context.Background(), "o1", staff())
	require.NoError(t, err)

	assert.True(t, res.AlreadyConfirmed)
	assert.Equal(t, 4, f.store.batches["b1"].QuantityReserved)
	assert.Len(t, f.store.logs, 1)
	assert.Len(t, f.store.history, 1)
}

func TestConfirm_RecomputeFailureIsSwallowed(t *testing.T) {
	f := newFixture()
	f.product("p1", "Newcastle")
	f.batch("b1", "p1", 30, 10)
	f.order("o1", item("i1", "p1", "", 4))
	f.store.recomputeErr = errors.New("stock summary unavailable")

	_, err := f.engine.Confirm(context.Background(), "o1", staff())
	require.NoError(t, err)

	assert.Equal(t, model.OrderStatusConfirmed, f.store.orders["o1"].Status)
	assert.Equal(t, 4, f.store.batches["b1"].QuantityReserved)
}

func TestConfirm_SkipsItemsWithoutProduct(t *testing.T) {
	f := newFixture()
	f.product("p1", "Newcastle")
	f.batch("b1", "p1", 30, 10)
	f.order("o1",
		item("i1", "", "", 3),
		item("i2", "gone", "", 3),
		item("i3", "p1", "", 2),
	)

	res, err := f.engine.Confirm(context.Background(), "o1", nil)
	require.NoError(t, err)

	require.Len(t, res.Items, 3)
	assert.Equal(t, allocation.SourceSkipped, res.Items[0].Source)
	assert.Equal(t, allocation.SourceSkipped, res.Items[1].Source)
	assert.Equal(t, allocation.SourceBatches, res.Items[2].Source)
	assert.Nil(t, f.store.history[0].ChangedBy)
}

func TestConfirm_LocksProductsInSortedOrder(t *testing.T) {
	f := newFixture()
	f.product("p2", "Bronchitis")
	f.product("p1", "Newcastle")
	f.batch("b1", "p1", 30, 10)
	f.batch("b2", "p2", 30, 10)
	f.order("o1",
		item("i1", "p2", "", 1),
		item("i2", "p1", "", 1),
	)

	_, err := f.engine.Confirm(context.Background(), "o1", staff())
	require.NoError(t, err)

	assert.Equal(t, []string{"p1", "p2"}, f.store.lockedOrder)
}

func TestConfirm_UnknownOrder(t *testing.T) {
	f := newFixture()

	_, err := f.engine.Confirm(context.Background(), "missing", staff())

	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestConfirm_ReservationInvariantHolds(t *testing.T) {
	f := newFixture()
	f.product("p1", "Newcastle")
	f.dosePack("dp1", "p1", 100, 100)
	f.batch("b1", "p1", 10, 3)
	f.batch("b2", "p1", 20, 7)
	f.batch("b3", "p1", 40, 1)
	f.order("o1",
		item("i1", "p1", "dp1", 6),
		item("i2", "p1", "dp1", 6),
	)

	_, err := f.engine.Confirm(context.Background(), "o1", staff())
	require.NoError(t, err)

	for _, b := range f.store.batches {
		assert.GreaterOrEqual(t, b.QuantityReserved, 0)
		assert.LessOrEqual(t, b.QuantityReserved, b.Quantity)
		assert.Equal(t, b.Quantity, b.QuantityReserved, "batch %s should be exhausted", b.ID)
	}
	// 11 packs from batches, 1 pack deducted from the dose pack counter.
	assert.Equal(t, 99, f.store.packs["dp1"].UnitsPerPack)
}
