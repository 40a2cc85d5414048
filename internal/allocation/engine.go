// Package allocation reserves physical stock for an order when it is confirmed.
//
// Items are served from the product's batches in FIFO-by-expiry order. When the
// batches run short, the remainder is deducted from the item's dose pack counter.
// Everything happens in one database transaction guarded by row locks on the
// order, the product batches and the dose packs involved.
package allocation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fekuna/vetvax-order-service/internal/apperr"
	"github.com/fekuna/vetvax-order-service/internal/model"
	"github.com/fekuna/vetvax-order-service/pkg/database/postgres"
	"github.com/fekuna/vetvax-order-service/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type OrderStore interface {
	FindByIDForUpdate(ctx context.Context, id string) (*model.Order, error)
	ListItems(ctx context.Context, orderID string) ([]model.OrderItem, error)
	SetItemBatch(ctx context.Context, itemID, batchID string) error
	UpdateStatus(ctx context.Context, orderID string, status model.OrderStatus) error
	AppendStatusHistory(ctx context.Context, h *model.OrderStatusHistory) error
}

type BatchStore interface {
	ListByProductForUpdate(ctx context.Context, productID string) ([]model.Batch, error)
	Update(ctx context.Context, b *model.Batch) error
}

type ProductStore interface {
	FindByID(ctx context.Context, id string) (*model.Product, error)
	CountDosePacks(ctx context.Context, productID string) (int, error)
	FindDosePackForUpdate(ctx context.Context, id string) (*model.DosePack, error)
	UpdateDosePackUnits(ctx context.Context, dp *model.DosePack) error
}

type Ledger interface {
	Append(ctx context.Context, l *model.InventoryLog) error
}

type StockAggregator interface {
	RecomputeAvailableStock(ctx context.Context, productID string) (int, error)
}

// Source tells where an item's stock came from.
type Source string

const (
	SourceSkipped  Source = "skipped"
	SourceBatches  Source = "batches"
	SourceDosePack Source = "dose_pack"
	SourceMixed    Source = "mixed"
)

type Reservation struct {
	BatchID     string `json:"batch_id"`
	BatchNumber string `json:"batch_number"`
	Packs       int    `json:"packs"`
	Units       int    `json:"units"`
}

type ItemAllocation struct {
	ItemID       string        `json:"item_id"`
	ProductID    string        `json:"product_id"`
	Requested    int           `json:"requested"`
	Source       Source        `json:"source"`
	Reservations []Reservation `json:"reservations"`
	DosePackID   string        `json:"dose_pack_id,omitempty"`
	// DosePackUnits is what was asked of the dose pack. Clamped is set when the
	// pack held less and was floored at zero.
	DosePackUnits int  `json:"dose_pack_units,omitempty"`
	Clamped       bool `json:"clamped,omitempty"`
	// Uncovered counts packs left unallocated because the item names no dose
	// pack to fall back on.
	Uncovered int `json:"uncovered,omitempty"`
}

type Result struct {
	OrderID          string           `json:"order_id"`
	OrderNumber      string           `json:"order_number"`
	AlreadyConfirmed bool             `json:"already_confirmed"`
	Items            []ItemAllocation `json:"items"`
	// ProductIDs lists every product whose stock changed, sorted.
	ProductIDs []string `json:"product_ids"`
}

const stockSavepoint = "stock_summary"

type Engine struct {
	orders   OrderStore
	batches  BatchStore
	products ProductStore
	ledger   Ledger
	stock    StockAggregator
	tx       postgres.Transactor
	logger   logger.ZapLogger
	now      func() time.Time
}

func NewEngine(orders OrderStore, batches BatchStore, products ProductStore, ledger Ledger, stock StockAggregator, tx postgres.Transactor, log logger.ZapLogger) *Engine {
	return &Engine{
		orders:   orders,
		batches:  batches,
		products: products,
		ledger:   ledger,
		stock:    stock,
		tx:       tx,
		logger:   log,
		now:      time.Now,
	}
}

// lockSet holds the rows locked for one confirmation.
type lockSet struct {
	products  map[string]*model.Product
	batches   map[string][]*model.Batch
	dosePacks map[string]*model.DosePack
	// packUnits snapshots units_per_pack as locked, before any deduction.
	packUnits map[string]int
}

// Confirm allocates stock for every item and moves the order to confirmed.
// A failure leaves the order and all stock untouched. Confirming an order that
// is already confirmed does nothing.
func (e *Engine) Confirm(ctx context.Context, orderID string, actorID *string) (*Result, error) {
	var result *Result
	err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		o, err := e.orders.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if o == nil {
			return apperr.NotFound("order", orderID)
		}

		result = &Result{OrderID: o.ID, OrderNumber: o.OrderNumber, Items: []ItemAllocation{}, ProductIDs: []string{}}
		if o.Status == model.OrderStatusConfirmed {
			result.AlreadyConfirmed = true
			return nil
		}

		items, err := e.orders.ListItems(ctx, o.ID)
		if err != nil {
			return fmt.Errorf("list order items: %w", err)
		}

		locks, err := e.lock(ctx, items)
		if err != nil {
			return err
		}

		touched := map[string]struct{}{}
		for _, item := range items {
			alloc, err := e.allocateItem(ctx, o, item, locks, actorID)
			if err != nil {
				return err
			}
			result.Items = append(result.Items, alloc)
			if alloc.Source == SourceSkipped {
				continue
			}
			touched[alloc.ProductID] = struct{}{}
			e.refreshStock(ctx, alloc.ProductID)
		}
		result.ProductIDs = sortedKeys(touched)

		if err := e.orders.UpdateStatus(ctx, o.ID, model.OrderStatusConfirmed); err != nil {
			return err
		}
		return e.orders.AppendStatusHistory(ctx, &model.OrderStatusHistory{
			ID:        uuid.New().String(),
			OrderID:   o.ID,
			Status:    model.OrderStatusConfirmed,
			ChangedBy: actorID,
			ChangedAt: e.now(),
		})
	})
	if err != nil {
		return nil, err
	}

	if !result.AlreadyConfirmed {
		e.logger.Info("order confirmed",
			zap.String("order_id", result.OrderID),
			zap.String("order_number", result.OrderNumber),
			zap.Strings("product_ids", result.ProductIDs),
		)
	}
	return result, nil
}

// lock takes row locks on batches then dose packs, each visited in sorted id
// order so concurrent confirmations acquire them in the same sequence.
func (e *Engine) lock(ctx context.Context, items []model.OrderItem) (*lockSet, error) {
	productIDs := map[string]struct{}{}
	packIDs := map[string]struct{}{}
	for _, item := range items {
		if item.ProductID != nil {
			productIDs[*item.ProductID] = struct{}{}
		}
		if item.DosePackID != nil {
			packIDs[*item.DosePackID] = struct{}{}
		}
	}

	locks := &lockSet{
		products:  map[string]*model.Product{},
		batches:   map[string][]*model.Batch{},
		dosePacks: map[string]*model.DosePack{},
		packUnits: map[string]int{},
	}

	for _, id := range sortedKeys(productIDs) {
		p, err := e.products.FindByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("find product %s: %w", id, err)
		}
		if p == nil {
			continue
		}
		locks.products[id] = p

		rows, err := e.batches.ListByProductForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		batches := make([]*model.Batch, len(rows))
		for i := range rows {
			batches[i] = &rows[i]
		}
		locks.batches[id] = batches
	}

	for _, id := range sortedKeys(packIDs) {
		dp, err := e.products.FindDosePackForUpdate(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("lock dose pack %s: %w", id, err)
		}
		if dp != nil {
			locks.dosePacks[id] = dp
			locks.packUnits[id] = dp.UnitsPerPack
		}
	}
	return locks, nil
}

func (e *Engine) allocateItem(ctx context.Context, o *model.Order, item model.OrderItem, locks *lockSet, actorID *string) (ItemAllocation, error) {
	alloc := ItemAllocation{
		ItemID:       item.ID,
		Requested:    item.Quantity,
		Source:       SourceSkipped,
		Reservations: []Reservation{},
	}
	if item.ProductID == nil {
		return alloc, nil
	}
	p := locks.products[*item.ProductID]
	if p == nil {
		return alloc, nil
	}
	alloc.ProductID = p.ID

	var dp *model.DosePack
	if item.DosePackID != nil {
		dp = locks.dosePacks[*item.DosePackID]
	}
	unitsPerPack := 1
	if dp != nil && locks.packUnits[dp.ID] > 0 {
		unitsPerPack = locks.packUnits[dp.ID]
	}

	remaining := item.Quantity
	if remaining <= 0 {
		return alloc, nil
	}

	var last *model.Batch
	for _, b := range locks.batches[p.ID] {
		if remaining == 0 {
			break
		}
		available := b.AvailableQuantity()
		if available <= 0 {
			continue
		}
		take := min(available, remaining)
		if err := b.Reserve(take); err != nil {
			return alloc, err
		}
		if err := e.batches.Update(ctx, b); err != nil {
			return alloc, err
		}

		units := take * unitsPerPack
		batchID := b.ID
		if err := e.ledger.Append(ctx, &model.InventoryLog{
			ID:              uuid.New().String(),
			ProductID:       p.ID,
			BatchID:         &batchID,
			Action:          model.ActionReserved,
			QuantityChanged: -units,
			Reason:          fmt.Sprintf("Confirmed order %s", o.OrderNumber),
			RelatedOrderID:  &o.ID,
			PerformedBy:     actorID,
			CreatedAt:       e.now(),
		}); err != nil {
			return alloc, err
		}

		alloc.Reservations = append(alloc.Reservations, Reservation{
			BatchID:     b.ID,
			BatchNumber: b.BatchNumber,
			Packs:       take,
			Units:       units,
		})
		remaining -= take
		last = b
	}

	if last != nil {
		if err := e.orders.SetItemBatch(ctx, item.ID, last.ID); err != nil {
			return alloc, err
		}
		alloc.Source = SourceBatches
	}

	if remaining == 0 {
		return alloc, nil
	}

	packCount, err := e.products.CountDosePacks(ctx, p.ID)
	if err != nil {
		return alloc, fmt.Errorf("count dose packs of product %s: %w", p.ID, err)
	}
	if packCount == 0 {
		return alloc, &apperr.InsufficientStockError{
			ProductID:   p.ID,
			ProductName: p.Name,
			Requested:   item.Quantity,
			Shortfall:   remaining,
		}
	}
	if dp == nil {
		alloc.Uncovered = remaining
		e.logger.Warn("item has no dose pack to cover shortfall",
			zap.String("order_id", o.ID),
			zap.String("product_id", p.ID),
			zap.String("item_id", item.ID),
			zap.Int("uncovered", remaining),
		)
		return alloc, nil
	}

	removed := dp.Deduct(remaining)
	if err := e.products.UpdateDosePackUnits(ctx, dp); err != nil {
		return alloc, err
	}

	reason := fmt.Sprintf("Confirmed order %s (no batches, deducted from dose pack)", o.OrderNumber)
	if last != nil {
		reason = fmt.Sprintf("Confirmed order %s (batch shortfall, deducted from dose pack)", o.OrderNumber)
	}
	if err := e.ledger.Append(ctx, &model.InventoryLog{
		ID:              uuid.New().String(),
		ProductID:       p.ID,
		Action:          model.ActionConfirmed,
		QuantityChanged: -remaining,
		Reason:          reason,
		RelatedOrderID:  &o.ID,
		PerformedBy:     actorID,
		CreatedAt:       e.now(),
	}); err != nil {
		return alloc, err
	}

	alloc.DosePackID = dp.ID
	alloc.DosePackUnits = remaining
	alloc.Clamped = removed < remaining
	if alloc.Source == SourceBatches {
		alloc.Source = SourceMixed
	} else {
		alloc.Source = SourceDosePack
	}

	if alloc.Clamped {
		e.logger.Warn("dose pack stock clamped at zero",
			zap.String("order_id", o.ID),
			zap.String("product_id", p.ID),
			zap.String("dose_pack_id", dp.ID),
			zap.Int("requested", remaining),
			zap.Int("deducted", removed),
		)
	}
	return alloc, nil
}

// refreshStock recomputes the product's cached stock counter. It runs in a
// savepoint and never fails the confirmation.
func (e *Engine) refreshStock(ctx context.Context, productID string) {
	err := e.tx.WithinSavepoint(ctx, stockSavepoint, func(ctx context.Context) error {
		_, err := e.stock.RecomputeAvailableStock(ctx, productID)
		return err
	})
	if err != nil {
		e.logger.Warn("failed to recompute available stock", zap.String("product_id", productID), zap.Error(err))
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
