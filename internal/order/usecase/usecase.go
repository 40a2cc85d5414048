package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fekuna/vetvax-order-service/internal/allocation"
	"github.com/fekuna/vetvax-order-service/internal/apperr"
	"github.com/fekuna/vetvax-order-service/internal/auth"
	"github.com/fekuna/vetvax-order-service/internal/model"
	"github.com/fekuna/vetvax-order-service/internal/order"
	"github.com/fekuna/vetvax-order-service/internal/order/dto"
	"github.com/fekuna/vetvax-order-service/pkg/database/postgres"
	"github.com/fekuna/vetvax-order-service/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxPageSize = 100

type ProductReader interface {
	FindByID(ctx context.Context, id string) (*model.Product, error)
	FindDosePackByID(ctx context.Context, id string) (*model.DosePack, error)
}

type Confirmer interface {
	Confirm(ctx context.Context, orderID string, actorID *string) (*allocation.Result, error)
}

type CacheInvalidator interface {
	InvalidateProducts(ctx context.Context, productIDs ...string)
}

// EventPublisher is satisfied by *broker.KafkaProducer.
type EventPublisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

type orderUseCase struct {
	repo     order.Repository
	products ProductReader
	engine   Confirmer
	cache    CacheInvalidator
	events   EventPublisher
	tx       postgres.Transactor
	logger   logger.ZapLogger
	now      func() time.Time
}

// NewOrderUseCase wires the order workflow. events may be nil, which disables publishing.
func NewOrderUseCase(repo order.Repository, products ProductReader, engine Confirmer, cache CacheInvalidator, events EventPublisher, tx postgres.Transactor, log logger.ZapLogger) order.UseCase {
	return &orderUseCase{
		repo:     repo,
		products: products,
		engine:   engine,
		cache:    cache,
		events:   events,
		tx:       tx,
		logger:   log,
		now:      time.Now,
	}
}

// Money columns are NUMERIC(10,2) for unit prices and NUMERIC(12,2) for
// totals; values outside them would be rounded or rejected by Postgres.
const moneyPlaces = 2

var (
	maxUnitPrice   = decimal.New(1, 8)
	maxTotalAmount = decimal.New(1, 10)
)

// newOrderNumber returns "ORD" followed by 12 upper-case hex characters.
func newOrderNumber() string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "ORD" + strings.ToUpper(hex[:12])
}

func (uc *orderUseCase) CreateOrder(ctx context.Context, input *dto.CreateOrderInput) (*model.Order, error) {
	if len(input.Items) == 0 {
		return nil, apperr.Validation("items", "Order must contain at least one item.")
	}

	now := uc.now()
	o := &model.Order{
		BaseModel: model.BaseModel{
			ID:        uuid.New().String(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		UserID:      input.User.UserID,
		OrderNumber: newOrderNumber(),
		Status:      model.OrderStatusRequested,
		TotalAmount: decimal.Zero,
		Notes:       input.Notes,
	}

	items := make([]model.OrderItem, 0, len(input.Items))
	for i, in := range input.Items {
		item, err := uc.buildItem(ctx, o.ID, i, in)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		o.TotalAmount = o.TotalAmount.Add(item.LineTotal())
	}
	if o.TotalAmount.GreaterThanOrEqual(maxTotalAmount) {
		return nil, apperr.Validation("items", "Order total exceeds the maximum amount.")
	}
	o.Items = items

	initial := model.OrderStatusHistory{
		ID:        uuid.New().String(),
		OrderID:   o.ID,
		Status:    model.OrderStatusRequested,
		ChangedAt: now,
	}

	err := uc.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := uc.repo.Create(ctx, o); err != nil {
			return err
		}
		if err := uc.repo.CreateItems(ctx, items); err != nil {
			return err
		}
		return uc.repo.AppendStatusHistory(ctx, &initial)
	})
	if err != nil {
		return nil, err
	}
	o.StatusHistory = []model.OrderStatusHistory{initial}

	uc.logger.Info("order created",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.OrderNumber),
		zap.String("user_id", o.UserID),
		zap.String("total_amount", o.TotalAmount.StringFixed(2)),
	)
	return o, nil
}

// buildItem validates one requested line and snapshots its product data.
func (uc *orderUseCase) buildItem(ctx context.Context, orderID string, idx int, in dto.CreateItemInput) (model.OrderItem, error) {
	field := func(name string) string { return fmt.Sprintf("items[%d].%s", idx, name) }

	if in.Product == "" {
		return model.OrderItem{}, apperr.Validation(field("product"), "This field is required.")
	}
	if in.Quantity == nil {
		return model.OrderItem{}, apperr.Validation(field("quantity"), "This field is required.")
	}
	if *in.Quantity <= 0 {
		return model.OrderItem{}, apperr.Validation(field("quantity"), "Quantity must be greater than zero.")
	}
	if in.UnitPrice == nil {
		return model.OrderItem{}, apperr.Validation(field("unit_price"), "This field is required.")
	}
	if in.UnitPrice.IsNegative() {
		return model.OrderItem{}, apperr.Validation(field("unit_price"), "Unit price must be non-negative.")
	}
	if !in.UnitPrice.Equal(in.UnitPrice.Truncate(moneyPlaces)) {
		return model.OrderItem{}, apperr.Validation(field("unit_price"), "Ensure that there are no more than 2 decimal places.")
	}
	if in.UnitPrice.GreaterThanOrEqual(maxUnitPrice) {
		return model.OrderItem{}, apperr.Validation(field("unit_price"), "Ensure that there are no more than 8 digits before the decimal point.")
	}
	if in.RequestedDeliveryDate == "" {
		return model.OrderItem{}, apperr.Validation(field("requested_delivery_date"), "This field is required.")
	}
	deliveryDate, err := time.Parse(dto.DeliveryDateLayout, in.RequestedDeliveryDate)
	if err != nil {
		return model.OrderItem{}, apperr.Validation(field("requested_delivery_date"), "Date has wrong format. Use YYYY-MM-DD.")
	}

	p, err := uc.products.FindByID(ctx, in.Product)
	if err != nil {
		return model.OrderItem{}, fmt.Errorf("find product %s: %w", in.Product, err)
	}
	if p == nil {
		return model.OrderItem{}, apperr.Validation(field("product"), "Invalid product id.")
	}

	item := model.OrderItem{
		ID:                    uuid.New().String(),
		OrderID:               orderID,
		ProductID:             &p.ID,
		ProductName:           p.Name,
		Quantity:              *in.Quantity,
		UnitPrice:             *in.UnitPrice,
		RequestedDeliveryDate: deliveryDate,
		SpecialInstructions:   in.SpecialInstructions,
		Position:              idx,
	}

	if in.DosePack != nil && *in.DosePack != "" {
		dp, err := uc.products.FindDosePackByID(ctx, *in.DosePack)
		if err != nil {
			return model.OrderItem{}, fmt.Errorf("find dose pack %s: %w", *in.DosePack, err)
		}
		if dp == nil || dp.ProductID != p.ID {
			return model.OrderItem{}, apperr.Validation(field("dose_pack"), "Invalid dose_pack id.")
		}
		item.DosePackID = &dp.ID
		item.Doses = dp.Doses
	}
	return item, nil
}

func (uc *orderUseCase) SetOrderStatus(ctx context.Context, input *dto.SetStatusInput) error {
	if !input.User.IsStaff() {
		return apperr.Forbidden("change order status")
	}
	if !input.Status.Valid() {
		return fmt.Errorf("status %q: %w", input.Status, apperr.ErrInvalidStatus)
	}

	var (
		orderNumber string
		productIDs  []string
	)

	if input.Status == model.OrderStatusConfirmed {
		res, err := uc.engine.Confirm(ctx, input.OrderID, input.User.ActorID())
		if err != nil {
			uc.logger.Warn("order confirmation failed", zap.String("order_id", input.OrderID), zap.Error(err))
			return err
		}
		if res.AlreadyConfirmed {
			return nil
		}
		orderNumber = res.OrderNumber
		productIDs = res.ProductIDs
	} else {
		err := uc.tx.WithinTx(ctx, func(ctx context.Context) error {
			o, err := uc.repo.FindByIDForUpdate(ctx, input.OrderID)
			if err != nil {
				return fmt.Errorf("lock order: %w", err)
			}
			if o == nil {
				return apperr.NotFound("order", input.OrderID)
			}
			orderNumber = o.OrderNumber

			if err := uc.repo.UpdateStatus(ctx, o.ID, input.Status); err != nil {
				return err
			}
			return uc.repo.AppendStatusHistory(ctx, &model.OrderStatusHistory{
				ID:        uuid.New().String(),
				OrderID:   o.ID,
				Status:    input.Status,
				ChangedBy: input.User.ActorID(),
				ChangedAt: uc.now(),
			})
		})
		if err != nil {
			return err
		}
	}

	uc.logger.Info("order status changed",
		zap.String("order_id", input.OrderID),
		zap.String("status", string(input.Status)),
		zap.String("changed_by", input.User.UserID),
	)

	uc.cache.InvalidateProducts(ctx, productIDs...)
	uc.publishStatusChanged(ctx, input, orderNumber)
	return nil
}

func (uc *orderUseCase) publishStatusChanged(ctx context.Context, input *dto.SetStatusInput, orderNumber string) {
	if uc.events == nil {
		return
	}
	event := dto.StatusChangedEvent{
		EventID:     uuid.New().String(),
		EventType:   dto.EventOrderStatusChanged,
		OrderID:     input.OrderID,
		OrderNumber: orderNumber,
		Status:      input.Status,
		ChangedBy:   input.User.ActorID(),
		Timestamp:   uc.now(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		uc.logger.Error("failed to marshal order event", zap.String("order_id", input.OrderID), zap.Error(err))
		return
	}
	if err := uc.events.Publish(ctx, input.OrderID, payload); err != nil {
		uc.logger.Warn("failed to publish order event", zap.String("order_id", input.OrderID), zap.Error(err))
	}
}

func (uc *orderUseCase) AddInternalNote(ctx context.Context, input *dto.AddNoteInput) error {
	if !input.User.IsStaff() {
		return apperr.Forbidden("add internal notes")
	}
	note := strings.TrimSpace(input.Note)
	if note == "" {
		return apperr.Validation("note", "Note cannot be empty.")
	}

	return uc.tx.WithinTx(ctx, func(ctx context.Context) error {
		o, err := uc.repo.FindByIDForUpdate(ctx, input.OrderID)
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if o == nil {
			return apperr.NotFound("order", input.OrderID)
		}

		notes := note
		if o.InternalNotes != nil && *o.InternalNotes != "" {
			notes = *o.InternalNotes + "\n" + note
		}
		return uc.repo.UpdateInternalNotes(ctx, o.ID, notes)
	})
}

func (uc *orderUseCase) GetOrder(ctx context.Context, user auth.UserContext, id string) (*model.Order, error) {
	o, err := uc.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	// Customers get NotFound for orders they do not own.
	if o == nil || (!user.IsStaff() && o.UserID != user.UserID) {
		return nil, apperr.NotFound("order", id)
	}
	if err := uc.loadDetails(ctx, o, user); err != nil {
		return nil, err
	}
	return o, nil
}

func (uc *orderUseCase) ListOrders(ctx context.Context, user auth.UserContext, filters *dto.OrderFilters) ([]model.Order, int, error) {
	if !user.IsStaff() {
		filters.UserID = user.UserID
	}
	if filters.Status != "" && !filters.Status.Valid() {
		return nil, 0, fmt.Errorf("status %q: %w", filters.Status, apperr.ErrInvalidStatus)
	}
	if filters.Page < 1 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > maxPageSize {
		filters.PageSize = maxPageSize
	}

	orders, total, err := uc.repo.FindAll(ctx, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	for i := range orders {
		if err := uc.loadDetails(ctx, &orders[i], user); err != nil {
			return nil, 0, err
		}
	}
	return orders, total, nil
}

func (uc *orderUseCase) loadDetails(ctx context.Context, o *model.Order, user auth.UserContext) error {
	items, err := uc.repo.ListItems(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("list items of order %s: %w", o.ID, err)
	}
	history, err := uc.repo.ListStatusHistory(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("list history of order %s: %w", o.ID, err)
	}
	o.Items = items
	o.StatusHistory = history
	if !user.IsStaff() {
		o.InternalNotes = nil
	}
	return nil
}
