package dto

import (
	"time"

	"github.com/fekuna/vetvax-order-service/internal/auth"
	"github.com/fekuna/vetvax-order-service/internal/model"
	"github.com/shopspring/decimal"
)

const DeliveryDateLayout = "2006-01-02"

type CreateItemInput struct {
	Product               string           `json:"product"`
	DosePack              *string          `json:"dose_pack"`
	Quantity              *int             `json:"quantity"`
	UnitPrice             *decimal.Decimal `json:"unit_price"`
	RequestedDeliveryDate string           `json:"requested_delivery_date"`
	SpecialInstructions   *string          `json:"special_instructions"`
}

type CreateOrderInput struct {
	User  auth.UserContext  `json:"-"`
	Notes *string           `json:"notes"`
	Items []CreateItemInput `json:"items"`
}

type SetStatusInput struct {
	OrderID string            `json:"-"`
	Status  model.OrderStatus `json:"status"`
	User    auth.UserContext  `json:"-"`
}

type AddNoteInput struct {
	OrderID string           `json:"-"`
	Note    string           `json:"note"`
	User    auth.UserContext `json:"-"`
}

type OrderFilters struct {
	UserID   string
	Status   model.OrderStatus
	Page     int
	PageSize int
}

const EventOrderStatusChanged = "OrderStatusChanged"

// StatusChangedEvent is published after a status transition commits.
type StatusChangedEvent struct {
	EventID     string            `json:"event_id"`
	EventType   string            `json:"event_type"`
	OrderID     string            `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	Status      model.OrderStatus `json:"status"`
	ChangedBy   *string           `json:"changed_by"`
	Timestamp   time.Time         `json:"timestamp"`
}
