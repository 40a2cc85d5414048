package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusRequested  OrderStatus = "requested"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusPrepared   OrderStatus = "prepared"
	OrderStatusDispatched OrderStatus = "dispatched"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusRequested, OrderStatusConfirmed, OrderStatusPrepared,
		OrderStatusDispatched, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

type Order struct {
	BaseModel
	UserID        string          `db:"user_id" json:"user_id"`
	OrderNumber   string          `db:"order_number" json:"order_number"`
	Status        OrderStatus     `db:"status" json:"status"`
	TotalAmount   decimal.Decimal `db:"total_amount" json:"total_amount"`
	Notes         *string         `db:"notes" json:"notes"`
	InternalNotes *string         `db:"internal_notes" json:"internal_notes,omitempty"`

	Items         []OrderItem          `db:"-" json:"items"`
	StatusHistory []OrderStatusHistory `db:"-" json:"status_history"`
}

// OrderItem keeps a snapshot of product name, doses and price taken at order time.
// Product, dose pack and batch references become nil when those rows are deleted.
type OrderItem struct {
	ID                    string          `db:"id" json:"id"`
	OrderID               string          `db:"order_id" json:"order_id"`
	ProductID             *string         `db:"product_id" json:"product_id"`
	DosePackID            *string         `db:"dose_pack_id" json:"dose_pack_id"`
	BatchID               *string         `db:"batch_id" json:"batch_id"`
	ProductName           string          `db:"product_name" json:"product_name"`
	Doses                 int             `db:"doses" json:"doses"`
	Quantity              int             `db:"quantity" json:"quantity"`
	UnitPrice             decimal.Decimal `db:"unit_price" json:"unit_price"`
	RequestedDeliveryDate time.Time       `db:"requested_delivery_date" json:"requested_delivery_date"`
	SpecialInstructions   *string         `db:"special_instructions" json:"special_instructions"`
	Position              int             `db:"position" json:"-"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// OrderStatusHistory records one transition. A nil ChangedBy means the system made it.
type OrderStatusHistory struct {
	ID        string      `db:"id" json:"id"`
	OrderID   string      `db:"order_id" json:"order_id"`
	Status    OrderStatus `db:"status" json:"status"`
	ChangedBy *string     `db:"changed_by" json:"changed_by"`
	ChangedAt time.Time   `db:"changed_at" json:"changed_at"`
}
