package model

import "time"

type InventoryAction string

const (
	ActionReceived  InventoryAction = "received"
	ActionReserved  InventoryAction = "reserved"
	ActionShipped   InventoryAction = "shipped"
	ActionReturned  InventoryAction = "returned"
	ActionExpired   InventoryAction = "expired"
	ActionAdjusted  InventoryAction = "adjusted"
	ActionConfirmed InventoryAction = "confirmed"
)

func (a InventoryAction) Valid() bool {
	switch a {
	case ActionReceived, ActionReserved, ActionShipped, ActionReturned,
		ActionExpired, ActionAdjusted, ActionConfirmed:
		return true
	}
	return false
}

// InventoryLog is an append-only ledger row. Negative QuantityChanged means consumption.
type InventoryLog struct {
	ID              string          `db:"id" json:"id"`
	ProductID       string          `db:"product_id" json:"product_id"`
	BatchID         *string         `db:"batch_id" json:"batch_id"`
	Action          InventoryAction `db:"action" json:"action"`
	QuantityChanged int             `db:"quantity_changed" json:"quantity_changed"`
	Reason          string          `db:"reason" json:"reason"`
	RelatedOrderID  *string         `db:"related_order_id" json:"related_order_id"`
	PerformedBy     *string         `db:"performed_by" json:"performed_by"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}
