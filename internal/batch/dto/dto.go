package dto

import (
	"github.com/fekuna/vetvax-order-service/internal/auth"
	"github.com/fekuna/vetvax-order-service/internal/model"
)

type BatchView struct {
	model.Batch
	AvailableQuantity int `json:"available_quantity"`
}

func NewBatchView(b model.Batch) BatchView {
	return BatchView{Batch: b, AvailableQuantity: b.AvailableQuantity()}
}

func NewBatchViews(batches []model.Batch) []BatchView {
	views := make([]BatchView, 0, len(batches))
	for _, b := range batches {
		views = append(views, NewBatchView(b))
	}
	return views
}

// StockUpdate sets the on-hand quantity of one batch. Nil fields keep their current value.
type StockUpdate struct {
	BatchID         string  `json:"batch_id"`
	Quantity        *int    `json:"quantity"`
	StorageLocation *string `json:"storage_location"`
	Reason          string  `json:"reason"`
}

type BulkAdjustInput struct {
	User    auth.UserContext `json:"-"`
	Updates []StockUpdate    `json:"updates"`
}

type SkippedUpdate struct {
	BatchID string `json:"batch_id"`
	Reason  string `json:"reason"`
}

type BulkAdjustSummary struct {
	Requested int             `json:"requested"`
	Updated   int             `json:"updated"`
	Skipped   []SkippedUpdate `json:"skipped"`
}
