package dto

import "github.com/fekuna/vetvax-order-service/internal/model"

type LogFilters struct {
	ProductID string
	OrderID   string
	Action    model.InventoryAction
	Page      int
	PageSize  int
}
