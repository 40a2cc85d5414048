package dto

import (
	batchdto "github.com/fekuna/vetvax-order-service/internal/batch/dto"
	"github.com/fekuna/vetvax-order-service/internal/model"
)

// ProductView is the read projection served to clients. Totals are computed
// on read and do not depend on the cached available_stock column.
type ProductView struct {
	model.Product
	DosePacks  []model.DosePack     `json:"dose_packs"`
	Batches    []batchdto.BatchView `json:"batches"`
	TotalStock int                  `json:"total_stock"`
	TotalUnits int                  `json:"total_units"`
}

func NewProductView(p model.Product, packs []model.DosePack, batches []model.Batch) *ProductView {
	v := &ProductView{
		Product:   p,
		DosePacks: packs,
		Batches:   make([]batchdto.BatchView, 0, len(batches)),
	}
	if v.DosePacks == nil {
		v.DosePacks = []model.DosePack{}
	}
	for _, b := range batches {
		v.Batches = append(v.Batches, batchdto.NewBatchView(b))
		v.TotalStock += b.AvailableQuantity()
	}
	for _, dp := range packs {
		v.TotalUnits += max(dp.UnitsPerPack, 0)
	}
	return v
}
