package model

import (
	"errors"
	"fmt"
	"time"
)

const (
	SpeciesPoultry = "poultry"
	SpeciesSwine   = "swine"

	ProductTypeLive       = "live"
	ProductTypeKilled     = "killed"
	ProductTypeAttenuated = "attenuated"
)

type Product struct {
	BaseModel
	Name                string `db:"name" json:"name"`
	Brand               string `db:"brand" json:"brand"`
	Species             string `db:"species" json:"species"`
	ProductType         string `db:"product_type" json:"product_type"`
	Manufacturer        string `db:"manufacturer" json:"manufacturer"`
	Description         string `db:"description" json:"description"`
	ActiveIngredients   string `db:"active_ingredients" json:"active_ingredients"`
	ColdChainRequired   bool   `db:"cold_chain_required" json:"cold_chain_required"`
	StorageTempRange    string `db:"storage_temp_range" json:"storage_temp_range"`
	MinimumOrderQty     int    `db:"minimum_order_qty" json:"minimum_order_qty"`
	LeadTimeDays        int    `db:"lead_time_days" json:"lead_time_days"`
	AdministrationNotes string `db:"administration_notes" json:"administration_notes"`
	// AvailableStock is a denormalized cache of dose-pack units plus batch
	// availability. It is refreshed after confirmations and may lag behind.
	AvailableStock int `db:"available_stock" json:"available_stock"`
}

// DosePack doubles as a bulk stock counter for products without batches:
// UnitsPerPack is decremented when such orders are confirmed.
type DosePack struct {
	ID           string `db:"id" json:"id"`
	ProductID    string `db:"product_id" json:"product_id"`
	Doses        int    `db:"doses" json:"doses"`
	UnitsPerPack int    `db:"units_per_pack" json:"units_per_pack"`
}

// Deduct removes n units, clamping at zero. It returns the units actually removed.
func (d *DosePack) Deduct(n int) int {
	if n <= 0 {
		return 0
	}
	removed := min(n, d.UnitsPerPack)
	d.UnitsPerPack = max(0, d.UnitsPerPack-n)
	return removed
}

const (
	BatchStatusAvailable = "available"
	BatchStatusReserved  = "reserved"
	BatchStatusShipped   = "shipped"
	BatchStatusExpired   = "expired"
)

var ErrOverReservation = errors.New("reservation exceeds available quantity")

type Batch struct {
	BaseModel
	ProductID        string    `db:"product_id" json:"product_id"`
	BatchNumber      string    `db:"batch_number" json:"batch_number"`
	ExpiryDate       time.Time `db:"expiry_date" json:"expiry_date"`
	Quantity         int       `db:"quantity" json:"quantity"`
	QuantityReserved int       `db:"quantity_reserved" json:"quantity_reserved"`
	Status           string    `db:"status" json:"status"`
	StorageLocation  string    `db:"storage_location" json:"storage_location"`
}

func (b *Batch) AvailableQuantity() int {
	return b.Quantity - b.QuantityReserved
}

// Reserve commits n packs of this batch, keeping 0 <= reserved <= quantity.
func (b *Batch) Reserve(n int) error {
	if n <= 0 {
		return fmt.Errorf("batch %s: reserve %d: non-positive amount", b.BatchNumber, n)
	}
	if n > b.AvailableQuantity() {
		return fmt.Errorf("batch %s: reserve %d of %d: %w", b.BatchNumber, n, b.AvailableQuantity(), ErrOverReservation)
	}
	b.QuantityReserved += n
	return nil
}
