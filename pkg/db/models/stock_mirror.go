package models

import "time"

// StockMirrorRow is the central, read-optimized copy of one store-local stock
// level. It is never the source of truth; only the mirror pull loop (or the
// manual resync running the same algorithm) may write it.
type StockMirrorRow struct {
	StoreID   string    `gorm:"column:store_id;primaryKey"`
	SKU       string    `gorm:"column:sku;primaryKey"`
	Qty       int       `gorm:"column:qty;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (StockMirrorRow) TableName() string { return "store_stock_mirror" }
