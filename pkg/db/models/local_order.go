package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/bakeline/storesync-backend/pkg/enums"
)

// LocalOrder is a store-local POS order. Its id becomes store_order_id when the
// order crosses into the central ledger.
type LocalOrder struct {
	ID         uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	CustomerID uuid.UUID         `gorm:"column:customer_id;type:uuid;not null"`
	IsGuest    bool              `gorm:"column:is_guest;not null;default:true"`
	TotalCents int64             `gorm:"column:total_cents;not null"`
	Status     enums.OrderStatus `gorm:"column:status;not null"`
	CreatedAt  time.Time         `gorm:"column:created_at;autoCreateTime"`

	Items []LocalOrderItem `gorm:"foreignKey:OrderID"`
}

func (LocalOrder) TableName() string { return "local_orders" }

// LocalOrderItem is a line of a store-local order.
type LocalOrderItem struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID    uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	SKU        string    `gorm:"column:sku;not null"`
	Qty        int       `gorm:"column:qty;not null"`
	PriceCents int64     `gorm:"column:price_cents;not null"`
}

func (LocalOrderItem) TableName() string { return "local_order_items" }

// LocalStock is the store's authoritative on-hand quantity for one SKU.
type LocalStock struct {
	SKU       string    `gorm:"column:sku;primaryKey"`
	Qty       int       `gorm:"column:qty;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (LocalStock) TableName() string { return "local_stock" }
