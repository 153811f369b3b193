package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/bakeline/storesync-backend/pkg/enums"
)

// Order is a row in the central order ledger. Ledger rows exist only because an
// outbox event was imported; request handlers never write them. When
// StoreOrderID is set, (StoreID, StoreOrderID) is the idempotency key guarding
// duplicate imports.
type Order struct {
	ID           uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	StoreID      string            `gorm:"column:store_id;not null;index:idx_orders_store_order,priority:1"`
	StoreOrderID *uuid.UUID        `gorm:"column:store_order_id;type:uuid;index:idx_orders_store_order,priority:2"`
	TotalCents   int64             `gorm:"column:total_cents;not null"`
	Status       enums.OrderStatus `gorm:"column:status;not null"`
	CreatedAt    time.Time         `gorm:"column:created_at;autoCreateTime"`

	Items []OrderItem `gorm:"foreignKey:OrderID"`
}

func (Order) TableName() string { return "orders" }

// OrderItem is a line of a central ledger order.
type OrderItem struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID    uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	SKU        string    `gorm:"column:sku;not null"`
	Qty        int       `gorm:"column:qty;not null"`
	PriceCents int64     `gorm:"column:price_cents;not null"`
}

func (OrderItem) TableName() string { return "order_items" }
