package models

import (
	"encoding/json"
	"time"

	"github.com/bakeline/storesync-backend/pkg/enums"
)

// OutboxEvent is one row of a store's append-only outbox. Rows are created in
// the same transaction as the business mutation they report and are never
// deleted; the central drain loop only flips the status columns. The integer id
// doubles as the delivery cursor.
type OutboxEvent struct {
	ID           int64           `gorm:"column:id;primaryKey;autoIncrement"`
	Topic        enums.Topic     `gorm:"column:topic;not null"`
	Payload      json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	Delivered    bool            `gorm:"column:delivered;not null;default:false"`
	AttemptCount int             `gorm:"column:attempt_count;not null;default:0"`
	LastError    *string         `gorm:"column:last_error"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (OutboxEvent) TableName() string { return "outbox" }
