package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/bakeline/storesync-backend/pkg/enums"
)

// OutboxDLQ captures outbox events the drain loop gave up on, for auditing and
// manual remediation. It lives in the central database; the originating outbox
// row stays in the store database untouched apart from its status columns.
type OutboxDLQ struct {
	ID           uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	StoreID      string               `gorm:"column:store_id;not null"`
	OutboxID     int64                `gorm:"column:outbox_id;not null"`
	Topic        enums.Topic          `gorm:"column:topic;not null"`
	Payload      json.RawMessage      `gorm:"column:payload;type:jsonb;not null"`
	ErrorReason  enums.DLQErrorReason `gorm:"column:error_reason;not null"`
	ErrorMessage *string              `gorm:"column:error_message"`
	AttemptCount int                  `gorm:"column:attempt_count;not null;default:0"`
	FailedAt     time.Time            `gorm:"column:failed_at"`
	CreatedAt    time.Time            `gorm:"column:created_at;autoCreateTime"`
}

func (OutboxDLQ) TableName() string { return "outbox_dlq" }
