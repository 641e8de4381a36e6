package models

import (
	"time"

	"github.com/google/uuid"
)

// Refund is an immutable ledger row recording money returned against an
// order. Rows are append-only; no update or delete path exists. Timestamps
// are audit metadata with no business meaning.
type Refund struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID     uuid.UUID `gorm:"column:order_id;type:uuid;not null"`
	AmountCents int       `gorm:"column:amount_cents;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
