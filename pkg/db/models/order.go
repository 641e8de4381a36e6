package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Kasvit/orders-manager/pkg/enums"
)

// Order represents a completed charge of a fixed total. TotalCents is
// immutable after creation; refunded/available amounts are derived from the
// refunds table, never stored here. Version stamps every refund admission so
// concurrent attempts against the same order are detected.
type Order struct {
	ID         uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	Status     enums.OrderStatus `gorm:"column:status;type:text;not null;default:'paid'"`
	TotalCents int               `gorm:"column:total_cents;not null"`
	Version    int64             `gorm:"column:version;not null;default:1"`
	Refunds    []Refund          `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt  time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
