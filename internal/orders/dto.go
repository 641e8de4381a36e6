package orders

import (
	"time"

	"github.com/Kasvit/orders-manager/pkg/db/models"
	"github.com/Kasvit/orders-manager/pkg/enums"
	"github.com/google/uuid"
)

// CreateOrderInput captures the data required to open an order. The total is
// fixed at creation and never changes afterwards.
type CreateOrderInput struct {
	TotalCents int                `json:"total_cents" validate:"gt=0"`
	Status     *enums.OrderStatus `json:"status,omitempty"`
}

// OrderDetail is the read model for a single order: the stored row plus the
// amounts derived from its refund history at the time of the call.
type OrderDetail struct {
	ID             uuid.UUID         `json:"id"`
	Status         enums.OrderStatus `json:"status"`
	TotalCents     int               `json:"total_cents"`
	RefundedCents  int               `json:"refunded_cents"`
	AvailableCents int               `json:"available_cents"`
	Refunds        []models.Refund   `json:"refunds"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}
