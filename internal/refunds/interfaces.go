package refunds

import (
	"context"

	"github.com/Kasvit/orders-manager/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository manages persistence for refund rows. Rows are append-only: there
// is intentionally no update or delete surface.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, refund *models.Refund) error
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.Refund, error)
}
