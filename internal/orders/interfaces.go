package orders

import (
	"context"

	"github.com/Kasvit/orders-manager/pkg/db/models"
	"github.com/Kasvit/orders-manager/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines persistence operations for orders and the refund
// aggregates the balance computation depends on. Refunded/available amounts
// are always derived from the refunds table through SumRefundedCents; no
// running balance is stored anywhere.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	SumRefundedCents(ctx context.Context, orderID uuid.UUID) (int, error)
	ListRefunds(ctx context.Context, orderID uuid.UUID) ([]models.Refund, error)
	// UpdateStatusIfVersion flips the order status only when the stored
	// version still matches expectedVersion, bumping the version on success.
	// Reports whether a row matched.
	UpdateStatusIfVersion(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus, expectedVersion int64) (bool, error)
}
