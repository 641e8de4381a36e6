package refunds

import (
	"context"
	"errors"
	"fmt"

	"github.com/Kasvit/orders-manager/internal/orders"
	"github.com/Kasvit/orders-manager/pkg/db"
	"github.com/Kasvit/orders-manager/pkg/db/models"
	"github.com/Kasvit/orders-manager/pkg/enums"
	pkgerrors "github.com/Kasvit/orders-manager/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service gate-keeps and records refund transactions. A single attempt runs
// as one transaction: validate against the current balance, insert the refund
// row, flip the order status. Admission uses the order's version stamp to
// detect concurrent writers; losing attempts roll back completely and are
// replayed against the fresh balance.
type Service interface {
	RequestRefund(ctx context.Context, input RequestRefundInput) (*models.Refund, error)
}

// RequestRefundInput carries one refund request. A nil AmountCents means
// "refund everything currently available" rather than an amount of zero.
type RequestRefundInput struct {
	OrderID     uuid.UUID `json:"order_id"`
	AmountCents *int      `json:"amount_cents,omitempty"`
}

// ServiceParams groups dependencies for the refunds service.
type ServiceParams struct {
	Repo                Repository
	Orders              orders.Repository
	Tx                  txRunner
	MaxAdmissionRetries int
}

type service struct {
	repo       Repository
	orders     orders.Repository
	tx         txRunner
	maxRetries int
}

const defaultMaxAdmissionRetries = 3

// errVersionConflict aborts the surrounding transaction when the order's
// version moved between the balance read and the status update.
var errVersionConflict = errors.New("order version changed during refund admission")

// NewService builds a refunds service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("refunds repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	retries := params.MaxAdmissionRetries
	if retries <= 0 {
		retries = defaultMaxAdmissionRetries
	}
	return &service{
		repo:       params.Repo,
		orders:     params.Orders,
		tx:         params.Tx,
		maxRetries: retries,
	}, nil
}

func (s *service) RequestRefund(ctx context.Context, input RequestRefundInput) (*models.Refund, error) {
	// Checked before any balance arithmetic: a refund with no order
	// reference must never touch storage.
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		var refund *models.Refund
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			created, err := s.admit(ctx, tx, input)
			if err != nil {
				return err
			}
			refund = created
			return nil
		})
		if err == nil {
			return refund, nil
		}
		if errors.Is(err, errVersionConflict) || pkgerrors.IsSerializationFailure(err) {
			continue
		}
		return nil, err
	}

	return nil, pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "refund admission kept losing to concurrent writers").
		WithDetails(map[string]any{"order_id": input.OrderID, "attempts": s.maxRetries})
}

func (s *service) admit(ctx context.Context, tx *gorm.DB, input RequestRefundInput) (*models.Refund, error) {
	ordersRepo := s.orders.WithTx(tx)
	repo := s.repo.WithTx(tx)

	order, err := ordersRepo.FindByID(ctx, input.OrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	refunded, err := ordersRepo.SumRefundedCents(ctx, input.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum refunds")
	}
	available := order.TotalCents - refunded

	amount := available
	if input.AmountCents != nil {
		amount = *input.AmountCents
	}

	if amount > available {
		return nil, pkgerrors.New(pkgerrors.CodeOverRefund, "amount exceeds available balance").
			WithDetails(map[string]any{"requested_cents": amount, "available_cents": available})
	}

	refund := &models.Refund{
		OrderID:     order.ID,
		AmountCents: amount,
	}
	if err := repo.Create(ctx, refund); err != nil {
		if db.IsForeignKeyViolation(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "order not found")
		}
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "refund already recorded")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert refund")
	}

	// Any successful refund marks the order refunded, partial or not. The
	// conditional write doubles as the concurrency check: a version mismatch
	// means another refund committed since the balance read, so the whole
	// attempt rolls back, insert included.
	matched, err := ordersRepo.UpdateStatusIfVersion(ctx, order.ID, enums.OrderStatusRefunded, order.Version)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if !matched {
		return nil, errVersionConflict
	}

	return refund, nil
}
