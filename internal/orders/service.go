package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/Kasvit/orders-manager/pkg/db/models"
	"github.com/Kasvit/orders-manager/pkg/enums"
	pkgerrors "github.com/Kasvit/orders-manager/pkg/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var validate = validator.New()

// Service exposes the order-side read path of the refund ledger. It is the
// single source of truth for an order's refundable balance; every answer is
// recomputed from the refund rows on each call.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*OrderDetail, error)
	RefundedAmount(ctx context.Context, id uuid.UUID) (int, error)
	AvailableAmount(ctx context.Context, id uuid.UUID) (int, error)
	CanRefund(ctx context.Context, id uuid.UUID, amountCents *int) (bool, error)
}

type service struct {
	repo Repository
}

// NewService builds an orders service with the required dependencies.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if err := validate.Struct(input); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "total must be a positive amount of cents")
	}

	status := enums.OrderStatusPaid
	if input.Status != nil {
		if !input.Status.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid order status %q", *input.Status))
		}
		status = *input.Status
	}

	order := &models.Order{
		Status:     status,
		TotalCents: input.TotalCents,
		Version:    1,
	}

	created, err := s.repo.Create(ctx, order)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}
	return created, nil
}

func (s *service) GetOrder(ctx context.Context, id uuid.UUID) (*OrderDetail, error) {
	order, refunded, err := s.loadWithBalance(ctx, id)
	if err != nil {
		return nil, err
	}

	refunds, err := s.repo.ListRefunds(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list refunds")
	}

	return &OrderDetail{
		ID:             order.ID,
		Status:         order.Status,
		TotalCents:     order.TotalCents,
		RefundedCents:  refunded,
		AvailableCents: order.TotalCents - refunded,
		Refunds:        refunds,
		CreatedAt:      order.CreatedAt,
		UpdatedAt:      order.UpdatedAt,
	}, nil
}

func (s *service) RefundedAmount(ctx context.Context, id uuid.UUID) (int, error) {
	_, refunded, err := s.loadWithBalance(ctx, id)
	if err != nil {
		return 0, err
	}
	return refunded, nil
}

func (s *service) AvailableAmount(ctx context.Context, id uuid.UUID) (int, error) {
	order, refunded, err := s.loadWithBalance(ctx, id)
	if err != nil {
		return 0, err
	}
	return order.TotalCents - refunded, nil
}

// CanRefund answers whether a refund of amountCents is admissible right now.
// A nil amount means "refund everything remaining": when nothing remains,
// such a request is not satisfiable even though 0 <= 0 would pass the plain
// comparison.
func (s *service) CanRefund(ctx context.Context, id uuid.UUID, amountCents *int) (bool, error) {
	order, refunded, err := s.loadWithBalance(ctx, id)
	if err != nil {
		return false, err
	}

	available := order.TotalCents - refunded
	amount := available
	if amountCents != nil {
		amount = *amountCents
	}

	if amount == 0 && available == 0 {
		return false, nil
	}
	return available >= amount, nil
}

func (s *service) loadWithBalance(ctx context.Context, id uuid.UUID) (*models.Order, int, error) {
	if id == uuid.Nil {
		return nil, 0, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	refunded, err := s.repo.SumRefundedCents(ctx, id)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum refunds")
	}
	return order, refunded, nil
}
