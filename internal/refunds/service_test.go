package refunds

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Kasvit/orders-manager/internal/orders"
	"github.com/Kasvit/orders-manager/pkg/db/models"
	"github.com/Kasvit/orders-manager/pkg/enums"
	pkgerrors "github.com/Kasvit/orders-manager/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ledgerStore is a tiny in-memory stand-in for the two tables, shared by the
// fake repositories so the service sees consistent reads inside one attempt.
type ledgerStore struct {
	order   *models.Order
	refunds []models.Refund
}

func (s *ledgerStore) sumFor(orderID uuid.UUID) int {
	total := 0
	for _, r := range s.refunds {
		if r.OrderID == orderID {
			total += r.AmountCents
		}
	}
	return total
}

// storeTx emulates transaction scope over the store: any error from fn
// restores the pre-attempt snapshot, refund inserts included. afterRollback
// replays writes that belong to a rival transaction, which a rollback of
// this attempt must not undo.
type storeTx struct {
	store         *ledgerStore
	afterRollback func()
}

func (t *storeTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var orderSnap *models.Order
	if t.store.order != nil {
		snap := *t.store.order
		orderSnap = &snap
	}
	refundsSnap := append([]models.Refund(nil), t.store.refunds...)

	if err := fn(nil); err != nil {
		t.store.order = orderSnap
		t.store.refunds = refundsSnap
		if t.afterRollback != nil {
			t.afterRollback()
			t.afterRollback = nil
		}
		return err
	}
	return nil
}

type fakeOrdersRepo struct {
	store *ledgerStore
	// beforeStatusUpdate runs just before the conditional write, letting
	// tests interleave a rival refund between balance read and commit.
	beforeStatusUpdate func()
	findErr            error
}

func (f *fakeOrdersRepo) WithTx(tx *gorm.DB) orders.Repository { return f }

func (f *fakeOrdersRepo) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	f.store.order = order
	return order, nil
}

func (f *fakeOrdersRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	if f.store.order == nil || f.store.order.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	snap := *f.store.order
	return &snap, nil
}

func (f *fakeOrdersRepo) SumRefundedCents(ctx context.Context, orderID uuid.UUID) (int, error) {
	return f.store.sumFor(orderID), nil
}

func (f *fakeOrdersRepo) ListRefunds(ctx context.Context, orderID uuid.UUID) ([]models.Refund, error) {
	return append([]models.Refund(nil), f.store.refunds...), nil
}

func (f *fakeOrdersRepo) UpdateStatusIfVersion(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus, expectedVersion int64) (bool, error) {
	if f.beforeStatusUpdate != nil {
		f.beforeStatusUpdate()
	}
	if f.store.order == nil || f.store.order.ID != orderID || f.store.order.Version != expectedVersion {
		return false, nil
	}
	f.store.order.Status = status
	f.store.order.Version++
	return true, nil
}

type fakeRefundsRepo struct {
	store     *ledgerStore
	createErr error
}

func (f *fakeRefundsRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRefundsRepo) Create(ctx context.Context, refund *models.Refund) error {
	if f.createErr != nil {
		return f.createErr
	}
	if refund.ID == uuid.Nil {
		refund.ID = uuid.New()
	}
	f.store.refunds = append(f.store.refunds, *refund)
	return nil
}

func (f *fakeRefundsRepo) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.Refund, error) {
	return append([]models.Refund(nil), f.store.refunds...), nil
}

type testHarness struct {
	svc     Service
	store   *ledgerStore
	repo    *fakeRefundsRepo
	orders  *fakeOrdersRepo
	tx      *storeTx
	orderID uuid.UUID
}

func newTestHarness(t *testing.T, total int) *testHarness {
	t.Helper()

	id := uuid.New()
	store := &ledgerStore{
		order: &models.Order{ID: id, Status: enums.OrderStatusPaid, TotalCents: total, Version: 1},
	}
	refundsRepo := &fakeRefundsRepo{store: store}
	ordersRepo := &fakeOrdersRepo{store: store}
	tx := &storeTx{store: store}
	svc, err := NewService(ServiceParams{
		Repo:   refundsRepo,
		Orders: ordersRepo,
		Tx:     tx,
	})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	return &testHarness{svc: svc, store: store, repo: refundsRepo, orders: ordersRepo, tx: tx, orderID: id}
}

func amount(v int) *int { return &v }

func TestRequestRefund_PartialFlipsStatus(t *testing.T) {
	h := newTestHarness(t, 16000)

	refund, err := h.svc.RequestRefund(context.Background(), RequestRefundInput{OrderID: h.orderID, AmountCents: amount(400)})
	if err != nil {
		t.Fatalf("RequestRefund error: %v", err)
	}
	if refund.AmountCents != 400 {
		t.Fatalf("unexpected refund amount %d", refund.AmountCents)
	}
	if h.store.order.Status != enums.OrderStatusRefunded {
		t.Fatalf("a partial refund must mark the order refunded, got %s", h.store.order.Status)
	}
	if len(h.store.refunds) != 1 {
		t.Fatalf("expected 1 refund row, got %d", len(h.store.refunds))
	}
}

func TestRequestRefund_DefaultsToFullBalance(t *testing.T) {
	h := newTestHarness(t, 16000)

	refund, err := h.svc.RequestRefund(context.Background(), RequestRefundInput{OrderID: h.orderID})
	if err != nil {
		t.Fatalf("RequestRefund error: %v", err)
	}
	if refund.AmountCents != 16000 {
		t.Fatalf("default refund should cover the full balance, got %d", refund.AmountCents)
	}
	if got := h.store.sumFor(h.orderID); got != 16000 {
		t.Fatalf("expected refunded total 16000, got %d", got)
	}
}

func TestRequestRefund_SequentialPartials(t *testing.T) {
	h := newTestHarness(t, 16000)

	for _, cents := range []int{4000, 3000} {
		if _, err := h.svc.RequestRefund(context.Background(), RequestRefundInput{OrderID: h.orderID, AmountCents: amount(cents)}); err != nil {
			t.Fatalf("RequestRefund(%d) error: %v", cents, err)
		}
	}

	if got := h.store.sumFor(h.orderID); got != 7000 {
		t.Fatalf("expected refunded total 7000, got %d", got)
	}
	if h.store.order.Status != enums.OrderStatusRefunded {
		t.Fatalf("expected status refunded, got %s", h.store.order.Status)
	}

	// Status stays refunded after further refunds; there is no way back.
	if _, err := h.svc.RequestRefund(context.Background(), RequestRefundInput{OrderID: h.orderID, AmountCents: amount(9000)}); err != nil {
		t.Fatalf("final refund error: %v", err)
	}
	if h.store.order.Status != enums.OrderStatusRefunded {
		t.Fatalf("status must remain refunded, got %s", h.store.order.Status)
	}
	if got := h.store.sumFor(h.orderID); got != 16000 {
		t.Fatalf("expected full total refunded, got %d", got)
	}
}

func TestRequestRefund_OverRefundRejected(t *testing.T) {
	h := newTestHarness(t, 16000)

	_, err := h.svc.RequestRefund(context.Background(), RequestRefundInput{OrderID: h.orderID, AmountCents: amount(17000)})
	if !pkgerrors.HasCode(err, pkgerrors.CodeOverRefund) {
		t.Fatalf("expected over-refund error, got %v", err)
	}

	if len(h.store.refunds) != 0 {
		t.Fatalf("rejected refund must not persist, found %d rows", len(h.store.refunds))
	}
	if h.store.order.Status != enums.OrderStatusPaid {
		t.Fatalf("rejected refund must leave order paid, got %s", h.store.order.Status)
	}

	typed := pkgerrors.As(err)
	details, ok := typed.Details().(map[string]any)
	if !ok {
		t.Fatalf("expected diagnostic details, got %T", typed.Details())
	}
	if details["requested_cents"] != 17000 || details["available_cents"] != 16000 {
		t.Fatalf("unexpected diagnostics: %v", details)
	}
}

func TestRequestRefund_OverRefundAfterPartial(t *testing.T) {
	h := newTestHarness(t, 16000)

	if _, err := h.svc.RequestRefund(context.Background(), RequestRefundInput{OrderID: h.orderID, AmountCents: amount(4000)}); err != nil {
		t.Fatalf("partial refund error: %v", err)
	}

	_, err := h.svc.RequestRefund(context.Background(), RequestRefundInput{OrderID: h.orderID, AmountCents: amount(14000)})
	if !pkgerrors.HasCode(err, pkgerrors.CodeOverRefund) {
		t.Fatalf("expected over-refund with only 12000 left, got %v", err)
	}
}

func TestRequestRefund_MissingOrderReference(t *testing.T) {
	h := newTestHarness(t, 16000)

	_, err := h.svc.RequestRefund(context.Background(), RequestRefundInput{AmountCents: amount(1000)})
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(h.store.refunds) != 0 {
		t.Fatalf("nothing may be persisted without an order reference")
	}
}

func TestRequestRefund_UnknownOrder(t *testing.T) {
	h := newTestHarness(t, 16000)

	_, err := h.svc.RequestRefund(context.Background(), RequestRefundInput{OrderID: uuid.New(), AmountCents: amount(1000)})
	if !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestRequestRefund_RivalCommitWinsRace(t *testing.T) {
	h := newTestHarness(t, 16000)

	// First attempt: the balance read sees 16000, then a rival refund of
	// 9000 commits before the conditional status write. The attempt must
	// roll back (insert included) while the rival's commit survives, so the
	// retry sees only 7000 available and fails the over-refund check.
	rivalCommit := func() {
		h.store.refunds = append(h.store.refunds, models.Refund{
			ID:          uuid.New(),
			OrderID:     h.orderID,
			AmountCents: 9000,
		})
		h.store.order.Status = enums.OrderStatusRefunded
		h.store.order.Version++
	}
	interleaved := false
	h.orders.beforeStatusUpdate = func() {
		if interleaved {
			return
		}
		interleaved = true
		rivalCommit()
		h.tx.afterRollback = rivalCommit
	}

	_, err := h.svc.RequestRefund(context.Background(), RequestRefundInput{OrderID: h.orderID, AmountCents: amount(9000)})
	if !pkgerrors.HasCode(err, pkgerrors.CodeOverRefund) {
		t.Fatalf("loser of the race must fail with over-refund, got %v", err)
	}

	if got := h.store.sumFor(h.orderID); got != 9000 {
		t.Fatalf("only the rival refund may remain, refunded total %d", got)
	}
	if h.store.order.TotalCents != 16000 {
		t.Fatalf("order total must never change, got %d", h.store.order.TotalCents)
	}
	if h.store.order.Status != enums.OrderStatusRefunded {
		t.Fatalf("rival's status flip must survive, got %s", h.store.order.Status)
	}
}

func TestRequestRefund_RetryAfterTransientConflict(t *testing.T) {
	h := newTestHarness(t, 16000)

	// The first conditional write loses to a version bump; the retry reads
	// the fresh order and succeeds.
	bumped := false
	h.orders.beforeStatusUpdate = func() {
		if bumped {
			return
		}
		bumped = true
		h.store.order.Version++
	}

	refund, err := h.svc.RequestRefund(context.Background(), RequestRefundInput{OrderID: h.orderID, AmountCents: amount(400)})
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if refund.AmountCents != 400 {
		t.Fatalf("unexpected refund amount %d", refund.AmountCents)
	}
	if len(h.store.refunds) != 1 {
		t.Fatalf("expected exactly one persisted refund, got %d", len(h.store.refunds))
	}
}

func TestRequestRefund_ConflictRetriesExhausted(t *testing.T) {
	h := newTestHarness(t, 16000)

	h.orders.beforeStatusUpdate = func() {
		h.store.order.Version++
	}

	_, err := h.svc.RequestRefund(context.Background(), RequestRefundInput{OrderID: h.orderID, AmountCents: amount(400)})
	if !pkgerrors.HasCode(err, pkgerrors.CodeConcurrencyConflict) {
		t.Fatalf("expected concurrency conflict after exhausted retries, got %v", err)
	}
	if len(h.store.refunds) != 0 {
		t.Fatalf("no refund may survive a failed admission, got %d rows", len(h.store.refunds))
	}
}

func TestRequestRefund_DuplicateInsertRejected(t *testing.T) {
	h := newTestHarness(t, 16000)
	h.repo.createErr = errors.New(`ERROR: duplicate key value violates unique constraint "refunds_pkey" (SQLSTATE 23505)`)

	_, err := h.svc.RequestRefund(context.Background(), RequestRefundInput{OrderID: h.orderID, AmountCents: amount(400)})
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for duplicate refund row, got %v", err)
	}
	if len(h.store.refunds) != 0 {
		t.Fatalf("duplicate insert must not persist, got %d rows", len(h.store.refunds))
	}
}

func TestRequestRefund_WrappedNotFoundFromRepo(t *testing.T) {
	h := newTestHarness(t, 16000)
	h.orders.findErr = fmt.Errorf("loading order: %w", gorm.ErrRecordNotFound)

	_, err := h.svc.RequestRefund(context.Background(), RequestRefundInput{OrderID: h.orderID, AmountCents: amount(400)})
	if !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found for wrapped record-not-found, got %v", err)
	}
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	store := &ledgerStore{}
	if _, err := NewService(ServiceParams{Orders: &fakeOrdersRepo{store: store}, Tx: &storeTx{store: store}}); err == nil {
		t.Fatal("expected error without refunds repository")
	}
	if _, err := NewService(ServiceParams{Repo: &fakeRefundsRepo{store: store}, Tx: &storeTx{store: store}}); err == nil {
		t.Fatal("expected error without orders repository")
	}
	if _, err := NewService(ServiceParams{Repo: &fakeRefundsRepo{store: store}, Orders: &fakeOrdersRepo{store: store}}); err == nil {
		t.Fatal("expected error without transaction runner")
	}
}
