package service

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/repository"
)

// stubTx выполняет функцию без реальной транзакции.
type stubTx struct{}

func (stubTx) WithinTransaction(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return fn(nil)
}

// fakeDealRepo — репозиторий сделок в памяти с проверкой активной пары.
type fakeDealRepo struct {
	deals map[uuid.UUID]*models.Deal
}

func newFakeDealRepo() *fakeDealRepo {
	return &fakeDealRepo{deals: make(map[uuid.UUID]*models.Deal)}
}

func (r *fakeDealRepo) Create(ctx context.Context, tx *sqlx.Tx, deal *models.Deal) error {
	for _, d := range r.deals {
		if d.ClientID == deal.ClientID && d.WorkerID == deal.WorkerID && d.IsActive() {
			return &repository.ActiveDealConflictError{ExistingDealID: d.ID}
		}
	}
	deal.ID = uuid.New()
	stored := *deal
	r.deals[deal.ID] = &stored
	return nil
}

func (r *fakeDealRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	d, ok := r.deals[id]
	if !ok {
		return nil, repository.ErrDealNotFound
	}
	copied := *d
	return &copied, nil
}

func (r *fakeDealRepo) GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*models.Deal, error) {
	return r.GetByID(ctx, id)
}

func (r *fakeDealRepo) Update(ctx context.Context, tx *sqlx.Tx, deal *models.Deal) error {
	stored := *deal
	r.deals[deal.ID] = &stored
	return nil
}

func (r *fakeDealRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Deal, error) {
	var out []models.Deal
	for _, d := range r.deals {
		if d.ClientID == userID || d.WorkerID == userID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *fakeDealRepo) ListByChatRoom(ctx context.Context, chatRoomID, userID uuid.UUID) ([]models.Deal, error) {
	var out []models.Deal
	for _, d := range r.deals {
		if d.ChatRoomID == chatRoomID && d.IsParticipant(userID) {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *fakeDealRepo) ListPendingDisputes(ctx context.Context) ([]models.Deal, error) {
	var out []models.Deal
	for _, d := range r.deals {
		if d.Status == models.DealStatusDispute && d.DisputeWorkerDefense != "" && d.DisputeWinner == "" {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *fakeDealRepo) CreateDeliveryAttachment(ctx context.Context, tx *sqlx.Tx, a *models.DeliveryAttachment) error {
	a.ID = uuid.New()
	return nil
}

func (r *fakeDealRepo) ListDeliveryAttachments(ctx context.Context, dealID uuid.UUID) ([]models.DeliveryAttachment, error) {
	return nil, nil
}

// fakeLedgerRepo — леджер в памяти с единственным переходом held -> финал.
type fakeLedgerRepo struct {
	transactions []*models.Transaction
}

func (r *fakeLedgerRepo) CreateHeld(ctx context.Context, tx *sqlx.Tx, t *models.Transaction) error {
	t.ID = uuid.New()
	stored := *t
	r.transactions = append(r.transactions, &stored)
	return nil
}

func (r *fakeLedgerRepo) GetHeldByDeal(ctx context.Context, tx *sqlx.Tx, dealID uuid.UUID) (*models.Transaction, error) {
	for _, t := range r.transactions {
		if t.DealID == dealID && t.Status == models.TransactionStatusHeld {
			copied := *t
			return &copied, nil
		}
	}
	return nil, repository.ErrHeldTransactionNotFound
}

func (r *fakeLedgerRepo) Finalize(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status string) error {
	for _, t := range r.transactions {
		if t.ID == id && t.Status == models.TransactionStatusHeld {
			t.Status = status
			return nil
		}
	}
	return repository.ErrHeldTransactionNotFound
}

func (r *fakeLedgerRepo) ListByDeal(ctx context.Context, dealID uuid.UUID) ([]models.Transaction, error) {
	var out []models.Transaction
	for _, t := range r.transactions {
		if t.DealID == dealID {
			out = append(out, *t)
		}
	}
	return out, nil
}

type fakeReviewRepo struct {
	reviews []*models.Review
}

func (r *fakeReviewRepo) Create(ctx context.Context, tx *sqlx.Tx, review *models.Review) error {
	review.ID = uuid.New()
	stored := *review
	r.reviews = append(r.reviews, &stored)
	return nil
}

type fakeOutbox struct {
	messages []*models.OutboxMessage
}

func (o *fakeOutbox) Enqueue(ctx context.Context, tx *sqlx.Tx, msg *models.OutboxMessage) error {
	msg.ID = uuid.New()
	stored := *msg
	o.messages = append(o.messages, &stored)
	return nil
}

type dealFixture struct {
	svc      *DealService
	disputes *DisputeService
	deals    *fakeDealRepo
	ledger   *fakeLedgerRepo
	reviews  *fakeReviewRepo
	outbox   *fakeOutbox

	client uuid.UUID
	worker uuid.UUID
	room   uuid.UUID
}

func newDealFixture(t *testing.T) *dealFixture {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	f := &dealFixture{
		deals:   newFakeDealRepo(),
		ledger:  &fakeLedgerRepo{},
		reviews: &fakeReviewRepo{},
		outbox:  &fakeOutbox{},
		client:  uuid.New(),
		worker:  uuid.New(),
		room:    uuid.New(),
	}
	f.svc = NewDealService(
		stubTx{}, f.deals, f.ledger, f.reviews, f.outbox,
		decimal.RequireFromString("0.08"), 2,
		logrus.NewEntry(log),
	)
	f.disputes = NewDisputeService(f.svc, logrus.NewEntry(log))
	return f
}

func (f *dealFixture) createDeal(t *testing.T, price string) *models.Deal {
	t.Helper()
	deal, err := f.svc.CreateDeal(context.Background(), CreateDealInput{
		ChatRoomID:  f.room,
		ClientID:    f.client,
		WorkerID:    f.worker,
		ActorID:     f.client,
		Title:       "Логотип для кофейни",
		Description: "Три варианта, вектор",
		Price:       decimal.RequireFromString(price),
	})
	require.NoError(t, err)
	return deal
}

func (f *dealFixture) payDeal(t *testing.T, dealID uuid.UUID) *models.Deal {
	t.Helper()
	deal, err := f.svc.Pay(context.Background(), dealID, f.client)
	require.NoError(t, err)
	return deal
}

func (f *dealFixture) deliverDeal(t *testing.T, dealID uuid.UUID) *models.Deal {
	t.Helper()
	deal, err := f.svc.Deliver(context.Background(), DeliverInput{
		DealID:  dealID,
		ActorID: f.worker,
		Message: "Готово, файлы во вложении",
	})
	require.NoError(t, err)
	return deal
}

func TestDealService_HappyPath(t *testing.T) {
	f := newDealFixture(t)
	ctx := context.Background()

	deal := f.createDeal(t, "1000")
	assert.Equal(t, models.DealStatusPending, deal.Status)
	assert.Equal(t, 2, deal.MaxRevisions)

	deal = f.payDeal(t, deal.ID)
	assert.Equal(t, models.DealStatusPaid, deal.Status)
	require.NotNil(t, deal.PaidAt)

	// Холд = цена + 8% комиссии.
	require.Len(t, f.ledger.transactions, 1)
	held := f.ledger.transactions[0]
	assert.Equal(t, models.TransactionStatusHeld, held.Status)
	assert.True(t, held.Amount.Equal(decimal.RequireFromString("1080")), "amount = %s", held.Amount)
	assert.True(t, held.Commission.Equal(decimal.RequireFromString("80")), "commission = %s", held.Commission)

	deal = f.deliverDeal(t, deal.ID)
	assert.Equal(t, models.DealStatusDelivered, deal.Status)

	comment := "Отличная работа"
	deal, err := f.svc.Complete(ctx, CompleteInput{
		DealID:  deal.ID,
		ActorID: f.client,
		Message: "Спасибо!",
		Rating:  5,
		Comment: &comment,
	})
	require.NoError(t, err)
	assert.Equal(t, models.DealStatusCompleted, deal.Status)

	// Средства захвачены, сумма не изменилась.
	assert.Equal(t, models.TransactionStatusCaptured, f.ledger.transactions[0].Status)
	assert.True(t, f.ledger.transactions[0].Amount.Equal(decimal.RequireFromString("1080")))

	// Отзыв создан в той же транзакции.
	require.Len(t, f.reviews.reviews, 1)
	assert.Equal(t, f.worker, f.reviews.reviews[0].RevieweeID)
	assert.Equal(t, 5, f.reviews.reviews[0].Rating)

	// Каждый переход оставил карточку в outbox.
	assert.Len(t, f.outbox.messages, 4)
	assert.Equal(t, "deal_completed", f.outbox.messages[3].MessageType)
}

func TestDealService_CreateDeal_ActiveDealExists(t *testing.T) {
	f := newDealFixture(t)
	ctx := context.Background()

	first := f.createDeal(t, "1000")

	_, err := f.svc.CreateDeal(ctx, CreateDealInput{
		ChatRoomID: f.room,
		ClientID:   f.client,
		WorkerID:   f.worker,
		ActorID:    f.client,
		Title:      "Ещё одна сделка",
		Price:      decimal.RequireFromString("500"),
	})
	require.Error(t, err)
	assert.True(t, apperror.IsActiveDealExists(err))

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, first.ID, appErr.DealID)
}

func TestDealService_CreateDeal_ReversedPairAllowed(t *testing.T) {
	f := newDealFixture(t)
	ctx := context.Background()

	f.createDeal(t, "1000")

	// Пара упорядоченная: обратное направление ролей — другой слот.
	reversed, err := f.svc.CreateDeal(ctx, CreateDealInput{
		ChatRoomID: f.room,
		ClientID:   f.worker,
		WorkerID:   f.client,
		ActorID:    f.worker,
		Title:      "Встречная сделка",
		Price:      decimal.RequireFromString("300"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.DealStatusPending, reversed.Status)
}

func TestDealService_CreateDeal_Validation(t *testing.T) {
	f := newDealFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateDeal(ctx, CreateDealInput{
		ChatRoomID: f.room,
		ClientID:   f.client,
		WorkerID:   f.worker,
		ActorID:    f.client,
		Title:      "",
		Price:      decimal.RequireFromString("100"),
	})
	assert.Error(t, err)

	_, err = f.svc.CreateDeal(ctx, CreateDealInput{
		ChatRoomID: f.room,
		ClientID:   f.client,
		WorkerID:   f.client,
		ActorID:    f.client,
		Title:      "Сам с собой",
		Price:      decimal.RequireFromString("100"),
	})
	assert.Error(t, err)

	_, err = f.svc.CreateDeal(ctx, CreateDealInput{
		ChatRoomID: f.room,
		ClientID:   f.client,
		WorkerID:   f.worker,
		ActorID:    f.client,
		Title:      "Бесплатно",
		Price:      decimal.Zero,
	})
	assert.Error(t, err)
}

func TestDealService_Pay_OnlyClient(t *testing.T) {
	f := newDealFixture(t)
	ctx := context.Background()

	deal := f.createDeal(t, "1000")

	_, err := f.svc.Pay(ctx, deal.ID, f.worker)
	require.Error(t, err)
	assert.True(t, apperror.IsBusinessRule(err))
	assert.Empty(t, f.ledger.transactions)
}

func TestDealService_Pay_Twice(t *testing.T) {
	f := newDealFixture(t)
	ctx := context.Background()

	deal := f.createDeal(t, "1000")
	f.payDeal(t, deal.ID)

	_, err := f.svc.Pay(ctx, deal.ID, f.client)
	require.Error(t, err)
	assert.True(t, apperror.IsInvalidTransition(err))
	// Повторная оплата не создала вторую запись в леджере.
	assert.Len(t, f.ledger.transactions, 1)
}

func TestDealService_NotParticipant(t *testing.T) {
	f := newDealFixture(t)
	ctx := context.Background()

	deal := f.createDeal(t, "1000")
	stranger := uuid.New()

	_, err := f.svc.Pay(ctx, deal.ID, stranger)
	require.Error(t, err)
	assert.True(t, apperror.IsNotParticipant(err))

	_, err = f.svc.GetDeal(ctx, deal.ID, stranger)
	require.Error(t, err)
	assert.True(t, apperror.IsNotParticipant(err))
}

func TestDealService_UpdatePrice_OnlyPending(t *testing.T) {
	f := newDealFixture(t)
	ctx := context.Background()

	deal := f.createDeal(t, "1000")

	updated, err := f.svc.UpdatePrice(ctx, deal.ID, f.worker, decimal.RequireFromString("1500"))
	require.NoError(t, err)
	assert.True(t, updated.Price.Equal(decimal.RequireFromString("1500")))

	f.payDeal(t, deal.ID)

	_, err = f.svc.UpdatePrice(ctx, deal.ID, f.worker, decimal.RequireFromString("2000"))
	require.Error(t, err)
	assert.True(t, apperror.IsInvalidTransition(err))

	// Захолдировано по цене на момент оплаты.
	assert.True(t, f.ledger.transactions[0].Amount.Equal(decimal.RequireFromString("1620")))
}

func TestDealService_UpdatePrice_OnlyWorker(t *testing.T) {
	f := newDealFixture(t)
	ctx := context.Background()

	deal := f.createDeal(t, "1000")

	// Цену назначает исполнитель, заказчик только оплачивает.
	_, err := f.svc.UpdatePrice(ctx, deal.ID, f.client, decimal.RequireFromString("1"))
	require.Error(t, err)
	assert.True(t, apperror.IsBusinessRule(err))

	current, err := f.svc.GetDeal(ctx, deal.ID, f.client)
	require.NoError(t, err)
	assert.True(t, current.Price.Equal(decimal.RequireFromString("1000")))
}

func TestDealService_RevisionQuota(t *testing.T) {
	f := newDealFixture(t)
	ctx := context.Background()

	deal := f.createDeal(t, "1000")
	f.payDeal(t, deal.ID)
	f.deliverDeal(t, deal.ID)

	// Первая и вторая доработки проходят.
	for i := 1; i <= 2; i++ {
		deal, err := f.svc.RequestRevision(ctx, deal.ID, f.client, "поправьте шрифт")
		require.NoError(t, err)
		assert.Equal(t, models.DealStatusPaid, deal.Status)
		assert.Equal(t, i, deal.RevisionCount)

		// Причина доработки уходит исполнителю в тексте карточки.
		last := f.outbox.messages[len(f.outbox.messages)-1]
		assert.Equal(t, "deal_revision", last.MessageType)
		assert.Contains(t, last.Text, "поправьте шрифт")

		f.deliverDeal(t, deal.ID)
	}

	// Третья упирается в квоту.
	_, err := f.svc.RequestRevision(ctx, deal.ID, f.client, "поправьте шрифт")
	require.Error(t, err)
	assert.True(t, apperror.IsBusinessRule(err))

	// Принять работу всё ещё можно.
	completed, err := f.svc.Complete(ctx, CompleteInput{DealID: deal.ID, ActorID: f.client, Rating: 4})
	require.NoError(t, err)
	assert.Equal(t, models.DealStatusCompleted, completed.Status)
}

func TestDealService_Revision_OnlyClient(t *testing.T) {
	f := newDealFixture(t)
	ctx := context.Background()

	deal := f.createDeal(t, "1000")
	f.payDeal(t, deal.ID)
	f.deliverDeal(t, deal.ID)

	_, err := f.svc.RequestRevision(ctx, deal.ID, f.worker, "")
	require.Error(t, err)
	assert.True(t, apperror.IsBusinessRule(err))
}

func TestDealService_Cancel_PendingWithoutLedger(t *testing.T) {
	f := newDealFixture(t)
	ctx := context.Background()

	deal := f.createDeal(t, "1000")

	cancelled, err := f.svc.Cancel(ctx, deal.ID, f.worker, "передумал")
	require.NoError(t, err)
	assert.Equal(t, models.DealStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledBy)
	assert.Equal(t, f.worker, *cancelled.CancelledBy)
	assert.Empty(t, f.ledger.transactions)
}

func TestDealService_Cancel_PaidRefunds(t *testing.T) {
	f := newDealFixture(t)
	ctx := context.Background()

	deal := f.createDeal(t, "1000")
	f.payDeal(t, deal.ID)

	cancelled, err := f.svc.Cancel(ctx, deal.ID, f.client, "сроки сорваны")
	require.NoError(t, err)
	assert.Equal(t, models.DealStatusCancelled, cancelled.Status)

	// Возврат ровно той суммы, что была захолдирована.
	require.Len(t, f.ledger.transactions, 1)
	assert.Equal(t, models.TransactionStatusRefunded, f.ledger.transactions[0].Status)
	assert.True(t, f.ledger.transactions[0].Amount.Equal(decimal.RequireFromString("1080")))
}

func TestDealService_Cancel_AfterDeliveryForbidden(t *testing.T) {
	f := newDealFixture(t)
	ctx := context.Background()

	deal := f.createDeal(t, "1000")
	f.payDeal(t, deal.ID)
	f.deliverDeal(t, deal.ID)

	_, err := f.svc.Cancel(ctx, deal.ID, f.client, "")
	require.Error(t, err)
	assert.True(t, apperror.IsInvalidTransition(err))
	assert.Equal(t, models.TransactionStatusHeld, f.ledger.transactions[0].Status)
}

func TestDealService_Complete_MissingHeldIsInvariant(t *testing.T) {
	f := newDealFixture(t)
	ctx := context.Background()

	deal := f.createDeal(t, "1000")
	f.payDeal(t, deal.ID)
	f.deliverDeal(t, deal.ID)

	// Имитируем расхождение: запись леджера исчезла.
	f.ledger.transactions = nil

	_, err := f.svc.Complete(ctx, CompleteInput{DealID: deal.ID, ActorID: f.client, Rating: 5})
	require.Error(t, err)
	assert.True(t, apperror.IsInvariant(err))
}

func TestDealService_Complete_RatingRequired(t *testing.T) {
	f := newDealFixture(t)
	ctx := context.Background()

	deal := f.createDeal(t, "1000")
	f.payDeal(t, deal.ID)
	f.deliverDeal(t, deal.ID)

	// Приёмка без оценки невозможна: отзыв создаётся ровно один раз
	// и именно при завершении сделки.
	for _, rating := range []int{0, 6} {
		_, err := f.svc.Complete(ctx, CompleteInput{DealID: deal.ID, ActorID: f.client, Rating: rating})
		require.Error(t, err)

		var appErr *apperror.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, apperror.ErrCodeValidation, appErr.Code)
	}
	assert.Empty(t, f.reviews.reviews)

	completed, err := f.svc.Complete(ctx, CompleteInput{DealID: deal.ID, ActorID: f.client, Rating: 5})
	require.NoError(t, err)
	assert.Equal(t, models.DealStatusCompleted, completed.Status)
	require.Len(t, f.reviews.reviews, 1)
	assert.Equal(t, 5, f.reviews.reviews[0].Rating)
}

func TestDealService_DealNotFound(t *testing.T) {
	f := newDealFixture(t)
	ctx := context.Background()

	_, err := f.svc.Pay(ctx, uuid.New(), f.client)
	require.Error(t, err)
	assert.True(t, apperror.IsNotFound(err))
}
