package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
)

// deliveredDeal доводит новую сделку до статуса delivered.
func deliveredDeal(t *testing.T, f *dealFixture) *models.Deal {
	t.Helper()
	deal := f.createDeal(t, "1000")
	f.payDeal(t, deal.ID)
	return f.deliverDeal(t, deal.ID)
}

func TestDisputeService_DefendThenAdminResolvesForClient(t *testing.T) {
	f := newDealFixture(t)
	ctx := context.Background()

	deal := deliveredDeal(t, f)

	disputed, err := f.disputes.OpenDispute(ctx, deal.ID, f.client, "результат не соответствует ТЗ")
	require.NoError(t, err)
	assert.Equal(t, models.DealStatusDispute, disputed.Status)
	require.NotNil(t, disputed.DisputeCreatedAt)
	// Средства остаются удержанными до исхода спора.
	assert.Equal(t, models.TransactionStatusHeld, f.ledger.transactions[0].Status)

	defended, err := f.disputes.WorkerDefend(ctx, deal.ID, f.worker, "всё сделано по ТЗ, есть переписка")
	require.NoError(t, err)
	assert.Equal(t, models.DealStatusDispute, defended.Status)
	assert.True(t, defended.Caps().IsDisputePendingAdmin)

	// Спор виден в очереди арбитража.
	pending, err := f.disputes.ListPendingDisputes(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, deal.ID, pending[0].ID)

	admin := uuid.New()
	resolved, err := f.disputes.AdminResolve(ctx, deal.ID, admin, models.DisputeWinnerClient, "возврат по решению арбитража")
	require.NoError(t, err)
	assert.Equal(t, models.DealStatusCancelled, resolved.Status)
	assert.Equal(t, models.DisputeWinnerClient, resolved.DisputeWinner)
	require.NotNil(t, resolved.CancellationReason)
	assert.Equal(t, "возврат по решению арбитража", *resolved.CancellationReason)
	require.NotNil(t, resolved.DisputeResolvedAt)
	assert.Equal(t, models.TransactionStatusRefunded, f.ledger.transactions[0].Status)
}

func TestDisputeService_AdminResolvesForWorker(t *testing.T) {
	f := newDealFixture(t)
	ctx := context.Background()

	deal := deliveredDeal(t, f)

	_, err := f.disputes.OpenDispute(ctx, deal.ID, f.client, "не нравится")
	require.NoError(t, err)
	_, err = f.disputes.WorkerDefend(ctx, deal.ID, f.worker, "работа принята в переписке")
	require.NoError(t, err)

	resolved, err := f.disputes.AdminResolve(ctx, deal.ID, uuid.New(), models.DisputeWinnerWorker, "работа выполнена по ТЗ")
	require.NoError(t, err)
	assert.Equal(t, models.DealStatusCompleted, resolved.Status)
	assert.Equal(t, models.DisputeWinnerWorker, resolved.DisputeWinner)
	assert.Equal(t, "работа выполнена по ТЗ", resolved.CompletionMessage)
	assert.Equal(t, models.TransactionStatusCaptured, f.ledger.transactions[0].Status)
}

func TestDisputeService_WorkerRefund(t *testing.T) {
	f := newDealFixture(t)
	ctx := context.Background()

	deal := deliveredDeal(t, f)

	_, err := f.disputes.OpenDispute(ctx, deal.ID, f.client, "не то")
	require.NoError(t, err)

	refunded, err := f.disputes.WorkerRefund(ctx, deal.ID, f.worker)
	require.NoError(t, err)
	assert.Equal(t, models.DealStatusCancelled, refunded.Status)
	assert.Equal(t, models.DisputeWinnerClient, refunded.DisputeWinner)
	assert.Equal(t, models.TransactionStatusRefunded, f.ledger.transactions[0].Status)
}

func TestDisputeService_RefundAfterDefenseForbidden(t *testing.T) {
	f := newDealFixture(t)
	ctx := context.Background()

	deal := deliveredDeal(t, f)

	_, err := f.disputes.OpenDispute(ctx, deal.ID, f.client, "не то")
	require.NoError(t, err)
	_, err = f.disputes.WorkerDefend(ctx, deal.ID, f.worker, "то самое")
	require.NoError(t, err)

	// После защиты решение остаётся только за администратором.
	_, err = f.disputes.WorkerRefund(ctx, deal.ID, f.worker)
	require.Error(t, err)
	assert.True(t, apperror.IsBusinessRule(err))
	assert.Equal(t, models.TransactionStatusHeld, f.ledger.transactions[0].Status)
}

func TestDisputeService_AdminResolveBeforeDefense(t *testing.T) {
	f := newDealFixture(t)
	ctx := context.Background()

	deal := deliveredDeal(t, f)

	_, err := f.disputes.OpenDispute(ctx, deal.ID, f.client, "не то")
	require.NoError(t, err)

	_, err = f.disputes.AdminResolve(ctx, deal.ID, uuid.New(), models.DisputeWinnerClient, "")
	require.Error(t, err)
	assert.True(t, apperror.IsBusinessRule(err))
}

func TestDisputeService_OpenOnlyByClient(t *testing.T) {
	f := newDealFixture(t)
	ctx := context.Background()

	deal := deliveredDeal(t, f)

	_, err := f.disputes.OpenDispute(ctx, deal.ID, f.worker, "превентивно")
	require.Error(t, err)
	assert.True(t, apperror.IsBusinessRule(err))
}

func TestDisputeService_OpenOnlyOnDelivered(t *testing.T) {
	f := newDealFixture(t)
	ctx := context.Background()

	deal := f.createDeal(t, "1000")
	f.payDeal(t, deal.ID)

	_, err := f.disputes.OpenDispute(ctx, deal.ID, f.client, "долго делает")
	require.Error(t, err)
	assert.True(t, apperror.IsInvalidTransition(err))
}

func TestDisputeService_DefendTwiceForbidden(t *testing.T) {
	f := newDealFixture(t)
	ctx := context.Background()

	deal := deliveredDeal(t, f)

	_, err := f.disputes.OpenDispute(ctx, deal.ID, f.client, "не то")
	require.NoError(t, err)
	_, err = f.disputes.WorkerDefend(ctx, deal.ID, f.worker, "первая защита")
	require.NoError(t, err)

	_, err = f.disputes.WorkerDefend(ctx, deal.ID, f.worker, "вторая защита")
	require.Error(t, err)
	assert.True(t, apperror.IsBusinessRule(err))
}

func TestDisputeService_AdminResolveInvalidWinner(t *testing.T) {
	f := newDealFixture(t)
	ctx := context.Background()

	deal := deliveredDeal(t, f)
	_, err := f.disputes.OpenDispute(ctx, deal.ID, f.client, "не то")
	require.NoError(t, err)

	_, err = f.disputes.AdminResolve(ctx, deal.ID, uuid.New(), "platform", "")
	require.Error(t, err)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.ErrCodeValidation, appErr.Code)
}
