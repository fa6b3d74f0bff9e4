package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeCaps_Pending(t *testing.T) {
	caps := ComputeCaps(DealStatusPending, 0, 2, "", "")

	assert.True(t, caps.CanPay)
	assert.True(t, caps.CanCancel)
	assert.True(t, caps.CanUpdatePrice)
	assert.False(t, caps.CanDeliver)
	assert.False(t, caps.CanComplete)
	assert.False(t, caps.CanOpenDispute)
}

func TestComputeCaps_Paid(t *testing.T) {
	caps := ComputeCaps(DealStatusPaid, 0, 2, "", "")

	assert.True(t, caps.CanDeliver)
	assert.True(t, caps.CanCancel)
	assert.False(t, caps.CanPay)
	assert.False(t, caps.CanUpdatePrice)
}

func TestComputeCaps_Delivered(t *testing.T) {
	caps := ComputeCaps(DealStatusDelivered, 0, 2, "", "")

	assert.True(t, caps.CanComplete)
	assert.True(t, caps.CanRequestRevision)
	assert.True(t, caps.CanOpenDispute)
	assert.False(t, caps.CanCancel)

	// Квота доработок исчерпана.
	caps = ComputeCaps(DealStatusDelivered, 2, 2, "", "")
	assert.False(t, caps.CanRequestRevision)
	assert.True(t, caps.CanComplete)
}

func TestComputeCaps_Dispute(t *testing.T) {
	// Спор открыт, исполнитель ещё не отреагировал.
	caps := ComputeCaps(DealStatusDispute, 0, 2, "", "")
	assert.True(t, caps.CanWorkerRefund)
	assert.True(t, caps.CanWorkerDefend)
	assert.False(t, caps.IsDisputePendingAdmin)

	// Защита подана: решение за администратором.
	caps = ComputeCaps(DealStatusDispute, 0, 2, "сделано по ТЗ", "")
	assert.False(t, caps.CanWorkerRefund)
	assert.False(t, caps.CanWorkerDefend)
	assert.True(t, caps.IsDisputePendingAdmin)

	// Спор разрешён: все действия закрыты.
	caps = ComputeCaps(DealStatusDispute, 0, 2, "сделано по ТЗ", DisputeWinnerClient)
	assert.False(t, caps.CanWorkerRefund)
	assert.False(t, caps.IsDisputePendingAdmin)
}

func TestComputeCaps_Terminal(t *testing.T) {
	for _, status := range []string{DealStatusCompleted, DealStatusCancelled} {
		caps := ComputeCaps(status, 0, 2, "", "")
		assert.Equal(t, DealCaps{}, caps, "status %s", status)
	}
}

func TestDeal_IsActive(t *testing.T) {
	deal := &Deal{Status: DealStatusPending}
	assert.True(t, deal.IsActive())

	deal.Status = DealStatusDispute
	assert.True(t, deal.IsActive())

	deal.Status = DealStatusCompleted
	assert.False(t, deal.IsActive())

	deal.Status = DealStatusCancelled
	assert.False(t, deal.IsActive())
}
