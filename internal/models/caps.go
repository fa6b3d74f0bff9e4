package models

// DealCaps — производные разрешения по сделке для текущего состояния.
// Никогда не хранятся: вычисляются на чтении из статуса, счётчика доработок
// и состояния спора, чтобы не разъезжаться с источником истины.
type DealCaps struct {
	CanPay                bool `json:"can_pay"`
	CanDeliver            bool `json:"can_deliver"`
	CanRequestRevision    bool `json:"can_request_revision"`
	CanComplete           bool `json:"can_complete"`
	CanCancel             bool `json:"can_cancel"`
	CanUpdatePrice        bool `json:"can_update_price"`
	CanOpenDispute        bool `json:"can_open_dispute"`
	CanWorkerRefund       bool `json:"can_worker_refund"`
	CanWorkerDefend       bool `json:"can_worker_defend"`
	IsDisputePendingAdmin bool `json:"is_dispute_pending_admin"`
}

// ComputeCaps вычисляет разрешения как чистую функцию от
// (status, revisionCount, maxRevisions, disputeWorkerDefense, disputeWinner).
func ComputeCaps(status string, revisionCount, maxRevisions int, disputeWorkerDefense, disputeWinner string) DealCaps {
	disputeOpen := status == DealStatusDispute && disputeWinner == ""

	return DealCaps{
		CanPay:                status == DealStatusPending,
		CanDeliver:            status == DealStatusPaid,
		CanRequestRevision:    status == DealStatusDelivered && revisionCount < maxRevisions,
		CanComplete:           status == DealStatusDelivered,
		CanCancel:             status == DealStatusPending || status == DealStatusPaid,
		CanUpdatePrice:        status == DealStatusPending,
		CanOpenDispute:        status == DealStatusDelivered,
		CanWorkerRefund:       disputeOpen && disputeWorkerDefense == "",
		CanWorkerDefend:       disputeOpen && disputeWorkerDefense == "",
		IsDisputePendingAdmin: disputeOpen && disputeWorkerDefense != "",
	}
}

// Caps возвращает производные разрешения для сделки.
func (d *Deal) Caps() DealCaps {
	return ComputeCaps(d.Status, d.RevisionCount, d.MaxRevisions, d.DisputeWorkerDefense, d.DisputeWinner)
}
