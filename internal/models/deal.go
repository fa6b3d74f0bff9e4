package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Статусы сделки
const (
	DealStatusPending   = "pending"
	DealStatusPaid      = "paid"
	DealStatusDelivered = "delivered"
	DealStatusDispute   = "dispute"
	DealStatusCompleted = "completed"
	DealStatusCancelled = "cancelled"
)

// Победитель спора
const (
	DisputeWinnerClient = "client"
	DisputeWinnerWorker = "worker"
)

// ActiveDealStatuses — статусы, в которых сделка считается активной.
// На паре (client_id, worker_id) одновременно может быть не более одной такой сделки.
var ActiveDealStatuses = []string{
	DealStatusPending,
	DealStatusPaid,
	DealStatusDelivered,
	DealStatusDispute,
}

// ValidDealStatuses список валидных статусов сделки
var ValidDealStatuses = map[string]struct{}{
	DealStatusPending:   {},
	DealStatusPaid:      {},
	DealStatusDelivered: {},
	DealStatusDispute:   {},
	DealStatusCompleted: {},
	DealStatusCancelled: {},
}

// Deal описывает escrow-сделку между клиентом и исполнителем.
// Стороны фиксируются при создании и не меняются; условия редактируются
// только до оплаты.
type Deal struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ChatRoomID uuid.UUID `db:"chat_room_id" json:"chat_room_id"`

	ClientID uuid.UUID `db:"client_id" json:"client_id"`
	WorkerID uuid.UUID `db:"worker_id" json:"worker_id"`

	Title       string          `db:"title" json:"title"`
	Description string          `db:"description" json:"description"`
	Price       decimal.Decimal `db:"price" json:"price"`

	Status string `db:"status" json:"status"`

	RevisionCount int `db:"revision_count" json:"revision_count"`
	MaxRevisions  int `db:"max_revisions" json:"max_revisions"`

	DeliveryMessage    string     `db:"delivery_message" json:"delivery_message"`
	CompletionMessage  string     `db:"completion_message" json:"completion_message"`
	CancellationReason *string    `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CancelledBy        *uuid.UUID `db:"cancelled_by" json:"cancelled_by,omitempty"`

	DisputeClientReason  string     `db:"dispute_client_reason" json:"dispute_client_reason"`
	DisputeWorkerDefense string     `db:"dispute_worker_defense" json:"dispute_worker_defense"`
	DisputeCreatedAt     *time.Time `db:"dispute_created_at" json:"dispute_created_at,omitempty"`
	DisputeResolvedAt    *time.Time `db:"dispute_resolved_at" json:"dispute_resolved_at,omitempty"`
	DisputeWinner        string     `db:"dispute_winner" json:"dispute_winner"`

	LastMessageID *uuid.UUID `db:"last_message_id" json:"last_message_id,omitempty"`

	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	PaidAt      *time.Time `db:"paid_at" json:"paid_at,omitempty"`
	DeliveredAt *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// IsParticipant проверяет, является ли пользователь стороной сделки.
func (d *Deal) IsParticipant(userID uuid.UUID) bool {
	return userID == d.ClientID || userID == d.WorkerID
}

// IsActive сообщает, занимает ли сделка активный слот пары участников.
func (d *Deal) IsActive() bool {
	switch d.Status {
	case DealStatusPending, DealStatusPaid, DealStatusDelivered, DealStatusDispute:
		return true
	}
	return false
}
