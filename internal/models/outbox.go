package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Статусы записей outbox
const (
	OutboxStatusPending = "pending"
	OutboxStatusSent    = "sent"
	OutboxStatusFailed  = "failed"
)

// OutboxMessage — отложенное уведомление чат-сервису о переходе сделки.
// Запись создаётся в той же транзакции, что и сам переход: бизнес-переход
// уже зафиксирован к моменту любой попытки отправки и не откатывается
// из-за сетевых ошибок.
type OutboxMessage struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	DealID      uuid.UUID       `db:"deal_id" json:"deal_id"`
	ChatRoomID  uuid.UUID       `db:"chat_room_id" json:"chat_room_id"`
	SenderID    uuid.UUID       `db:"sender_id" json:"sender_id"`
	MessageType string          `db:"message_type" json:"message_type"`
	Text        string          `db:"text" json:"text"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	Status      string          `db:"status" json:"status"`
	Attempts    int             `db:"attempts" json:"attempts"`
	LastError   *string         `db:"last_error" json:"last_error,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	SentAt      *time.Time      `db:"sent_at" json:"sent_at,omitempty"`
}
