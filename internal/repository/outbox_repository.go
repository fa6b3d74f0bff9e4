package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-backend/internal/models"
)

// OutboxRepository хранит очередь исходящих уведомлений. Запись создаётся
// в той же транзакции, что и переход сделки: уведомление не теряется при
// падении процесса и не блокирует сам переход.
type OutboxRepository struct {
	db *sqlx.DB
}

func NewOutboxRepository(db *sqlx.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

const outboxColumns = `
	id, deal_id, chat_room_id, sender_id, message_type, text, payload,
	status, attempts, last_error, created_at, sent_at
`

// Enqueue ставит уведомление в очередь внутри транзакции команды.
func (r *OutboxRepository) Enqueue(ctx context.Context, tx *sqlx.Tx, msg *models.OutboxMessage) error {
	err := tx.GetContext(ctx, msg, `
		INSERT INTO deal_outbox (deal_id, chat_room_id, sender_id, message_type, text, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+outboxColumns,
		msg.DealID, msg.ChatRoomID, msg.SenderID, msg.MessageType, msg.Text, msg.Payload, msg.Status,
	)
	if err != nil {
		return fmt.Errorf("outbox repository: enqueue %w", err)
	}
	return nil
}

// ListPending возвращает необработанные уведомления в порядке постановки.
// Очередь разбирает единственный фоновый воркер процесса, блокировки строк
// не нужны.
func (r *OutboxRepository) ListPending(ctx context.Context, limit int) ([]models.OutboxMessage, error) {
	var messages []models.OutboxMessage
	err := r.db.SelectContext(ctx, &messages, `
		SELECT `+outboxColumns+` FROM deal_outbox
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2
	`, models.OutboxStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox repository: list pending %w", err)
	}
	return messages, nil
}

// MarkSent помечает уведомление доставленным.
func (r *OutboxRepository) MarkSent(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE deal_outbox SET status = $2, sent_at = NOW()
		WHERE id = $1
	`, id, models.OutboxStatusSent)
	if err != nil {
		return fmt.Errorf("outbox repository: mark sent %w", err)
	}
	return nil
}

// MarkFailed фиксирует неудачную попытку; после исчерпания лимита запись
// переводится в failed и больше не пересылается.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastError string, final bool) error {
	status := models.OutboxStatusPending
	if final {
		status = models.OutboxStatusFailed
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE deal_outbox SET status = $2, attempts = $3, last_error = $4
		WHERE id = $1
	`, id, status, attempts, lastError)
	if err != nil {
		return fmt.Errorf("outbox repository: mark failed %w", err)
	}
	return nil
}
