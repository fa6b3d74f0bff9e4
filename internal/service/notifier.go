package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-backend/internal/chat"
	"github.com/ignatzorin/escrow-backend/internal/goroutine"
	"github.com/ignatzorin/escrow-backend/internal/models"
)

// ChatSender отправляет карточку сделки во внешний чат-сервис.
type ChatSender interface {
	SendDealMessage(ctx context.Context, roomID uuid.UUID, req chat.DealMessageRequest) (uuid.UUID, error)
}

type OutboxReader interface {
	ListPending(ctx context.Context, limit int) ([]models.OutboxMessage, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastError string, final bool) error
}

type DealMessageStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error)
	SetLastMessageID(ctx context.Context, dealID, messageID uuid.UUID) error
}

// Notifier — фоновый воркер, разбирающий outbox и доставляющий карточки
// сделок в чат. Доставка best-effort: ошибка чата никогда не влияет на
// уже зафиксированный переход, запись просто уходит на повторную попытку.
type Notifier struct {
	outbox OutboxReader
	deals  DealMessageStore
	sender ChatSender

	sendTimeout  time.Duration
	pollInterval time.Duration
	maxAttempts  int
	batchSize    int

	log *logrus.Entry
}

func NewNotifier(
	outbox OutboxReader,
	deals DealMessageStore,
	sender ChatSender,
	sendTimeout, pollInterval time.Duration,
	maxAttempts int,
	log *logrus.Entry,
) *Notifier {
	return &Notifier{
		outbox:       outbox,
		deals:        deals,
		sender:       sender,
		sendTimeout:  sendTimeout,
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
		batchSize:    50,
		log:          log,
	}
}

// Start запускает цикл опроса outbox до отмены контекста.
func (n *Notifier) Start(ctx context.Context) {
	goroutine.SafeGoWithContext(ctx, n.log, func(ctx context.Context) {
		ticker := time.NewTicker(n.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				n.log.Info("Диспетчер уведомлений остановлен")
				return
			case <-ticker.C:
				n.Drain(ctx)
			}
		}
	})
}

// Drain обрабатывает одну порцию очереди. Вынесен отдельно, чтобы тесты
// могли прогонять очередь без таймеров.
func (n *Notifier) Drain(ctx context.Context) {
	messages, err := n.outbox.ListPending(ctx, n.batchSize)
	if err != nil {
		n.log.WithError(err).Error("Не удалось прочитать очередь уведомлений")
		return
	}

	for _, msg := range messages {
		n.deliver(ctx, msg)
	}
}

func (n *Notifier) deliver(ctx context.Context, msg models.OutboxMessage) {
	sendCtx, cancel := context.WithTimeout(ctx, n.sendTimeout)
	defer cancel()

	req := chat.DealMessageRequest{
		SenderID:    msg.SenderID,
		MessageType: msg.MessageType,
		Text:        msg.Text,
		Payload:     msg.Payload,
	}

	// Карточка обновляется на месте: берём id прошлого сообщения из сделки.
	deal, err := n.deals.GetByID(ctx, msg.DealID)
	if err == nil && deal.LastMessageID != nil {
		req.UpdateMessageID = deal.LastMessageID
	}

	messageID, err := n.sender.SendDealMessage(sendCtx, msg.ChatRoomID, req)
	if err != nil {
		attempts := msg.Attempts + 1
		final := attempts >= n.maxAttempts
		n.log.WithError(err).WithFields(logrus.Fields{
			"deal_id":  msg.DealID,
			"attempts": attempts,
			"final":    final,
		}).Warn("Не удалось доставить карточку сделки в чат")
		if markErr := n.outbox.MarkFailed(ctx, msg.ID, attempts, err.Error(), final); markErr != nil {
			n.log.WithError(markErr).Error("Не удалось пометить уведомление неотправленным")
		}
		return
	}

	if err := n.outbox.MarkSent(ctx, msg.ID); err != nil {
		n.log.WithError(err).Error("Не удалось пометить уведомление отправленным")
	}
	if err := n.deals.SetLastMessageID(ctx, msg.DealID, messageID); err != nil {
		n.log.WithError(err).Error("Не удалось сохранить id карточки в чате")
	}
}
