package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-backend/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/repository"
)

// TxRunner запускает функцию в транзакции базы данных.
type TxRunner interface {
	WithinTransaction(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

type DealRepository interface {
	Create(ctx context.Context, tx *sqlx.Tx, deal *models.Deal) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error)
	GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*models.Deal, error)
	Update(ctx context.Context, tx *sqlx.Tx, deal *models.Deal) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Deal, error)
	ListByChatRoom(ctx context.Context, chatRoomID, userID uuid.UUID) ([]models.Deal, error)
	ListPendingDisputes(ctx context.Context) ([]models.Deal, error)
	CreateDeliveryAttachment(ctx context.Context, tx *sqlx.Tx, a *models.DeliveryAttachment) error
	ListDeliveryAttachments(ctx context.Context, dealID uuid.UUID) ([]models.DeliveryAttachment, error)
}

type LedgerRepository interface {
	CreateHeld(ctx context.Context, tx *sqlx.Tx, t *models.Transaction) error
	GetHeldByDeal(ctx context.Context, tx *sqlx.Tx, dealID uuid.UUID) (*models.Transaction, error)
	Finalize(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status string) error
	ListByDeal(ctx context.Context, dealID uuid.UUID) ([]models.Transaction, error)
}

type ReviewWriter interface {
	Create(ctx context.Context, tx *sqlx.Tx, review *models.Review) error
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx *sqlx.Tx, msg *models.OutboxMessage) error
}

// DealService реализует машину состояний сделки. Каждая команда выполняется
// в одной транзакции с блокировкой строки сделки, так что конкурирующие
// команды по одной сделке сериализуются на уровне базы.
//
// Порядок проверок всех команд фиксирован: участник -> статус -> бизнес-правило.
type DealService struct {
	tx     TxRunner
	deals  DealRepository
	ledger LedgerRepository
	review ReviewWriter
	outbox OutboxWriter

	commissionRate      decimal.Decimal
	defaultMaxRevisions int

	log *logrus.Entry
}

func NewDealService(
	tx TxRunner,
	deals DealRepository,
	ledger LedgerRepository,
	review ReviewWriter,
	outbox OutboxWriter,
	commissionRate decimal.Decimal,
	defaultMaxRevisions int,
	log *logrus.Entry,
) *DealService {
	return &DealService{
		tx:                  tx,
		deals:               deals,
		ledger:              ledger,
		review:              review,
		outbox:              outbox,
		commissionRate:      commissionRate,
		defaultMaxRevisions: defaultMaxRevisions,
		log:                 log,
	}
}

type CreateDealInput struct {
	ChatRoomID  uuid.UUID
	ClientID    uuid.UUID
	WorkerID    uuid.UUID
	ActorID     uuid.UUID
	Title       string
	Description string
	Price       decimal.Decimal
}

// CreateDeal создаёт сделку в статусе pending. Правило "одна активная сделка
// на пару (клиент, исполнитель)" проверяется атомарно со вставкой; при
// нарушении возвращается отказ с идентификатором существующей сделки.
func (s *DealService) CreateDeal(ctx context.Context, input CreateDealInput) (*models.Deal, error) {
	if input.Title == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "название сделки не может быть пустым")
	}
	if input.ClientID == input.WorkerID {
		return nil, apperror.New(apperror.ErrCodeValidation, "заказчик и исполнитель не могут совпадать")
	}
	if input.ActorID != input.ClientID && input.ActorID != input.WorkerID {
		return nil, apperror.ErrNotParticipant
	}
	price, err := valueobject.NewPrice(input.Price)
	if err != nil {
		return nil, err
	}

	deal := &models.Deal{
		ChatRoomID:   input.ChatRoomID,
		ClientID:     input.ClientID,
		WorkerID:     input.WorkerID,
		Title:        input.Title,
		Description:  input.Description,
		Price:        price.Amount,
		Status:       models.DealStatusPending,
		MaxRevisions: s.defaultMaxRevisions,
	}

	err = s.tx.WithinTransaction(ctx, func(tx *sqlx.Tx) error {
		if err := s.deals.Create(ctx, tx, deal); err != nil {
			return err
		}
		return s.enqueueCard(ctx, tx, deal, input.ActorID, "deal_created", "")
	})
	if err != nil {
		var conflict *repository.ActiveDealConflictError
		if errors.As(err, &conflict) {
			return nil, apperror.NewActiveDealExists(conflict.ExistingDealID)
		}
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"deal_id":   deal.ID,
		"client_id": deal.ClientID,
		"worker_id": deal.WorkerID,
		"price":     deal.Price.StringFixed(2),
	}).Info("Сделка создана")

	return deal, nil
}

// UpdatePrice меняет цену сделки до оплаты. Цену назначает исполнитель;
// после оплаты условия заморожены.
func (s *DealService) UpdatePrice(ctx context.Context, dealID, actorID uuid.UUID, newPrice decimal.Decimal) (*models.Deal, error) {
	price, err := valueobject.NewPrice(newPrice)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, dealID, actorID, "deal_updated", "", func(deal *models.Deal) error {
		if deal.Status != models.DealStatusPending {
			return invalidTransition(deal.Status, "изменить цену можно только до оплаты")
		}
		if actorID != deal.WorkerID {
			return apperror.New(apperror.ErrCodeBusinessRule, "менять цену может только исполнитель")
		}
		deal.Price = price.Amount
		return nil
	})
}

// Pay переводит сделку pending -> paid и холдирует цену плюс комиссию.
// Платить может только заказчик.
func (s *DealService) Pay(ctx context.Context, dealID, actorID uuid.UUID) (*models.Deal, error) {
	return s.mutate(ctx, dealID, actorID, "deal_paid", "", func(deal *models.Deal) error {
		if deal.Status != models.DealStatusPending {
			return invalidTransition(deal.Status, "оплатить можно только ожидающую оплаты сделку")
		}
		if actorID != deal.ClientID {
			return apperror.New(apperror.ErrCodeBusinessRule, "оплатить сделку может только заказчик")
		}
		deal.Status = models.DealStatusPaid
		now := time.Now().UTC()
		deal.PaidAt = &now
		return nil
	}, func(ctx context.Context, tx *sqlx.Tx, deal *models.Deal) error {
		commission, total := valueobject.HoldAmounts(deal.Price, s.commissionRate)
		held := &models.Transaction{
			DealID:          deal.ID,
			Amount:          total,
			Commission:      commission,
			Status:          models.TransactionStatusHeld,
			PaymentProvider: models.PaymentProviderStub,
		}
		return s.ledger.CreateHeld(ctx, tx, held)
	})
}

type DeliverInput struct {
	DealID      uuid.UUID
	ActorID     uuid.UUID
	Message     string
	Attachments []models.DeliveryAttachment
}

// Deliver сдаёт работу: paid -> delivered. Сдать может только исполнитель.
func (s *DealService) Deliver(ctx context.Context, input DeliverInput) (*models.Deal, error) {
	return s.mutate(ctx, input.DealID, input.ActorID, "deal_delivered", "", func(deal *models.Deal) error {
		if deal.Status != models.DealStatusPaid {
			return invalidTransition(deal.Status, "сдать работу можно только по оплаченной сделке")
		}
		if input.ActorID != deal.WorkerID {
			return apperror.New(apperror.ErrCodeBusinessRule, "сдать работу может только исполнитель")
		}
		deal.Status = models.DealStatusDelivered
		deal.DeliveryMessage = input.Message
		now := time.Now().UTC()
		deal.DeliveredAt = &now
		return nil
	}, func(ctx context.Context, tx *sqlx.Tx, deal *models.Deal) error {
		for i := range input.Attachments {
			input.Attachments[i].DealID = deal.ID
			if err := s.deals.CreateDeliveryAttachment(ctx, tx, &input.Attachments[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// RequestRevision возвращает сделку в работу: delivered -> paid.
// Количество доработок ограничено квотой max_revisions. Причина доработки
// на сделке не хранится, она уходит исполнителю в тексте карточки.
func (s *DealService) RequestRevision(ctx context.Context, dealID, actorID uuid.UUID, reason string) (*models.Deal, error) {
	return s.mutate(ctx, dealID, actorID, "deal_revision", reason, func(deal *models.Deal) error {
		if deal.Status != models.DealStatusDelivered {
			return invalidTransition(deal.Status, "запросить доработку можно только по сданной работе")
		}
		if actorID != deal.ClientID {
			return apperror.New(apperror.ErrCodeBusinessRule, "запросить доработку может только заказчик")
		}
		if deal.RevisionCount >= deal.MaxRevisions {
			return apperror.New(apperror.ErrCodeBusinessRule,
				fmt.Sprintf("лимит доработок исчерпан (%d из %d)", deal.RevisionCount, deal.MaxRevisions))
		}
		deal.RevisionCount++
		deal.Status = models.DealStatusPaid
		return nil
	})
}

type CompleteInput struct {
	DealID  uuid.UUID
	ActorID uuid.UUID
	Message string
	Rating  int
	Comment *string
}

// Complete принимает работу: delivered -> completed, удержанные средства
// захватываются. Приёмка всегда сопровождается отзывом исполнителю,
// отзыв создаётся в той же транзакции.
func (s *DealService) Complete(ctx context.Context, input CompleteInput) (*models.Deal, error) {
	if input.Rating < 1 || input.Rating > 5 {
		return nil, apperror.New(apperror.ErrCodeValidation, "оценка должна быть от 1 до 5")
	}

	return s.mutate(ctx, input.DealID, input.ActorID, "deal_completed", "", func(deal *models.Deal) error {
		if deal.Status != models.DealStatusDelivered {
			return invalidTransition(deal.Status, "принять можно только сданную работу")
		}
		if input.ActorID != deal.ClientID {
			return apperror.New(apperror.ErrCodeBusinessRule, "принять работу может только заказчик")
		}
		deal.Status = models.DealStatusCompleted
		deal.CompletionMessage = input.Message
		now := time.Now().UTC()
		deal.CompletedAt = &now
		return nil
	}, func(ctx context.Context, tx *sqlx.Tx, deal *models.Deal) error {
		if err := s.captureHeld(ctx, tx, deal.ID); err != nil {
			return err
		}
		review := &models.Review{
			DealID:     deal.ID,
			ReviewerID: deal.ClientID,
			RevieweeID: deal.WorkerID,
			Rating:     input.Rating,
			Comment:    input.Comment,
		}
		return s.review.Create(ctx, tx, review)
	})
}

// Cancel отменяет сделку до сдачи работы. По оплаченной сделке удержанные
// средства возвращаются заказчику; после delivered отмена невозможна,
// разногласия решаются через спор.
func (s *DealService) Cancel(ctx context.Context, dealID, actorID uuid.UUID, reason string) (*models.Deal, error) {
	var wasPaid bool
	return s.mutate(ctx, dealID, actorID, "deal_cancelled", "", func(deal *models.Deal) error {
		if deal.Status != models.DealStatusPending && deal.Status != models.DealStatusPaid {
			return invalidTransition(deal.Status, "отменить можно только сделку до сдачи работы")
		}
		wasPaid = deal.Status == models.DealStatusPaid
		deal.Status = models.DealStatusCancelled
		deal.CancelledBy = &actorID
		if reason != "" {
			deal.CancellationReason = &reason
		}
		now := time.Now().UTC()
		deal.CancelledAt = &now
		return nil
	}, func(ctx context.Context, tx *sqlx.Tx, deal *models.Deal) error {
		if !wasPaid {
			return nil
		}
		return s.refundHeld(ctx, tx, deal.ID)
	})
}

// GetDeal возвращает сделку участнику.
func (s *DealService) GetDeal(ctx context.Context, dealID, actorID uuid.UUID) (*models.Deal, error) {
	deal, err := s.getDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if !deal.IsParticipant(actorID) {
		return nil, apperror.ErrNotParticipant
	}
	return deal, nil
}

// ListUserDeals возвращает сделки пользователя в обеих ролях.
func (s *DealService) ListUserDeals(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Deal, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.deals.ListByUser(ctx, userID, limit, offset)
}

// ListChatRoomDeals возвращает сделки комнаты чата с участием пользователя.
func (s *DealService) ListChatRoomDeals(ctx context.Context, chatRoomID, userID uuid.UUID) ([]models.Deal, error) {
	return s.deals.ListByChatRoom(ctx, chatRoomID, userID)
}

// ListDealTransactions возвращает участнику историю леджера по сделке.
func (s *DealService) ListDealTransactions(ctx context.Context, dealID, actorID uuid.UUID) ([]models.Transaction, error) {
	deal, err := s.getDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if !deal.IsParticipant(actorID) {
		return nil, apperror.ErrNotParticipant
	}
	return s.ledger.ListByDeal(ctx, dealID)
}

// ListDeliveryAttachments возвращает участнику файлы сдачи работы.
func (s *DealService) ListDeliveryAttachments(ctx context.Context, dealID, actorID uuid.UUID) ([]models.DeliveryAttachment, error) {
	deal, err := s.getDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if !deal.IsParticipant(actorID) {
		return nil, apperror.ErrNotParticipant
	}
	return s.deals.ListDeliveryAttachments(ctx, dealID)
}

// mutate выполняет команду над сделкой: блокирует строку, проверяет
// участника, применяет переход и дополнительные эффекты, сохраняет сделку
// и ставит уведомление в outbox — всё в одной транзакции.
func (s *DealService) mutate(
	ctx context.Context,
	dealID, actorID uuid.UUID,
	messageType, note string,
	transition func(deal *models.Deal) error,
	effects ...func(ctx context.Context, tx *sqlx.Tx, deal *models.Deal) error,
) (*models.Deal, error) {
	var result *models.Deal

	err := s.tx.WithinTransaction(ctx, func(tx *sqlx.Tx) error {
		deal, err := s.deals.GetByIDForUpdate(ctx, tx, dealID)
		if err != nil {
			if errors.Is(err, repository.ErrDealNotFound) {
				return apperror.ErrDealNotFound
			}
			return err
		}
		if !deal.IsParticipant(actorID) {
			return apperror.ErrNotParticipant
		}
		if err := transition(deal); err != nil {
			return err
		}
		for _, effect := range effects {
			if err := effect(ctx, tx, deal); err != nil {
				return err
			}
		}
		if err := s.deals.Update(ctx, tx, deal); err != nil {
			return err
		}
		if err := s.enqueueCard(ctx, tx, deal, actorID, messageType, note); err != nil {
			return err
		}
		result = deal
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"deal_id": result.ID,
		"status":  result.Status,
		"event":   messageType,
	}).Info("Переход сделки выполнен")

	return result, nil
}

func (s *DealService) getDeal(ctx context.Context, dealID uuid.UUID) (*models.Deal, error) {
	deal, err := s.deals.GetByID(ctx, dealID)
	if err != nil {
		if errors.Is(err, repository.ErrDealNotFound) {
			return nil, apperror.ErrDealNotFound
		}
		return nil, err
	}
	return deal, nil
}

// captureHeld переводит удержанные средства исполнителю. Отсутствие
// удержанной записи у сделки в терминальном переходе — нарушение
// инварианта леджера, команда откатывается целиком.
func (s *DealService) captureHeld(ctx context.Context, tx *sqlx.Tx, dealID uuid.UUID) error {
	return s.finalizeHeld(ctx, tx, dealID, models.TransactionStatusCaptured)
}

// refundHeld возвращает удержанные средства заказчику.
func (s *DealService) refundHeld(ctx context.Context, tx *sqlx.Tx, dealID uuid.UUID) error {
	return s.finalizeHeld(ctx, tx, dealID, models.TransactionStatusRefunded)
}

func (s *DealService) finalizeHeld(ctx context.Context, tx *sqlx.Tx, dealID uuid.UUID, status string) error {
	held, err := s.ledger.GetHeldByDeal(ctx, tx, dealID)
	if err != nil {
		if errors.Is(err, repository.ErrHeldTransactionNotFound) {
			s.log.WithField("deal_id", dealID).Error("Нет удержанной транзакции для финализации")
			return apperror.NewInvariant("у оплаченной сделки отсутствует удержанная транзакция")
		}
		return err
	}
	if err := s.ledger.Finalize(ctx, tx, held.ID, status); err != nil {
		if errors.Is(err, repository.ErrHeldTransactionNotFound) {
			return apperror.NewInvariant("удержанная транзакция уже финализирована")
		}
		return err
	}
	return nil
}

// enqueueCard ставит карточку сделки в outbox в транзакции команды.
// Необязательная приписка note уходит в текст сообщения, но не в снимок:
// она комментирует событие, а не состояние сделки.
func (s *DealService) enqueueCard(ctx context.Context, tx *sqlx.Tx, deal *models.Deal, senderID uuid.UUID, messageType, note string) error {
	text, payload, err := BuildDealCard(deal, s.commissionRate)
	if err != nil {
		return err
	}
	if note != "" {
		text += "\nКомментарий: " + note
	}
	msg := &models.OutboxMessage{
		DealID:      deal.ID,
		ChatRoomID:  deal.ChatRoomID,
		SenderID:    senderID,
		MessageType: messageType,
		Text:        text,
		Payload:     payload,
		Status:      models.OutboxStatusPending,
	}
	return s.outbox.Enqueue(ctx, tx, msg)
}

func invalidTransition(current, message string) *apperror.AppError {
	return apperror.New(apperror.ErrCodeInvalidTransition,
		fmt.Sprintf("%s (текущий статус: %s)", message, current))
}
