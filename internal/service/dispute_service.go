package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/repository"
)

// DisputeService ведёт жизненный цикл спора по сделке: открытие заказчиком,
// реакция исполнителя (возврат или защита) и арбитраж администратора.
// Все мутации идут через ту же машину состояний, что и остальные команды.
type DisputeService struct {
	deals *DealService
	log   *logrus.Entry
}

func NewDisputeService(deals *DealService, log *logrus.Entry) *DisputeService {
	return &DisputeService{deals: deals, log: log}
}

// OpenDispute открывает спор по сданной работе: delivered -> dispute.
// Средства остаются удержанными до исхода спора.
func (s *DisputeService) OpenDispute(ctx context.Context, dealID, actorID uuid.UUID, reason string) (*models.Deal, error) {
	if reason == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "причина спора не может быть пустой")
	}

	return s.deals.mutate(ctx, dealID, actorID, "dispute_opened", "", func(deal *models.Deal) error {
		if deal.Status != models.DealStatusDelivered {
			return invalidTransition(deal.Status, "открыть спор можно только по сданной работе")
		}
		if actorID != deal.ClientID {
			return apperror.New(apperror.ErrCodeBusinessRule, "открыть спор может только заказчик")
		}
		deal.Status = models.DealStatusDispute
		deal.DisputeClientReason = reason
		now := time.Now().UTC()
		deal.DisputeCreatedAt = &now
		return nil
	})
}

// WorkerRefund — исполнитель соглашается с претензией: удержанные средства
// возвращаются заказчику, сделка закрывается как отменённая.
func (s *DisputeService) WorkerRefund(ctx context.Context, dealID, actorID uuid.UUID) (*models.Deal, error) {
	return s.deals.mutate(ctx, dealID, actorID, "dispute_refunded", "", func(deal *models.Deal) error {
		if deal.Status != models.DealStatusDispute {
			return invalidTransition(deal.Status, "вернуть средства можно только по открытому спору")
		}
		if actorID != deal.WorkerID {
			return apperror.New(apperror.ErrCodeBusinessRule, "вернуть средства может только исполнитель")
		}
		if deal.DisputeWorkerDefense != "" {
			return apperror.New(apperror.ErrCodeBusinessRule, "по спору уже подана защита, решение за администратором")
		}
		deal.Status = models.DealStatusCancelled
		deal.DisputeWinner = models.DisputeWinnerClient
		now := time.Now().UTC()
		deal.DisputeResolvedAt = &now
		deal.CancelledAt = &now
		deal.CancelledBy = &actorID
		return nil
	}, func(ctx context.Context, tx *sqlx.Tx, deal *models.Deal) error {
		return s.deals.refundHeld(ctx, tx, deal.ID)
	})
}

// WorkerDefend — исполнитель оспаривает претензию. Сделка остаётся в споре
// и попадает в очередь арбитража администратора.
func (s *DisputeService) WorkerDefend(ctx context.Context, dealID, actorID uuid.UUID, defense string) (*models.Deal, error) {
	if defense == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "текст защиты не может быть пустым")
	}

	return s.deals.mutate(ctx, dealID, actorID, "dispute_defended", "", func(deal *models.Deal) error {
		if deal.Status != models.DealStatusDispute {
			return invalidTransition(deal.Status, "подать защиту можно только по открытому спору")
		}
		if actorID != deal.WorkerID {
			return apperror.New(apperror.ErrCodeBusinessRule, "подать защиту может только исполнитель")
		}
		if deal.DisputeWorkerDefense != "" {
			return apperror.New(apperror.ErrCodeBusinessRule, "защита по спору уже подана")
		}
		deal.DisputeWorkerDefense = defense
		return nil
	})
}

// AdminResolve — арбитраж: администратор назначает победителя спора.
// Победа заказчика возвращает средства и отменяет сделку; победа
// исполнителя захватывает средства и завершает её. Комментарий
// администратора записывается в причину отмены либо в сообщение о
// завершении. Проверка роли администратора выполняется на уровне HTTP.
func (s *DisputeService) AdminResolve(ctx context.Context, dealID, adminID uuid.UUID, winner, comment string) (*models.Deal, error) {
	if winner != models.DisputeWinnerClient && winner != models.DisputeWinnerWorker {
		return nil, apperror.New(apperror.ErrCodeValidation, "победителем может быть только client или worker")
	}

	var result *models.Deal
	err := s.deals.tx.WithinTransaction(ctx, func(tx *sqlx.Tx) error {
		deal, err := s.deals.deals.GetByIDForUpdate(ctx, tx, dealID)
		if err != nil {
			if errors.Is(err, repository.ErrDealNotFound) {
				return apperror.ErrDealNotFound
			}
			return err
		}
		if deal.Status != models.DealStatusDispute {
			return invalidTransition(deal.Status, "рассудить можно только открытый спор")
		}
		if deal.DisputeWorkerDefense == "" {
			return apperror.New(apperror.ErrCodeBusinessRule, "спор ещё ожидает реакции исполнителя")
		}

		now := time.Now().UTC()
		deal.DisputeWinner = winner
		deal.DisputeResolvedAt = &now

		switch winner {
		case models.DisputeWinnerClient:
			deal.Status = models.DealStatusCancelled
			deal.CancelledAt = &now
			if comment != "" {
				deal.CancellationReason = &comment
			}
			if err := s.deals.refundHeld(ctx, tx, deal.ID); err != nil {
				return err
			}
		case models.DisputeWinnerWorker:
			deal.Status = models.DealStatusCompleted
			deal.CompletedAt = &now
			deal.CompletionMessage = comment
			if err := s.deals.captureHeld(ctx, tx, deal.ID); err != nil {
				return err
			}
		}

		if err := s.deals.deals.Update(ctx, tx, deal); err != nil {
			return err
		}
		if err := s.deals.enqueueCard(ctx, tx, deal, adminID, "dispute_resolved", ""); err != nil {
			return err
		}
		result = deal
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"deal_id":  result.ID,
		"winner":   winner,
		"admin_id": adminID,
	}).Info("Спор разрешён администратором")

	return result, nil
}

// ListPendingDisputes возвращает администратору споры, ожидающие арбитража.
func (s *DisputeService) ListPendingDisputes(ctx context.Context) ([]models.Deal, error) {
	return s.deals.deals.ListPendingDisputes(ctx)
}
