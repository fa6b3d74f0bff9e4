package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/repository"
)

type ReviewReader interface {
	GetByDealID(ctx context.Context, dealID uuid.UUID) (*models.Review, error)
	ListByReviewee(ctx context.Context, revieweeID uuid.UUID, limit, offset int) ([]models.Review, error)
	GetRatingSummary(ctx context.Context, revieweeID uuid.UUID) (float64, int, error)
}

// ReviewService читает отзывы. Создание отзыва не отдельная операция:
// отзыв пишется в транзакции завершения сделки.
type ReviewService struct {
	repo ReviewReader
}

func NewReviewService(repo ReviewReader) *ReviewService {
	return &ReviewService{repo: repo}
}

// GetDealReview возвращает отзыв по сделке.
func (s *ReviewService) GetDealReview(ctx context.Context, dealID uuid.UUID) (*models.Review, error) {
	review, err := s.repo.GetByDealID(ctx, dealID)
	if err != nil {
		if errors.Is(err, repository.ErrReviewNotFound) {
			return nil, apperror.ErrReviewNotFound
		}
		return nil, err
	}
	return review, nil
}

// ListUserReviews возвращает отзывы о пользователе.
func (s *ReviewService) ListUserReviews(ctx context.Context, revieweeID uuid.UUID, limit, offset int) ([]models.Review, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListByReviewee(ctx, revieweeID, limit, offset)
}

// RatingSummary — средняя оценка и количество отзывов пользователя.
type RatingSummary struct {
	AverageRating float64 `json:"average_rating"`
	ReviewCount   int     `json:"review_count"`
}

// GetUserRating возвращает сводку рейтинга пользователя.
func (s *ReviewService) GetUserRating(ctx context.Context, userID uuid.UUID) (*RatingSummary, error) {
	avg, count, err := s.repo.GetRatingSummary(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &RatingSummary{AverageRating: avg, ReviewCount: count}, nil
}
