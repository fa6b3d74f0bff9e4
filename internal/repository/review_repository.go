package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/escrow-backend/internal/models"
)

var ErrReviewNotFound = errors.New("review not found")

type ReviewRepository struct {
	db *sqlx.DB
}

func NewReviewRepository(db *sqlx.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// Create сохраняет отзыв в транзакции завершения сделки.
func (r *ReviewRepository) Create(ctx context.Context, tx *sqlx.Tx, review *models.Review) error {
	err := tx.GetContext(ctx, review, `
		INSERT INTO reviews (deal_id, reviewer_id, reviewee_id, rating, comment)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, deal_id, reviewer_id, reviewee_id, rating, comment, created_at
	`, review.DealID, review.ReviewerID, review.RevieweeID, review.Rating, review.Comment)
	if err != nil {
		return fmt.Errorf("review repository: create %w", err)
	}
	return nil
}

// GetByDealID возвращает отзыв по сделке; отзыв на сделку один.
func (r *ReviewRepository) GetByDealID(ctx context.Context, dealID uuid.UUID) (*models.Review, error) {
	var review models.Review
	err := r.db.GetContext(ctx, &review, `
		SELECT id, deal_id, reviewer_id, reviewee_id, rating, comment, created_at
		FROM reviews WHERE deal_id = $1
	`, dealID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReviewNotFound
		}
		return nil, fmt.Errorf("review repository: get by deal %w", err)
	}
	return &review, nil
}

// ListByReviewee возвращает отзывы о пользователе, свежие первыми.
func (r *ReviewRepository) ListByReviewee(ctx context.Context, revieweeID uuid.UUID, limit, offset int) ([]models.Review, error) {
	var reviews []models.Review
	err := r.db.SelectContext(ctx, &reviews, `
		SELECT id, deal_id, reviewer_id, reviewee_id, rating, comment, created_at
		FROM reviews
		WHERE reviewee_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, revieweeID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("review repository: list by reviewee %w", err)
	}
	return reviews, nil
}

// GetRatingSummary возвращает средний рейтинг и количество отзывов.
func (r *ReviewRepository) GetRatingSummary(ctx context.Context, revieweeID uuid.UUID) (float64, int, error) {
	var summary struct {
		Average sql.NullFloat64 `db:"average"`
		Count   int             `db:"count"`
	}
	err := r.db.GetContext(ctx, &summary, `
		SELECT AVG(rating) AS average, COUNT(*) AS count
		FROM reviews WHERE reviewee_id = $1
	`, revieweeID)
	if err != nil {
		return 0, 0, fmt.Errorf("review repository: rating summary %w", err)
	}
	return summary.Average.Float64, summary.Count, nil
}
