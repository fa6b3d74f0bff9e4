package models

import (
	"time"

	"github.com/google/uuid"
)

// Review — отзыв клиента об исполнителе, создаётся ровно один раз
// при завершении сделки.
type Review struct {
	ID         uuid.UUID `db:"id" json:"id"`
	DealID     uuid.UUID `db:"deal_id" json:"deal_id"`
	ReviewerID uuid.UUID `db:"reviewer_id" json:"reviewer_id"`
	RevieweeID uuid.UUID `db:"reviewee_id" json:"reviewee_id"`
	Rating     int       `db:"rating" json:"rating"`
	Comment    *string   `db:"comment" json:"comment,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
