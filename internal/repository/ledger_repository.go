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

var ErrHeldTransactionNotFound = errors.New("held transaction not found")

type LedgerRepository struct {
	db *sqlx.DB
}

func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const transactionColumns = `
	id, deal_id, amount, commission, status, payment_provider,
	external_payment_id, created_at, updated_at
`

// CreateHeld создаёт запись удержания средств в транзакции команды оплаты.
// Частичный уникальный индекс гарантирует не больше одного held на сделку.
func (r *LedgerRepository) CreateHeld(ctx context.Context, tx *sqlx.Tx, t *models.Transaction) error {
	err := tx.GetContext(ctx, t, `
		INSERT INTO transactions (deal_id, amount, commission, status, payment_provider, external_payment_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+transactionColumns,
		t.DealID, t.Amount, t.Commission, t.Status, t.PaymentProvider, t.ExternalPaymentID,
	)
	if err != nil {
		return fmt.Errorf("ledger repository: create held %w", err)
	}
	return nil
}

// GetHeldByDeal читает удержанную запись сделки с блокировкой строки.
func (r *LedgerRepository) GetHeldByDeal(ctx context.Context, tx *sqlx.Tx, dealID uuid.UUID) (*models.Transaction, error) {
	var t models.Transaction
	err := tx.GetContext(ctx, &t, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE deal_id = $1 AND status = $2
		FOR UPDATE
	`, dealID, models.TransactionStatusHeld)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrHeldTransactionNotFound
		}
		return nil, fmt.Errorf("ledger repository: get held %w", err)
	}
	return &t, nil
}

// Finalize переводит удержанную запись в captured или refunded. Условие
// status = held в WHERE не даёт финализировать запись дважды: ноль
// затронутых строк означает нарушение инварианта леджера.
func (r *LedgerRepository) Finalize(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, status string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE transactions SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, status, models.TransactionStatusHeld)
	if err != nil {
		return fmt.Errorf("ledger repository: finalize %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger repository: finalize rows affected %w", err)
	}
	if affected == 0 {
		return ErrHeldTransactionNotFound
	}
	return nil
}

// ListByDeal возвращает историю записей леджера по сделке.
func (r *LedgerRepository) ListByDeal(ctx context.Context, dealID uuid.UUID) ([]models.Transaction, error) {
	var transactions []models.Transaction
	err := r.db.SelectContext(ctx, &transactions, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE deal_id = $1
		ORDER BY created_at
	`, dealID)
	if err != nil {
		return nil, fmt.Errorf("ledger repository: list by deal %w", err)
	}
	return transactions, nil
}
