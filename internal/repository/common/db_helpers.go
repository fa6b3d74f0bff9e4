package common

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// TxManager оборачивает запуск транзакций базы. Сервисы зависят от него
// через интерфейс, что позволяет подменять транзакции в тестах.
type TxManager struct {
	db *sqlx.DB
}

func NewTxManager(db *sqlx.DB) *TxManager {
	return &TxManager{db: db}
}

// WithinTransaction выполняет fn в транзакции: commit при успехе, rollback
// при ошибке или панике.
func (m *TxManager) WithinTransaction(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
