package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Статусы транзакций леджера
const (
	TransactionStatusPending  = "pending"
	TransactionStatusHeld     = "held"
	TransactionStatusCaptured = "captured"
	TransactionStatusRefunded = "refunded"
)

// PaymentProviderStub — заглушка платёжного провайдера.
// Леджер моделирует hold/capture/refund, реальные расчёты вне ядра.
const PaymentProviderStub = "stub"

// Transaction — запись эскроу-леджера по сделке.
// Запись неизменяема после создания, кроме единственного разрешённого
// перехода статуса: held -> captured либо held -> refunded.
type Transaction struct {
	ID     uuid.UUID `db:"id" json:"id"`
	DealID uuid.UUID `db:"deal_id" json:"deal_id"`

	// Amount = цена + комиссия на момент оплаты; позднейшие изменения цены
	// на захолдированную сумму не влияют.
	Amount     decimal.Decimal `db:"amount" json:"amount"`
	Commission decimal.Decimal `db:"commission" json:"commission"`

	Status string `db:"status" json:"status"`

	PaymentProvider   string  `db:"payment_provider" json:"payment_provider"`
	ExternalPaymentID *string `db:"external_payment_id" json:"external_payment_id,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
