package valueobject

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
)

// Money — денежная сумма в фиксированной точке (два знака после запятой).
// Вся арифметика идёт через decimal: float здесь запрещён, чтобы не терять копейки.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	if amount.IsNegative() {
		return Money{}, apperror.New(apperror.ErrCodeValidation, "сумма не может быть отрицательной")
	}
	if currency == "" {
		currency = "RUB"
	}
	return Money{Amount: amount.Round(2), Currency: currency}, nil
}

// NewPrice валидирует цену сделки: строго больше нуля.
func NewPrice(amount decimal.Decimal) (Money, error) {
	if !amount.IsPositive() {
		return Money{}, apperror.New(apperror.ErrCodeValidation, "цена должна быть положительной")
	}
	return Money{Amount: amount.Round(2), Currency: "RUB"}, nil
}

// Commission считает комиссию площадки от цены по заданной ставке.
func (m Money) Commission(rate decimal.Decimal) Money {
	return Money{Amount: m.Amount.Mul(rate).Round(2), Currency: m.Currency}
}

// Add возвращает сумму двух значений в той же валюте.
func (m Money) Add(other Money) Money {
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}
}

func (m Money) Equal(other Money) bool {
	return m.Amount.Equal(other.Amount) && m.Currency == other.Currency
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(2), m.Currency)
}

// HoldAmounts раскладывает цену на комиссию и итог к холдированию.
// Комиссия добавляется сверху цены: total = price + price*rate.
func HoldAmounts(price, rate decimal.Decimal) (commission, total decimal.Decimal) {
	commission = price.Mul(rate).Round(2)
	total = price.Add(commission)
	return commission, total
}
