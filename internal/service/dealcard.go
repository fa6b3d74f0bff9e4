package service

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-backend/internal/domain/valueobject"
	"github.com/ignatzorin/escrow-backend/internal/models"
)

// Человекочитаемые названия статусов для карточки в чате.
var statusTitles = map[string]string{
	models.DealStatusPending:   "Ожидает оплаты",
	models.DealStatusPaid:      "Оплачена, в работе",
	models.DealStatusDelivered: "Работа сдана",
	models.DealStatusDispute:   "Открыт спор",
	models.DealStatusCompleted: "Завершена",
	models.DealStatusCancelled: "Отменена",
}

// DealCardPayload — снимок сделки для карточки в чате. Чат-сервис рисует
// карточку целиком из этого снимка и обновляет её на месте по last_message_id.
type DealCardPayload struct {
	DealID        string          `json:"deal_id"`
	Status        string          `json:"status"`
	StatusTitle   string          `json:"status_title"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Price         string          `json:"price"`
	Commission    string          `json:"commission"`
	Total         string          `json:"total"`
	RevisionCount int             `json:"revision_count"`
	MaxRevisions  int             `json:"max_revisions"`
	ClientID      string          `json:"client_id"`
	WorkerID      string          `json:"worker_id"`
	Caps          models.DealCaps `json:"caps"`

	DisputeClientReason  string `json:"dispute_client_reason,omitempty"`
	DisputeWorkerDefense string `json:"dispute_worker_defense,omitempty"`
	DisputeWinner        string `json:"dispute_winner,omitempty"`
}

// BuildDealCard собирает текст и снимок карточки сделки для уведомления.
func BuildDealCard(deal *models.Deal, commissionRate decimal.Decimal) (string, json.RawMessage, error) {
	commission, total := valueobject.HoldAmounts(deal.Price, commissionRate)

	payload := DealCardPayload{
		DealID:        deal.ID.String(),
		Status:        deal.Status,
		StatusTitle:   statusTitles[deal.Status],
		Title:         deal.Title,
		Description:   deal.Description,
		Price:         deal.Price.StringFixed(2),
		Commission:    commission.StringFixed(2),
		Total:         total.StringFixed(2),
		RevisionCount: deal.RevisionCount,
		MaxRevisions:  deal.MaxRevisions,
		ClientID:      deal.ClientID.String(),
		WorkerID:      deal.WorkerID.String(),
		Caps:          deal.Caps(),

		DisputeClientReason:  deal.DisputeClientReason,
		DisputeWorkerDefense: deal.DisputeWorkerDefense,
		DisputeWinner:        deal.DisputeWinner,
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", nil, fmt.Errorf("marshal deal card: %w", err)
	}

	text := fmt.Sprintf("Сделка «%s»\nСтатус: %s\nК оплате: %s RUB (цена %s + комиссия %s)",
		deal.Title, statusTitles[deal.Status], total.StringFixed(2),
		deal.Price.StringFixed(2), commission.StringFixed(2))

	return text, raw, nil
}
