package dto

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-backend/internal/models"
)

// ErrorResponse — стандартный формат ошибки API.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	// ExistingDealID заполняется для кода ACTIVE_DEAL_EXISTS.
	ExistingDealID *uuid.UUID `json:"existing_deal_id,omitempty"`
}

// SuccessResponse — стандартный формат успешного ответа с сообщением.
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// CreateDealRequest — запрос на создание сделки. Роли сторон выводятся из
// роли автора в токене: заказчик создаёт сделку с исполнителем и наоборот.
type CreateDealRequest struct {
	ChatRoomID    uuid.UUID       `json:"chat_room_id" binding:"required"`
	CounterpartID uuid.UUID       `json:"counterpart_id" binding:"required"`
	Title         string          `json:"title" binding:"required"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price" binding:"required"`
}

// UpdatePriceRequest — запрос на изменение цены до оплаты.
type UpdatePriceRequest struct {
	Price decimal.Decimal `json:"price" binding:"required"`
}

// CompleteDealRequest — запрос на приёмку работы. Приёмка всегда
// сопровождается оценкой исполнителя.
type CompleteDealRequest struct {
	Message string  `json:"message"`
	Rating  int     `json:"rating" binding:"required,min=1,max=5"`
	Comment *string `json:"comment"`
}

// CancelDealRequest — запрос на отмену сделки.
type CancelDealRequest struct {
	Reason string `json:"reason"`
}

// OpenDisputeRequest — запрос заказчика на открытие спора.
type OpenDisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// DefendDisputeRequest — защита исполнителя по спору.
type DefendDisputeRequest struct {
	Defense string `json:"defense" binding:"required"`
}

// RequestRevisionRequest — запрос доработки с необязательной причиной.
type RequestRevisionRequest struct {
	Reason string `json:"reason"`
}

// ResolveDisputeRequest — решение администратора по спору.
type ResolveDisputeRequest struct {
	Winner  string `json:"winner" binding:"required"`
	Comment string `json:"comment"`
}

// DealResponse — сделка вместе с производными разрешениями.
type DealResponse struct {
	*models.Deal
	Caps models.DealCaps `json:"caps"`
}

// NewDealResponse собирает ответ по сделке.
func NewDealResponse(deal *models.Deal) DealResponse {
	return DealResponse{Deal: deal, Caps: deal.Caps()}
}

// NewDealListResponse собирает список ответов по сделкам.
func NewDealListResponse(deals []models.Deal) []DealResponse {
	out := make([]DealResponse, 0, len(deals))
	for i := range deals {
		out = append(out, NewDealResponse(&deals[i]))
	}
	return out
}
