package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Client — HTTP-клиент внешнего чат-сервиса. Доставка карточек сделок
// best-effort: вызывающая сторона сама решает, что делать с ошибкой,
// бизнес-переходы от чата не зависят.
type Client struct {
	baseURL      string
	serviceToken string
	httpClient   *http.Client
}

func NewClient(baseURL, serviceToken string, timeout time.Duration) *Client {
	return &Client{
		baseURL:      baseURL,
		serviceToken: serviceToken,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// DealMessageRequest — тело запроса на отправку карточки сделки в комнату.
// UpdateMessageID заставляет чат обновить существующее сообщение на месте
// вместо отправки нового.
type DealMessageRequest struct {
	SenderID        uuid.UUID       `json:"sender_id"`
	MessageType     string          `json:"message_type"`
	Text            string          `json:"text"`
	Payload         json.RawMessage `json:"payload"`
	UpdateMessageID *uuid.UUID      `json:"update_message_id,omitempty"`
}

type dealMessageResponse struct {
	MessageID uuid.UUID `json:"message_id"`
}

// SendDealMessage отправляет или обновляет карточку сделки в комнате чата
// и возвращает идентификатор сообщения для последующих обновлений.
func (c *Client) SendDealMessage(ctx context.Context, roomID uuid.UUID, req DealMessageRequest) (uuid.UUID, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return uuid.Nil, fmt.Errorf("chat client: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat/rooms/%s/deal_message", c.baseURL, roomID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return uuid.Nil, fmt.Errorf("chat client: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.serviceToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.serviceToken)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return uuid.Nil, fmt.Errorf("chat client: send deal message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return uuid.Nil, fmt.Errorf("chat client: status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed dealMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return uuid.Nil, fmt.Errorf("chat client: decode response: %w", err)
	}
	return parsed.MessageID, nil
}
