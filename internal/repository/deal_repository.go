package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ignatzorin/escrow-backend/internal/models"
)

var (
	ErrDealNotFound       = errors.New("deal not found")
	ErrAttachmentNotFound = errors.New("attachment not found")
)

// uniqueViolation — код ошибки PostgreSQL для нарушения уникальности.
const uniqueViolation = "23505"

// activeDealPairConstraint — частичный уникальный индекс "одна активная
// сделка на пару"; имя должно совпадать с миграцией.
const activeDealPairConstraint = "unique_active_deal_per_pair"

// ActiveDealConflictError возвращается при попытке создать вторую активную
// сделку для той же пары (клиент, исполнитель). Несёт идентификатор уже
// существующей сделки, чтобы сервис вернул его вызывающему.
type ActiveDealConflictError struct {
	ExistingDealID uuid.UUID
}

func (e *ActiveDealConflictError) Error() string {
	return fmt.Sprintf("active deal already exists: %s", e.ExistingDealID)
}

type DealRepository struct {
	db *sqlx.DB
}

func NewDealRepository(db *sqlx.DB) *DealRepository {
	return &DealRepository{db: db}
}

const dealColumns = `
	id, chat_room_id, client_id, worker_id, title, description, price, status,
	revision_count, max_revisions, delivery_message, completion_message,
	cancellation_reason, cancelled_by, dispute_client_reason,
	dispute_worker_defense, dispute_created_at, dispute_resolved_at,
	dispute_winner, last_message_id, created_at, paid_at, delivered_at,
	completed_at, cancelled_at, updated_at
`

// Create проверяет отсутствие активной сделки для пары и создаёт новую в
// рамках транзакции команды. Проверка идёт с блокировкой найденной строки;
// гонку параллельных вставок ловит частичный уникальный индекс, и она
// конвертируется в тот же бизнес-отказ, а не в сырую ошибку базы.
func (r *DealRepository) Create(ctx context.Context, tx *sqlx.Tx, deal *models.Deal) error {
	// Проверяем активный слот пары с блокировкой существующей строки.
	var existingID uuid.UUID
	err := tx.GetContext(ctx, &existingID, `
		SELECT id FROM deals
		WHERE client_id = $1 AND worker_id = $2
		  AND status = ANY($3)
		FOR UPDATE
	`, deal.ClientID, deal.WorkerID, pq.Array(models.ActiveDealStatuses))
	if err == nil {
		return &ActiveDealConflictError{ExistingDealID: existingID}
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("deal repository: check active pair %w", err)
	}

	err = tx.GetContext(ctx, deal, `
		INSERT INTO deals (chat_room_id, client_id, worker_id, title, description, price, status, max_revisions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+dealColumns,
		deal.ChatRoomID, deal.ClientID, deal.WorkerID,
		deal.Title, deal.Description, deal.Price, deal.Status, deal.MaxRevisions,
	)
	if err != nil {
		if isActivePairViolation(err) {
			// Параллельная вставка успела раньше: находим победителя гонки
			// отдельным соединением, транзакция команды уже прервана.
			return r.conflictWithExisting(ctx, deal.ClientID, deal.WorkerID)
		}
		return fmt.Errorf("deal repository: insert deal %w", err)
	}

	return nil
}

// conflictWithExisting подбирает id сделки, выигравшей гонку создания.
func (r *DealRepository) conflictWithExisting(ctx context.Context, clientID, workerID uuid.UUID) error {
	var existingID uuid.UUID
	err := r.db.GetContext(ctx, &existingID, `
		SELECT id FROM deals
		WHERE client_id = $1 AND worker_id = $2
		  AND status = ANY($3)
	`, clientID, workerID, pq.Array(models.ActiveDealStatuses))
	if err != nil {
		return fmt.Errorf("deal repository: resolve create race %w", err)
	}
	return &ActiveDealConflictError{ExistingDealID: existingID}
}

func isActivePairViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == uniqueViolation && pqErr.Constraint == activeDealPairConstraint
}

// GetByID возвращает сделку по идентификатору.
func (r *DealRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	var deal models.Deal
	err := r.db.GetContext(ctx, &deal, `SELECT `+dealColumns+` FROM deals WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDealNotFound
		}
		return nil, fmt.Errorf("deal repository: get by id %w", err)
	}
	return &deal, nil
}

// GetByIDForUpdate читает сделку с эксклюзивной блокировкой строки.
// Все мутации одной сделки сериализуются через эту блокировку до конца
// транзакции команды.
func (r *DealRepository) GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*models.Deal, error) {
	var deal models.Deal
	err := tx.GetContext(ctx, &deal, `SELECT `+dealColumns+` FROM deals WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDealNotFound
		}
		return nil, fmt.Errorf("deal repository: get for update %w", err)
	}
	return &deal, nil
}

// Update сохраняет изменяемые поля сделки внутри транзакции команды.
func (r *DealRepository) Update(ctx context.Context, tx *sqlx.Tx, deal *models.Deal) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE deals SET
			title = $2,
			description = $3,
			price = $4,
			status = $5,
			revision_count = $6,
			max_revisions = $7,
			delivery_message = $8,
			completion_message = $9,
			cancellation_reason = $10,
			cancelled_by = $11,
			dispute_client_reason = $12,
			dispute_worker_defense = $13,
			dispute_created_at = $14,
			dispute_resolved_at = $15,
			dispute_winner = $16,
			paid_at = $17,
			delivered_at = $18,
			completed_at = $19,
			cancelled_at = $20,
			updated_at = NOW()
		WHERE id = $1
	`,
		deal.ID, deal.Title, deal.Description, deal.Price, deal.Status,
		deal.RevisionCount, deal.MaxRevisions, deal.DeliveryMessage,
		deal.CompletionMessage, deal.CancellationReason, deal.CancelledBy,
		deal.DisputeClientReason, deal.DisputeWorkerDefense,
		deal.DisputeCreatedAt, deal.DisputeResolvedAt, deal.DisputeWinner,
		deal.PaidAt, deal.DeliveredAt, deal.CompletedAt, deal.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("deal repository: update deal %w", err)
	}
	return nil
}

// SetLastMessageID запоминает id карточки в чате для обновления на месте.
// Вызывается диспетчером уведомлений вне транзакции команды.
func (r *DealRepository) SetLastMessageID(ctx context.Context, dealID, messageID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE deals SET last_message_id = $2, updated_at = NOW() WHERE id = $1`,
		dealID, messageID)
	if err != nil {
		return fmt.Errorf("deal repository: set last message id %w", err)
	}
	return nil
}

// ListByUser возвращает сделки, где пользователь клиент или исполнитель.
func (r *DealRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Deal, error) {
	var deals []models.Deal
	err := r.db.SelectContext(ctx, &deals, `
		SELECT `+dealColumns+` FROM deals
		WHERE client_id = $1 OR worker_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("deal repository: list by user %w", err)
	}
	return deals, nil
}

// ListByChatRoom возвращает сделки комнаты с участием пользователя.
// Комната не уникальна: исторических сделок у одного чата может быть много.
func (r *DealRepository) ListByChatRoom(ctx context.Context, chatRoomID, userID uuid.UUID) ([]models.Deal, error) {
	var deals []models.Deal
	err := r.db.SelectContext(ctx, &deals, `
		SELECT `+dealColumns+` FROM deals
		WHERE chat_room_id = $1 AND (client_id = $2 OR worker_id = $2)
		ORDER BY created_at DESC
	`, chatRoomID, userID)
	if err != nil {
		return nil, fmt.Errorf("deal repository: list by chat room %w", err)
	}
	return deals, nil
}

// ListPendingDisputes возвращает споры, ожидающие решения администратора:
// защита подана, победитель ещё не назначен.
func (r *DealRepository) ListPendingDisputes(ctx context.Context) ([]models.Deal, error) {
	var deals []models.Deal
	err := r.db.SelectContext(ctx, &deals, `
		SELECT `+dealColumns+` FROM deals
		WHERE status = $1 AND dispute_worker_defense <> '' AND dispute_winner = ''
		ORDER BY dispute_created_at DESC
	`, models.DealStatusDispute)
	if err != nil {
		return nil, fmt.Errorf("deal repository: list pending disputes %w", err)
	}
	return deals, nil
}

// CreateDeliveryAttachment сохраняет метаданные файла сдачи в транзакции команды.
func (r *DealRepository) CreateDeliveryAttachment(ctx context.Context, tx *sqlx.Tx, a *models.DeliveryAttachment) error {
	err := tx.GetContext(ctx, a, `
		INSERT INTO deal_delivery_attachments (deal_id, filename, storage_path, file_size, content_type)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, deal_id, filename, storage_path, file_size, content_type, created_at
	`, a.DealID, a.Filename, a.StoragePath, a.FileSize, a.ContentType)
	if err != nil {
		return fmt.Errorf("deal repository: create delivery attachment %w", err)
	}
	return nil
}

// ListDeliveryAttachments возвращает файлы сдачи по сделке.
func (r *DealRepository) ListDeliveryAttachments(ctx context.Context, dealID uuid.UUID) ([]models.DeliveryAttachment, error) {
	var attachments []models.DeliveryAttachment
	err := r.db.SelectContext(ctx, &attachments, `
		SELECT id, deal_id, filename, storage_path, file_size, content_type, created_at
		FROM deal_delivery_attachments
		WHERE deal_id = $1
		ORDER BY created_at
	`, dealID)
	if err != nil {
		return nil, fmt.Errorf("deal repository: list delivery attachments %w", err)
	}
	return attachments, nil
}
