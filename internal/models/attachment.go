package models

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryAttachment описывает файл, приложенный исполнителем при сдаче работы.
type DeliveryAttachment struct {
	ID          uuid.UUID `db:"id" json:"id"`
	DealID      uuid.UUID `db:"deal_id" json:"deal_id"`
	Filename    string    `db:"filename" json:"filename"`
	StoragePath string    `db:"storage_path" json:"storage_path"`
	FileSize    int64     `db:"file_size" json:"file_size"`
	ContentType string    `db:"content_type" json:"content_type"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
