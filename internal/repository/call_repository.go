package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Dispositions звонка в журнале.
const (
	DispositionAnswered = "answered"
	DispositionPlayed   = "played"
	DispositionQueued   = "queued"
	DispositionRejected = "rejected"
)

// CallRecord — запись журнала звонков (CDR).
type CallRecord struct {
	ID           uuid.UUID  `db:"id"`
	ChannelID    string     `db:"channel_id"`
	CallerNumber string     `db:"caller_number"`
	Disposition  string     `db:"disposition"`
	StartedAt    time.Time  `db:"started_at"`
	EndedAt      *time.Time `db:"ended_at"`
}

// CallRepository хранит журнал звонков.
type CallRepository interface {
	// Create добавляет запись об отвеченном звонке.
	Create(ctx context.Context, record *CallRecord) error
	// SetDisposition обновляет исход звонка по ID канала.
	SetDisposition(ctx context.Context, channelID, disposition string) error
	// Finish фиксирует завершение звонка.
	Finish(ctx context.Context, channelID string, endedAt time.Time) error
	// ListRecent возвращает последние звонки, новые первыми.
	ListRecent(ctx context.Context, limit int) ([]CallRecord, error)
}

// CooldownRepository ограничивает частоту звонков с одного номера.
type CooldownRepository interface {
	// Touch отмечает звонок с номера. Возвращает true, если номер не был
	// в кулдауне (звонок пропускается), и false, если был.
	Touch(ctx context.Context, number string, ttl time.Duration) (bool, error)
}
