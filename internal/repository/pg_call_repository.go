package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Compile-time check to ensure implementation satisfies the interface.
var _ CallRepository = (*pgCallRepository)(nil)

type pgCallRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPgCallRepository создает репозиторий журнала звонков поверх PostgreSQL.
func NewPgCallRepository(pool *pgxpool.Pool, logger *zap.Logger) CallRepository {
	return &pgCallRepository{
		pool:   pool,
		logger: logger.Named("PgCallRepo"),
	}
}

const insertCallQuery = `
INSERT INTO calls (id, channel_id, caller_number, disposition, started_at, ended_at)
VALUES ($1, $2, $3, $4, $5, $6)`

const setDispositionQuery = `
UPDATE calls SET disposition = $2
WHERE channel_id = $1 AND ended_at IS NULL`

const finishCallQuery = `
UPDATE calls SET ended_at = $2
WHERE channel_id = $1 AND ended_at IS NULL`

const listRecentCallsQuery = `
SELECT id, channel_id, caller_number, disposition, started_at, ended_at
FROM calls
ORDER BY started_at DESC
LIMIT $1`

func (r *pgCallRepository) Create(ctx context.Context, record *CallRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.StartedAt.IsZero() {
		record.StartedAt = time.Now()
	}
	if record.Disposition == "" {
		record.Disposition = DispositionAnswered
	}

	_, err := r.pool.Exec(ctx, insertCallQuery,
		record.ID, record.ChannelID, record.CallerNumber, record.Disposition, record.StartedAt, record.EndedAt)
	if err != nil {
		r.logger.Error("Failed to insert call record",
			zap.String("channel_id", record.ChannelID), zap.Error(err))
		return fmt.Errorf("failed to insert call record: %w", err)
	}
	return nil
}

func (r *pgCallRepository) SetDisposition(ctx context.Context, channelID, disposition string) error {
	tag, err := r.pool.Exec(ctx, setDispositionQuery, channelID, disposition)
	if err != nil {
		r.logger.Error("Failed to update call disposition",
			zap.String("channel_id", channelID), zap.Error(err))
		return fmt.Errorf("failed to update call disposition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Warn("No open call record for disposition update",
			zap.String("channel_id", channelID), zap.String("disposition", disposition))
	}
	return nil
}

func (r *pgCallRepository) Finish(ctx context.Context, channelID string, endedAt time.Time) error {
	_, err := r.pool.Exec(ctx, finishCallQuery, channelID, endedAt)
	if err != nil {
		r.logger.Error("Failed to finish call record",
			zap.String("channel_id", channelID), zap.Error(err))
		return fmt.Errorf("failed to finish call record: %w", err)
	}
	return nil
}

func (r *pgCallRepository) ListRecent(ctx context.Context, limit int) ([]CallRecord, error) {
	var records []CallRecord
	err := pgxscan.Select(ctx, r.pool, &records, listRecentCallsQuery, limit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to list recent calls", zap.Error(err))
		return nil, fmt.Errorf("failed to list recent calls: %w", err)
	}
	return records, nil
}
