package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cascadetel/smppgw/internal/gateway/domain"
)

type pgDelayLogRepository struct {
	db *pgxpool.Pool
}

// NewPgDelayLogRepository creates a PostgreSQL-backed delayed-message log repository.
func NewPgDelayLogRepository(db *pgxpool.Pool) domain.DelayLogRepository {
	return &pgDelayLogRepository{db: db}
}

func (r *pgDelayLogRepository) Create(ctx context.Context, entry *domain.DelayedMessageLog) (*domain.DelayedMessageLog, error) {
	query := `
		INSERT INTO delayed_message_log (
			message_id, msisdn, entry_time, exit_time, duration_seconds, status, reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		entry.MessageID, entry.Msisdn, entry.EntryTime, entry.ExitTime,
		entry.DurationSeconds, entry.Status, entry.Reason,
	).Scan(&entry.ID)
	if err != nil {
		return nil, err
	}
	return entry, nil
}
