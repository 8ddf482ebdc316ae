package postgres

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cascadetel/smppgw/internal/gateway/domain"
)

const outboundColumns = `
	id, request_id, client_msg_id, smsc_msg_id, msisdn, source_addr, body, encoding,
	priority, operator, session_id, status, retry_count, next_retry_at, last_attempt_at,
	submit_status, submit_error, submit_latency_ms, created_at, updated_at, sent_at`

type pgOutboundMessageRepository struct {
	db *pgxpool.Pool
}

// NewPgOutboundMessageRepository creates a PostgreSQL-backed message repository.
func NewPgOutboundMessageRepository(db *pgxpool.Pool) domain.OutboundMessageRepository {
	return &pgOutboundMessageRepository{db: db}
}

func (r *pgOutboundMessageRepository) Create(ctx context.Context, msg *domain.OutboundMessage) (*domain.OutboundMessage, error) {
	now := time.Now().UTC()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	if msg.Status == "" {
		msg.Status = domain.StatusQueued
	}

	// client_msg_id carries a unique index; NULLs never conflict, so only
	// idempotency-keyed submissions race here.
	query := `
		INSERT INTO sms_outbound (
			request_id, client_msg_id, msisdn, source_addr, body, encoding, priority,
			operator, session_id, status, retry_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (client_msg_id) DO NOTHING
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		msg.RequestID, msg.ClientMsgID, msg.Msisdn, msg.SourceAddr, msg.Body, msg.Encoding,
		msg.Priority, msg.Operator, msg.SessionID, msg.Status, msg.RetryCount,
		msg.CreatedAt, msg.UpdatedAt,
	).Scan(&msg.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDuplicateClientMsgID
		}
		return nil, err
	}
	return msg, nil
}

func scanOutbound(row pgx.Row) (*domain.OutboundMessage, error) {
	msg := &domain.OutboundMessage{}
	err := row.Scan(
		&msg.ID, &msg.RequestID, &msg.ClientMsgID, &msg.SMSCMsgID, &msg.Msisdn, &msg.SourceAddr,
		&msg.Body, &msg.Encoding, &msg.Priority, &msg.Operator, &msg.SessionID, &msg.Status,
		&msg.RetryCount, &msg.NextRetryAt, &msg.LastAttemptAt,
		&msg.SubmitStatus, &msg.SubmitError, &msg.SubmitLatencyMs,
		&msg.CreatedAt, &msg.UpdatedAt, &msg.SentAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, err
	}
	return msg, nil
}

func (r *pgOutboundMessageRepository) getOne(ctx context.Context, where string, arg any) (*domain.OutboundMessage, error) {
	query := `SELECT ` + outboundColumns + ` FROM sms_outbound WHERE ` + where
	return scanOutbound(r.db.QueryRow(ctx, query, arg))
}

func (r *pgOutboundMessageRepository) GetByID(ctx context.Context, id int64) (*domain.OutboundMessage, error) {
	return r.getOne(ctx, "id = $1", id)
}

func (r *pgOutboundMessageRepository) GetByRequestID(ctx context.Context, requestID string) (*domain.OutboundMessage, error) {
	return r.getOne(ctx, "request_id = $1", requestID)
}

func (r *pgOutboundMessageRepository) GetByClientMsgID(ctx context.Context, clientMsgID string) (*domain.OutboundMessage, error) {
	return r.getOne(ctx, "client_msg_id = $1", clientMsgID)
}

func (r *pgOutboundMessageRepository) GetBySMSCMsgID(ctx context.Context, smscMsgID string) (*domain.OutboundMessage, error) {
	return r.getOne(ctx, "smsc_msg_id = $1", smscMsgID)
}

func (r *pgOutboundMessageRepository) queryMany(ctx context.Context, query string, args ...any) ([]*domain.OutboundMessage, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*domain.OutboundMessage
	for rows.Next() {
		msg, err := scanOutbound(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func (r *pgOutboundMessageRepository) ListByMsisdn(ctx context.Context, msisdn string) ([]*domain.OutboundMessage, error) {
	query := `SELECT ` + outboundColumns + ` FROM sms_outbound WHERE msisdn = $1 ORDER BY created_at DESC`
	return r.queryMany(ctx, query, msisdn)
}

// ClaimQueued claims a batch in a single statement: the subselect locks the
// rows against concurrent claimers and the update stamps last_attempt_at,
// which keeps them out of the next tick's scan for the lease window.
func (r *pgOutboundMessageRepository) ClaimQueued(ctx context.Context, sessionID string, priority domain.Priority, limit int) ([]*domain.OutboundMessage, error) {
	now := time.Now().UTC()
	query := `
		UPDATE sms_outbound
		SET last_attempt_at = $5
		WHERE id IN (
			SELECT id FROM sms_outbound
			WHERE status = $1 AND session_id = $2 AND priority = $3
			  AND (last_attempt_at IS NULL OR last_attempt_at < $6)
			ORDER BY created_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + outboundColumns
	msgs, err := r.queryMany(ctx, query, domain.StatusQueued, sessionID, priority, limit,
		now, now.Add(-domain.ClaimLease))
	if err != nil {
		return nil, err
	}
	// RETURNING order is undefined.
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
	return msgs, nil
}

func (r *pgOutboundMessageRepository) MarkSent(ctx context.Context, id int64, smscMsgID string, latency time.Duration) error {
	now := time.Now().UTC()
	query := `
		UPDATE sms_outbound
		SET status = $2, smsc_msg_id = $3, sent_at = $4, last_attempt_at = $4,
		    submit_latency_ms = $5, updated_at = $4
		WHERE id = $1 AND smsc_msg_id IS NULL
	`
	tag, err := r.db.Exec(ctx, query, id, domain.StatusSent, smscMsgID, now, latency.Milliseconds())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

func (r *pgOutboundMessageRepository) MarkRetry(ctx context.Context, id int64, attempt int, nextRetryAt time.Time, statusCode *uint32, errText string) error {
	now := time.Now().UTC()
	query := `
		UPDATE sms_outbound
		SET status = $2, retry_count = $3, next_retry_at = $4, last_attempt_at = $5,
		    submit_status = $6, submit_error = $7, updated_at = $5
		WHERE id = $1 AND status <> $8
	`
	tag, err := r.db.Exec(ctx, query, id, domain.StatusRetry, attempt, nextRetryAt.UTC(), now,
		statusCode, errText, domain.StatusSent)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

func (r *pgOutboundMessageRepository) MarkFailed(ctx context.Context, id int64, statusCode *uint32, reason string) error {
	now := time.Now().UTC()
	query := `
		UPDATE sms_outbound
		SET status = $2, submit_status = COALESCE($3, submit_status), submit_error = $4,
		    next_retry_at = NULL, updated_at = $5
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, domain.StatusFailed, statusCode, reason, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

func (r *pgOutboundMessageRepository) Requeue(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	query := `
		UPDATE sms_outbound
		SET status = $2, next_retry_at = NULL, last_attempt_at = NULL, updated_at = $3
		WHERE id = $1 AND status = $4
	`
	tag, err := r.db.Exec(ctx, query, id, domain.StatusQueued, now, domain.StatusRetry)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

func (r *pgOutboundMessageRepository) RetryDue(ctx context.Context, operator string, before time.Time, limit int) ([]*domain.OutboundMessage, error) {
	query := `
		SELECT ` + outboundColumns + `
		FROM sms_outbound
		WHERE status = $1 AND operator = $2 AND next_retry_at < $3
		ORDER BY next_retry_at ASC
		LIMIT $4
	`
	return r.queryMany(ctx, query, domain.StatusRetry, operator, before.UTC(), limit)
}

func (r *pgOutboundMessageRepository) OperatorsWithRetry(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT operator FROM sms_outbound
		WHERE status = $1 AND operator <> ''
	`
	rows, err := r.db.Query(ctx, query, domain.StatusRetry)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var operators []string
	for rows.Next() {
		var op string
		if err := rows.Scan(&op); err != nil {
			return nil, err
		}
		operators = append(operators, op)
	}
	return operators, rows.Err()
}

func (r *pgOutboundMessageRepository) RetryDepths(ctx context.Context) (map[string]int64, error) {
	query := `
		SELECT operator, COUNT(*) FROM sms_outbound
		WHERE status = $1 AND operator <> ''
		GROUP BY operator
	`
	rows, err := r.db.Query(ctx, query, domain.StatusRetry)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	depths := make(map[string]int64)
	for rows.Next() {
		var op string
		var n int64
		if err := rows.Scan(&op, &n); err != nil {
			return nil, err
		}
		depths[op] = n
	}
	return depths, rows.Err()
}

func (r *pgOutboundMessageRepository) QueuedBySession(ctx context.Context, sessionID string, limit int) ([]*domain.OutboundMessage, error) {
	query := `
		SELECT ` + outboundColumns + `
		FROM sms_outbound
		WHERE status = $1 AND session_id = $2
		ORDER BY created_at ASC
		LIMIT $3
	`
	return r.queryMany(ctx, query, domain.StatusQueued, sessionID, limit)
}

func (r *pgOutboundMessageRepository) ReassignSessions(ctx context.Context, assignments map[int64]string) error {
	if len(assignments) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	now := time.Now().UTC()
	query := `
		UPDATE sms_outbound SET session_id = $2, updated_at = $3
		WHERE id = $1 AND status = $4
	`
	for id, sessionID := range assignments {
		batch.Queue(query, id, sessionID, now, domain.StatusQueued)
	}
	return r.db.SendBatch(ctx, batch).Close()
}

func (r *pgOutboundMessageRepository) DelayedQueued(ctx context.Context, before time.Time, limit int) ([]*domain.OutboundMessage, error) {
	query := `
		SELECT ` + outboundColumns + `
		FROM sms_outbound
		WHERE status = $1 AND created_at < $2 AND priority <> $3
		ORDER BY created_at ASC
		LIMIT $4
	`
	return r.queryMany(ctx, query, domain.StatusQueued, before.UTC(), domain.PriorityHigh, limit)
}

func (r *pgOutboundMessageRepository) EscalatePriority(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	query := `UPDATE sms_outbound SET priority = $2, updated_at = $3 WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, domain.PriorityHigh, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

func (r *pgOutboundMessageRepository) UpdateDeliveryStatus(ctx context.Context, id int64, status domain.MessageStatus) error {
	now := time.Now().UTC()
	query := `UPDATE sms_outbound SET status = $2, updated_at = $3 WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, status, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

func (r *pgOutboundMessageRepository) CountsByStatus(ctx context.Context) (map[domain.MessageStatus]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM sms_outbound GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.MessageStatus]int64)
	for rows.Next() {
		var status domain.MessageStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
