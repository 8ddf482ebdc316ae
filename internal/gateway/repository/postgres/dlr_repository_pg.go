package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cascadetel/smppgw/internal/gateway/domain"
)

type pgDeliveryReceiptRepository struct {
	db *pgxpool.Pool
}

// NewPgDeliveryReceiptRepository creates a PostgreSQL-backed DLR repository.
func NewPgDeliveryReceiptRepository(db *pgxpool.Pool) domain.DeliveryReceiptRepository {
	return &pgDeliveryReceiptRepository{db: db}
}

func (r *pgDeliveryReceiptRepository) Create(ctx context.Context, receipt *domain.DeliveryReceipt) (*domain.DeliveryReceipt, error) {
	if receipt.ReceivedAt.IsZero() {
		receipt.ReceivedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO sms_dlr (message_id, smsc_msg_id, raw_status, received_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		receipt.MessageID, receipt.SMSCMsgID, receipt.RawStatus, receipt.ReceivedAt,
	).Scan(&receipt.ID)
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (r *pgDeliveryReceiptRepository) ListByMessageID(ctx context.Context, messageID int64) ([]*domain.DeliveryReceipt, error) {
	query := `
		SELECT id, message_id, smsc_msg_id, raw_status, received_at
		FROM sms_dlr
		WHERE message_id = $1
		ORDER BY received_at ASC
	`
	rows, err := r.db.Query(ctx, query, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []*domain.DeliveryReceipt
	for rows.Next() {
		rcpt := &domain.DeliveryReceipt{}
		if err := rows.Scan(&rcpt.ID, &rcpt.MessageID, &rcpt.SMSCMsgID, &rcpt.RawStatus, &rcpt.ReceivedAt); err != nil {
			return nil, err
		}
		receipts = append(receipts, rcpt)
	}
	return receipts, rows.Err()
}
