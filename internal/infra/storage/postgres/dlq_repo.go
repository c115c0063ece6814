package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/core/metrics"
)

// DLQRepo implements storage.DeadLetterQueue on PostgreSQL. Rows are insert
// only; this system never updates or deletes them.
type DLQRepo struct {
	db *DB
}

// NewDLQRepo creates a PostgreSQL dead-letter repository.
func NewDLQRepo(db *DB) *DLQRepo {
	return &DLQRepo{db: db}
}

// Append inserts one dead-lettered record.
func (r *DLQRepo) Append(ctx context.Context, rec *domain.DLQRecord) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("encode dlq payload: %w", err)
	}

	query := `
		INSERT INTO dlq_events (tenant, event, message_id, retry_count, error_msg, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, to_timestamp($7))
	`
	_, err = r.db.ExecContext(
		ctx,
		query,
		rec.Tenant,
		rec.Event,
		rec.MessageID,
		rec.RetryCount,
		rec.Error,
		payload,
		rec.TS,
	)
	if err != nil {
		return fmt.Errorf("insert dlq record: %w", err)
	}
	metrics.DLQAppendsTotal.Inc()
	return nil
}
