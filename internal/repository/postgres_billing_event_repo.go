package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/strmonitor/internal/model"
)

// PostgresBillingEventRepo はPostgreSQLを使用した決済イベント台帳リポジトリ。
type PostgresBillingEventRepo struct {
	db *sql.DB
}

// NewPostgresBillingEventRepo はPostgresBillingEventRepoを生成する。
func NewPostgresBillingEventRepo(db *sql.DB) *PostgresBillingEventRepo {
	return &PostgresBillingEventRepo{db: db}
}

// Record はイベントを台帳に記録する。
// ON CONFLICTで既存行を返すため、再送されたイベントも1行に集約される。
func (r *PostgresBillingEventRepo) Record(ctx context.Context, event *model.BillingEvent) (bool, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var processedAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO billing_events (id, provider, provider_event_id, event_type, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (provider, provider_event_id) DO UPDATE SET event_type = EXCLUDED.event_type
		 RETURNING id, processed_at`,
		event.ID, event.Provider, event.ProviderEventID, event.EventType, string(event.Payload), event.CreatedAt,
	).Scan(&event.ID, &processedAt)
	if err != nil {
		return false, fmt.Errorf("failed to record billing event %s: %w", event.ProviderEventID, err)
	}
	event.ProcessedAt = nullTimePtr(processedAt)
	return processedAt.Valid, nil
}

// MarkProcessed はイベントを処理済みにする。
func (r *PostgresBillingEventRepo) MarkProcessed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE billing_events SET processed_at = NOW(), processing_error = '' WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark billing event %s processed: %w", id, err)
	}
	return nil
}

// MarkFailed はイベントの処理エラーを記録する。
func (r *PostgresBillingEventRepo) MarkFailed(ctx context.Context, id, message string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE billing_events SET processing_error = $2 WHERE id = $1`,
		id, message,
	)
	if err != nil {
		return fmt.Errorf("failed to record billing event %s failure: %w", id, err)
	}
	return nil
}

var _ BillingEventRepository = (*PostgresBillingEventRepo)(nil)
