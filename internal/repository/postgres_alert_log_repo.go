package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/strmonitor/internal/model"
)

// PostgresAlertLogRepo はPostgreSQLを使用した配信ログリポジトリ。
type PostgresAlertLogRepo struct {
	db *sql.DB
}

// NewPostgresAlertLogRepo はPostgresAlertLogRepoを生成する。
func NewPostgresAlertLogRepo(db *sql.DB) *PostgresAlertLogRepo {
	return &PostgresAlertLogRepo{db: db}
}

// Create は配信試行を1件記録する。
func (r *PostgresAlertLogRepo) Create(ctx context.Context, entry *model.AlertLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Channel == "" {
		entry.Channel = model.AlertChannelEmail
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO alert_log (id, change_id, subscriber_id, channel, status,
		                        provider_message_id, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.ChangeID, entry.SubscriberID, string(entry.Channel), string(entry.Status),
		entry.ProviderMessageID, entry.ErrorMessage, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to write alert log for subscriber %s: %w", entry.SubscriberID, err)
	}
	return nil
}

// CountByChangeID は変更ごとの状態別配信件数を返す。
func (r *PostgresAlertLogRepo) CountByChangeID(ctx context.Context, changeID string) (map[model.AlertStatus]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM alert_log WHERE change_id = $1 GROUP BY status`,
		changeID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count alert log: %w", err)
	}
	defer rows.Close()

	counts := map[model.AlertStatus]int{}
	for rows.Next() {
		var (
			status model.AlertStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan alert log count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert log counts: %w", err)
	}
	return counts, nil
}

var _ AlertLogRepository = (*PostgresAlertLogRepo)(nil)
