// Package cleanup は定期メンテナンスジョブを提供する。
// 保持期間を超えた処理済みの決済イベントを削除し、
// 中断された配信が残した古い確保を解除する。
package cleanup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const (
	// DefaultRetentionDays は処理済み決済イベントの保持日数の既定値。
	DefaultRetentionDays = 90
	// DefaultClaimTTL はこの時間より古い配信確保を解除する既定値。
	DefaultClaimTTL = 15 * time.Minute
)

// Job は定期メンテナンスジョブ。各処理は冪等で、対象がなくてもエラーにならない。
type Job struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int           // 処理済み決済イベントの保持日数
	ClaimTTL      time.Duration // 配信確保の有効期間
}

// NewJob は新しいJobを生成する。
func NewJob(db Executor, logger *slog.Logger) *Job {
	return &Job{
		db:            db,
		logger:        logger,
		RetentionDays: DefaultRetentionDays,
		ClaimTTL:      DefaultClaimTTL,
	}
}

// Run はメンテナンス処理を1回実行する。
// 一方が失敗しても他方は実行し、発生したエラーをまとめて返す。
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()

	purged, purgeErr := j.purgeBillingEvents(ctx)
	released, releaseErr := j.releaseStaleClaims(ctx)

	if err := errors.Join(purgeErr, releaseErr); err != nil {
		return err
	}

	duration := time.Since(start)
	j.logger.Info("maintenance job completed",
		slog.Int64("deleted_count", purged),
		slog.Int64("released_claims", released),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回、その後interval間隔でRunを実行する。
// コンテキストがキャンセルされるまでブロックする。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	j.logger.Info("maintenance job started", slog.Duration("interval", interval))

	j.runLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("maintenance job stopped")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *Job) runLogged(ctx context.Context) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}
}

// purgeBillingEvents は処理済みかつ保持期間を超えた決済イベントを削除する。
// 未処理のイベントは再送時の処理に必要なため残す。
func (j *Job) purgeBillingEvents(ctx context.Context) (int64, error) {
	interval := fmt.Sprintf("%d days", j.RetentionDays)

	query := `DELETE FROM billing_events
		WHERE processed_at IS NOT NULL AND processed_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("failed to purge billing events",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return 0, fmt.Errorf("purge billing events: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge billing events rows affected: %w", err)
	}
	return n, nil
}

// releaseStaleClaims は未公開のままClaimTTLを超えた配信確保を解除する。
func (j *Job) releaseStaleClaims(ctx context.Context) (int64, error) {
	query := `UPDATE changes SET dispatch_claimed_at = NULL
		WHERE published_at IS NULL
		  AND dispatch_claimed_at IS NOT NULL
		  AND dispatch_claimed_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, fmt.Sprintf("%d seconds", int64(j.ClaimTTL.Seconds())))
	if err != nil {
		j.logger.Error("failed to release stale dispatch claims",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("release stale dispatch claims: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release stale dispatch claims rows affected: %w", err)
	}
	if n > 0 {
		j.logger.Warn("released stale dispatch claims", slog.Int64("released_claims", n))
	}
	return n, nil
}
