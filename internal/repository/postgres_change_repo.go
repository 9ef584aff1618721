package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/strmonitor/internal/model"
)

// PostgresChangeRepo はPostgreSQLを使用した変更レコードリポジトリ。
type PostgresChangeRepo struct {
	db *sql.DB
}

// NewPostgresChangeRepo はPostgresChangeRepoを生成する。
func NewPostgresChangeRepo(db *sql.DB) *PostgresChangeRepo {
	return &PostgresChangeRepo{db: db}
}

const changeColumns = `c.id, c.source_id, c.snapshot_before_id, c.snapshot_after_id, c.diff_text,
	c.status, c.summary, c.severity, c.detected_at, c.approved_at, c.published_at, c.dispatch_claimed_at`

const changeWithSourceColumns = changeColumns + `,
	s.name, s.jurisdiction, s.url, s.category`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// changeScanTargets はchangeColumnsの順にScan先を返す。
// NULL許容カラムは一時変数に読み込み、finishで構造体に反映する。
func changeScanTargets(c *model.Change) (targets []any, finish func()) {
	var (
		summary    sql.NullString
		approvedAt sql.NullTime
		published  sql.NullTime
		claimedAt  sql.NullTime
	)
	targets = []any{
		&c.ID, &c.SourceID, &c.SnapshotBeforeID, &c.SnapshotAfterID, &c.DiffText,
		&c.Status, &summary, &c.Severity, &c.DetectedAt, &approvedAt, &published, &claimedAt,
	}
	finish = func() {
		c.Summary = nullStringPtr(summary)
		c.ApprovedAt = nullTimePtr(approvedAt)
		c.PublishedAt = nullTimePtr(published)
		c.DispatchClaimedAt = nullTimePtr(claimedAt)
	}
	return targets, finish
}

func scanChangeWithSource(row rowScanner) (*model.ChangeWithSource, error) {
	cws := &model.ChangeWithSource{}
	targets, finish := changeScanTargets(&cws.Change)
	targets = append(targets, &cws.SourceName, &cws.SourceJurisdiction, &cws.SourceURL, &cws.SourceCategory)
	if err := row.Scan(targets...); err != nil {
		return nil, err
	}
	finish()
	return cws, nil
}

// FindWithSource は変更レコードを監視元ページ情報と結合して取得する。見つからない場合はnilを返す。
func (r *PostgresChangeRepo) FindWithSource(ctx context.Context, id string) (*model.ChangeWithSource, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+changeWithSourceColumns+`
		 FROM changes c JOIN sources s ON s.id = c.source_id
		 WHERE c.id = $1`,
		id,
	)
	cws, err := scanChangeWithSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load change %s: %w", id, err)
	}
	return cws, nil
}

// Approve は変更を承認済みにする。再承認時は要約とseverityを上書きする（履歴は保持しない）。
func (r *PostgresChangeRepo) Approve(ctx context.Context, id, summary string, severity model.Severity) (*model.Change, error) {
	c := &model.Change{}
	targets, finish := changeScanTargets(c)
	err := r.db.QueryRowContext(ctx,
		`UPDATE changes c
		 SET status = 'approved', summary = $2, severity = $3, approved_at = NOW()
		 WHERE c.id = $1
		 RETURNING `+changeColumns,
		id, summary, string(severity),
	).Scan(targets...)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("change %s: %w", id, ErrChangeNotUpdated)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to approve change %s: %w", id, err)
	}
	finish()
	return c, nil
}

// ClaimForDispatch は配信処理のために変更を確保する。
func (r *PostgresChangeRepo) ClaimForDispatch(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE changes SET dispatch_claimed_at = NOW()
		 WHERE id = $1
		   AND status = 'approved'
		   AND published_at IS NULL
		   AND (dispatch_claimed_at IS NULL OR dispatch_claimed_at < NOW() - make_interval(secs => $2))`,
		id, ttl.Seconds(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim change %s: %w", id, err)
	}
	return affectedOne(result)
}

// RefreshClaim は確保中の変更の確保時刻を更新する。
func (r *PostgresChangeRepo) RefreshClaim(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE changes SET dispatch_claimed_at = NOW()
		 WHERE id = $1 AND published_at IS NULL AND dispatch_claimed_at IS NOT NULL`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to refresh claim on change %s: %w", id, err)
	}
	return affectedOne(result)
}

// ReleaseClaim は配信の確保を解除する。
func (r *PostgresChangeRepo) ReleaseClaim(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE changes SET dispatch_claimed_at = NULL WHERE id = $1 AND published_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to release claim on change %s: %w", id, err)
	}
	return nil
}

// MarkPublished はpublished_atを設定し確保を解除する。
func (r *PostgresChangeRepo) MarkPublished(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE changes SET published_at = NOW(), dispatch_claimed_at = NULL
		 WHERE id = $1 AND status = 'approved' AND published_at IS NULL`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark change %s published: %w", id, err)
	}
	return affectedOne(result)
}

// ListPending はレビュー待ちの変更をdetected_at降順で返す。
func (r *PostgresChangeRepo) ListPending(ctx context.Context, limit int) ([]model.ChangeWithSource, error) {
	return r.list(ctx,
		`SELECT `+changeWithSourceColumns+`
		 FROM changes c JOIN sources s ON s.id = c.source_id
		 WHERE c.status = 'detected'
		 ORDER BY c.detected_at DESC
		 LIMIT $1`,
		limit,
	)
}

// ListPublished は公開済みの変更をpublished_at降順で返す。
func (r *PostgresChangeRepo) ListPublished(ctx context.Context, limit int) ([]model.ChangeWithSource, error) {
	return r.list(ctx,
		`SELECT `+changeWithSourceColumns+`
		 FROM changes c JOIN sources s ON s.id = c.source_id
		 WHERE c.status = 'approved' AND c.published_at IS NOT NULL
		 ORDER BY c.published_at DESC
		 LIMIT $1`,
		limit,
	)
}

func (r *PostgresChangeRepo) list(ctx context.Context, query string, args ...any) ([]model.ChangeWithSource, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}
	defer rows.Close()

	changes := []model.ChangeWithSource{}
	for rows.Next() {
		cws, err := scanChangeWithSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan change row: %w", err)
		}
		changes = append(changes, *cws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate change rows: %w", err)
	}
	return changes, nil
}

// affectedOne は更新件数が1件以上かどうかを返す。
func affectedOne(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

var _ ChangeRepository = (*PostgresChangeRepo)(nil)
