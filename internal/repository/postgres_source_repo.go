package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/strmonitor/internal/model"
)

// PostgresSourceRepo はPostgreSQLを使用した監視対象ページリポジトリ。
type PostgresSourceRepo struct {
	db *sql.DB
}

// NewPostgresSourceRepo はPostgresSourceRepoを生成する。
func NewPostgresSourceRepo(db *sql.DB) *PostgresSourceRepo {
	return &PostgresSourceRepo{db: db}
}

// ListActive は監視中のページを管轄・名前順で返す。
func (r *PostgresSourceRepo) ListActive(ctx context.Context) ([]*model.Source, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, jurisdiction, category, url, is_active, last_checked_at
		 FROM sources WHERE is_active = TRUE
		 ORDER BY jurisdiction ASC, name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	sources := []*model.Source{}
	for rows.Next() {
		s := &model.Source{}
		var lastChecked sql.NullTime
		if err := rows.Scan(&s.ID, &s.Name, &s.Jurisdiction, &s.Category, &s.URL, &s.IsActive, &lastChecked); err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		s.LastCheckedAt = nullTimePtr(lastChecked)
		sources = append(sources, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate source rows: %w", err)
	}
	return sources, nil
}

var _ SourceRepository = (*PostgresSourceRepo)(nil)

// PostgresSnapshotRepo はPostgreSQLを使用したスナップショットリポジトリ。
type PostgresSnapshotRepo struct {
	db *sql.DB
}

// NewPostgresSnapshotRepo はPostgresSnapshotRepoを生成する。
func NewPostgresSnapshotRepo(db *sql.DB) *PostgresSnapshotRepo {
	return &PostgresSnapshotRepo{db: db}
}

// FindByID は指定IDのスナップショットを取得する。見つからない場合はnilを返す。
func (r *PostgresSnapshotRepo) FindByID(ctx context.Context, id string) (*model.Snapshot, error) {
	s := &model.Snapshot{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, source_id, extracted_text, fetched_at FROM snapshots WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.SourceID, &s.ExtractedText, &s.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", id, err)
	}
	return s, nil
}

var _ SnapshotRepository = (*PostgresSnapshotRepo)(nil)
