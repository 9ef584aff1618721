// Package change は変更レコードのレビュー（承認）と公開済み変更の参照を提供する。
package change

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/strmonitor/internal/model"
	"github.com/hitoshi/strmonitor/internal/repository"
)

// 一覧取得の件数上限
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ApproveInput は承認操作の入力。
type ApproveInput struct {
	ChangeID string `json:"change_id" validate:"required"`
	Summary  string `json:"summary" validate:"required"`
	// Severity は省略時info。
	Severity string `json:"severity"`
}

// Service は変更レコードに対する操作を提供する。
type Service struct {
	changes   repository.ChangeRepository
	snapshots repository.SnapshotRepository
	sources   repository.SourceRepository
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewService はServiceを生成する。
func NewService(
	changes repository.ChangeRepository,
	snapshots repository.SnapshotRepository,
	sources repository.SourceRepository,
	logger *slog.Logger,
) *Service {
	return &Service{
		changes:   changes,
		snapshots: snapshots,
		sources:   sources,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
	}
}

// Approve は変更を承認済みにし、要約とseverityを記録する。
// アラート配信は行わない。再承認は要約とseverityを上書きする。
func (s *Service) Approve(ctx context.Context, in ApproveInput) (*model.Change, error) {
	in.ChangeID = strings.TrimSpace(in.ChangeID)
	in.Summary = strings.TrimSpace(in.Summary)
	if err := s.validate.Struct(in); err != nil {
		return nil, model.NewChangeIDAndSummaryRequiredError()
	}

	severity, ok := model.ParseSeverity(in.Severity)
	if !ok {
		return nil, model.NewInvalidSeverityError(in.Severity)
	}

	c, err := s.changes.Approve(ctx, in.ChangeID, in.Summary, severity)
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, repository.ErrChangeNotUpdated) {
			level = slog.LevelWarn
		}
		s.logger.Log(ctx, level, "failed to approve change",
			slog.String("change_id", in.ChangeID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewChangeUpdateFailedError(err)
	}

	s.logger.Info("change approved",
		slog.String("change_id", c.ID),
		slog.String("severity", string(c.Severity)),
	)
	return c, nil
}

// ListPending はレビュー待ちの変更を新しい順に返す。
func (s *Service) ListPending(ctx context.Context, limit int) ([]model.ChangeWithSource, error) {
	changes, err := s.changes.ListPending(ctx, clampLimit(limit))
	if err != nil {
		return nil, model.NewPersistenceError(model.ErrCodeStoreFailure, "Failed to list pending changes", err)
	}
	return changes, nil
}

// ListPublished は公開済みの変更を新しい順に返す。
func (s *Service) ListPublished(ctx context.Context, limit int) ([]model.ChangeWithSource, error) {
	changes, err := s.changes.ListPublished(ctx, clampLimit(limit))
	if err != nil {
		return nil, model.NewPersistenceError(model.ErrCodeStoreFailure, "Failed to list changes", err)
	}
	return changes, nil
}

// GetPublished は公開済みの変更を前後のスナップショット付きで返す。
// 未公開の変更は存在しないものとして扱う。
func (s *Service) GetPublished(ctx context.Context, id string) (*model.ChangeDetail, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, model.NewChangeIDRequiredError()
	}

	cws, err := s.changes.FindWithSource(ctx, id)
	if err != nil {
		return nil, model.NewPersistenceError(model.ErrCodeStoreFailure, "Failed to load change", err)
	}
	if cws == nil || !cws.IsPublished() {
		return nil, model.NewChangeNotFoundError(id)
	}

	detail := &model.ChangeDetail{ChangeWithSource: *cws}
	if detail.Before, err = s.snapshots.FindByID(ctx, cws.SnapshotBeforeID); err != nil {
		return nil, model.NewPersistenceError(model.ErrCodeStoreFailure, "Failed to load snapshot", err)
	}
	if detail.After, err = s.snapshots.FindByID(ctx, cws.SnapshotAfterID); err != nil {
		return nil, model.NewPersistenceError(model.ErrCodeStoreFailure, "Failed to load snapshot", err)
	}
	return detail, nil
}

// ListSources は監視中のページを管轄順に返す。
func (s *Service) ListSources(ctx context.Context) ([]*model.Source, error) {
	sources, err := s.sources.ListActive(ctx)
	if err != nil {
		return nil, model.NewPersistenceError(model.ErrCodeStoreFailure, "Failed to list sources", err)
	}
	return sources, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}
