package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/strmonitor/internal/middleware"
	"github.com/hitoshi/strmonitor/internal/model"
)

// ChangeReader は公開APIが必要とする読み取りインターフェース。
type ChangeReader interface {
	ListPublished(ctx context.Context, limit int) ([]model.ChangeWithSource, error)
	GetPublished(ctx context.Context, id string) (*model.ChangeDetail, error)
	ListSources(ctx context.Context) ([]*model.Source, error)
}

// ChangesHandler は公開済み変更と監視元ページの公開APIハンドラー。
type ChangesHandler struct {
	reader ChangeReader
}

// NewChangesHandler はChangesHandlerを生成する。
func NewChangesHandler(reader ChangeReader) *ChangesHandler {
	return &ChangesHandler{reader: reader}
}

// ListChanges は公開済みの変更を新しい順に返す。
// GET /api/changes
func (h *ChangesHandler) ListChanges(w http.ResponseWriter, r *http.Request) {
	changes, err := h.reader.ListPublished(r.Context(), queryLimit(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"changes": toChangeList(changes, false),
	})
}

// GetChange は公開済み変更の詳細を差分付きで返す。
// GET /api/changes/{id}
func (h *ChangesHandler) GetChange(w http.ResponseWriter, r *http.Request) {
	detail, err := h.reader.GetPublished(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, changeDetailResponse{
		changeWithSourceResponse: toChangeWithSourceResponse(&detail.ChangeWithSource, true),
		Before:                   toSnapshotResponse(detail.Before),
		After:                    toSnapshotResponse(detail.After),
	})
}

// ListSources は監視中のページ一覧を返す。
// GET /api/sources
func (h *ChangesHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.reader.ListSources(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	out := make([]sourceResponse, len(sources))
	for i, s := range sources {
		out[i] = toSourceResponse(s)
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"sources": out})
}
