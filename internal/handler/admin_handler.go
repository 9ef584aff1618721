package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/hitoshi/strmonitor/internal/alert"
	"github.com/hitoshi/strmonitor/internal/change"
	"github.com/hitoshi/strmonitor/internal/middleware"
	"github.com/hitoshi/strmonitor/internal/model"
)

// ChangeReviewer は管理ハンドラーが必要とする変更レビューのインターフェース。
type ChangeReviewer interface {
	// Approve は変更を承認し、要約とseverityを記録する。
	Approve(ctx context.Context, in change.ApproveInput) (*model.Change, error)
	// ListPending はレビュー待ちの変更を返す。
	ListPending(ctx context.Context, limit int) ([]model.ChangeWithSource, error)
}

// AlertDispatcher は承認済み変更のアラート配信インターフェース。
type AlertDispatcher interface {
	Dispatch(ctx context.Context, changeID string) (*alert.DispatchResult, error)
}

// AdminHandler は運用者向け管理APIのHTTPハンドラー。
type AdminHandler struct {
	changes    ChangeReviewer
	dispatcher AlertDispatcher
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(changes ChangeReviewer, dispatcher AlertDispatcher) *AdminHandler {
	return &AdminHandler{
		changes:    changes,
		dispatcher: dispatcher,
	}
}

// sendAlertsRequest はアラート配信リクエストのボディ。
type sendAlertsRequest struct {
	ChangeID string `json:"change_id"`
}

// approveChangeResponse は承認結果のレスポンス。
type approveChangeResponse struct {
	Success bool           `json:"success"`
	Change  changeResponse `json:"change"`
}

// sendAlertsResponse は配信結果のレスポンス。
type sendAlertsResponse struct {
	Success  bool   `json:"success"`
	Sent     int    `json:"sent"`
	Failed   int    `json:"failed"`
	Eligible int    `json:"eligible"`
	Message  string `json:"message,omitempty"`
}

// ApproveChange は変更を承認する。アラートは配信しない。
// POST /api/admin/approve-change
func (h *AdminHandler) ApproveChange(w http.ResponseWriter, r *http.Request) {
	var req change.ApproveInput
	if !decodeJSONBody(w, r, &req) {
		return
	}

	c, err := h.changes.Approve(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, approveChangeResponse{
		Success: true,
		Change:  toChangeResponse(c),
	})
}

// SendAlerts は承認済み変更のアラートを対象購読者に配信する。
// POST /api/admin/send-alerts
func (h *AdminHandler) SendAlerts(w http.ResponseWriter, r *http.Request) {
	var req sendAlertsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	result, err := h.dispatcher.Dispatch(r.Context(), strings.TrimSpace(req.ChangeID))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, sendAlertsResponse{
		Success:  true,
		Sent:     result.Sent,
		Failed:   result.Failed,
		Eligible: result.Eligible,
		Message:  result.Message,
	})
}

// ListPending はレビュー待ちの変更を差分付きで返す。
// GET /api/admin/changes/pending
func (h *AdminHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	changes, err := h.changes.ListPending(r.Context(), queryLimit(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"changes": toChangeList(changes, true),
	})
}
