package handler

import (
	"time"

	"github.com/hitoshi/strmonitor/internal/model"
)

// changeResponse は変更レコードのAPIレスポンス。
type changeResponse struct {
	ID          string     `json:"id"`
	SourceID    string     `json:"source_id"`
	Status      string     `json:"status"`
	Summary     *string    `json:"summary"`
	Severity    string     `json:"severity"`
	DetectedAt  time.Time  `json:"detected_at"`
	ApprovedAt  *time.Time `json:"approved_at"`
	PublishedAt *time.Time `json:"published_at"`
}

// changeWithSourceResponse は監視元ページ情報を含む変更レコードのAPIレスポンス。
type changeWithSourceResponse struct {
	changeResponse
	DiffText string         `json:"diff_text,omitempty"`
	Source   sourceResponse `json:"source"`
}

// changeDetailResponse は変更詳細のAPIレスポンス。
type changeDetailResponse struct {
	changeWithSourceResponse
	Before *snapshotResponse `json:"before"`
	After  *snapshotResponse `json:"after"`
}

// sourceResponse は監視元ページのAPIレスポンス。
type sourceResponse struct {
	ID                      string     `json:"id"`
	Name                    string     `json:"name"`
	Jurisdiction            string     `json:"jurisdiction"`
	JurisdictionDisplayName string     `json:"jurisdiction_display_name"`
	Category                string     `json:"category"`
	URL                     string     `json:"url"`
	LastCheckedAt           *time.Time `json:"last_checked_at,omitempty"`
}

// snapshotResponse はスナップショットのAPIレスポンス。本文は含めない。
type snapshotResponse struct {
	ID        string    `json:"id"`
	FetchedAt time.Time `json:"fetched_at"`
}

func toChangeResponse(c *model.Change) changeResponse {
	return changeResponse{
		ID:          c.ID,
		SourceID:    c.SourceID,
		Status:      string(c.Status),
		Summary:     c.Summary,
		Severity:    string(c.Severity),
		DetectedAt:  c.DetectedAt,
		ApprovedAt:  c.ApprovedAt,
		PublishedAt: c.PublishedAt,
	}
}

func toChangeWithSourceResponse(c *model.ChangeWithSource, includeDiff bool) changeWithSourceResponse {
	resp := changeWithSourceResponse{
		changeResponse: toChangeResponse(&c.Change),
		Source: sourceResponse{
			ID:                      c.SourceID,
			Name:                    c.SourceName,
			Jurisdiction:            string(c.SourceJurisdiction),
			JurisdictionDisplayName: c.SourceJurisdiction.DisplayName(),
			Category:                c.SourceCategory,
			URL:                     c.SourceURL,
		},
	}
	if includeDiff {
		resp.DiffText = c.DiffText
	}
	return resp
}

func toChangeList(changes []model.ChangeWithSource, includeDiff bool) []changeWithSourceResponse {
	out := make([]changeWithSourceResponse, len(changes))
	for i := range changes {
		out[i] = toChangeWithSourceResponse(&changes[i], includeDiff)
	}
	return out
}

func toSnapshotResponse(s *model.Snapshot) *snapshotResponse {
	if s == nil {
		return nil
	}
	return &snapshotResponse{ID: s.ID, FetchedAt: s.FetchedAt}
}

func toSourceResponse(s *model.Source) sourceResponse {
	return sourceResponse{
		ID:                      s.ID,
		Name:                    s.Name,
		Jurisdiction:            string(s.Jurisdiction),
		JurisdictionDisplayName: s.Jurisdiction.DisplayName(),
		Category:                s.Category,
		URL:                     s.URL,
		LastCheckedAt:           s.LastCheckedAt,
	}
}
