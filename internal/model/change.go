package model

import (
	"strings"
	"time"
)

// ChangeStatus は変更レコードのレビュー状態を表す。
type ChangeStatus string

const (
	// ChangeStatusDetected は差分検出直後でレビュー待ちの状態。
	ChangeStatusDetected ChangeStatus = "detected"
	// ChangeStatusApproved は人手で要約が付与され承認された状態。
	ChangeStatusApproved ChangeStatus = "approved"
)

// Severity は承認済み変更の緊急度。
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// ParseSeverity は文字列をSeverityに変換する。
// 空文字列はinfoとして扱い、未知の値はok=falseを返す。
func ParseSeverity(s string) (Severity, bool) {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return SeverityInfo, true
	case SeverityCritical:
		return SeverityCritical, true
	case SeverityWarning:
		return SeverityWarning, true
	case SeverityInfo:
		return SeverityInfo, true
	default:
		return "", false
	}
}

// Label はメール件名に付与するラベルを返す。未知の値は "Update"。
func (s Severity) Label() string {
	switch s {
	case SeverityCritical:
		return "URGENT"
	case SeverityWarning:
		return "Important"
	case SeverityInfo:
		return "Update"
	default:
		return "Update"
	}
}

// Color はメール本文の強調色を返す。未知の値はinfoと同じ色。
func (s Severity) Color() string {
	switch s {
	case SeverityCritical:
		return "#DC2626"
	case SeverityWarning:
		return "#F59E0B"
	default:
		return "#3B82F6"
	}
}

// Change は同一Sourceの2つのSnapshot間で検出されたテキスト差分を表す。
//
// 不変条件:
//   - PublishedAtはStatusがapprovedの場合のみ設定される
//   - ApprovedAtとSummaryは同時に設定される
type Change struct {
	ID               string
	SourceID         string
	SnapshotBeforeID string
	SnapshotAfterID  string
	DiffText         string
	Status           ChangeStatus
	Summary          *string
	Severity         Severity
	DetectedAt       time.Time
	ApprovedAt       *time.Time
	PublishedAt      *time.Time
	// DispatchClaimedAt は配信処理が変更を確保した時刻。配信完了時にクリアされる。
	DispatchClaimedAt *time.Time
}

// IsApproved は承認済みかを返す。
func (c *Change) IsApproved() bool {
	return c.Status == ChangeStatusApproved
}

// IsPublished はアラート配信が完了しているかを返す。
func (c *Change) IsPublished() bool {
	return c.PublishedAt != nil
}

// SummaryOr は要約が設定されていればそれを、なければfallbackを返す。
func (c *Change) SummaryOr(fallback string) string {
	if c.Summary == nil || strings.TrimSpace(*c.Summary) == "" {
		return fallback
	}
	return *c.Summary
}

// ChangeWithSource は変更レコードと監視元ページの情報を結合したもの。
type ChangeWithSource struct {
	Change
	SourceName         string
	SourceJurisdiction Jurisdiction
	SourceURL          string
	SourceCategory     string
}

// ChangeDetail は変更詳細画面向けに前後スナップショットを含めたもの。
type ChangeDetail struct {
	ChangeWithSource
	Before *Snapshot
	After  *Snapshot
}
