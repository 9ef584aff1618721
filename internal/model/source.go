package model

import "time"

// Jurisdiction は監視対象ページと購読者の双方に付与される管轄タグ。
// アラートの配信先はこのタグの一致で決まる。
type Jurisdiction string

const (
	JurisdictionPleasanton    Jurisdiction = "pleasanton"
	JurisdictionAlamedaCounty Jurisdiction = "alameda_county"
	JurisdictionCalifornia    Jurisdiction = "california"
)

// DefaultJurisdictions は新規購読者に付与する管轄の初期値。
var DefaultJurisdictions = []Jurisdiction{JurisdictionPleasanton, JurisdictionAlamedaCounty}

// DisplayName は管轄の表示名を返す。未知の値はスラッグをそのまま返す。
func (j Jurisdiction) DisplayName() string {
	switch j {
	case JurisdictionPleasanton:
		return "Pleasanton, CA"
	case JurisdictionAlamedaCounty:
		return "Alameda County, CA"
	case JurisdictionCalifornia:
		return "State of California"
	default:
		return string(j)
	}
}

// Valid は既知の管轄かどうかを返す。
func (j Jurisdiction) Valid() bool {
	switch j {
	case JurisdictionPleasanton, JurisdictionAlamedaCounty, JurisdictionCalifornia:
		return true
	}
	return false
}

// Source は監視対象の行政ページ・文書を表す。
// 監視サブシステムが所有し、本サービスからは読み取りのみ行う。
type Source struct {
	ID            string
	Name          string
	Jurisdiction  Jurisdiction
	Category      string
	URL           string
	IsActive      bool
	LastCheckedAt *time.Time
}

// Snapshot はSourceから抽出したテキストの時点スナップショット。
// 追記専用で、証跡として更新も削除もしない。
type Snapshot struct {
	ID            string
	SourceID      string
	ExtractedText string
	FetchedAt     time.Time
}
