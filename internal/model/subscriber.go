package model

import "time"

// SubscriberStatus は購読者の課金状態を表す。
type SubscriberStatus string

const (
	SubscriberStatusActive   SubscriberStatus = "active"
	SubscriberStatusPastDue  SubscriberStatus = "past_due"
	SubscriberStatusCanceled SubscriberStatus = "canceled"
)

// Subscriber はアラートを受け取る有料購読者を表す。
// 物理削除はせず、解約はStatusで表す。
type Subscriber struct {
	ID                   string
	Email                string
	Name                 string
	Plan                 string
	Status               SubscriberStatus
	Jurisdictions        []Jurisdiction
	StripeCustomerID     string
	StripeSubscriptionID string
	CanceledAt           *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// WantsJurisdiction は購読者が指定管轄のアラートを希望しているかを返す。
// アラート配信対象の判定はこのメソッドのみで行う。
func (s *Subscriber) WantsJurisdiction(j Jurisdiction) bool {
	for _, sj := range s.Jurisdictions {
		if sj == j {
			return true
		}
	}
	return false
}

// IsActive は課金状態がactiveかを返す。
func (s *Subscriber) IsActive() bool {
	return s.Status == SubscriberStatusActive
}

// CheckoutCompleted は決済完了イベントから取り出した購読者情報。
type CheckoutCompleted struct {
	Email          string
	Name           string
	CustomerID     string
	SubscriptionID string
	Plan           string
}
