package model

import "time"

// AlertChannel はアラートの配信経路。
type AlertChannel string

// AlertChannelEmail はメール配信。現状はこの経路のみ。
const AlertChannelEmail AlertChannel = "email"

// AlertStatus は1回の配信試行の結果。
type AlertStatus string

const (
	AlertStatusSent   AlertStatus = "sent"
	AlertStatusFailed AlertStatus = "failed"
)

// AlertLogEntry は1購読者への1回の配信試行の記録。作成後は変更しない。
type AlertLogEntry struct {
	ID                string
	ChangeID          string
	SubscriberID      string
	Channel           AlertChannel
	Status            AlertStatus
	ProviderMessageID *string
	ErrorMessage      *string
	CreatedAt         time.Time
}

// BillingEvent は決済プロバイダーから受信したWebhookイベントの記録。
// (provider, provider_event_id) で一意となり、再送時の二重処理を防ぐ。
type BillingEvent struct {
	ID              string
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
	ProcessedAt     *time.Time
	ProcessingError string
	CreatedAt       time.Time
}
