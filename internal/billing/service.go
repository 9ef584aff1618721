// Package billing は決済プロバイダー（Stripe）からのWebhookを検証し、購読者の状態に反映する。
package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/hitoshi/strmonitor/internal/metrics"
	"github.com/hitoshi/strmonitor/internal/model"
	"github.com/hitoshi/strmonitor/internal/repository"
)

// ProviderStripe は台帳に記録するプロバイダー名。
const ProviderStripe = "stripe"

// 処理対象のイベント種別
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// 購読者情報の既定値
const (
	DefaultSubscriberName = "STR Host"
	DefaultPlan           = "monthly"
)

// イベント処理結果のメトリクスラベル
const (
	outcomeProcessed = "processed"
	outcomeDuplicate = "duplicate"
	outcomeIgnored   = "ignored"
	outcomeFailed    = "failed"
	outcomeRejected  = "rejected"
)

// Service はWebhookイベントを処理する。
type Service struct {
	secret      string
	subscribers repository.SubscriberRepository
	events      repository.BillingEventRepository
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
}

// NewService はServiceを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewService(
	secret string,
	subscribers repository.SubscriberRepository,
	events repository.BillingEventRepository,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		secret:      secret,
		subscribers: subscribers,
		events:      events,
		metrics:     collector,
		logger:      logger,
	}
}

// HandleWebhook は署名を検証したうえでイベントを処理する。
// 同じイベントIDの再送は処理済みであれば何もしない。
// 処理に失敗した場合はエラーを台帳に記録し、プロバイダーに再送させるためエラーを返す。
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	if strings.TrimSpace(signatureHeader) == "" {
		s.metrics.RecordBillingEvent("unknown", outcomeRejected)
		return model.NewMissingSignatureError()
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, s.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		s.logger.Warn("webhook signature verification failed", slog.String("error", err.Error()))
		s.metrics.RecordBillingEvent("unknown", outcomeRejected)
		return model.NewInvalidSignatureError(err)
	}

	eventType := string(event.Type)
	metricType := metricEventType(eventType)

	record := &model.BillingEvent{
		Provider:        ProviderStripe,
		ProviderEventID: event.ID,
		EventType:       eventType,
		Payload:         payload,
	}
	alreadyProcessed, err := s.events.Record(ctx, record)
	if err != nil {
		s.metrics.RecordBillingEvent(metricType, outcomeFailed)
		return model.NewPersistenceError(model.ErrCodeStoreFailure, "Failed to record webhook event", err)
	}
	if alreadyProcessed {
		s.logger.Info("duplicate webhook event ignored",
			slog.String("event_id", event.ID),
			slog.String("type", eventType),
		)
		s.metrics.RecordBillingEvent(metricType, outcomeDuplicate)
		return nil
	}

	handled, err := s.dispatch(ctx, eventType, event.Data)
	if err != nil {
		s.logger.Error("failed to process webhook event",
			slog.String("event_id", event.ID),
			slog.String("type", eventType),
			slog.String("error", err.Error()),
		)
		if markErr := s.events.MarkFailed(ctx, record.ID, err.Error()); markErr != nil {
			s.logger.Error("failed to record webhook processing error",
				slog.String("event_id", event.ID),
				slog.String("error", markErr.Error()),
			)
		}
		s.metrics.RecordBillingEvent(metricType, outcomeFailed)
		return model.NewPersistenceError(model.ErrCodeStoreFailure, "Failed to process webhook event", err)
	}

	if err := s.events.MarkProcessed(ctx, record.ID); err != nil {
		// 購読者への反映は完了しているため、再送されても冪等な更新が繰り返されるだけとなる。
		s.logger.Warn("failed to mark webhook event processed",
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
		)
	}

	outcome := outcomeProcessed
	if !handled {
		outcome = outcomeIgnored
	}
	s.metrics.RecordBillingEvent(metricType, outcome)
	return nil
}

// dispatch はイベント種別ごとの処理を呼び出す。未知の種別はhandled=falseを返す。
func (s *Service) dispatch(ctx context.Context, eventType string, data *stripe.EventData) (bool, error) {
	if data == nil {
		return false, fmt.Errorf("event %s has no data", eventType)
	}

	switch eventType {
	case EventCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(data.Raw, &session); err != nil {
			return false, fmt.Errorf("decode checkout session: %w", err)
		}
		return true, s.handleCheckoutCompleted(ctx, &session)
	case EventSubscriptionUpdated:
		var sub stripe.Subscription
		if err := json.Unmarshal(data.Raw, &sub); err != nil {
			return false, fmt.Errorf("decode subscription: %w", err)
		}
		return true, s.handleSubscriptionUpdated(ctx, &sub)
	case EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(data.Raw, &sub); err != nil {
			return false, fmt.Errorf("decode subscription: %w", err)
		}
		return true, s.handleSubscriptionDeleted(ctx, &sub)
	default:
		s.logger.Debug("unhandled webhook event type", slog.String("type", eventType))
		return false, nil
	}
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, session *stripe.CheckoutSession) error {
	checkout := CheckoutFromSession(session)
	if checkout.Email == "" {
		s.logger.Warn("checkout completed without email", slog.String("session_id", session.ID))
		return nil
	}

	sub, err := s.subscribers.UpsertFromCheckout(ctx, checkout, model.DefaultJurisdictions)
	if err != nil {
		return fmt.Errorf("upsert subscriber: %w", err)
	}
	s.logger.Info("subscriber activated",
		slog.String("subscriber_id", sub.ID),
		slog.String("plan", sub.Plan),
	)
	return nil
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, sub *stripe.Subscription) error {
	status := model.SubscriberStatusPastDue
	if sub.Status == stripe.SubscriptionStatusActive {
		status = model.SubscriberStatusActive
	}

	n, err := s.subscribers.UpdateStatusBySubscriptionID(ctx, sub.ID, status)
	if err != nil {
		return fmt.Errorf("update subscriber status: %w", err)
	}
	s.logger.Info("subscription updated",
		slog.String("subscription_id", sub.ID),
		slog.String("status", string(status)),
		slog.Int64("matched", n),
	)
	return nil
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, sub *stripe.Subscription) error {
	n, err := s.subscribers.CancelBySubscriptionID(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("cancel subscriber: %w", err)
	}
	s.logger.Info("subscription canceled",
		slog.String("subscription_id", sub.ID),
		slog.Int64("matched", n),
	)
	return nil
}

// CheckoutFromSession は決済完了セッションから購読者情報を取り出す。
// メールアドレスはcustomer_email、なければcustomer_details.emailを使う。
func CheckoutFromSession(session *stripe.CheckoutSession) model.CheckoutCompleted {
	c := model.CheckoutCompleted{
		Email: strings.TrimSpace(session.CustomerEmail),
		Name:  DefaultSubscriberName,
		Plan:  DefaultPlan,
	}
	if details := session.CustomerDetails; details != nil {
		if c.Email == "" {
			c.Email = strings.TrimSpace(details.Email)
		}
		if name := strings.TrimSpace(details.Name); name != "" {
			c.Name = name
		}
	}
	if session.Customer != nil {
		c.CustomerID = session.Customer.ID
	}
	if session.Subscription != nil {
		c.SubscriptionID = session.Subscription.ID
	}
	if plan := strings.TrimSpace(session.Metadata["plan"]); plan != "" {
		c.Plan = plan
	}
	return c
}

func metricEventType(eventType string) string {
	switch eventType {
	case EventCheckoutCompleted, EventSubscriptionUpdated, EventSubscriptionDeleted:
		return eventType
	default:
		return "other"
	}
}
