// Package alert は承認済み変更のアラート配信を提供する。
//
// 配信は変更ごとにDB上で確保してから行い、同一変更への並行配信を防ぐ。
// 購読者ごとの送信結果はalert_logに1行ずつ記録され、
// 一部の送信に失敗しても残りの購読者への送信は継続する。
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/strmonitor/internal/email"
	"github.com/hitoshi/strmonitor/internal/metrics"
	"github.com/hitoshi/strmonitor/internal/model"
	"github.com/hitoshi/strmonitor/internal/opsnotify"
	"github.com/hitoshi/strmonitor/internal/repository"
)

// NoSubscribersMessage は配信対象がいない場合の応答メッセージ。
const NoSubscribersMessage = "No active subscribers for this jurisdiction"

// Config は配信処理の設定。
type Config struct {
	// MaxConcurrent は同時に送信する購読者数の上限。
	MaxConcurrent int
	// SendTimeout は1通あたりの送信タイムアウト。
	SendTimeout time.Duration
	// ClaimTTL はこの時間より古い確保を放棄されたものとみなす。
	// 送信中はClaimTTLの1/3間隔で確保を更新する。
	ClaimTTL time.Duration
	// NotifyTimeout は運用者通知1回あたりの上限時間。
	NotifyTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 15 * time.Minute
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 10 * time.Second
	}
	return c
}

// DispatchResult は1回の配信要求の結果。
type DispatchResult struct {
	ChangeID  string
	Eligible  int
	Sent      int
	Failed    int
	Published bool
	// Message は配信対象がいなかった場合のみ設定される。
	Message string
}

// Dispatcher は承認済み変更を対象管轄の購読者へ配信する。
type Dispatcher struct {
	changes     repository.ChangeRepository
	subscribers repository.SubscriberRepository
	alertLog    repository.AlertLogRepository
	provider    email.Provider
	renderer    *Renderer
	notifier    opsnotify.Notifier
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	cfg         Config
}

// NewDispatcher はDispatcherを生成する。
func NewDispatcher(
	changes repository.ChangeRepository,
	subscribers repository.SubscriberRepository,
	alertLog repository.AlertLogRepository,
	provider email.Provider,
	renderer *Renderer,
	notifier opsnotify.Notifier,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	cfg Config,
) *Dispatcher {
	if notifier == nil {
		notifier = opsnotify.NoopNotifier{}
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Dispatcher{
		changes:     changes,
		subscribers: subscribers,
		alertLog:    alertLog,
		provider:    provider,
		renderer:    renderer,
		notifier:    notifier,
		metrics:     collector,
		logger:      logger,
		cfg:         cfg.withDefaults(),
	}
}

// Dispatch は変更を確保し、管轄が一致するactiveな購読者へアラートを送信して公開済みにする。
//
// 返すエラーは*model.APIError。個々の購読者への送信失敗はエラーにならず、
// DispatchResult.Failedとalert_logに反映される。
func (d *Dispatcher) Dispatch(ctx context.Context, changeID string) (*DispatchResult, error) {
	start := time.Now()
	changeID = strings.TrimSpace(changeID)
	if changeID == "" {
		d.metrics.RecordDispatch(metrics.OutcomeRejected, time.Since(start))
		return nil, model.NewChangeIDRequiredError()
	}

	change, err := d.changes.FindWithSource(ctx, changeID)
	if err != nil {
		d.metrics.RecordDispatch(metrics.OutcomeError, time.Since(start))
		return nil, model.NewPersistenceError(model.ErrCodeStoreFailure, "Failed to load change", err)
	}
	if change == nil {
		d.metrics.RecordDispatch(metrics.OutcomeRejected, time.Since(start))
		return nil, model.NewChangeNotFoundError(changeID)
	}
	if !change.IsApproved() {
		d.metrics.RecordDispatch(metrics.OutcomeRejected, time.Since(start))
		return nil, model.NewChangeNotApprovedError()
	}
	if change.IsPublished() {
		d.metrics.RecordDispatch(metrics.OutcomeRejected, time.Since(start))
		return nil, model.NewChangeAlreadyPublishedError()
	}

	claimed, err := d.changes.ClaimForDispatch(ctx, changeID, d.cfg.ClaimTTL)
	if err != nil {
		d.metrics.RecordDispatch(metrics.OutcomeError, time.Since(start))
		return nil, model.NewPersistenceError(model.ErrCodeStoreFailure, "Failed to claim change for dispatch", err)
	}
	if !claimed {
		d.metrics.RecordDispatch(metrics.OutcomeRejected, time.Since(start))
		return nil, model.NewDispatchInProgressError()
	}

	// 確保後は呼び出し元の切断で中断させない。送信済みのまま未公開になるのを避けるため。
	batchCtx := context.WithoutCancel(ctx)

	recipients, err := d.eligibleSubscribers(batchCtx, change.SourceJurisdiction)
	if err != nil {
		d.releaseClaim(batchCtx, changeID)
		d.metrics.RecordDispatch(metrics.OutcomeError, time.Since(start))
		return nil, model.NewPersistenceError(model.ErrCodeStoreFailure, "Failed to load subscribers", err)
	}

	result := &DispatchResult{ChangeID: changeID, Eligible: len(recipients)}
	if len(recipients) == 0 {
		d.releaseClaim(batchCtx, changeID)
		result.Message = NoSubscribersMessage
		d.logger.Info("no eligible subscribers for change",
			slog.String("change_id", changeID),
			slog.String("jurisdiction", string(change.SourceJurisdiction)),
		)
		d.metrics.RecordDispatch(metrics.OutcomeNoRecipient, time.Since(start))
		return result, nil
	}

	stopHold := d.holdClaim(batchCtx, changeID)
	result.Sent, result.Failed = d.sendAll(batchCtx, change, recipients)
	stopHold()

	published, err := d.changes.MarkPublished(batchCtx, changeID)
	if err != nil {
		d.logger.Error("failed to mark change published",
			slog.String("change_id", changeID),
			slog.Int("sent", result.Sent),
			slog.String("error", err.Error()),
		)
		d.metrics.RecordDispatch(metrics.OutcomeError, time.Since(start))
		return nil, model.NewPersistenceError(model.ErrCodeStoreFailure, "Failed to mark change published", err)
	}
	if !published {
		d.logger.Warn("change was not in a publishable state after sending",
			slog.String("change_id", changeID),
		)
	}
	result.Published = published

	duration := time.Since(start)
	d.metrics.RecordDispatch(metrics.OutcomePublished, duration)
	d.logger.Info("alert dispatch completed",
		slog.String("change_id", changeID),
		slog.Int("eligible", result.Eligible),
		slog.Int("sent", result.Sent),
		slog.Int("failed", result.Failed),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	d.notifyOperators(batchCtx, change, result)
	return result, nil
}

// eligibleSubscribers はactiveな購読者のうち管轄が一致するものを返す。
func (d *Dispatcher) eligibleSubscribers(ctx context.Context, j model.Jurisdiction) ([]*model.Subscriber, error) {
	active, err := d.subscribers.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	eligible := make([]*model.Subscriber, 0, len(active))
	for _, s := range active {
		if s.WantsJurisdiction(j) {
			eligible = append(eligible, s)
		}
	}
	return eligible, nil
}

// sendAll はsemaphoreパターンで並列数を制限しながら全購読者へ送信する。
func (d *Dispatcher) sendAll(ctx context.Context, change *model.ChangeWithSource, recipients []*model.Subscriber) (sent, failed int) {
	sem := make(chan struct{}, d.cfg.MaxConcurrent)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, sub := range recipients {
		wg.Add(1)
		sem <- struct{}{}

		go func(s *model.Subscriber) {
			defer wg.Done()
			defer func() { <-sem }()

			ok := d.sendOne(ctx, change, s)

			mu.Lock()
			if ok {
				sent++
			} else {
				failed++
			}
			mu.Unlock()
		}(sub)
	}

	wg.Wait()
	return sent, failed
}

// sendOne は1購読者へ送信し、結果をalert_logに記録する。送信に成功した場合trueを返す。
func (d *Dispatcher) sendOne(ctx context.Context, change *model.ChangeWithSource, sub *model.Subscriber) bool {
	entry := &model.AlertLogEntry{
		ChangeID:     change.ID,
		SubscriberID: sub.ID,
		Channel:      model.AlertChannelEmail,
	}

	messageID, err := d.deliver(ctx, change, sub)
	if err != nil {
		derr := model.NewDeliveryError(sub.Email, err)
		d.logger.Error("failed to send alert",
			slog.String("change_id", change.ID),
			slog.String("subscriber_id", sub.ID),
			slog.String("error", derr.Error()),
		)
		msg := err.Error()
		entry.Status = model.AlertStatusFailed
		entry.ErrorMessage = &msg
	} else {
		entry.Status = model.AlertStatusSent
		if messageID != "" {
			entry.ProviderMessageID = &messageID
		}
	}
	d.metrics.RecordAlert(string(entry.Status))

	if lerr := d.alertLog.Create(ctx, entry); lerr != nil {
		d.logger.Error("failed to write alert log",
			slog.String("change_id", change.ID),
			slog.String("subscriber_id", sub.ID),
			slog.String("status", string(entry.Status)),
			slog.String("error", lerr.Error()),
		)
	}
	return err == nil
}

func (d *Dispatcher) deliver(ctx context.Context, change *model.ChangeWithSource, sub *model.Subscriber) (string, error) {
	n, err := d.renderer.Render(RenderInput{
		ChangeID:       change.ID,
		SubscriberName: sub.Name,
		SourceName:     change.SourceName,
		Jurisdiction:   change.SourceJurisdiction,
		Summary:        change.SummaryOr(""),
		Severity:       change.Severity,
	})
	if err != nil {
		return "", err
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()
	return d.provider.Send(sendCtx, email.Message{
		To:      sub.Email,
		Subject: n.Subject,
		HTML:    n.HTML,
		Text:    n.Text,
		Tags:    map[string]string{"change_id": change.ID},
	})
}

// holdClaim は返された関数が呼ばれるまで確保を定期的に更新する。
func (d *Dispatcher) holdClaim(ctx context.Context, changeID string) (stop func()) {
	interval := d.cfg.ClaimTTL / 3
	if interval <= 0 {
		interval = d.cfg.ClaimTTL
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ok, err := d.changes.RefreshClaim(ctx, changeID)
				if err != nil {
					d.logger.Warn("failed to refresh dispatch claim",
						slog.String("change_id", changeID),
						slog.String("error", err.Error()),
					)
				} else if !ok {
					d.logger.Warn("dispatch claim was lost during sending",
						slog.String("change_id", changeID),
					)
				}
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

func (d *Dispatcher) releaseClaim(ctx context.Context, changeID string) {
	if err := d.changes.ReleaseClaim(ctx, changeID); err != nil {
		d.logger.Error("failed to release dispatch claim",
			slog.String("change_id", changeID),
			slog.String("error", err.Error()),
		)
	}
}

func (d *Dispatcher) notifyOperators(ctx context.Context, change *model.ChangeWithSource, result *DispatchResult) {
	text := fmt.Sprintf("Alerts sent for %s (%s): %d sent, %d failed of %d eligible. %s",
		change.SourceName,
		change.SourceJurisdiction.DisplayName(),
		result.Sent, result.Failed, result.Eligible,
		d.renderer.ChangeURL(change.ID),
	)
	ctx, cancel := context.WithTimeout(ctx, d.cfg.NotifyTimeout)
	defer cancel()
	if err := d.notifier.Notify(ctx, text); err != nil {
		d.logger.Warn("failed to notify operators",
			slog.String("change_id", change.ID),
			slog.String("error", err.Error()),
		)
	}
}
