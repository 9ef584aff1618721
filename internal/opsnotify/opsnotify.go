// Package opsnotify は運用者向けの通知（Slack Incoming Webhook）を提供する。
package opsnotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// Notifier は運用者へ短いテキストを通知する。
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// NoopNotifier は通知先が未設定の場合に使う。
type NoopNotifier struct{}

// Notify は何もしない。
func (NoopNotifier) Notify(context.Context, string) error { return nil }

// SlackNotifier はSlack Incoming Webhookへ投稿する。
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
	logger     *slog.Logger
	attempts   uint
	delay      time.Duration
}

// NewSlackNotifier はSlackNotifierを生成する。
// clientには外部向けに制限されたクライアント（security.OutboundGuard）を渡す。
func NewSlackNotifier(webhookURL string, client *http.Client, logger *slog.Logger) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     client,
		logger:     logger,
		attempts:   3,
		delay:      time.Second,
	}
}

type slackPayload struct {
	Text string `json:"text"`
}

// Notify はテキストを投稿する。5xxと通信エラーは最大3回まで再試行し、4xxは即座に失敗とする。
func (n *SlackNotifier) Notify(ctx context.Context, text string) error {
	body, err := json.Marshal(slackPayload{Text: text})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	err = retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := n.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

			switch {
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				return nil
			case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
				return fmt.Errorf("slack webhook returned HTTP %d", resp.StatusCode)
			default:
				return retry.Unrecoverable(fmt.Errorf("slack webhook returned HTTP %d", resp.StatusCode))
			}
		},
		retry.Attempts(n.attempts),
		retry.Delay(n.delay),
		retry.MaxDelay(10*time.Second),
		retry.MaxJitter(500*time.Millisecond),
		retry.Context(ctx),
		retry.OnRetry(func(attempt uint, err error) {
			n.logger.Info("retrying slack notification", slog.Uint64("attempt", uint64(attempt)), slog.String("error", err.Error()))
		}),
	)
	if err != nil {
		return fmt.Errorf("slack notify: %w", err)
	}
	return nil
}

var (
	_ Notifier = NoopNotifier{}
	_ Notifier = (*SlackNotifier)(nil)
)
