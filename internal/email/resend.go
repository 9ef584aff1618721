package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/resend/resend-go/v2"
)

// resendEmails はresendクライアントのうち送信に使う部分。
type resendEmails interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendProvider はResend APIでメールを送信する。
type ResendProvider struct {
	emails resendEmails
	from   string
	logger *slog.Logger
}

// NewResendProvider はAPIキーと送信元アドレスからResendProviderを生成する。
func NewResendProvider(apiKey, from string, logger *slog.Logger) *ResendProvider {
	client := resend.NewClient(apiKey)
	return newResendProvider(client.Emails, from, logger)
}

func newResendProvider(emails resendEmails, from string, logger *slog.Logger) *ResendProvider {
	return &ResendProvider{emails: emails, from: from, logger: logger}
}

// Send はメールを1通送信する。リトライは行わない。
func (p *ResendProvider) Send(ctx context.Context, msg Message) (string, error) {
	if msg.To == "" {
		return "", ErrEmptyRecipient
	}

	text := msg.Text
	if text == "" {
		var err error
		text, err = PlainText(msg.HTML)
		if err != nil {
			p.logger.Warn("failed to derive plain text body", slog.String("error", err.Error()))
			text = ""
		}
	}

	req := &resend.SendEmailRequest{
		From:    p.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    text,
	}
	for name, value := range msg.Tags {
		req.Tags = append(req.Tags, resend.Tag{Name: name, Value: value})
	}

	start := time.Now()
	resp, err := p.emails.SendWithContext(ctx, req)
	duration := time.Since(start)
	if err != nil {
		p.logger.Warn("resend API request failed",
			slog.String("to", msg.To),
			slog.Int64("duration_ms", duration.Milliseconds()),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("resend send to %s: %w", msg.To, err)
	}

	p.logger.Debug("resend API request completed",
		slog.String("to", msg.To),
		slog.String("message_id", resp.Id),
		slog.Int64("duration_ms", duration.Milliseconds()),
	)
	return resp.Id, nil
}

var _ Provider = (*ResendProvider)(nil)
