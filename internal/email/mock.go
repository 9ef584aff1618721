package email

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// MockProvider は送信せずにログへ出力するプロバイダー。ローカル開発用。
// 送信したメッセージはSentで参照できる。
type MockProvider struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []Message
}

// NewMockProvider はMockProviderを生成する。
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{logger: logger}
}

// Send はメールをログに出力し、擬似的なメッセージIDを返す。
func (m *MockProvider) Send(ctx context.Context, msg Message) (string, error) {
	if msg.To == "" {
		return "", ErrEmptyRecipient
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := "mock-" + uuid.NewString()
	m.logger.Info("MOCK EMAIL",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.Int("body_length", len(msg.HTML)),
		slog.String("message_id", id),
	)

	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	return id, nil
}

// Sent は送信済みメッセージのコピーを返す。
func (m *MockProvider) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}

var _ Provider = (*MockProvider)(nil)
