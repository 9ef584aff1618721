package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeResult struct {
	rowsAffected int64
}

func (r *fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r *fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type execCall struct {
	query string
	args  []any
}

// mockExecutor はクエリ内容に応じて結果を返すExecutorのモック。
type mockExecutor struct {
	mu    sync.Mutex
	calls []execCall
	// execFn が nil の場合は0件を返す
	execFn func(query string) (sql.Result, error)
}

func (m *mockExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, execCall{query: query, args: args})
	m.mu.Unlock()
	if m.execFn != nil {
		return m.execFn(query)
	}
	return &fakeResult{}, nil
}

func (m *mockExecutor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockExecutor) find(fragment string) *execCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.calls {
		if strings.Contains(m.calls[i].query, fragment) {
			return &m.calls[i]
		}
	}
	return nil
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// findLogValue はJSONログからキーの値を探す。
func findLogValue(t *testing.T, buf *bytes.Buffer, key string) (any, bool) {
	t.Helper()
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if v, ok := entry[key]; ok {
			return v, true
		}
	}
	return nil, false
}

func TestNewJob_Defaults(t *testing.T) {
	var buf bytes.Buffer
	job := NewJob(&mockExecutor{}, newTestLogger(&buf))

	if job.RetentionDays != 90 {
		t.Errorf("RetentionDays = %d, want 90", job.RetentionDays)
	}
	if job.ClaimTTL != 15*time.Minute {
		t.Errorf("ClaimTTL = %v, want 15m", job.ClaimTTL)
	}
}

func TestJob_Run_PurgesOnlyProcessedBillingEvents(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{}
	job := NewJob(mock, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	call := mock.find("DELETE FROM billing_events")
	if call == nil {
		t.Fatal("billing_eventsの削除クエリが実行されていない")
	}
	if !strings.Contains(call.query, "processed_at IS NOT NULL") {
		t.Errorf("未処理イベントを削除対象から除外していない: %s", call.query)
	}
	if len(call.args) != 1 || call.args[0] != "90 days" {
		t.Errorf("interval引数 = %v, want [90 days]", call.args)
	}
}

func TestJob_Run_ReleasesStaleClaims(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{}
	job := NewJob(mock, newTestLogger(&buf))
	job.ClaimTTL = 30 * time.Minute

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	call := mock.find("UPDATE changes SET dispatch_claimed_at = NULL")
	if call == nil {
		t.Fatal("配信確保の解除クエリが実行されていない")
	}
	if !strings.Contains(call.query, "published_at IS NULL") {
		t.Errorf("公開済みの変更を対象から除外していない: %s", call.query)
	}
	if len(call.args) != 1 || call.args[0] != "1800 seconds" {
		t.Errorf("interval引数 = %v, want [1800 seconds]", call.args)
	}
}

func TestJob_Run_CustomRetentionDays(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{}
	job := NewJob(mock, newTestLogger(&buf))
	job.RetentionDays = 30

	_ = job.Run(context.Background())

	call := mock.find("DELETE FROM billing_events")
	if call == nil || call.args[0] != "30 days" {
		t.Errorf("interval引数が保持日数を反映していない: %+v", call)
	}
}

func TestJob_Run_LogsCounts(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{
		execFn: func(query string) (sql.Result, error) {
			if strings.Contains(query, "billing_events") {
				return &fakeResult{rowsAffected: 42}, nil
			}
			return &fakeResult{rowsAffected: 2}, nil
		},
	}
	job := NewJob(mock, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if v, ok := findLogValue(t, &buf, "deleted_count"); !ok || v != float64(42) {
		t.Errorf("ログに deleted_count=42 が記録されていない。ログ出力: %s", buf.String())
	}
	if v, ok := findLogValue(t, &buf, "released_claims"); !ok || v != float64(2) {
		t.Errorf("ログに released_claims=2 が記録されていない。ログ出力: %s", buf.String())
	}
	if _, ok := findLogValue(t, &buf, "duration_ms"); !ok {
		t.Errorf("ログに duration_ms が記録されていない。ログ出力: %s", buf.String())
	}
	if v, _ := findLogValue(t, &buf, "msg"); v != "released stale dispatch claims" {
		t.Errorf("msg = %v, 他パッケージと同じ英語のログメッセージであるべき", v)
	}
	if !strings.Contains(buf.String(), `"msg":"maintenance job completed"`) {
		t.Errorf("完了ログが記録されていない。ログ出力: %s", buf.String())
	}
}

func TestJob_Run_Idempotent_ZeroRows(t *testing.T) {
	var buf bytes.Buffer
	job := NewJob(&mockExecutor{}, newTestLogger(&buf))

	for i := 0; i < 2; i++ {
		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("%d回目の Run() がエラーを返した: %v", i+1, err)
		}
	}
	if v, ok := findLogValue(t, &buf, "deleted_count"); !ok || v != float64(0) {
		t.Errorf("0件削除時にもログに deleted_count=0 が記録されるべき。ログ出力: %s", buf.String())
	}
}

func TestJob_Run_PurgeFailureStillReleasesClaims(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{
		execFn: func(query string) (sql.Result, error) {
			if strings.Contains(query, "billing_events") {
				return nil, sql.ErrConnDone
			}
			return &fakeResult{}, nil
		},
	}
	job := NewJob(mock, newTestLogger(&buf))

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("DBエラー時に Run() は nil でないエラーを返すべき")
	}
	if !strings.Contains(err.Error(), "sql: connection is already closed") {
		t.Errorf("エラーメッセージが期待と異なる: %v", err)
	}
	if mock.find("UPDATE changes") == nil {
		t.Error("削除に失敗しても確保の解除は実行されるべき")
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("エラー時にERRORレベルのログが記録されていない。ログ出力: %s", buf.String())
	}
}

func TestJob_Start_StopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{}
	job := NewJob(mock, slog.New(slog.NewJSONHandler(&syncWriter{w: &buf}, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Hour)
		close(done)
	}()

	// 起動直後の1回の実行を待つ
	deadline := time.After(2 * time.Second)
	for mock.callCount() < 2 {
		select {
		case <-deadline:
			t.Fatal("起動直後にRunが実行されていない")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("コンテキストのキャンセル後もStartが終了しない")
	}
}

// syncWriter はgoroutineから書き込まれるログバッファを保護する。
type syncWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
