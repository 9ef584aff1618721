package alert

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/strmonitor/internal/email"
	"github.com/hitoshi/strmonitor/internal/model"
	"github.com/hitoshi/strmonitor/internal/repository"
	"github.com/hitoshi/strmonitor/internal/security"
)

// fakeChangeRepo はメモリ上で確保・公開の状態遷移を再現するChangeRepository。
type fakeChangeRepo struct {
	mu      sync.Mutex
	changes map[string]*model.ChangeWithSource

	findErr    error
	claimErr   error
	publishErr error

	claimCalls   int
	refreshCalls int
	releaseCalls int
	publishCalls int
}

func newFakeChangeRepo(changes ...*model.ChangeWithSource) *fakeChangeRepo {
	r := &fakeChangeRepo{changes: map[string]*model.ChangeWithSource{}}
	for _, c := range changes {
		r.changes[c.ID] = c
	}
	return r
}

func (r *fakeChangeRepo) FindWithSource(ctx context.Context, id string) (*model.ChangeWithSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	c, ok := r.changes[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *fakeChangeRepo) Approve(ctx context.Context, id, summary string, severity model.Severity) (*model.Change, error) {
	return nil, errors.New("not used")
}

func (r *fakeChangeRepo) ClaimForDispatch(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claimCalls++
	if r.claimErr != nil {
		return false, r.claimErr
	}
	c, ok := r.changes[id]
	if !ok || !c.IsApproved() || c.IsPublished() {
		return false, nil
	}
	if c.DispatchClaimedAt != nil && time.Since(*c.DispatchClaimedAt) < ttl {
		return false, nil
	}
	now := time.Now()
	c.DispatchClaimedAt = &now
	return true, nil
}

func (r *fakeChangeRepo) RefreshClaim(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshCalls++
	c, ok := r.changes[id]
	if !ok || c.IsPublished() || c.DispatchClaimedAt == nil {
		return false, nil
	}
	now := time.Now()
	c.DispatchClaimedAt = &now
	return true, nil
}

func (r *fakeChangeRepo) ReleaseClaim(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseCalls++
	if c, ok := r.changes[id]; ok && !c.IsPublished() {
		c.DispatchClaimedAt = nil
	}
	return nil
}

func (r *fakeChangeRepo) MarkPublished(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishCalls++
	if r.publishErr != nil {
		return false, r.publishErr
	}
	c, ok := r.changes[id]
	if !ok || !c.IsApproved() || c.IsPublished() {
		return false, nil
	}
	now := time.Now()
	c.PublishedAt = &now
	c.DispatchClaimedAt = nil
	return true, nil
}

func (r *fakeChangeRepo) ListPending(ctx context.Context, limit int) ([]model.ChangeWithSource, error) {
	return nil, nil
}

func (r *fakeChangeRepo) ListPublished(ctx context.Context, limit int) ([]model.ChangeWithSource, error) {
	return nil, nil
}

func (r *fakeChangeRepo) get(id string) model.ChangeWithSource {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.changes[id]
}

// fakeSubscriberRepo はListActiveのみを実装する。
type fakeSubscriberRepo struct {
	subs []*model.Subscriber
	err  error
}

func (r *fakeSubscriberRepo) ListActive(ctx context.Context) ([]*model.Subscriber, error) {
	if r.err != nil {
		return nil, r.err
	}
	var active []*model.Subscriber
	for _, s := range r.subs {
		if s.IsActive() {
			active = append(active, s)
		}
	}
	return active, nil
}

func (r *fakeSubscriberRepo) UpsertFromCheckout(ctx context.Context, c model.CheckoutCompleted, d []model.Jurisdiction) (*model.Subscriber, error) {
	return nil, errors.New("not used")
}

func (r *fakeSubscriberRepo) UpdateStatusBySubscriptionID(ctx context.Context, id string, s model.SubscriberStatus) (int64, error) {
	return 0, errors.New("not used")
}

func (r *fakeSubscriberRepo) CancelBySubscriptionID(ctx context.Context, id string) (int64, error) {
	return 0, errors.New("not used")
}

// fakeAlertLogRepo は記録されたエントリを保持する。
type fakeAlertLogRepo struct {
	mu      sync.Mutex
	entries []model.AlertLogEntry
	err     error
}

func (r *fakeAlertLogRepo) Create(ctx context.Context, e *model.AlertLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, *e)
	return nil
}

func (r *fakeAlertLogRepo) CountByChangeID(ctx context.Context, changeID string) (map[model.AlertStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[model.AlertStatus]int{}
	for _, e := range r.entries {
		if e.ChangeID == changeID {
			counts[e.Status]++
		}
	}
	return counts, nil
}

func (r *fakeAlertLogRepo) byStatus(status model.AlertStatus) []model.AlertLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.AlertLogEntry
	for _, e := range r.entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

// fakeProvider は宛先ごとに失敗を注入できるemail.Provider。
type fakeProvider struct {
	mu       sync.Mutex
	sent     []email.Message
	failFor  map[string]error
	inFlight int
	maxSeen  int
	delay    time.Duration
}

func (p *fakeProvider) Send(ctx context.Context, msg email.Message) (string, error) {
	p.mu.Lock()
	p.inFlight++
	if p.inFlight > p.maxSeen {
		p.maxSeen = p.inFlight
	}
	p.mu.Unlock()

	if p.delay > 0 {
		time.Sleep(p.delay)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight--
	if err, ok := p.failFor[msg.To]; ok {
		return "", err
	}
	p.sent = append(p.sent, msg)
	return "msg-" + msg.To, nil
}

// fakeNotifier は通知テキストを保持する。
type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
	err   error
	// block が真の場合はctxが終了するまで戻らない。
	block bool
}

func (n *fakeNotifier) Notify(ctx context.Context, text string) error {
	n.mu.Lock()
	n.texts = append(n.texts, text)
	block, err := n.block, n.err
	n.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

var (
	_ repository.ChangeRepository     = (*fakeChangeRepo)(nil)
	_ repository.SubscriberRepository = (*fakeSubscriberRepo)(nil)
	_ repository.AlertLogRepository   = (*fakeAlertLogRepo)(nil)
	_ email.Provider                  = (*fakeProvider)(nil)
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestRenderer() *Renderer {
	r, err := NewRenderer("https://strmonitor.com", security.NewSummarySanitizer())
	if err != nil {
		panic(err)
	}
	return r
}

func strPtr(s string) *string { return &s }

func approvedChange(id string, j model.Jurisdiction) *model.ChangeWithSource {
	approvedAt := time.Now().Add(-time.Hour)
	return &model.ChangeWithSource{
		Change: model.Change{
			ID:         id,
			SourceID:   "src-" + id,
			DiffText:   "- 30 nights\n+ 60 nights",
			Status:     model.ChangeStatusApproved,
			Summary:    strPtr("Minimum stay raised to 60 nights."),
			Severity:   model.SeverityCritical,
			DetectedAt: approvedAt.Add(-time.Hour),
			ApprovedAt: &approvedAt,
		},
		SourceName:         "Pleasanton STR Ordinance",
		SourceJurisdiction: j,
		SourceURL:          "https://pleasanton.gov/str",
	}
}

func subscriber(id, mail string, status model.SubscriberStatus, js ...model.Jurisdiction) *model.Subscriber {
	return &model.Subscriber{ID: id, Email: mail, Name: "Host " + id, Status: status, Jurisdictions: js}
}
