// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/strmonitor/internal/model"
)

// ErrChangeNotUpdated は更新対象の変更レコードが存在しなかったことを示す。
var ErrChangeNotUpdated = errors.New("no change row matched the update")

// ChangeRepository は変更レコードの永続化インターフェース。
// 行の作成は監視サブシステムが行うため、ここではレビューと配信に関わる更新のみを扱う。
type ChangeRepository interface {
	// FindWithSource は変更レコードを監視元ページ情報と結合して取得する。
	// 見つからない場合はnilを返す。
	FindWithSource(ctx context.Context, id string) (*model.ChangeWithSource, error)

	// Approve は変更を承認済みにし、要約・severity・approved_atを単一のUPDATE文で設定する。
	// 対象行が存在しない場合はErrChangeNotUpdatedをラップしたエラーを返す。
	// diff_textとスナップショット参照は変更しない。
	Approve(ctx context.Context, id, summary string, severity model.Severity) (*model.Change, error)

	// ClaimForDispatch は配信処理のために変更を確保する。
	// 承認済み・未公開・未確保（またはttlより古い確保）の場合のみ確保でき、trueを返す。
	ClaimForDispatch(ctx context.Context, id string, ttl time.Duration) (bool, error)

	// RefreshClaim は確保中の変更のdispatch_claimed_atを現在時刻に更新する。
	// 未公開かつ確保中の場合のみ更新し、更新した場合にtrueを返す。
	RefreshClaim(ctx context.Context, id string) (bool, error)

	// ReleaseClaim は配信の確保を解除する。公開状態は変更しない。
	ReleaseClaim(ctx context.Context, id string) error

	// MarkPublished はpublished_atを設定し確保を解除する。
	// 承認済みかつ未公開の行のみ更新し、更新した場合にtrueを返す。
	MarkPublished(ctx context.Context, id string) (bool, error)

	// ListPending はレビュー待ち（detected）の変更をdetected_at降順で返す。
	ListPending(ctx context.Context, limit int) ([]model.ChangeWithSource, error)

	// ListPublished は公開済みの変更をpublished_at降順で返す。
	ListPublished(ctx context.Context, limit int) ([]model.ChangeWithSource, error)
}

// SourceRepository は監視対象ページの読み取りインターフェース。
type SourceRepository interface {
	// ListActive は監視中のページを管轄・名前順で返す。
	ListActive(ctx context.Context) ([]*model.Source, error)
}

// SnapshotRepository はスナップショットの読み取りインターフェース。
type SnapshotRepository interface {
	// FindByID は指定IDのスナップショットを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Snapshot, error)
}

// SubscriberRepository は購読者データの永続化インターフェース。
type SubscriberRepository interface {
	// ListActive は課金状態がactiveの購読者を全件返す。
	ListActive(ctx context.Context) ([]*model.Subscriber, error)

	// UpsertFromCheckout はメールアドレスをキーに購読者を作成または更新し、状態をactiveにする。
	// 新規作成時の管轄にはdefaultsを使用し、既存購読者の管轄は変更しない。
	UpsertFromCheckout(ctx context.Context, checkout model.CheckoutCompleted, defaults []model.Jurisdiction) (*model.Subscriber, error)

	// UpdateStatusBySubscriptionID は決済側の購読IDに一致する購読者の状態を更新し、更新件数を返す。
	UpdateStatusBySubscriptionID(ctx context.Context, subscriptionID string, status model.SubscriberStatus) (int64, error)

	// CancelBySubscriptionID は購読者を解約状態にする。canceled_atは初回のみ設定される。
	CancelBySubscriptionID(ctx context.Context, subscriptionID string) (int64, error)
}

// AlertLogRepository は配信試行ログの永続化インターフェース。追記のみ。
type AlertLogRepository interface {
	// Create は配信試行を1件記録する。IDとCreatedAtが空の場合は採番する。
	Create(ctx context.Context, entry *model.AlertLogEntry) error

	// CountByChangeID は変更ごとの状態別配信件数を返す。
	CountByChangeID(ctx context.Context, changeID string) (map[model.AlertStatus]int, error)
}

// BillingEventRepository は決済Webhookイベント台帳の永続化インターフェース。
type BillingEventRepository interface {
	// Record はイベントを台帳に記録する。同一 (provider, provider_event_id) が既にある場合は
	// 既存行のIDをeventに設定し、その行が処理済みかどうかを返す。
	Record(ctx context.Context, event *model.BillingEvent) (alreadyProcessed bool, err error)

	// MarkProcessed はイベントを処理済みにし、前回の処理エラーをクリアする。
	MarkProcessed(ctx context.Context, id string) error

	// MarkFailed はイベントの処理エラーを記録する。processed_atは設定しない。
	MarkFailed(ctx context.Context, id, message string) error
}
