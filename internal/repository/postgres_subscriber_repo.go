package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/strmonitor/internal/model"
)

// PostgresSubscriberRepo はPostgreSQLを使用した購読者リポジトリ。
type PostgresSubscriberRepo struct {
	db *sql.DB
}

// NewPostgresSubscriberRepo はPostgresSubscriberRepoを生成する。
func NewPostgresSubscriberRepo(db *sql.DB) *PostgresSubscriberRepo {
	return &PostgresSubscriberRepo{db: db}
}

const subscriberColumns = `id, email, name, plan, status, jurisdictions,
	COALESCE(stripe_customer_id, ''), COALESCE(stripe_subscription_id, ''), canceled_at, created_at, updated_at`

func scanSubscriber(row rowScanner) (*model.Subscriber, error) {
	s := &model.Subscriber{}
	var (
		jurisdictions pq.StringArray
		canceledAt    sql.NullTime
	)
	err := row.Scan(&s.ID, &s.Email, &s.Name, &s.Plan, &s.Status, &jurisdictions,
		&s.StripeCustomerID, &s.StripeSubscriptionID, &canceledAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Jurisdictions = make([]model.Jurisdiction, 0, len(jurisdictions))
	for _, j := range jurisdictions {
		s.Jurisdictions = append(s.Jurisdictions, model.Jurisdiction(j))
	}
	s.CanceledAt = nullTimePtr(canceledAt)
	return s, nil
}

// ListActive は課金状態がactiveの購読者を作成日時順に返す。
func (r *PostgresSubscriberRepo) ListActive(ctx context.Context) ([]*model.Subscriber, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+subscriberColumns+`
		 FROM subscribers WHERE status = 'active'
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active subscribers: %w", err)
	}
	defer rows.Close()

	subs := []*model.Subscriber{}
	for rows.Next() {
		s, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscriber row: %w", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscriber rows: %w", err)
	}
	return subs, nil
}

// UpsertFromCheckout はメールアドレスをキーに購読者を作成または更新する。
// 既存行の名前と管轄は維持し、決済情報と状態のみ更新する。
func (r *PostgresSubscriberRepo) UpsertFromCheckout(ctx context.Context, checkout model.CheckoutCompleted, defaults []model.Jurisdiction) (*model.Subscriber, error) {
	jurisdictions := make(pq.StringArray, 0, len(defaults))
	for _, j := range defaults {
		jurisdictions = append(jurisdictions, string(j))
	}

	row := r.db.QueryRowContext(ctx,
		`INSERT INTO subscribers (id, email, name, plan, status, jurisdictions,
		                          stripe_customer_id, stripe_subscription_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 'active', $5, NULLIF($6, ''), NULLIF($7, ''), NOW(), NOW())
		 ON CONFLICT (email) DO UPDATE SET
		   plan = EXCLUDED.plan,
		   status = 'active',
		   stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, subscribers.stripe_customer_id),
		   stripe_subscription_id = COALESCE(EXCLUDED.stripe_subscription_id, subscribers.stripe_subscription_id),
		   canceled_at = NULL,
		   updated_at = NOW()
		 RETURNING `+subscriberColumns,
		uuid.NewString(), checkout.Email, checkout.Name, checkout.Plan, jurisdictions,
		checkout.CustomerID, checkout.SubscriptionID,
	)
	s, err := scanSubscriber(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subscriber %s: %w", checkout.Email, err)
	}
	return s, nil
}

// UpdateStatusBySubscriptionID は決済側の購読IDに一致する購読者の状態を更新する。
func (r *PostgresSubscriberRepo) UpdateStatusBySubscriptionID(ctx context.Context, subscriptionID string, status model.SubscriberStatus) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE subscribers SET status = $2, updated_at = NOW()
		 WHERE stripe_subscription_id = $1`,
		subscriptionID, string(status),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update subscriber status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}

// CancelBySubscriptionID は購読者を解約状態にする。再送時もcanceled_atは最初の値を保つ。
func (r *PostgresSubscriberRepo) CancelBySubscriptionID(ctx context.Context, subscriptionID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE subscribers
		 SET status = 'canceled', canceled_at = COALESCE(canceled_at, NOW()), updated_at = NOW()
		 WHERE stripe_subscription_id = $1`,
		subscriptionID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel subscriber: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}

var _ SubscriberRepository = (*PostgresSubscriberRepo)(nil)
