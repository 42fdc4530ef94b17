package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/subkit/pkg/subscription"
)

const subscriptionColumns = `s.id, s.tag, s.subscriber_type, s.subscriber_id, s.plan_id, s.name, s.description,
	s.payment_method, s.price::text, s.currency, s.tier,
	s.trial_period, s.trial_interval, s.grace_period, s.grace_interval, s.invoice_period, s.invoice_interval,
	s.trial_ends_at, s.starts_at, s.ends_at, s.cancels_at, s.canceled_at, s.created_at, s.updated_at`

// CreateSubscription inserts sub with its granted features and usage.
func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	b := &pgx.Batch{}
	b.Queue(`INSERT INTO subscriptions (id, tag, subscriber_type, subscriber_id, plan_id, name, description,
		payment_method, price, currency, tier, trial_period, trial_interval, grace_period, grace_interval,
		invoice_period, invoice_interval, trial_ends_at, starts_at, ends_at, cancels_at, canceled_at,
		created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::text::numeric, $10, $11, $12, $13, $14, $15, $16, $17,
		$18, $19, $20, $21, $22, $23, $24)`,
		sub.ID, sub.Tag, sub.Subscriber.Type, sub.Subscriber.ID, sub.PlanID, sub.Name, sub.Description,
		sub.PaymentMethod, numeric(sub.Price), sub.Currency, sub.Tier,
		sub.Trial.Length, string(sub.Trial.Interval), sub.Grace.Length, string(sub.Grace.Interval),
		sub.Invoice.Length, string(sub.Invoice.Interval),
		sub.TrialEndsAt, sub.StartsAt, sub.EndsAt, sub.CancelsAt, sub.CanceledAt, sub.CreatedAt, sub.UpdatedAt,
	)
	queueFeatures(b, sub)

	err := s.Tx(ctx, func(ctx context.Context) error {
		return execBatch(ctx, s.db(ctx), b)
	})
	if err != nil {
		return fmt.Errorf("create subscription %s/%s: %w", sub.Subscriber, sub.Tag,
			classify(err, nil, subscription.ErrDuplicateSubscription))
	}
	return nil
}

// SaveSubscription updates sub and reconciles its features: grants missing
// from sub are deleted together with their usage.
func (s *Store) SaveSubscription(ctx context.Context, sub *subscription.Subscription) error {
	keep := make([]uuid.UUID, len(sub.Features))
	for i, f := range sub.Features {
		keep[i] = f.ID
	}

	b := &pgx.Batch{}
	b.Queue(`DELETE FROM subscription_features WHERE subscription_id = $1 AND NOT (id = ANY($2))`, sub.ID, keep)
	queueFeatures(b, sub)

	return s.Tx(ctx, func(ctx context.Context) error {
		res, err := s.db(ctx).Exec(ctx, `UPDATE subscriptions SET tag = $2, plan_id = $3, name = $4,
			description = $5, payment_method = $6, price = $7::text::numeric, currency = $8, tier = $9,
			trial_period = $10, trial_interval = $11, grace_period = $12, grace_interval = $13,
			invoice_period = $14, invoice_interval = $15, trial_ends_at = $16, starts_at = $17,
			ends_at = $18, cancels_at = $19, canceled_at = $20, updated_at = $21
			WHERE id = $1`,
			sub.ID, sub.Tag, sub.PlanID, sub.Name, sub.Description, sub.PaymentMethod, numeric(sub.Price),
			sub.Currency, sub.Tier, sub.Trial.Length, string(sub.Trial.Interval),
			sub.Grace.Length, string(sub.Grace.Interval), sub.Invoice.Length, string(sub.Invoice.Interval),
			sub.TrialEndsAt, sub.StartsAt, sub.EndsAt, sub.CancelsAt, sub.CanceledAt, sub.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("save subscription %s: %w", sub.ID, classify(err, nil, subscription.ErrDuplicateSubscription))
		}
		if res.RowsAffected() == 0 {
			return fmt.Errorf("%w: id %s", subscription.ErrSubscriptionNotFound, sub.ID)
		}
		if err := execBatch(ctx, s.db(ctx), b); err != nil {
			return fmt.Errorf("save subscription %s features: %w", sub.ID, classify(err, nil, subscription.ErrDuplicateGrant))
		}
		return nil
	})
}

// queueFeatures upserts every granted feature of sub and its usage row.
func queueFeatures(b *pgx.Batch, sub *subscription.Subscription) {
	for _, f := range sub.Features {
		b.Queue(`INSERT INTO subscription_features (id, subscription_id, feature_id, tag, name, description,
			value, resettable_period, resettable_interval, sort_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO UPDATE SET feature_id = EXCLUDED.feature_id, tag = EXCLUDED.tag,
			name = EXCLUDED.name, description = EXCLUDED.description, value = EXCLUDED.value,
			resettable_period = EXCLUDED.resettable_period, resettable_interval = EXCLUDED.resettable_interval,
			sort_order = EXCLUDED.sort_order`,
			f.ID, sub.ID, f.FeatureID, f.Tag, f.Name, f.Description, f.Value,
			f.Reset.Length, string(f.Reset.Interval), f.SortOrder,
		)

		if f.Usage == nil {
			b.Queue(`DELETE FROM subscription_usage WHERE subscription_feature_id = $1`, f.ID)
			continue
		}
		b.Queue(`INSERT INTO subscription_usage (subscription_feature_id, used, valid_until, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (subscription_feature_id) DO UPDATE SET used = EXCLUDED.used,
			valid_until = EXCLUDED.valid_until, updated_at = now()`,
			f.ID, f.Usage.Used, f.Usage.ValidUntil,
		)
	}
}

// Subscription loads a subscription by ID. Inside a transaction the row stays
// locked until the transaction ends.
func (s *Store) Subscription(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	sub, err := s.oneSubscription(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions s WHERE s.id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("%w: id %s", classify(err, subscription.ErrSubscriptionNotFound, nil), id)
	}
	return sub, nil
}

// SubscriptionByTag loads the subscriber's subscription with the given tag,
// locking it like Subscription does.
func (s *Store) SubscriptionByTag(ctx context.Context, ref subscription.SubscriberRef, tag string) (*subscription.Subscription, error) {
	sub, err := s.oneSubscription(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions s
		WHERE s.subscriber_type = $1 AND s.subscriber_id = $2 AND s.tag = $3`, ref.Type, ref.ID, tag)
	if err != nil {
		return nil, fmt.Errorf("%w: %s tag %q", classify(err, subscription.ErrSubscriptionNotFound, nil), ref, tag)
	}
	return sub, nil
}

// FindSubscriptions returns the subscriptions matching q, oldest first. Rows are not locked.
func (s *Store) FindSubscriptions(ctx context.Context, q subscription.Query) ([]*subscription.Subscription, error) {
	query, args := buildFindQuery(q)
	rows, err := s.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	subs, err := pgx.CollectRows(rows, scanSubscription)
	if err != nil {
		return nil, err
	}
	if err := s.attachFeatures(ctx, subs); err != nil {
		return nil, err
	}
	return subs, nil
}

func (s *Store) oneSubscription(ctx context.Context, query string, args ...any) (*subscription.Subscription, error) {
	if inTx(ctx) {
		query += ` FOR UPDATE OF s`
	}
	rows, err := s.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	sub, err := pgx.CollectExactlyOneRow(rows, scanSubscription)
	if err != nil {
		return nil, err
	}
	if err := s.attachFeatures(ctx, []*subscription.Subscription{sub}); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Store) attachFeatures(ctx context.Context, subs []*subscription.Subscription) error {
	if len(subs) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(subs))
	index := make(map[uuid.UUID]*subscription.Subscription, len(subs))
	for i, sub := range subs {
		ids[i] = sub.ID
		index[sub.ID] = sub
	}

	rows, err := s.db(ctx).Query(ctx, `SELECT f.id, f.subscription_id, f.feature_id, f.tag, f.name,
		f.description, f.value, f.resettable_period, f.resettable_interval, f.sort_order,
		u.used, u.valid_until
		FROM subscription_features f
		LEFT JOIN subscription_usage u ON u.subscription_feature_id = f.id
		WHERE f.subscription_id = ANY($1)
		ORDER BY f.sort_order, f.tag`, ids)
	if err != nil {
		return err
	}
	features, err := pgx.CollectRows(rows, scanSubscriptionFeature)
	if err != nil {
		return err
	}
	for _, f := range features {
		sub := index[f.SubscriptionID]
		sub.Features = append(sub.Features, f)
	}
	return nil
}

func scanSubscription(row pgx.CollectableRow) (*subscription.Subscription, error) {
	var (
		sub                                            subscription.Subscription
		price, trialInterval, graceInterval, invoiceIv string
		trialLen, graceLen, invoiceLen                 int
	)
	err := row.Scan(&sub.ID, &sub.Tag, &sub.Subscriber.Type, &sub.Subscriber.ID, &sub.PlanID, &sub.Name,
		&sub.Description, &sub.PaymentMethod, &price, &sub.Currency, &sub.Tier,
		&trialLen, &trialInterval, &graceLen, &graceInterval, &invoiceLen, &invoiceIv,
		&sub.TrialEndsAt, &sub.StartsAt, &sub.EndsAt, &sub.CancelsAt, &sub.CanceledAt,
		&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if sub.Price, err = parseNumeric(price); err != nil {
		return nil, err
	}
	sub.Trial = term(trialLen, trialInterval)
	sub.Grace = term(graceLen, graceInterval)
	sub.Invoice = term(invoiceLen, invoiceIv)

	sub.TrialEndsAt = utc(sub.TrialEndsAt)
	sub.StartsAt = utc(sub.StartsAt)
	sub.EndsAt = utc(sub.EndsAt)
	sub.CancelsAt = utc(sub.CancelsAt)
	sub.CanceledAt = utc(sub.CanceledAt)
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	return &sub, nil
}

func scanSubscriptionFeature(row pgx.CollectableRow) (subscription.SubscriptionFeature, error) {
	var (
		f          subscription.SubscriptionFeature
		resetLen   int
		resetUnit  string
		used       *int64
		validUntil *time.Time
	)
	err := row.Scan(&f.ID, &f.SubscriptionID, &f.FeatureID, &f.Tag, &f.Name, &f.Description, &f.Value,
		&resetLen, &resetUnit, &f.SortOrder, &used, &validUntil)
	if err != nil {
		return subscription.SubscriptionFeature{}, err
	}
	f.Reset = term(resetLen, resetUnit)
	if used != nil {
		f.Usage = &subscription.Usage{Used: *used, ValidUntil: utc(validUntil)}
	}
	return f, nil
}
