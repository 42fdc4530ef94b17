package pg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/subkit/pkg/period"
	"github.com/dmitrymomot/subkit/pkg/subscription"
)

var (
	_ subscription.Store         = (*Store)(nil)
	_ subscription.PlanResolver  = (*Store)(nil)
	_ subscription.CatalogWriter = (*Store)(nil)
)

// querier is implemented by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type txKey struct{}

// Store keeps plans and subscriptions in PostgreSQL. It implements
// subscription.Store, subscription.PlanResolver and subscription.CatalogWriter
// over the schema applied by Migrate.
//
// Transactions run at READ COMMITTED; rows read inside one are locked with
// SELECT ... FOR UPDATE, which serializes concurrent changes of the same
// subscription without aborting either of them.
type Store struct {
	pool *pgxpool.Pool
	log  logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger used for transaction diagnostics.
func WithStoreLogger(l logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// NewStore creates a Store on pool.
// Panics if pool is nil.
func NewStore(pool *pgxpool.Pool, opts ...StoreOption) *Store {
	if pool == nil {
		panic("pg: connection pool is required")
	}
	s := &Store{pool: pool, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tx runs fn in a transaction carried by the context passed to fn.
// A nested call joins the outer transaction.
func (s *Store) Tx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if inTx(ctx) {
		return fn(ctx)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.log.ErrorContext(ctx, "failed to roll back transaction", "error", rbErr)
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) db(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(pgx.Tx)
	return ok
}

// execBatch sends b and reports the first failing statement.
func execBatch(ctx context.Context, q querier, b *pgx.Batch) error {
	results := q.SendBatch(ctx, b)
	for range b.Len() {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return err
		}
	}
	return results.Close()
}

// numeric renders d for a `$n::text::numeric` placeholder, keeping it exact.
func numeric(d decimal.Decimal) string {
	return d.String()
}

func parseNumeric(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode numeric %q: %w", s, err)
	}
	return d, nil
}

func term(length int, interval string) period.Term {
	if length == 0 {
		return period.Term{}
	}
	return period.Term{Length: length, Interval: period.Interval(interval)}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
