package pg

import (
	"strconv"
	"strings"

	"github.com/dmitrymomot/subkit/pkg/subscription"
)

// buildFindQuery translates q into a SELECT over subscriptions with the same
// semantics as subscription.Query.Matches.
func buildFindQuery(q subscription.Query) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	timeRange := func(column string, r *subscription.TimeRange) {
		if r == nil {
			return
		}
		where = append(where, column+" IS NOT NULL")
		if r.From != nil {
			where = append(where, column+" >= "+arg(*r.From))
		}
		if r.To != nil {
			where = append(where, column+" <= "+arg(*r.To))
		}
	}

	if q.Subscriber != nil {
		where = append(where,
			"s.subscriber_type = "+arg(q.Subscriber.Type),
			"s.subscriber_id = "+arg(q.Subscriber.ID),
		)
	}
	if q.Tag != "" {
		where = append(where, "s.tag = "+arg(q.Tag))
	}
	timeRange("s.trial_ends_at", q.TrialEnds)
	timeRange("s.ends_at", q.Ends)
	if q.NotCanceled {
		where = append(where, "s.canceled_at IS NULL")
	}
	if q.PendingPaymentAt != nil {
		at := arg(*q.PendingPaymentAt)
		where = append(where,
			"(s.canceled_at IS NULL OR s.canceled_at > "+at+")",
			"(s.ends_at IS NULL OR s.ends_at < "+at+")",
		)
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + subscriptionColumns + " FROM subscriptions s")
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY s.created_at, s.id")
	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + arg(q.Limit))
	}
	return sb.String(), args
}
