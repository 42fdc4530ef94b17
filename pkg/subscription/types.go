package subscription

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Unlimited is reported as the remaining allowance of a feature whose value
// is not numeric (-1 chosen for SQL compatibility).
const Unlimited int64 = -1

// Status is the lifecycle state of a subscription derived from its timestamps.
// It is never persisted.
type Status string

const (
	StatusNew      Status = "new"
	StatusOnTrial  Status = "on_trial"
	StatusActive   Status = "active"
	StatusInGrace  Status = "in_grace"
	StatusCanceled Status = "canceled"
	StatusEnded    Status = "ended"
)

func (s Status) String() string {
	return string(s)
}

// TrialMode decides how unused or consumed trial time affects the first paid period.
type TrialMode string

const (
	// TrialInside counts trial days against the first paid period.
	TrialInside TrialMode = "inside"
	// TrialOutside appends unused trial days to the first paid period.
	TrialOutside TrialMode = "outside"
)

func (m TrialMode) Valid() bool {
	return m == TrialInside || m == TrialOutside
}

// SubscriberRef points at the owner of a subscription: any entity identified
// by a type name and a numeric id (e.g. "user", 42).
type SubscriberRef struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

// Subscriber is a shorthand constructor for SubscriberRef.
func Subscriber(kind string, id int64) SubscriberRef {
	return SubscriberRef{Type: kind, ID: id}
}

func (r SubscriberRef) IsZero() bool {
	return r.Type == "" && r.ID == 0
}

func (r SubscriberRef) String() string {
	return fmt.Sprintf("%s:%d", r.Type, r.ID)
}

// SubscriberLookup resolves a subscriber reference to the caller's own entity.
// The engine never calls it; it is provided for callers that need to hydrate
// subscribers found through queries.
type SubscriberLookup func(ref SubscriberRef) (any, error)

// Operation names a lifecycle operation.
type Operation string

const (
	OpSubscribe  Operation = "subscribe"
	OpRenew      Operation = "renew"
	OpCancel     Operation = "cancel"
	OpUncancel   Operation = "uncancel"
	OpChangePlan Operation = "change_plan"
	OpSyncPlan   Operation = "sync_plan"
	OpConsume    Operation = "consume"
	OpReduce     Operation = "reduce"
)

func (o Operation) String() string {
	return string(o)
}

// EffectKind classifies a side effect reported by a lifecycle operation.
type EffectKind string

const (
	// EffectCharge asks the caller to charge Amount in Currency.
	EffectCharge           EffectKind = "charge"
	EffectTrialEnded       EffectKind = "trial_ended"
	EffectActivated        EffectKind = "activated"
	EffectReactivated      EffectKind = "reactivated"
	EffectExtended         EffectKind = "extended"
	EffectCanceled         EffectKind = "canceled"
	EffectUncanceled       EffectKind = "uncanceled"
	EffectPlanChanged      EffectKind = "plan_changed"
	EffectUsageReset       EffectKind = "usage_reset"
	EffectFeaturesSynced   EffectKind = "features_synced"
	EffectFeatureDepleted  EffectKind = "feature_depleted"
	EffectUsageWindowReset EffectKind = "usage_window_reset"
)

// Effect describes something the caller must act on or may want to observe
// after an operation, such as charging the subscriber or notifying them.
type Effect struct {
	Kind       EffectKind
	Amount     decimal.Decimal
	Currency   string
	PlanID     uuid.UUID
	FeatureTag string
	At         time.Time
}

// Result is returned by every lifecycle operation. Subscription is a new
// value; the record passed in is never modified.
type Result struct {
	Subscription *Subscription
	From         Status
	To           Status
	Effects      []Effect
}

// Effect returns the first effect of the given kind.
func (r Result) Effect(kind EffectKind) (Effect, bool) {
	for _, e := range r.Effects {
		if e.Kind == kind {
			return e, true
		}
	}
	return Effect{}, false
}

// Has reports whether the result carries an effect of the given kind.
func (r Result) Has(kind EffectKind) bool {
	_, ok := r.Effect(kind)
	return ok
}
