package subscription

import "github.com/dmitrymomot/subkit/pkg/payment"

// DefaultMainTag is the tag of the subscription treated as a subscriber's primary one.
const DefaultMainTag = "main"

// Config holds the engine settings read from the environment.
type Config struct {
	// MainTag identifies the primary subscription when a subscriber has several.
	MainTag string `env:"SUBSCRIPTION_MAIN_TAG" envDefault:"main"`
	// FallbackPlanTag, when set, turns cancellation into a switch to this plan.
	FallbackPlanTag string `env:"SUBSCRIPTION_FALLBACK_PLAN_TAG"`
	// DefaultPaymentMethod is assigned to new subscriptions without an explicit method.
	DefaultPaymentMethod string `env:"SUBSCRIPTION_DEFAULT_PAYMENT_METHOD" envDefault:"free"`
}

// DefaultConfig returns the settings used when none are supplied.
func DefaultConfig() Config {
	return Config{
		MainTag:              DefaultMainTag,
		DefaultPaymentMethod: payment.Free,
	}
}

func (c Config) withDefaults() Config {
	if c.MainTag == "" {
		c.MainTag = DefaultMainTag
	}
	if c.DefaultPaymentMethod == "" {
		c.DefaultPaymentMethod = payment.Free
	}
	return c
}
