package logger

import (
	"log/slog"
	"strconv"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Errors groups multiple non-nil errors under the key "errors".
// If all errors are nil, it returns an empty Attr.
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// SubscriptionID records the subscription identifier under the key "subscription_id".
// If id is nil, it returns an empty Attr.
func SubscriptionID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("subscription_id", id)
}

// SubscriptionTag records the subscription tag under the key "subscription_tag".
func SubscriptionTag(tag string) slog.Attr {
	return slog.String("subscription_tag", tag)
}

// Subscriber records the polymorphic subscriber reference under the key "subscriber".
// If ref is nil, it returns an empty Attr.
func Subscriber(ref any) slog.Attr {
	if ref == nil {
		return slog.Attr{}
	}
	return slog.Any("subscriber", ref)
}

// PlanID records the plan identifier under the key "plan_id".
// If id is nil, it returns an empty Attr.
func PlanID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("plan_id", id)
}

// FeatureTag records a feature tag under the key "feature".
func FeatureTag(tag string) slog.Attr {
	return slog.String("feature", tag)
}

// Status records a lifecycle status under the key "status".
func Status(status any) slog.Attr {
	return slog.Any("status", status)
}

// Transition records a status change as "from" and "to" inside a "transition" group.
func Transition(from, to any) slog.Attr {
	return Group("transition", slog.Any("from", from), slog.Any("to", to))
}

// Operation records the lifecycle operation under the key "operation".
func Operation(name string) slog.Attr {
	return slog.String("operation", name)
}

// Duration records a duration under the key "duration".
func Duration(d any) slog.Attr {
	return slog.Any("duration", d)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}
