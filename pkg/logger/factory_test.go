package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subkit/pkg/environment"
	"github.com/dmitrymomot/subkit/pkg/logger"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("json at info by default", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf))

		log.Debug("hidden")
		assert.Empty(t, buf.String())

		log.Info("hello")
		entry := decode(t, buf)
		assert.Equal(t, "INFO", entry["level"])
		assert.Equal(t, "hello", entry["msg"])
	})

	t.Run("text format", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		logger.New(logger.WithOutput(buf), logger.WithTextFormatter()).Info("hello")
		assert.Contains(t, buf.String(), "level=INFO")
		assert.Contains(t, buf.String(), "msg=hello")
	})

	t.Run("last format wins", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		logger.New(logger.WithOutput(buf), logger.WithTextFormatter(), logger.WithJSONFormatter()).Info("hello")
		assert.Equal(t, "hello", decode(t, buf)["msg"])
	})

	t.Run("static attributes", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		logger.New(logger.WithOutput(buf), logger.WithAttr(slog.String("worker", "renewer"))).Info("msg")
		assert.Equal(t, "renewer", decode(t, buf)["worker"])
	})

	t.Run("source location", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		logger.New(logger.WithOutput(buf), logger.WithSource()).Info("msg")
		assert.Contains(t, decode(t, buf), slog.SourceKey)
	})

	t.Run("context extractors survive With", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		type key struct{}
		log := logger.New(
			logger.WithOutput(buf),
			logger.WithContextExtractors(nil, func(ctx context.Context) (slog.Attr, bool) {
				v, ok := ctx.Value(key{}).(string)
				return slog.String("id", v), ok
			}),
		).With(logger.Component("test"))

		log.InfoContext(context.WithValue(context.Background(), key{}, "42"), "msg")
		entry := decode(t, buf)
		assert.Equal(t, "42", entry["id"])
		assert.Equal(t, "test", entry["component"])
	})
}

func TestPresets(t *testing.T) {
	t.Parallel()

	t.Run("development", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		logger.New(logger.WithDevelopment("renewer"), logger.WithOutput(buf)).Debug("msg")
		out := buf.String()
		assert.Contains(t, out, "level=DEBUG")
		assert.Contains(t, out, "service=renewer")
		assert.Contains(t, out, "env=development")
	})

	tests := []struct {
		name string
		opt  logger.Option
		env  string
	}{
		{"staging", logger.WithStaging("renewer"), "staging"},
		{"production", logger.WithProduction("renewer"), "production"},
		{"environment alias", logger.WithEnvironment("prod", "renewer"), "production"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			buf := &bytes.Buffer{}
			log := logger.New(tt.opt, logger.WithOutput(buf))
			log.Debug("hidden")
			assert.Empty(t, buf.String())

			log.Info("msg")
			entry := decode(t, buf)
			assert.Equal(t, "renewer", entry["service"])
			assert.Equal(t, tt.env, entry["env"])
		})
	}
}

func TestWithConfig(t *testing.T) {
	t.Parallel()

	t.Run("overrides the preset", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(
			logger.WithConfig(logger.Config{
				Env:     environment.Production,
				Service: "renewer",
				Level:   "debug",
				Format:  logger.FormatText,
			}),
			logger.WithOutput(buf),
		)
		log.Debug("msg")
		assert.Contains(t, buf.String(), "level=DEBUG")
		assert.Contains(t, buf.String(), "env=production")
	})

	t.Run("empty overrides keep the preset", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		logger.New(logger.WithConfig(logger.Config{Env: environment.Staging}), logger.WithOutput(buf)).Info("msg")
		entry := decode(t, buf)
		assert.Equal(t, "staging", entry["env"])
		assert.NotContains(t, entry, "service")
	})
}

func TestSetAsDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	buf := &bytes.Buffer{}
	logger.SetAsDefault(logger.New(logger.WithOutput(buf)))
	slog.Info("default")
	assert.Equal(t, "default", decode(t, buf)["msg"])
}

func TestInvalidOptionsPanic(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { logger.New(logger.WithFormat(logger.Format("xml"))) })
	assert.Panics(t, func() { logger.New(logger.WithLevelName("loud")) })
}

func TestWithLevelName(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := logger.New(logger.WithOutput(buf), logger.WithLevelName("warn"))
	log.Info("hidden")
	assert.Empty(t, buf.String())
	log.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestLifecycleExtractors(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := logger.New(
		logger.WithOutput(buf),
		logger.WithContextExtractors(logger.LifecycleExtractors()...),
	)

	log.InfoContext(context.Background(), "bare")
	bare := decode(t, buf)
	assert.NotContains(t, bare, "operation")
	buf.Reset()

	ctx := logger.WithOperation(context.Background(), "renew")
	ctx = logger.WithSubscriptionTag(ctx, "main")
	log.InfoContext(ctx, "renewed")

	entry := decode(t, buf)
	assert.Equal(t, "renew", entry["operation"])
	assert.Equal(t, "main", entry["subscription_tag"])
}
