package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dmitrymomot/subkit/pkg/environment"
)

// Format is the record encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config is the logger setup read from the environment.
type Config struct {
	Env     environment.Environment `env:"APP_ENV" envDefault:"development"`
	Service string                  `env:"APP_SERVICE_NAME" envDefault:"subkit"`
	// Level and Format override the environment preset when set.
	Level  string `env:"LOG_LEVEL"`
	Format Format `env:"LOG_FORMAT"`
}

type preset struct {
	level  slog.Level
	format Format
}

var presets = map[environment.Environment]preset{
	environment.Development: {level: slog.LevelDebug, format: FormatText},
	environment.Staging:     {level: slog.LevelInfo, format: FormatJSON},
	environment.Production:  {level: slog.LevelInfo, format: FormatJSON},
}

// Option configures New.
type Option func(*settings)

type settings struct {
	level      slog.Level
	format     Format
	out        io.Writer
	source     bool
	attrs      []slog.Attr
	extractors []ContextExtractor
}

func WithLevel(l slog.Level) Option {
	return func(s *settings) { s.level = l }
}

// WithLevelName sets the level from "debug", "info", "warn" or "error".
// An empty name is ignored. Panics on an unknown name.
func WithLevelName(name string) Option {
	return func(s *settings) {
		if name == "" {
			return
		}
		if err := s.level.UnmarshalText([]byte(name)); err != nil {
			panic(fmt.Errorf("invalid log level %q: %w", name, err))
		}
	}
}

// WithFormat sets the encoding. Panics on anything but FormatJSON or FormatText.
func WithFormat(f Format) Option {
	if f != FormatJSON && f != FormatText {
		panic(fmt.Errorf("invalid log format %q: must be %q or %q", f, FormatJSON, FormatText))
	}
	return func(s *settings) { s.format = f }
}

func WithTextFormatter() Option { return WithFormat(FormatText) }

func WithJSONFormatter() Option { return WithFormat(FormatJSON) }

// WithOutput redirects records to w. A nil writer is ignored.
func WithOutput(w io.Writer) Option {
	return func(s *settings) {
		if w != nil {
			s.out = w
		}
	}
}

// WithSource adds the caller's file and line to every record.
func WithSource() Option {
	return func(s *settings) { s.source = true }
}

// WithAttr attaches attrs to every record.
func WithAttr(attrs ...slog.Attr) Option {
	return func(s *settings) { s.attrs = append(s.attrs, attrs...) }
}

// WithContextExtractors registers extractors run on every record logged
// with a context. Nil extractors are skipped.
func WithContextExtractors(extractors ...ContextExtractor) Option {
	return func(s *settings) {
		for _, ex := range extractors {
			if ex != nil {
				s.extractors = append(s.extractors, ex)
			}
		}
	}
}

// WithDevelopment selects text output at debug level.
func WithDevelopment(service string) Option {
	return withPreset(environment.Development, service)
}

// WithStaging selects JSON output at info level.
func WithStaging(service string) Option {
	return withPreset(environment.Staging, service)
}

// WithProduction selects JSON output at info level.
func WithProduction(service string) Option {
	return withPreset(environment.Production, service)
}

// WithEnvironment selects the preset named by env. Unknown names select development.
func WithEnvironment(env, service string) Option {
	return withPreset(environment.Parse(env), service)
}

// WithConfig applies the preset of cfg.Env and then the explicit level and
// format overrides.
func WithConfig(cfg Config) Option {
	opts := []Option{withPreset(environment.Parse(cfg.Env.String()), cfg.Service), WithLevelName(cfg.Level)}
	if cfg.Format != "" {
		opts = append(opts, WithFormat(cfg.Format))
	}
	return func(s *settings) {
		for _, opt := range opts {
			opt(s)
		}
	}
}

func withPreset(env environment.Environment, service string) Option {
	p := presets[env]
	return func(s *settings) {
		s.level, s.format = p.level, p.format
		s.attrs = append(s.attrs, slog.String("env", env.String()))
		if service != "" {
			s.attrs = append(s.attrs, slog.String("service", service))
		}
	}
}

// New builds a logger. Without options it writes JSON at info level to stdout.
func New(opts ...Option) *slog.Logger {
	s := &settings{level: slog.LevelInfo, format: FormatJSON, out: os.Stdout}
	for _, opt := range opts {
		opt(s)
	}

	ho := &slog.HandlerOptions{Level: s.level, AddSource: s.source}
	var h slog.Handler = slog.NewJSONHandler(s.out, ho)
	if s.format == FormatText {
		h = slog.NewTextHandler(s.out, ho)
	}
	if len(s.attrs) > 0 {
		h = h.WithAttrs(s.attrs)
	}
	if len(s.extractors) > 0 {
		h = &contextHandler{next: h, extractors: s.extractors}
	}
	return slog.New(h)
}

func SetAsDefault(l *slog.Logger) {
	slog.SetDefault(l)
}
