package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// registry caches parsed configurations keyed by their Go type.
type registry struct {
	mu     sync.Mutex
	values map[reflect.Type]any
}

var (
	cache = &registry{values: make(map[reflect.Type]any)}

	defaultEnvLoaded sync.Once
)

// LoadEnv loads variables from the given .env files into the process
// environment. Without arguments it reads ./.env. Later files take
// precedence over earlier ones; variables already set in the process are
// overwritten so the files behave like layered overrides.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		if err := godotenv.Overload(); err != nil {
			return errors.Join(ErrLoadingEnvFile, err)
		}
		return nil
	}
	for _, p := range paths {
		if err := godotenv.Overload(p); err != nil {
			return errors.Join(ErrLoadingEnvFile, fmt.Errorf("%s: %w", p, err))
		}
	}
	return nil
}

// MustLoadEnv is like LoadEnv but panics on failure.
func MustLoadEnv(paths ...string) {
	if err := LoadEnv(paths...); err != nil {
		panic(fmt.Sprintf("failed to load env files: %v", err))
	}
}

// Load parses environment variables into v using `env` struct tags.
// Each configuration type is parsed once per process; later calls for the
// same type receive the cached copy. A missing ./.env file is not an error.
//
// Example:
//
//	type Config struct {
//		MainTag      string `env:"SUBSCRIPTION_MAIN_TAG" envDefault:"main"`
//		FallbackPlan string `env:"SUBSCRIPTION_FALLBACK_PLAN_TAG"`
//	}
//
//	var cfg Config
//	if err := config.Load(&cfg); err != nil {
//		// Handle error
//	}
func Load[T any](v *T) error {
	defaultEnvLoaded.Do(func() {
		_ = godotenv.Load()
	})
	if v == nil {
		return ErrNilPointer
	}

	key := typeKey[T]()

	cache.mu.Lock()
	defer cache.mu.Unlock()

	if cached, ok := cache.values[key]; ok {
		*v = cached.(T)
		return nil
	}

	if err := parse(v); err != nil {
		return err
	}
	cache.values[key] = *v
	return nil
}

// MustLoad works like Load but panics if configuration loading fails.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}

// ForceReload parses v again, ignoring and replacing any cached copy.
func ForceReload[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}

	cache.mu.Lock()
	defer cache.mu.Unlock()

	if err := parse(v); err != nil {
		return err
	}
	cache.values[typeKey[T]()] = *v
	return nil
}

// ResetCache drops every cached configuration.
func ResetCache() {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	clear(cache.values)
}

func parse[T any](v *T) error {
	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	return nil
}

func typeKey[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}
