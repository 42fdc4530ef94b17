// Package config loads application configuration from environment variables
// into typed structs.
//
// It wraps github.com/joho/godotenv and github.com/caarlos0/env/v11:
//
//   - LoadEnv reads one or more .env files into the process environment.
//   - Load parses the environment into a struct using `env` field tags and
//     caches the result per type, so every component sees the same values.
//   - MustLoad and MustLoadEnv panic instead of returning an error, for
//     configuration the process cannot start without.
//   - ForceReload and ResetCache bypass or clear the cache, mostly in tests.
//
// # Usage
//
//	type RenewerConfig struct {
//	    Interval    time.Duration `env:"RENEWER_INTERVAL" envDefault:"1m"`
//	    Concurrency int           `env:"RENEWER_CONCURRENCY" envDefault:"8"`
//	}
//
//	func main() {
//	    var cfg RenewerConfig
//	    config.MustLoad(&cfg)
//	}
//
// The default ./.env file is read once, before the first Load, and a missing
// file is ignored. Files passed to LoadEnv must exist.
//
// # Error Handling
//
// Sentinel errors can be compared with errors.Is:
//
//   - ErrParsingConfig: env vars could not be parsed into the struct.
//   - ErrLoadingEnvFile: an explicitly requested .env file could not be read.
//   - ErrNilPointer: nil pointer passed to Load or ForceReload.
package config
