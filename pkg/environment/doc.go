// Package environment names the deployment environment (development, staging,
// production). The logger picks its presets from it.
//
// Environment implements encoding.TextUnmarshaler, so it can be parsed straight
// from configuration:
//
//	type Config struct {
//		Env environment.Environment `env:"APP_ENV" envDefault:"development"`
//	}
//
// Parse accepts the short aliases "dev", "stage" and "prod"; unknown names
// select Development.
package environment
