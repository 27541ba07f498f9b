package config

import (
	"github.com/ABCWORK9/mintydoc/internal/flagx"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces every environment variable, e.g. MINTY_S3_BUCKET.
const EnvPrefix = "MINTY"

// parseEnv overlays MINTY_* environment variables onto config. A dotenv file
// named by -env-file is loaded first; otherwise ./.env is tried and silently
// skipped when absent. Variables already set in the process environment win
// over the file. Unset variables leave the current value untouched.
//
// Malformed values (e.g. a non-numeric MINTY_CHAIN_ID) panic, matching the
// JSON and flag layers.
func parseEnv(config *Config) {
	if path := flagx.EnvFileFlags(); path != "" {
		if err := godotenv.Load(path); err != nil {
			panic(err)
		}
	} else {
		_ = godotenv.Load()
	}

	if err := envconfig.Process(EnvPrefix, config); err != nil {
		panic(err)
	}
}
