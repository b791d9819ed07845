// Package config loads the service configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Tuner struct {
		// Defaults applied to tuning requests that leave the
		// corresponding field unset.
		MaxIterations     int     `env:"TUNER_MAX_ITERATIONS" envDefault:"10000"`
		InitialStep       float64 `env:"TUNER_INITIAL_STEP" envDefault:"0"`
		PerturbationScale float64 `env:"TUNER_PERTURBATION_SCALE" envDefault:"0.1"`
		Alpha             float64 `env:"TUNER_ALPHA" envDefault:"0.70"`
		Gamma             float64 `env:"TUNER_GAMMA" envDefault:"0.12"`
		Rule              string  `env:"TUNER_RULE" envDefault:"hybrid"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Development runs default to debug logging.
	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	return cfg, nil
}
