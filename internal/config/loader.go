package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures environment driven configuration values for the migration tool.
type Config struct {
	Database         string
	ScriptsDir       string
	HistoryTable     string
	BusyTimeout      time.Duration
	LogLevel         string
	SkipUnrecognized bool
	Telemetry        TelemetryConfig
}

// TelemetryConfig controls the OpenTelemetry trace exporter.
type TelemetryConfig struct {
	Enabled      bool
	Endpoint     string
	ServiceName  string
	SamplingRate float64
}

// Load parses configuration values from the current process environment.
//
// The loader applies defaults for optional fields, validates required
// values and reports every missing or malformed variable at once.
func Load() (Config, error) {
	cfg := Config{
		ScriptsDir:   "migrations",
		HistoryTable: "migration_history",
		BusyTimeout:  30 * time.Second,
		LogLevel:     "info",
		Telemetry: TelemetryConfig{
			Endpoint:     "localhost:4317",
			ServiceName:  "peregrine",
			SamplingRate: 1.0,
		},
	}

	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 4)

	if database := env("PEREGRINE_DATABASE"); database == "" {
		missing = append(missing, "PEREGRINE_DATABASE")
	} else {
		cfg.Database = database
	}

	if dir := env("PEREGRINE_SCRIPTS_DIR"); dir != "" {
		cfg.ScriptsDir = dir
	}

	if table := env("PEREGRINE_HISTORY_TABLE"); table != "" {
		cfg.HistoryTable = table
	}

	if timeoutValue := env("PEREGRINE_BUSY_TIMEOUT"); timeoutValue != "" {
		timeout, err := time.ParseDuration(timeoutValue)
		if err != nil || timeout < 0 {
			invalid = append(invalid, "PEREGRINE_BUSY_TIMEOUT")
		} else {
			cfg.BusyTimeout = timeout
		}
	}

	if level := env("PEREGRINE_LOG_LEVEL"); level != "" {
		cfg.LogLevel = strings.ToLower(level)
	}

	if skipValue := env("PEREGRINE_SKIP_UNRECOGNIZED"); skipValue != "" {
		skip, err := strconv.ParseBool(skipValue)
		if err != nil {
			invalid = append(invalid, "PEREGRINE_SKIP_UNRECOGNIZED")
		} else {
			cfg.SkipUnrecognized = skip
		}
	}

	if enabledValue := env("PEREGRINE_OTEL_ENABLED"); enabledValue != "" {
		enabled, err := strconv.ParseBool(enabledValue)
		if err != nil {
			invalid = append(invalid, "PEREGRINE_OTEL_ENABLED")
		} else {
			cfg.Telemetry.Enabled = enabled
		}
	}

	if endpoint := env("PEREGRINE_OTEL_ENDPOINT"); endpoint != "" {
		cfg.Telemetry.Endpoint = endpoint
	}

	if name := env("PEREGRINE_OTEL_SERVICE_NAME"); name != "" {
		cfg.Telemetry.ServiceName = name
	}

	if rateValue := env("PEREGRINE_OTEL_SAMPLING_RATE"); rateValue != "" {
		rate, err := strconv.ParseFloat(rateValue, 64)
		if err != nil || rate < 0 || rate > 1 {
			invalid = append(invalid, "PEREGRINE_OTEL_SAMPLING_RATE")
		} else {
			cfg.Telemetry.SamplingRate = rate
		}
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("必須の環境変数が設定されていません: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("環境変数の値が不正です: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
