package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	HTTPPort string `envconfig:"HTTP_PORT" default:"3200"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".planpath/data"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"planpath/"`
	S3Region string `envconfig:"S3_REGION" default:"eu-central-1"`
}

// EngineEnv configures the update coordinator and tracer. Debug behavior is
// wired through here rather than read from the environment at call time.
type EngineEnv struct {
	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"3"`
	RetryBaseDelay time.Duration `envconfig:"RETRY_BASE_DELAY" default:"250ms"`
	TraceVerbose   bool          `envconfig:"TRACE_VERBOSE" default:"false"`
	TemplateDir    string        `envconfig:"TEMPLATE_DIR" default:".planpath/templates"`
}

type Env struct {
	BaseEnv
	StorageEnv
	EngineEnv
}

const namespace = "PLANPATH"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}
