package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every process setting read from the environment.
const EnvPrefix = "DISPIPE"

// Env holds process settings that do not belong in the config file.
type Env struct {
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"LOG_FORMAT" default:"json"`
	MetricsAddr  string `envconfig:"METRICS_ADDR"`
	Token        string `envconfig:"TOKEN"`
	OTelEndpoint string `envconfig:"OTEL_ENDPOINT"`
	OTelInsecure bool   `envconfig:"OTEL_INSECURE" default:"true"`
}

// LoadEnv reads DISPIPE_* variables.
func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	return &env, nil
}

// ApplyEnv overlays environment settings on the file. DISPIPE_TOKEN
// replaces the sink token.
func (f *File) ApplyEnv(env *Env) {
	if env == nil {
		return
	}
	if env.Token != "" {
		f.Sink.Token = env.Token
	}
}
