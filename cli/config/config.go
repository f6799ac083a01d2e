package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/pithecene-io/dispipe/types"
)

// File represents a dispipe configuration file (YAML, TOML, or INI).
//
//	root: /run/dispipe
//	sink:
//	  type: discord
//	  token: ${DISCORD_TOKEN}
//	pipes:
//	  - label: alerts
//	    fifo: alerts
//	    channel: 123456789012345678
type File struct {
	Root        string     `yaml:"root" toml:"root" json:"root"`
	Sink        SinkConfig `yaml:"sink" toml:"sink" json:"sink"`
	SendTimeout Duration   `yaml:"send_timeout,omitempty" toml:"send_timeout,omitempty" json:"send_timeout,omitempty"`
	Grace       Duration   `yaml:"grace,omitempty" toml:"grace,omitempty" json:"grace,omitempty"`
	Pipes       []Pipe     `yaml:"pipes" toml:"pipes" json:"pipes"`
}

// Sink types.
const (
	SinkDiscord = "discord"
	SinkWebhook = "webhook"
	SinkRedis   = "redis"
)

// SinkConfig selects and configures the message sink.
// Fields apply to the sink types noted.
type SinkConfig struct {
	Type    string   `yaml:"type" toml:"type" json:"type"`
	Timeout Duration `yaml:"timeout,omitempty" toml:"timeout,omitempty" json:"timeout,omitempty"`

	// discord
	Token         string  `yaml:"token,omitempty" toml:"token,omitempty" json:"-"`
	BaseURL       string  `yaml:"base_url,omitempty" toml:"base_url,omitempty" json:"base_url,omitempty"`
	GatewayURL    string  `yaml:"gateway_url,omitempty" toml:"gateway_url,omitempty" json:"gateway_url,omitempty"`
	Gateway       bool    `yaml:"gateway,omitempty" toml:"gateway,omitempty" json:"gateway,omitempty"`
	RatePerSecond float64 `yaml:"rate_per_second,omitempty" toml:"rate_per_second,omitempty" json:"rate_per_second,omitempty"`
	Burst         int     `yaml:"burst,omitempty" toml:"burst,omitempty" json:"burst,omitempty"`

	// webhook, redis
	URL string `yaml:"url,omitempty" toml:"url,omitempty" json:"url,omitempty"`

	// webhook
	Headers map[string]string `yaml:"headers,omitempty" toml:"headers,omitempty" json:"-"`

	// redis
	Prefix   string `yaml:"prefix,omitempty" toml:"prefix,omitempty" json:"prefix,omitempty"`
	Encoding string `yaml:"encoding,omitempty" toml:"encoding,omitempty" json:"encoding,omitempty"`
}

// Pipe is one [pipe -> channel] mapping as written in the file.
// Channel stays untyped until Validate so that both `channel: 123` and
// `channel: "123"` are accepted.
type Pipe struct {
	Label   string `yaml:"label" toml:"label" json:"label"`
	FIFO    string `yaml:"fifo" toml:"fifo" json:"fifo"`
	Channel any    `yaml:"channel" toml:"channel" json:"channel"`
}

// Duration wraps time.Duration for string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// UnmarshalText parses a duration string. Used by TOML.
func (d *Duration) UnmarshalText(b []byte) error {
	s := string(b)
	if s == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration as a string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Model converts a validated File into the runtime configuration.
// Call Validate first: a channel that does not parse becomes 0.
func (f *File) Model() *types.Config {
	root := filepath.Clean(f.Root)
	cfg := &types.Config{
		Token:    f.Sink.Token,
		Root:     root,
		Mappings: make([]types.PipeMapping, 0, len(f.Pipes)),
	}
	for _, p := range f.Pipes {
		id, _ := parseChannel(p.Channel)
		cfg.Mappings = append(cfg.Mappings, types.PipeMapping{
			Label:     p.Label,
			Path:      types.PipePath(root, p.FIFO),
			ChannelID: id,
		})
	}
	return cfg
}
