package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/dispipe/adapter"
	"github.com/pithecene-io/dispipe/adapter/discord"
	"github.com/pithecene-io/dispipe/adapter/redis"
	"github.com/pithecene-io/dispipe/adapter/webhook"
	"github.com/pithecene-io/dispipe/cli/config"
	"github.com/pithecene-io/dispipe/log"
	"github.com/pithecene-io/dispipe/types"
)

// loaded is a configuration file together with its runtime model.
type loaded struct {
	path  string
	file  *config.File
	model *types.Config
	env   *config.Env
}

// loadConfig reads the environment and the configuration file, validates the
// file's structure and builds the runtime model. Every failure is a
// cli.Exit with ExitConfig.
func loadConfig(c *cli.Context) (*loaded, error) {
	env, err := config.LoadEnv()
	if err != nil {
		return nil, cli.Exit(err.Error(), ExitConfig)
	}

	path := c.String("config")
	file, err := config.Load(path)
	if err != nil {
		return nil, cli.Exit(err.Error(), ExitConfig)
	}
	file.ApplyEnv(env)
	if err := file.Validate(path); err != nil {
		return nil, cli.Exit(err.Error(), ExitConfig)
	}

	return &loaded{path: path, file: file, model: file.Model(), env: env}, nil
}

// newLogger builds the process logger from the environment settings.
func newLogger(env *config.Env, out io.Writer) (*log.Logger, error) {
	logger, err := log.NewLogger(log.Options{
		Level:  env.LogLevel,
		Format: env.LogFormat,
		Output: out,
	})
	if err != nil {
		return nil, cli.Exit(err.Error(), ExitConfig)
	}
	return logger, nil
}

// stderr returns the app's error writer.
func stderr(c *cli.Context) io.Writer {
	if c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}

// stdout returns the app's output writer.
func stdout(c *cli.Context) io.Writer {
	if c.App.Writer != nil {
		return c.App.Writer
	}
	return os.Stdout
}

// buildSink creates the sink the configuration selects. With dryRun the
// sink is a stub that logs every message.
func buildSink(sc config.SinkConfig, logger *log.Logger, dryRun bool) (adapter.Sink, error) {
	if dryRun {
		stub := adapter.NewStubSink()
		stub.OnSend = func(m adapter.Message) {
			logger.Info("dry-run: message not delivered", map[string]any{
				"channel_id": m.ChannelID,
				"bytes":      len(m.Text),
			})
		}
		return stub, nil
	}

	switch sc.Type {
	case config.SinkDiscord:
		return discord.New(discord.Config{
			Token:         sc.Token,
			BaseURL:       sc.BaseURL,
			GatewayURL:    sc.GatewayURL,
			Gateway:       sc.Gateway,
			Timeout:       sc.Timeout.Duration,
			RatePerSecond: sc.RatePerSecond,
			Burst:         sc.Burst,
		}, logger)
	case config.SinkWebhook:
		return webhook.New(webhook.Config{
			URL:     sc.URL,
			Headers: sc.Headers,
			Timeout: sc.Timeout.Duration,
		})
	case config.SinkRedis:
		return redis.New(redis.Config{
			URL:      sc.URL,
			Prefix:   sc.Prefix,
			Encoding: redis.Encoding(sc.Encoding),
			Timeout:  sc.Timeout.Duration,
		})
	default:
		return nil, fmt.Errorf("unknown sink type %q", sc.Type)
	}
}
