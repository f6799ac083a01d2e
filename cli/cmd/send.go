package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/dispipe/adapter"
	"github.com/pithecene-io/dispipe/cli/render"
	"github.com/pithecene-io/dispipe/runtime"
)

// SendResult is the response for the send command.
type SendResult struct {
	Sink      string `json:"sink"`
	ChannelID uint64 `json:"channel_id"`
	Bytes     int    `json:"bytes"`
}

// SendCommand returns the send command.
// It delivers one message through the configured sink, bypassing the pipes.
func SendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send one message through the configured sink",
		ArgsUsage: "TEXT...",
		Flags: append(ReportFlags(),
			DryRunFlag,
			&cli.StringFlag{
				Name:  "channel",
				Usage: "Destination channel ID",
			},
			&cli.StringFlag{
				Name:  "pipe",
				Usage: "Send to the channel of this pipe label",
			},
		),
		Action: sendAction,
	}
}

func sendAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitConfig)
	}

	text := strings.Join(c.Args().Slice(), " ")
	if text == "" {
		return cli.Exit("send requires message text", ExitConfig)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	channelID, err := resolveChannel(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), ExitConfig)
	}

	logger, err := newLogger(cfg.env, stderr(c))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	sink, err := buildSink(cfg.file.Sink, logger, c.Bool("dry-run"))
	if err != nil {
		return cli.Exit(err.Error(), ExitConfig)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn("failed to close sink", map[string]any{"error": err.Error()})
		}
	}()

	if err := sink.Init(c.Context); err != nil {
		return cli.Exit(fmt.Sprintf("sink init: %v", err), ExitSinkInit)
	}

	timeout := cfg.file.SendTimeout.Duration
	if timeout <= 0 {
		timeout = runtime.DefaultSendTimeout
	}
	ctx, cancel := context.WithTimeout(c.Context, timeout)
	defer cancel()
	if err := sink.Send(ctx, channelID, text); err != nil {
		return cli.Exit(fmt.Sprintf("send to #%d: %v", channelID, err), ExitFailure)
	}

	return r.Render(SendResult{
		Sink:      adapter.NameOf(sink),
		ChannelID: channelID,
		Bytes:     len(text),
	})
}

// resolveChannel returns the destination from --channel or --pipe.
// Exactly one of them must be set.
func resolveChannel(c *cli.Context, cfg *loaded) (uint64, error) {
	channel, label := c.String("channel"), c.String("pipe")
	switch {
	case channel != "" && label != "":
		return 0, fmt.Errorf("--channel and --pipe are mutually exclusive")
	case channel != "":
		id, err := strconv.ParseUint(channel, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("channel should be an integer value, got %q", channel)
		}
		return id, nil
	case label != "":
		for _, m := range cfg.model.Mappings {
			if m.Label == label {
				return m.ChannelID, nil
			}
		}
		return 0, fmt.Errorf("no pipe labeled %q in %s", label, cfg.path)
	default:
		return 0, fmt.Errorf("send requires --channel or --pipe")
	}
}
