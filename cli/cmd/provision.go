package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/dispipe/cli/render"
	"github.com/pithecene-io/dispipe/pipe"
)

// ProvisionedPipe is one row of the provision command output.
type ProvisionedPipe struct {
	Label     string     `json:"label"`
	Path      string     `json:"path"`
	ChannelID uint64     `json:"channel_id"`
	State     pipe.State `json:"state"`
}

// ProvisionCommand returns the provision command.
// It creates missing FIFOs and never deletes or replaces anything.
func ProvisionCommand() *cli.Command {
	return &cli.Command{
		Name:   "provision",
		Usage:  "Create the configured pipes without starting the relay",
		Flags:  ReportFlags(),
		Action: provisionAction,
	}
}

func provisionAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitConfig)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := pipe.Validate(cfg.model); err != nil {
		return cli.Exit(err.Error(), ExitConfig)
	}

	results, provErr := pipe.EnsureAll(cfg.model)
	rows := make([]ProvisionedPipe, 0, len(results))
	for _, res := range results {
		rows = append(rows, ProvisionedPipe{
			Label:     res.Mapping.Label,
			Path:      res.Mapping.Path,
			ChannelID: res.Mapping.ChannelID,
			State:     res.State,
		})
	}
	if err := r.Render(rows); err != nil {
		return err
	}
	if provErr != nil {
		return cli.Exit(provErr.Error(), ExitProvision)
	}
	return nil
}
