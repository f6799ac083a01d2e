package cmd

import (
	"errors"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/dispipe/cli/config"
	"github.com/pithecene-io/dispipe/cli/render"
	"github.com/pithecene-io/dispipe/pipe"
)

// CheckPipe is one mapping in a check report.
type CheckPipe struct {
	Label     string     `json:"label"`
	Path      string     `json:"path"`
	ChannelID uint64     `json:"channel_id"`
	State     pipe.Entry `json:"state"`
}

// CheckReport is the response for the check command.
type CheckReport struct {
	Config      string      `json:"config"`
	Fingerprint string      `json:"fingerprint"`
	Root        string      `json:"root"`
	Sink        string      `json:"sink"`
	Valid       bool        `json:"valid"`
	Problems    []string    `json:"problems,omitempty"`
	Pipes       []CheckPipe `json:"pipes"`
}

// CheckCommand returns the check command.
// It never creates or changes anything on disk.
func CheckCommand() *cli.Command {
	return &cli.Command{
		Name:   "check",
		Usage:  "Validate the configuration and show the state of every pipe",
		Flags:  ReportFlags(),
		Action: checkAction,
	}
}

func checkAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitConfig)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	sum, err := config.Fingerprint(cfg.path)
	if err != nil {
		return cli.Exit(err.Error(), ExitConfig)
	}

	report := CheckReport{
		Config:      cfg.path,
		Fingerprint: sum,
		Root:        cfg.model.Root,
		Sink:        cfg.file.Sink.Type,
		Valid:       true,
		Pipes:       make([]CheckPipe, 0, len(cfg.model.Mappings)),
	}

	verr := pipe.Validate(cfg.model)
	if verr != nil {
		report.Valid = false
		var ve *pipe.ValidationError
		if errors.As(verr, &ve) {
			report.Problems = ve.Problems
		} else {
			report.Problems = []string{verr.Error()}
		}
	}

	for _, m := range cfg.model.Mappings {
		state, err := pipe.Inspect(m.Path)
		if err != nil {
			state = pipe.EntryOther
		}
		report.Pipes = append(report.Pipes, CheckPipe{
			Label:     m.Label,
			Path:      m.Path,
			ChannelID: m.ChannelID,
			State:     state,
		})
	}

	if err := renderReport(r, report, report.Pipes); err != nil {
		return err
	}
	if verr != nil {
		return cli.Exit(verr.Error(), ExitConfig)
	}
	return nil
}

// renderReport renders a summary. Table output cannot nest, so the rows are
// rendered as a second table below it.
func renderReport(r *render.Renderer, summary any, rows any) error {
	if err := r.Render(summary); err != nil {
		return err
	}
	if r.Format() != render.FormatTable {
		return nil
	}
	if _, err := r.Writer().Write([]byte("\n")); err != nil {
		return err
	}
	return r.Render(rows)
}
