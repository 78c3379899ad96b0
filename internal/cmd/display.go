package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"splendid-controller/internal/agent"
	"splendid-controller/internal/core"
	"splendid-controller/internal/splendid"
)

// stateOutput is what the one-shot commands print.
type stateOutput struct {
	splendid.ControllerState
	DimmingPercent int    `json:"dimming_percent"`
	Mode           string `json:"mode"`
}

// openDisplay is replaced in tests.
var openDisplay = agent.OpenDisplay

// withDisplay opens the display, syncs it, runs fn and prints the resulting state.
// A failure to close the display is joined into the returned error.
func withDisplay(cmd *cobra.Command, opts *rootOptions, fn func(d splendid.Display) error) (err error) {
	d, err := openDisplay(opts.cfg.Device)
	if err != nil {
		return err
	}
	if closer, ok := d.(io.Closer); ok {
		defer func() {
			if cerr := closer.Close(); cerr != nil {
				err = errors.Join(err, fmt.Errorf("close display: %w", cerr))
			}
		}()
	}

	if err := d.SyncAllSliders(); err != nil {
		return err
	}
	if fn != nil {
		if err := fn(d); err != nil {
			return err
		}
	}

	cs := d.GetState()
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(stateOutput{
		ControllerState: cs,
		DimmingPercent:  cs.DimmingPercent(),
		Mode:            core.ModeName(cs),
	})
}

func newStateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Read every slider and print the display state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDisplay(cmd, opts, nil)
		},
	}
}

func newSyncCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Alias of state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDisplay(cmd, opts, nil)
		},
	}
}

func newModeCommand(opts *rootOptions) *cobra.Command {
	names := make([]string, 0, len(splendid.Kinds()))
	for _, k := range splendid.Kinds() {
		names = append(names, k.String())
	}

	return &cobra.Command{
		Use:   "mode <name> [params...]",
		Short: "Activate a mode: " + strings.Join(names, ", "),
		Long: `Activate a display mode. Parameters not given keep their current values.

  mode normal
  mode vivid
  mode manual <value 0-100>
  mode eyecare <level 0-4>
  mode ereading [<grayscale 0-4> [<temp 0-100>]]`,
		Args:      cobra.RangeArgs(1, 3),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseInts(args[1:])
			if err != nil {
				return err
			}
			return withDisplay(cmd, opts, func(d splendid.Display) error {
				mode, err := splendid.ParseMode(args[0], d.GetState(), params...)
				if err != nil {
					return err
				}
				return d.SetMode(mode)
			})
		},
	}
}

func newDimmingCommand(opts *rootOptions) *cobra.Command {
	var level, step int

	cmd := &cobra.Command{
		Use:   "dimming [percent]",
		Short: "Set the dimming as a percentage, a native level or a relative step",
		Example: `  splendid dimming 50
  splendid dimming --level 70
  splendid dimming --step -10`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set := 0
			for _, given := range []bool{len(args) == 1, cmd.Flags().Changed("level"), cmd.Flags().Changed("step")} {
				if given {
					set++
				}
			}
			if set != 1 {
				return fmt.Errorf("%w: give exactly one of percent, --level or --step", splendid.ErrInvalidParameter)
			}

			var percent int
			if len(args) == 1 {
				p, err := strconv.Atoi(strings.TrimSuffix(args[0], "%"))
				if err != nil {
					return fmt.Errorf("%w: dimming %q", splendid.ErrInvalidParameter, args[0])
				}
				percent = p
			}

			return withDisplay(cmd, opts, func(d splendid.Display) error {
				switch {
				case cmd.Flags().Changed("level"):
					return d.SetDimming(level)
				case cmd.Flags().Changed("step"):
					p := d.GetState().DimmingPercent() + step
					p = max(splendid.PercentMin, min(splendid.PercentMax, p))
					return d.SetDimmingPercent(p)
				}
				return d.SetDimmingPercent(percent)
			})
		},
	}
	cmd.Flags().IntVar(&level, "level", 0, "native dimming level (40-100)")
	cmd.Flags().IntVar(&step, "step", 0, "relative change in percent, clamped to 0-100")
	return cmd
}

func newEReadingCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "ereading [on|off|toggle]",
		Short:     "Switch the grayscale e-reading overlay",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"on", "off", "toggle"},
		RunE: func(cmd *cobra.Command, args []string) error {
			want := "toggle"
			if len(args) == 1 {
				want = strings.ToLower(args[0])
			}
			if want != "on" && want != "off" && want != "toggle" {
				return fmt.Errorf("%w: ereading %q", splendid.ErrInvalidParameter, args[0])
			}

			return withDisplay(cmd, opts, func(d splendid.Display) error {
				on := d.GetState().IsMonochrome
				if (want == "on" && on) || (want == "off" && !on) {
					return nil
				}
				return d.ToggleEReading()
			})
		},
	}
}

func parseInts(args []string) ([]int, error) {
	out := make([]int, 0, len(args))
	for _, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", splendid.ErrInvalidParameter, a)
		}
		out = append(out, v)
	}
	return out, nil
}
