package main

import (
	"fmt"
	"io"
	"io/fs"
	"text/tabwriter"

	"codeberg.org/mutker/thermalctl/internal/curve"
	"codeberg.org/mutker/thermalctl/internal/errors"
	"codeberg.org/mutker/thermalctl/internal/logger"
	"github.com/spf13/cobra"
)

func newCurveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "curve",
		Short: "Inspect or change the stored fan curve",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the stored curve and sample interpolated duty cycles",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				store, err := curveStore(cmd)
				if err != nil {
					return err
				}

				table, err := store.Read()
				source := store.Path()
				switch {
				case errors.Is(err, fs.ErrNotExist):
					table, source = curve.Default(), "built-in default, "+store.Path()+" does not exist"
				case err != nil:
					return err
				}

				printCurve(cmd.OutOrStdout(), table, source)
				return nil
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Store the default curve",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				store, err := curveStore(cmd)
				if err != nil {
					return err
				}
				if err := store.Save(curve.Default()); err != nil {
					return err
				}

				logger.Info().Str("path", store.Path()).Msg("Default curve stored")
				return nil
			},
		},
		&cobra.Command{
			Use:     "set TEMP:DUTY TEMP:DUTY...",
			Short:   "Validate and store a new curve",
			Example: "  thermalctl curve set 20:0.1 40:0.5 50:0.6 60:0.7 100:1.0",
			Args:    cobra.MinimumNArgs(curve.MinPoints),
			RunE: func(cmd *cobra.Command, args []string) error {
				table, err := curve.ParseTable(args)
				if err != nil {
					return err
				}

				store, err := curveStore(cmd)
				if err != nil {
					return err
				}
				if err := store.Save(table); err != nil {
					return err
				}

				logger.Info().Str("path", store.Path()).Int("points", len(table)).Msg("Curve stored")
				return nil
			},
		},
	)

	return cmd
}

func curveStore(cmd *cobra.Command) (*curve.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	return curve.NewStore(cfg.CurveFile, logger.Get()), nil
}

func printCurve(out io.Writer, table curve.Table, source string) {
	fmt.Fprintf(out, "Curve: %s\n\n", source)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "TEMP °C\tFAN %\t")
	for _, p := range table {
		fmt.Fprintf(w, "%.1f\t%.1f\t\n", p.TemperatureC, p.DutyCycle*100)
	}
	w.Flush()

	fmt.Fprintln(out, "\nInterpolated:")
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	for t := 10; t <= 100; t += 10 {
		fmt.Fprintf(w, "%d °C\t%.1f %%\t\n", t, curve.Interpolate(table, float64(t))*100)
	}
	w.Flush()
}
