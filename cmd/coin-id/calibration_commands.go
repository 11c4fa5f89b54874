package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/menta2k/coin-id/internal/session"
	"github.com/menta2k/coin-id/pkg/calibration"
	"github.com/menta2k/coin-id/pkg/processing"
)

func newCalibrationCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newCalibrateCommand(ctx),
		newMeasureCommand(ctx),
		newReferencesCommand(),
		newCircleCommand(ctx),
	}
}

func newCalibrateCommand(ctx *commandContext) *cobra.Command {
	var size int
	var scale float64
	var reset bool

	cmd := &cobra.Command{
		Use:   "calibrate [eur1|eur2|MM]",
		Short: "Calibrate the screen scale with a reference coin",
		Long: `Calibrate solves the screen scale from the current circle size and a
reference object of known diameter: one of the built-in reference coins or a
diameter in millimeters. Set the circle size that encloses the reference
with --size first. A display density that is already known can be set
directly with --scale.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			withScale := cmd.Flags().Changed("scale")
			if !reset && !withScale && len(args) == 0 {
				return fmt.Errorf("a reference (eur1, eur2 or a diameter in mm) or --scale is required")
			}
			if withScale && len(args) == 1 {
				return fmt.Errorf("use either a reference or --scale, not both")
			}
			return ctx.withSession(cmd.Context(), true, func(sess *session.Session) error {
				if reset {
					sess.Calibration.ResetTo(ctx.config.Calibration.DefaultScale)
					fmt.Fprintln(cmd.OutOrStdout(), "Calibration reset")
					return nil
				}
				if cmd.Flags().Changed("size") {
					if err := sess.Calibration.SetCircleSize(ctx.config.ClampCircle(size)); err != nil {
						return err
					}
				}

				out := cmd.OutOrStdout()
				if withScale {
					if err := sess.Calibration.SetScale(scale); err != nil {
						return err
					}
					ctx.log().Info("scale set", "session", sess.ID, "scale", scale)
					m := sess.Calibration.Measure()
					fmt.Fprintf(out, "Scale set to %.2f px per inch\n", sess.Calibration.Scale)
					fmt.Fprintf(out, "Circle %d px = %s\n", m.CirclePx, m.String())
					return nil
				}

				ref, err := calibration.ParseReference(args[0])
				if err != nil {
					return err
				}
				if err := sess.Calibration.Calibrate(ref); err != nil {
					return err
				}
				ctx.log().Info("calibrated",
					"session", sess.ID,
					"circle_px", sess.Calibration.CircleSizePx,
					"reference_mm", sess.Calibration.ReferenceDiameterMM,
					"scale", sess.Calibration.Scale)

				fmt.Fprintf(out, "Calibrated with %s at %d px\n", describeReference(sess.Calibration), sess.Calibration.CircleSizePx)
				fmt.Fprintf(out, "Scale: %.2f px per inch\n", sess.Calibration.Scale)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&size, "size", 0, "Circle diameter in pixels that encloses the reference")
	cmd.Flags().Float64Var(&scale, "scale", 0, "Set the display scale in pixels per inch instead of measuring a reference")
	cmd.Flags().BoolVar(&reset, "reset", false, "Drop the calibration and use the default scale")
	return cmd
}

func newMeasureCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "measure [px]",
		Short: "Show the diameter of the measuring circle",
		Long:  "Measure converts the session's circle size to millimeters. With px the circle is resized first.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd.Context(), len(args) == 1, func(sess *session.Session) error {
				if len(args) == 1 {
					px, err := strconv.Atoi(strings.TrimSpace(args[0]))
					if err != nil {
						return fmt.Errorf("circle size %q: %w", args[0], err)
					}
					if err := sess.Calibration.SetCircleSize(ctx.config.ClampCircle(px)); err != nil {
						return err
					}
				}

				m := sess.Calibration.Measure()
				if jsonOut {
					return writeJSON(cmd, m)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Circle %d px = %s\n", m.CirclePx, m.String())
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newReferencesCommand() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:         "references",
		Short:       "List the built-in reference coins",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			refs := calibration.References()
			if jsonOut {
				return writeJSON(cmd, refs)
			}

			rows := make([][]string, 0, len(refs))
			for _, r := range refs {
				rows = append(rows, []string{r.Key, r.Name, fmt.Sprintf("%.2f", r.DiameterMM)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Key", "Name", "Diameter (mm)"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight}))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newCircleCommand(ctx *commandContext) *cobra.Command {
	var size int
	var out string

	cmd := &cobra.Command{
		Use:   "circle",
		Short: "Render the measuring circle as a PNG",
		Long: `Circle writes the gold measuring circle with its red centre dot. Show the
image at 100% zoom, place the coin on the screen and compare.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd.Context(), false, func(sess *session.Session) error {
				px := sess.Calibration.CircleSizePx
				if cmd.Flags().Changed("size") {
					px = size
				}
				px = ctx.config.ClampCircle(px)

				img, err := processing.RenderCalibrationCircle(px)
				if err != nil {
					return err
				}
				if out == "" {
					out = fmt.Sprintf("circle-%d.png", px)
				}
				if err := processing.NewProcessor().SaveImage(img, out, processing.FormatFromPath(out), 95, true); err != nil {
					return err
				}

				m := sess.Calibration.DiameterMM(px)
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (circle %d px = %.2f mm, calibrated: %s)\n",
					out, px, m, yesNo(sess.Calibration.Calibrated))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&size, "size", 0, "Circle diameter in pixels (default: the session's circle)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output PNG path (default circle-<px>.png)")
	return cmd
}

func describeReference(s calibration.State) string {
	if ref, ok := calibration.LookupReference(s.ReferenceKey); ok {
		return fmt.Sprintf("%s (%.2f mm)", ref.Name, ref.DiameterMM)
	}
	if s.ReferenceDiameterMM == 0 {
		return "scale set directly"
	}
	return fmt.Sprintf("%.2f mm", s.ReferenceDiameterMM)
}
