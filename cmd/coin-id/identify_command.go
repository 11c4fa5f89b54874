package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	coinid "github.com/menta2k/coin-id"
	"github.com/menta2k/coin-id/internal/session"
	"github.com/menta2k/coin-id/internal/utils"
	"github.com/menta2k/coin-id/pkg/calibration"
	"github.com/menta2k/coin-id/pkg/consensus"
	"github.com/menta2k/coin-id/pkg/processing"
)

type identifyOptions struct {
	jsonOut    bool
	outDir     string
	outFormat  string
	circlePx   int
	diameterMM float64
	backend    string
	model      string
	attempts   int
	threshold  int
	parallel   int
	exhaustive bool
	testVision bool
	noSave     bool
}

func newIdentifyCommand(ctx *commandContext) *cobra.Command {
	var opts identifyOptions

	cmd := &cobra.Command{
		Use:   "identify <image|url|dir>",
		Short: "Identify a coin from a photo",
		Long: `Identify sends the photo to the vision model repeatedly and reports an
identification once two answers agree. The diameter comes from the session's
calibrated circle unless --px or --mm is given. A directory identifies every
photo in it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIdentify(cmd, ctx, args[0], opts)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.jsonOut, "json", false, "Output reports as JSON")
	flags.StringVarP(&opts.outDir, "out", "o", "", "Save the analysed image and a JSON sidecar to this directory")
	flags.StringVar(&opts.outFormat, "out-format", "jpg", "Format of saved images: jpg|png|webp")
	flags.IntVar(&opts.circlePx, "px", 0, "Measure at this circle size instead of the session's")
	flags.Float64Var(&opts.diameterMM, "mm", 0, "Use this diameter in mm instead of measuring")
	flags.StringVar(&opts.backend, "backend", "", "Override classifier.backend")
	flags.StringVar(&opts.model, "model", "", "Override classifier.model")
	flags.IntVar(&opts.attempts, "attempts", 0, "Override the attempt budget")
	flags.IntVar(&opts.threshold, "threshold", 0, "Override the agreement threshold")
	flags.IntVar(&opts.parallel, "parallel", 0, "Attempts dispatched concurrently")
	flags.BoolVar(&opts.exhaustive, "exhaustive", false, "Spend the whole budget even after agreement")
	flags.BoolVar(&opts.testVision, "test-vision", false, "Only ask the model to describe the image")
	flags.BoolVar(&opts.noSave, "no-save", false, "Do not store the report in the session")
	return cmd
}

func runIdentify(cmd *cobra.Command, ctx *commandContext, source string, opts identifyOptions) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}

	// Overrides apply to this run only.
	runCfg := *cfg
	if opts.backend != "" {
		runCfg.Classifier.Backend = opts.backend
	}
	if opts.model != "" {
		runCfg.Classifier.Model = opts.model
	}
	if opts.attempts > 0 {
		runCfg.Classifier.MaxAttempts = opts.attempts
	}
	if opts.threshold > 0 {
		runCfg.Classifier.Threshold = opts.threshold
	}
	if opts.parallel > 0 {
		runCfg.Classifier.Parallelism = opts.parallel
	}
	if opts.exhaustive {
		runCfg.Classifier.Exhaustive = true
	}
	if err := runCfg.Validate(); err != nil {
		return err
	}

	var progress []consensus.Option
	if !opts.jsonOut {
		progress = append(progress, consensus.WithObserver(func(a consensus.Attempt) {
			printAttempt(cmd.ErrOrStderr(), a)
		}))
	}

	identifier, err := newIdentifier(cmd.Context(), &runCfg, ctx.log(), progress...)
	if err != nil {
		return err
	}

	sources := []string{source}
	if utils.DirExists(source) {
		sources, err = utils.ListImageFiles(source)
		if err != nil {
			return fmt.Errorf("list images in %s: %w", source, err)
		}
		if len(sources) == 0 {
			return fmt.Errorf("no images found in %s", source)
		}
	}

	if opts.testVision {
		return runTestVision(cmd, identifier, sources)
	}

	return ctx.withSession(cmd.Context(), !opts.noSave, func(sess *session.Session) error {
		m, err := measurementFor(sess.Calibration, opts)
		if err != nil {
			return err
		}

		reports := make([]*coinid.Report, 0, len(sources))
		for _, src := range sources {
			if !opts.jsonOut {
				fmt.Fprintf(cmd.ErrOrStderr(), "Identifying %s at %s\n", src, m.String())
			}
			report, err := identifier.IdentifyFile(cmd.Context(), src, m)
			if err != nil {
				return err
			}
			if opts.outDir != "" {
				path, err := saveReport(identifier.Processor(), report, src, opts)
				if err != nil {
					return err
				}
				if !opts.jsonOut {
					fmt.Fprintf(cmd.ErrOrStderr(), "Saved %s\n", path)
				}
			}
			reports = append(reports, report)
			sess.SetResult(report)
		}

		if opts.jsonOut {
			if len(reports) == 1 {
				return writeJSON(cmd, reports[0])
			}
			return writeJSON(cmd, reports)
		}
		for i, r := range reports {
			if len(reports) > 1 {
				fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n", sources[i])
			}
			printReport(cmd.OutOrStdout(), r)
		}
		return nil
	})
}

// measurementFor picks the diameter sent with the prompt.
func measurementFor(state calibration.State, opts identifyOptions) (calibration.Measurement, error) {
	if opts.diameterMM < 0 || opts.circlePx < 0 {
		return calibration.Measurement{}, fmt.Errorf("--px and --mm must be positive")
	}
	if opts.diameterMM > 0 {
		return calibration.Measurement{DiameterMM: opts.diameterMM, Calibrated: true}, nil
	}
	if opts.circlePx > 0 {
		if err := state.SetCircleSize(opts.circlePx); err != nil {
			return calibration.Measurement{}, err
		}
	}
	return state.Measure(), nil
}

func runTestVision(cmd *cobra.Command, identifier *coinid.Identifier, sources []string) error {
	for _, src := range sources {
		img, err := identifier.Processor().LoadImageSmart(cmd.Context(), src)
		if err != nil {
			return fmt.Errorf("load %s: %w", src, err)
		}
		reply, err := identifier.TestVision(cmd.Context(), img)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s:\n%s\n", src, strings.TrimSpace(reply))
	}
	return nil
}

// saveReport writes the analysed image named after the identification and a
// JSON sidecar with the full report.
func saveReport(p *processing.Processor, r *coinid.Report, src string, opts identifyOptions) (string, error) {
	if err := utils.EnsureDir(opts.outDir); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	path := utils.OutputPath(src, opts.outDir, r.Identification.Title(), opts.outFormat)
	if r.Prepared != nil {
		if err := p.SaveImage(r.Prepared, path, processing.FormatFromPath(path), 90, false); err != nil {
			return "", fmt.Errorf("save image: %w", err)
		}
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(utils.SidecarPath(path), data, 0644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

func printAttempt(w io.Writer, a consensus.Attempt) {
	status := a.Fingerprint
	switch {
	case a.Err != nil:
		status = "failed: " + a.ErrorText()
	case a.Fingerprint == "":
		status = "no identification"
	}
	fmt.Fprintf(w, "  attempt %d (%s): %s\n", a.Seq, a.Duration.Round(100*time.Millisecond), status)
}

func printReport(w io.Writer, r *coinid.Report) {
	id := r.Identification

	status := "no answer, manual verification needed"
	switch {
	case r.Confirmed:
		status = fmt.Sprintf("confirmed (%d of %d answers agree)", r.Result.AgreementCount, len(r.Result.Attempts))
	case r.Found():
		status = fmt.Sprintf("unconfirmed best guess (%d of %d answers)", r.Result.FallbackCount, len(r.Result.Attempts))
	}

	rows := [][]string{
		{"Identification", id.Title()},
		{"Status", status},
		{"Diameter", r.Measurement.String()},
	}
	for _, f := range [][2]string{
		{"Country", id.Country},
		{"Denomination", id.Denomination},
		{"Ruler", id.Ruler},
		{"Year", id.Year},
		{"Material", id.Material},
		{"Motif", id.Motif},
		{"Legend", id.Legend},
		{"Details", id.Details},
		{"Reasoning", id.Reasoning},
	} {
		if f[1] != "" {
			rows = append(rows, []string{f[0], f[1]})
		}
	}
	for _, l := range r.Links {
		rows = append(rows, []string{l.Name, l.URL})
	}
	rows = append(rows, []string{"Model", r.Backend + " " + r.Model})
	rows = append(rows, []string{"Duration", r.Duration.Round(time.Millisecond).String()})

	fmt.Fprintln(w, renderTable([]string{"Field", "Value"}, rows, nil))
	if !r.Found() {
		fmt.Fprintln(w, "The model gave no usable answer. Verify the coin manually in a catalogue such as Numista.")
	}
}
