package cmd

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/idlab-discover/visionprep-cli/internal/apperr"
	"github.com/idlab-discover/visionprep-cli/internal/catalog"
	"github.com/idlab-discover/visionprep-cli/internal/dataquality"
	"github.com/idlab-discover/visionprep-cli/internal/dataset"
	"github.com/idlab-discover/visionprep-cli/internal/fetcher"
	"github.com/idlab-discover/visionprep-cli/internal/pipeline"
	"github.com/idlab-discover/visionprep-cli/internal/provenance"
	"github.com/idlab-discover/visionprep-cli/internal/runconfig"
	"github.com/idlab-discover/visionprep-cli/internal/tracking"
	"github.com/idlab-discover/visionprep-cli/internal/ui"
)

var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Load, validate and persist dataset splits and build their loaders",
	Long: `Run load → process → validate → persist → construct-loader for each split of a run configuration.

Records are written to a SQLite catalog when --catalog is set. --iterate walks one epoch of every loader, --bom writes a CycloneDX ML-BOM describing the model and the prepared splits.`,
	RunE: runPrepare,
}

func init() {
	addRunConfigFlags(prepareCmd)
	f := prepareCmd.Flags()
	f.StringSlice("split", nil, "Split(s) to prepare: train|val|test (default: every configured split)")
	f.String("catalog", "", "SQLite catalog file; records are not persisted when empty")
	f.String("run-name", "", "Catalog run name (default <task>-<id>)")
	f.String("fetch-policy", "", "Sample fetch failures: abort|skip (default data.fetch_policy)")
	f.String("hf-mode", "off", "Hugging Face model check: online|dummy|off")
	f.String("hf-token", "", "Hugging Face access token")
	f.Int("hf-timeout", 10, "HTTP timeout in seconds for Hugging Face API")
	f.Bool("track", false, "Log parameters and split metrics to the mlflow section's tracker (file sink when absent)")
	f.String("bom", "", "Write a CycloneDX ML-BOM to this path (.json or .xml)")
	f.String("bom-format", "auto", "ML-BOM format: json|xml|auto")
	f.String("spec", "", "CycloneDX spec version: 1.5|1.6 (default latest)")
	f.Bool("iterate", false, "Traverse one epoch of every loader and print batch counts")
	f.Int("epoch", 0, "Epoch index used by --iterate (selects shuffle order and augmentation)")
	f.String("preview-dir", "", "With --iterate, write the first batch of every split as PNG files to this directory")

	bindFlags("prepare", prepareCmd, "split", "catalog", "fetch-policy", "hf-mode", "hf-token", "hf-timeout",
		"track", "bom", "bom-format", "spec", "iterate", "epoch", "preview-dir")
}

// configuredSplits lists the splits with a data path, in train/val/test order.
func configuredSplits(cfg *runconfig.RunConfig) []string {
	var out []string
	for _, s := range []string{"train", "val", "test"} {
		if spec, err := cfg.Data.Split(s); err == nil && spec.DataPath != "" {
			out = append(out, s)
		}
	}
	return out
}

func modelFetcher(mode, token string, timeout time.Duration) (fetcher.ModelInfoFetcher, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "off":
		return nil, nil
	case "dummy":
		return fetcher.DummyHub{}, nil
	case "online":
		return fetcher.NewHubClient(fetcher.HubOptions{Token: token, Timeout: timeout, Retries: 2}), nil
	}
	return nil, apperr.Userf("invalid --hf-mode %q (expected online|dummy|off)", mode)
}

func newTracker(cfg *runconfig.RunConfig) (tracking.Sink, error) {
	if cfg.MLflow != nil {
		return tracking.New(cfg.MLflow, cfg.Output.ResultsDir)
	}
	return tracking.NewFileSink(filepath.Join(cfg.Output.ResultsDir, "tracking"), "visionprep")
}

func runPrepare(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}

	splits := configuredSplits(cfg)
	if requested := viper.GetStringSlice("prepare.split"); len(requested) > 0 {
		splits = splits[:0]
		for _, name := range requested {
			spec, err := cfg.Data.Split(name)
			if err != nil {
				return apperr.Userf("invalid --split: %v", err)
			}
			splits = append(splits, spec.Name)
		}
	}
	if len(splits) == 0 {
		return apperr.User("no split has a data path; set data.train_data_path")
	}

	pc := &pipeline.Context{Config: cfg, S3: s3Config()}

	if p := viper.GetString("prepare.fetch-policy"); p != "" {
		if pc.Policy, err = dataset.ParseFetchPolicy(p); err != nil {
			return apperr.Userf("invalid --fetch-policy: %v", err)
		}
	}

	timeout := time.Duration(max(viper.GetInt("prepare.hf-timeout"), 1)) * time.Second
	hfMode := viper.GetString("prepare.hf-mode")
	if pc.Models, err = modelFetcher(hfMode, viper.GetString("prepare.hf-token"), timeout); err != nil {
		return err
	}

	if viper.GetBool("prepare.track") {
		if pc.Tracker, err = newTracker(cfg); err != nil {
			return err
		}
	}

	var store *catalog.Store
	if dsn := viper.GetString("prepare.catalog"); dsn != "" {
		if store, err = catalog.Open(dsn); err != nil {
			return err
		}
		defer store.Close()
		runName, _ := cmd.Flags().GetString("run-name")
		if pc.Session, err = store.CreateRun(ctx, runName, cfg); err != nil {
			return err
		}
	}

	q := quiet()
	var reporter *prepareReporter
	if !q {
		interactive := interactiveStderr()
		if interactive {
			level, _ := parseLogLevel()
			if level != "debug" {
				// The step display replaces the stage log lines.
				pipeline.SetLogger(nil)
				dataquality.SetLogger(nil)
			}
		}
		reporter = newPrepareReporter(cmd.ErrOrStderr(), cfg, splits, pc.Models != nil, interactive)
		pc.OnProgress = reporter.onEvent
		reporter.Start()
	}

	prep, runErr := pipeline.Prepare(ctx, pc, splits)

	if reporter != nil {
		reporter.Complete(runErr)
	}
	if pc.Session != nil {
		status := catalog.RunCompleted
		if runErr != nil {
			status = catalog.RunFailed
		}
		if err := pc.Session.Finish(context.WithoutCancel(ctx), status); err != nil {
			return errors.Join(runErr, err)
		}
	}
	if runErr != nil {
		return runErr
	}

	if !q {
		printPreparation(cmd, prep, pc.Session)
	}

	if viper.GetBool("prepare.iterate") {
		opts := iterateOptions{Epoch: viper.GetInt("prepare.epoch"), PreviewDir: viper.GetString("prepare.preview-dir"), Quiet: q}
		if err := iterateLoaders(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), prep, opts); err != nil {
			return err
		}
	}

	if path := viper.GetString("prepare.bom"); path != "" {
		opts := provenance.Options{}
		if pc.Session != nil {
			opts.RunID = pc.Session.RunID()
		}
		if prep.Compat != nil {
			opts.ArchitectureFamily = prep.Compat.ModelType
			opts.ModelArchitecture = prep.Compat.Architecture
		}
		bom, err := provenance.Build(cfg, prep.Summaries(), opts)
		if err != nil {
			return err
		}
		if err := provenance.Write(bom, path, viper.GetString("prepare.bom-format"), viper.GetString("prepare.spec")); err != nil {
			return err
		}
		if !q {
			fmt.Fprintf(cmd.OutOrStdout(), "%s ML-BOM written to %s\n", ui.GetCheckMark(), path)
		}
	}
	return nil
}

func printPreparation(cmd *cobra.Command, prep *pipeline.Preparation, session *catalog.Session) {
	out := cmd.OutOrStdout()
	qui := newQualityUI(cmd)
	if c := prep.Compat; c != nil {
		mark := ui.GetCheckMark()
		if !c.Compatible {
			mark = ui.GetWarnMark()
		}
		fmt.Fprintf(out, "%s %s %s\n", mark, ui.Highlight.Render(c.ModelID), ui.Dim.Render(fmt.Sprintf("→ %s (%s)", c.PipelineTag, c.ModelType)))
		for _, w := range c.Warnings {
			fmt.Fprintf(out, "  %s %s\n", ui.GetWarnMark(), ui.Dim.Render(w))
		}
	}
	for _, r := range prep.Results {
		if r.Report != nil && !r.Report.Clean() {
			qui.PrintReport(qualityView(r.Split, r.Report))
		}
	}
	title := "Prepared splits"
	if session != nil {
		title += " (run " + session.RunID() + ")"
	}
	qui.PrintSplitTable(title, splitRows(prep.Summaries()))
}

type iterateOptions struct {
	Epoch      int
	PreviewDir string
	Quiet      bool
}

// iterateLoaders walks one epoch of each split's loader, stacking every
// batch the way a training step would receive it.
func iterateLoaders(ctx context.Context, out, errOut io.Writer, prep *pipeline.Preparation, opts iterateOptions) error {
	for _, r := range prep.Results {
		if r.Loader == nil {
			continue
		}
		var bar *progressbar.ProgressBar
		if !opts.Quiet {
			bar = progressbar.NewOptions(r.Loader.Len(),
				progressbar.OptionSetWriter(errOut),
				progressbar.OptionSetDescription("⏳ "+r.Split),
				progressbar.OptionSetWidth(30),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}
		batches, samples := 0, 0
		var shape [4]int
		ragged := false
		for b, err := range r.Loader.Epoch(ctx, opts.Epoch) {
			if err != nil {
				return fmt.Errorf("iterate %s: %w", r.Split, err)
			}
			if _, s, err := b.Stack(); err != nil {
				// Without a fixed image_size samples keep their own shapes.
				ragged = true
			} else if batches == 0 {
				shape = s
			}
			if batches == 0 && opts.PreviewDir != "" {
				if err := writePreviews(opts.PreviewDir, r.Split, opts.Epoch, r.Loader.Dataset().Transform(), b); err != nil {
					return err
				}
			}
			batches++
			samples += b.Len()
			if bar != nil {
				_ = bar.Add(1)
			}
		}
		if bar != nil {
			_ = bar.Finish()
		}
		dims := "variable shape"
		if !ragged && batches > 0 {
			dims = fmt.Sprintf("batch %d×%d×%d×%d", shape[0], shape[1], shape[2], shape[3])
		}
		fmt.Fprintf(out, "%s %s: %s batch(es), %s sample(s), %s\n", ui.GetCheckMark(), r.Split,
			ui.FormatCount(batches), ui.FormatCount(samples), ui.Dim.Render(dims))
	}
	return nil
}

// writePreviews renders the samples of b as <split>-e<epoch>-<image id>.png
// under dir.
func writePreviews(dir, split string, epoch int, tc dataset.TransformConfig, b dataset.Batch) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create preview dir: %w", err)
	}
	for _, smp := range b.Samples {
		path := filepath.Join(dir, fmt.Sprintf("%s-e%d-%d.png", split, epoch, smp.ImageID))
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("write preview: %w", err)
		}
		err = png.Encode(f, tc.Preview(smp.Pixels))
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("write preview %s: %w", path, err)
		}
	}
	return nil
}

// prepareReporter maps pipeline events onto step rows: an optional model
// check row, then one row per split and stage.
type prepareReporter struct {
	ui.StepReporter
	rows      map[string]int
	modelRow  int
	modelDone bool
}

func newPrepareReporter(w io.Writer, cfg *runconfig.RunConfig, splits []string, modelCheck, interactive bool) *prepareReporter {
	var steps []string
	pr := &prepareReporter{rows: map[string]int{}, modelRow: -1}
	if modelCheck {
		pr.modelRow = 0
		steps = append(steps, "model check "+cfg.Model.ModelName)
	}
	for _, s := range splits {
		for _, st := range pipeline.Stages() {
			pr.rows[stepKey(s, st)] = len(steps)
			steps = append(steps, s+": "+string(st))
		}
	}
	title := fmt.Sprintf("Preparing %s (%s)", cfg.Model.ModelName, cfg.Task())
	pr.StepReporter = ui.NewStepReporter(w, title, steps, interactive)
	return pr
}

func stepKey(split string, st pipeline.Stage) string { return split + "/" + string(st) }

func (pr *prepareReporter) Start() {
	pr.StepReporter.Start()
	if pr.modelRow >= 0 {
		pr.UpdateStep(pr.modelRow, ui.StatusRunning, "")
	}
}

func (pr *prepareReporter) onEvent(e pipeline.ProgressEvent) {
	if pr.modelRow >= 0 && !pr.modelDone {
		pr.modelDone = true
		pr.UpdateStep(pr.modelRow, ui.StatusComplete, "")
	}
	idx, ok := pr.rows[stepKey(e.Split, e.Stage)]
	if !ok {
		return
	}
	switch e.Type {
	case pipeline.EventStageStart:
		pr.UpdateStep(idx, ui.StatusRunning, "")
	case pipeline.EventStageComplete:
		pr.UpdateStep(idx, ui.StatusComplete, e.Message)
	case pipeline.EventStageSkipped:
		pr.UpdateStep(idx, ui.StatusSkipped, e.Message)
	case pipeline.EventError:
		msg := e.Message
		if e.Error != nil {
			msg = e.Error.Error()
		}
		pr.UpdateStep(idx, ui.StatusFailed, msg)
	}
}
