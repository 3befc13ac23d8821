package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/idlab-discover/visionprep-cli/internal/apperr"
	"github.com/idlab-discover/visionprep-cli/internal/dataquality"
	"github.com/idlab-discover/visionprep-cli/internal/pipeline"
	"github.com/idlab-discover/visionprep-cli/internal/runconfig"
	"github.com/idlab-discover/visionprep-cli/internal/storage"
	"github.com/idlab-discover/visionprep-cli/internal/ui"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a COCO annotation file against its images",
	Long:  "Load a COCO annotation file, check every record against the image directory (local or s3://) and print a data-quality report. Nothing is persisted.",
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().String("annotations", "", "COCO annotation file (local path or s3:// URI)")
	validateCmd.Flags().String("images", "", "Image root (directory or s3://bucket/prefix)")
	validateCmd.Flags().String("task", string(runconfig.TaskDetection), "Task type, selects the geometry checks: "+taskList())
	validateCmd.Flags().Bool("allow-empty", false, "Accept images without annotations")
	validateCmd.Flags().Bool("strict", false, "Exit non-zero when any issue is found")

	bindFlags("validate", validateCmd, "annotations", "images", "task", "allow-empty", "strict")
}

func runValidate(cmd *cobra.Command, args []string) error {
	annotations := strings.TrimSpace(viper.GetString("validate.annotations"))
	images := strings.TrimSpace(viper.GetString("validate.images"))
	if annotations == "" || images == "" {
		return apperr.User("--annotations and --images are required")
	}
	task, ok := runconfig.ParseTaskType(viper.GetString("validate.task"))
	if !ok {
		return apperr.Userf("unknown --task %q (expected %s)", viper.GetString("validate.task"), taskList())
	}

	ctx := cmd.Context()
	s3 := s3Config()
	src, err := storage.NewSource(ctx, images, s3)
	if err != nil {
		return err
	}

	var spin *ui.Spinner
	if !quiet() && interactiveStderr() {
		spin = ui.NewSpinner(cmd.ErrOrStderr(), "Checking "+annotations)
		spin.Start()
	}

	pc := &pipeline.Context{Config: runconfig.Default(task, "."), S3: s3}
	spec := runconfig.SplitSpec{Name: "validate", DataPath: images, AnnotationFile: annotations}
	coll, err := pipeline.LoadStage(ctx, pc, spec, src)
	if err != nil {
		if spin != nil {
			spin.Stop(false, "load failed")
		}
		return err
	}
	if spin != nil {
		spin.UpdateMessage(fmt.Sprintf("Checking %d records", coll.Len()))
	}

	opts := dataquality.OptionsForTask(task)
	opts.AllowEmpty = viper.GetBool("validate.allow-empty")
	opts.Stat = src.Stat
	report, err := dataquality.Validate(ctx, coll, opts)
	if spin != nil {
		spin.Stop(err == nil, fmt.Sprintf("%d records checked", coll.Len()))
	}
	if err != nil {
		return err
	}

	if !quiet() {
		view := qualityView("", report)
		qui := newQualityUI(cmd)
		if interactiveStderr() {
			qui.PrintReport(view)
		} else {
			qui.PrintSimpleReport(view)
		}
	}

	if viper.GetBool("validate.strict") && !report.Clean() {
		return fmt.Errorf("%d data-quality issue(s) in %s", report.IssueCount(), annotations)
	}
	return nil
}
