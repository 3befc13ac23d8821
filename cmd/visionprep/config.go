package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/idlab-discover/visionprep-cli/internal/apperr"
	"github.com/idlab-discover/visionprep-cli/internal/pipeline"
	"github.com/idlab-discover/visionprep-cli/internal/runconfig"
	"github.com/idlab-discover/visionprep-cli/internal/ui"
	"github.com/idlab-discover/visionprep-cli/internal/wizard"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create, validate and inspect training-run configurations",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration for a task",
	Long:  "Write the default configuration of a task under <volume>/configs/<task>_config.yaml. With --interactive a short form picks the model and loader settings first.",
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a configuration and list every problem",
	RunE:  runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the configuration after overlays and --set overrides",
	RunE:  runConfigShow,
}

var configTrainerCmd = &cobra.Command{
	Use:   "trainer",
	Short: "Print the trainer, optimizer and sweep settings derived from a configuration",
	RunE:  runConfigTrainer,
}

func init() {
	configInitCmd.Flags().String("task", string(runconfig.TaskClassification), "Task type: "+taskList())
	configInitCmd.Flags().Bool("interactive", false, "Choose model and loader settings in a form")
	configInitCmd.Flags().StringP("output", "o", "", "Output path (default <volume>/configs/<task>_config.yaml)")
	configInitCmd.Flags().String("volume", ".", "Root of data/, configs/, checkpoints/ and results/")
	configInitCmd.Flags().Bool("layout", false, "Also create the volume directories (logs, configs, checkpoints, results, data)")
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")

	for _, c := range []*cobra.Command{configValidateCmd, configShowCmd, configTrainerCmd} {
		addRunConfigFlags(c)
	}
	configTrainerCmd.Flags().Bool("json", false, "Print JSON instead of YAML")

	bindFlags("config.init", configInitCmd, "task", "volume", "layout")

	configCmd.AddCommand(configInitCmd, configValidateCmd, configShowCmd, configTrainerCmd)
}

// addRunConfigFlags registers the flags every command reading a run
// configuration shares.
func addRunConfigFlags(c *cobra.Command) {
	c.Flags().StringP("run-config", "c", "", "Run configuration YAML (required)")
	c.Flags().StringArray("set", nil, "Override a key, e.g. --set model.iou_threshold=0.6 (repeatable)")
	c.Flags().StringArray("overlay", nil, "YAML file merged over the configuration (repeatable, applied before --set)")
	_ = c.MarkFlagRequired("run-config")
}

// bindFlags exposes flags as <prefix>.<flag> viper keys so tool settings
// files and VISIONPREP_* variables can set them.
func bindFlags(prefix string, c *cobra.Command, names ...string) {
	for _, n := range names {
		viper.BindPFlag(prefix+"."+n, c.Flags().Lookup(n))
	}
}

func taskList() string {
	names := make([]string, 0, len(runconfig.TaskTypes()))
	for _, t := range runconfig.TaskTypes() {
		names = append(names, string(t))
	}
	return strings.Join(names, "|")
}

func overridesFrom(cmd *cobra.Command) (string, runconfig.Overrides) {
	path, _ := cmd.Flags().GetString("run-config")
	sets, _ := cmd.Flags().GetStringArray("set")
	files, _ := cmd.Flags().GetStringArray("overlay")
	return path, runconfig.Overrides{Files: files, Sets: sets}
}

// loadRunConfig reads the run configuration named by -c with overlays and
// overrides applied, and validates it.
func loadRunConfig(cmd *cobra.Command) (*runconfig.RunConfig, error) {
	path, ov := overridesFrom(cmd)
	if strings.TrimSpace(path) == "" {
		return nil, apperr.User("--run-config is required")
	}
	return runconfig.LoadWithOverrides(path, ov)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	task, ok := runconfig.ParseTaskType(viper.GetString("config.init.task"))
	if !ok {
		return apperr.Userf("unknown --task %q (expected %s)", viper.GetString("config.init.task"), taskList())
	}
	volume := viper.GetString("config.init.volume")
	interactive, _ := cmd.Flags().GetBool("interactive")
	force, _ := cmd.Flags().GetBool("force")
	output, _ := cmd.Flags().GetString("output")

	if viper.GetBool("config.init.layout") {
		dirs, err := pipeline.EnsureLayout(volume)
		if err != nil {
			return err
		}
		if !quiet() {
			for _, d := range dirs {
				fmt.Fprintf(cmd.ErrOrStderr(), "  %s %s\n", ui.GetBullet(), d)
			}
		}
	}

	if !interactive {
		if output == "" {
			output = pipeline.ConfigPath(volume, task)
		}
		if force {
			if err := runconfig.Save(runconfig.Default(task, volume), output); err != nil {
				return err
			}
			printWritten(cmd, output, task)
			return nil
		}
		_, created, err := pipeline.SetupConfig(task, output, volume)
		if err != nil {
			return err
		}
		if !created {
			return apperr.Userf("%s already exists (use --force to overwrite)", output)
		}
		printWritten(cmd, output, task)
		return nil
	}

	cfg, err := wizard.Run(wizard.DefaultAnswers(task, volume))
	if err != nil {
		return err
	}
	if output == "" {
		output = pipeline.ConfigPath(volume, cfg.Task())
	}
	if !force {
		if _, err := os.Stat(output); err == nil {
			return apperr.Userf("%s already exists (use --force to overwrite)", output)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if err := runconfig.Save(cfg, output); err != nil {
		return err
	}
	printWritten(cmd, output, cfg.Task())
	return nil
}

func printWritten(cmd *cobra.Command, path string, task runconfig.TaskType) {
	if quiet() {
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s wrote %s configuration to %s\n", ui.GetCheckMark(), ui.Highlight.Render(string(task)), path)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path, ov := overridesFrom(cmd)
	data, err := runconfig.MergeDocument(path, ov)
	if err != nil {
		return err
	}
	cfg, err := runconfig.Decode(data)
	if err != nil {
		return err
	}
	problems := runconfig.Problems(cfg)

	check := ui.ConfigCheck{Path: path, Task: string(cfg.Model.TaskType), Problems: problems}
	ui.NewQualityUI(cmd.OutOrStdout(), quiet()).PrintConfigCheck(check)
	if len(problems) > 0 {
		return fmt.Errorf("%d configuration problem(s) in %s", len(problems), path)
	}
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}
	data, err := runconfig.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

// trainerView is everything the external trainer derives from a config.
type trainerView struct {
	Trainer        runconfig.TrainerSettings   `json:"trainer" yaml:"trainer"`
	Optimizer      runconfig.OptimizerSettings `json:"optimizer" yaml:"optimizer"`
	Tune           runconfig.TuneSettings      `json:"tune" yaml:"tune"`
	InputAdapter   string                      `json:"input_adapter" yaml:"input_adapter"`
	CheckpointName string                      `json:"checkpoint_name" yaml:"checkpoint_name"`
	SyncDist       bool                        `json:"sync_dist" yaml:"sync_dist"`
	MetricMode     string                      `json:"metric_mode" yaml:"metric_mode"`
}

func runConfigTrainer(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}
	ts := cfg.TrainerSettings()
	view := trainerView{
		Trainer:        ts,
		Optimizer:      cfg.OptimizerSettings(),
		Tune:           cfg.TuneSettings(),
		InputAdapter:   cfg.InputAdapter(),
		CheckpointName: ts.CheckpointName(),
		SyncDist:       ts.SyncDist(),
		MetricMode:     runconfig.MetricDirection(ts.MonitorMetric),
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(view); err != nil {
		return err
	}
	return enc.Close()
}
