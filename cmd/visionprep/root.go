package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/idlab-discover/visionprep-cli/internal/apperr"
	"github.com/idlab-discover/visionprep-cli/internal/catalog"
	"github.com/idlab-discover/visionprep-cli/internal/coco"
	"github.com/idlab-discover/visionprep-cli/internal/dataquality"
	"github.com/idlab-discover/visionprep-cli/internal/dataset"
	"github.com/idlab-discover/visionprep-cli/internal/fetcher"
	"github.com/idlab-discover/visionprep-cli/internal/pipeline"
	"github.com/idlab-discover/visionprep-cli/internal/provenance"
	"github.com/idlab-discover/visionprep-cli/internal/runconfig"
	"github.com/idlab-discover/visionprep-cli/internal/storage"
	"github.com/idlab-discover/visionprep-cli/internal/tracking"
	"github.com/idlab-discover/visionprep-cli/internal/ui"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "visionprep",
	Short: "Validate training configurations and prepare COCO datasets for vision models",
	Long:  longDescription,

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.Init(viper.GetBool("no-color"))
		initBanner(cmd)
		return wireLogging(cmd.ErrOrStderr())
	},

	RunE: func(cmd *cobra.Command, args []string) error {
		initBanner(cmd)
		return cmd.Help()
	},
}

var (
	cfgFile  string
	envFile  string
	logLevel string
	noColor  bool
	noBanner bool
)

// SetVersion sets the version for the CLI
func SetVersion(v string) {
	provenance.Version = v
	rootCmd.Version = provenance.ToolVersion()
}

// GetRootCmd returns the root command for use with fang
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "tool settings file (default is $HOME/.visionprep.yaml or ./config/defaults.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file with S3 and MLflow credentials (default .env when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "standard", "Log level: quiet|standard|debug")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&noBanner, "no-banner", false, "Do not show the banner in help output")

	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("no-color", rootCmd.PersistentFlags().Lookup("no-color"))
	viper.BindPFlag("no-banner", rootCmd.PersistentFlags().Lookup("no-banner"))

	defaultHelp := rootCmd.HelpFunc()
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		initBanner(cmd)
		defaultHelp(cmd, args)
	})

	rootCmd.AddCommand(configCmd, validateCmd, prepareCmd, runsCmd)
}

func initConfig() {
	loadEnvFile()

	// VISIONPREP_PREPARE_CATALOG overrides prepare.catalog, and so on.
	viper.SetEnvPrefix("VISIONPREP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		cobra.CheckErr(viper.ReadInConfig())
		announceConfig()
		return
	}

	home, err := os.UserHomeDir()
	if err == nil {
		viper.AddConfigPath(home)
	}
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")

	viper.SetConfigName(".visionprep")
	err = viper.ReadInConfig()

	notFound := &viper.ConfigFileNotFoundError{}
	if err != nil && errors.As(err, notFound) {
		viper.SetConfigName("defaults")
		err = viper.ReadInConfig()
	}
	switch {
	case err != nil && !errors.As(err, notFound):
		cobra.CheckErr(err)
	case err == nil:
		announceConfig()
	}
}

func announceConfig() {
	fmt.Fprintln(os.Stderr, ui.Dim.Render("Using config file: ")+ui.Secondary.Render(viper.ConfigFileUsed()))
}

// loadEnvFile reads --env-file, or ./.env when it exists. Variables already
// set in the environment win.
func loadEnvFile() {
	if envFile != "" {
		cobra.CheckErr(godotenv.Load(envFile))
		return
	}
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "%s ignoring .env: %v\n", ui.GetWarnMark(), err)
		}
	}
}

// parseLogLevel resolves the effective level from flag, config or env.
func parseLogLevel() (string, error) {
	level := strings.ToLower(strings.TrimSpace(viper.GetString("log.level")))
	if level == "" {
		level = "standard"
	}
	switch level {
	case "quiet", "standard", "debug":
		return level, nil
	}
	return "", apperr.Userf("invalid --log-level %q (expected quiet|standard|debug)", level)
}

// wireLogging points the package loggers at w. standard enables the stages a
// user follows; debug adds parsing, storage, loader and catalog detail.
func wireLogging(w io.Writer) error {
	level, err := parseLogLevel()
	if err != nil {
		return err
	}
	var std, dbg io.Writer
	switch level {
	case "standard":
		std = w
	case "debug":
		std, dbg = w, w
	}
	pipeline.SetLogger(std)
	dataquality.SetLogger(std)
	runconfig.SetLogger(std)
	fetcher.SetLogger(std)
	tracking.SetLogger(std)
	provenance.SetLogger(std)

	coco.SetLogger(dbg)
	storage.SetLogger(dbg)
	dataset.SetLogger(dbg)
	catalog.SetLogger(dbg)
	return nil
}

func quiet() bool {
	level, _ := parseLogLevel()
	return level == "quiet"
}

const longDescription = "Validate vision training-run configurations, load and check COCO annotations, and build deterministic batch loaders for classification, detection and segmentation."

func initBanner(cmd *cobra.Command) {
	if cmd == nil || viper.GetBool("no-banner") {
		return
	}
	cmd.Root().Long = ui.RenderBanner() + "\n" + longDescription
}
