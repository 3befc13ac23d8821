package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/idlab-discover/visionprep-cli/internal/apperr"
	"github.com/idlab-discover/visionprep-cli/internal/catalog"
	"github.com/idlab-discover/visionprep-cli/internal/ui"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect runs recorded in a catalog",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id|name>",
	Short: "Show the per-split summary of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() {
	runsCmd.PersistentFlags().String("catalog", "", "SQLite catalog file (default prepare.catalog)")
	viper.BindPFlag("runs.catalog", runsCmd.PersistentFlags().Lookup("catalog"))
	runsShowCmd.Flags().Bool("config-yaml", false, "Also print the configuration the run was prepared from")

	runsCmd.AddCommand(runsListCmd, runsShowCmd)
}

func openCatalog() (*catalog.Store, error) {
	dsn := viper.GetString("runs.catalog")
	if dsn == "" {
		dsn = viper.GetString("prepare.catalog")
	}
	if dsn == "" {
		return nil, apperr.User("--catalog is required")
	}
	return catalog.Open(dsn)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	store, err := openCatalog()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, ui.Dim.Render("no runs recorded"))
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(out, "%s %s %s %s %s\n",
			statusMark(r.Status),
			r.Id.String(),
			ui.Highlight.Render(r.Name),
			r.Task,
			ui.Dim.Render(r.CreationTime.Local().Format("2006-01-02 15:04")+" "+r.Model))
	}
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	store, err := openCatalog()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	run, err := store.GetRun(ctx, strings.TrimSpace(args[0]))
	if errors.Is(err, catalog.ErrRunNotFound) {
		return apperr.Userf("no run matches %q", args[0])
	}
	if err != nil {
		return err
	}
	summaries, err := store.Summary(ctx, run.Id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, ui.FormatKeyValue("Run", ui.Highlight.Render(run.Name)+" "+ui.Dim.Render(run.Id.String())))
	fmt.Fprintln(out, ui.FormatKeyValue("Status", statusMark(run.Status)+" "+run.Status))
	fmt.Fprintln(out, ui.FormatKeyValue("Task", run.Task))
	fmt.Fprintln(out, ui.FormatKeyValue("Model", run.Model))
	if run.CompletionTime.Valid {
		fmt.Fprintln(out, ui.FormatKeyValue("Duration", run.CompletionTime.Time.Sub(run.CreationTime).Round(time.Millisecond).String()))
	}
	ui.NewQualityUI(out, false).PrintSplitTable("Splits", splitRows(summaries))

	if show, _ := cmd.Flags().GetBool("config-yaml"); show {
		fmt.Fprintln(out)
		fmt.Fprint(out, run.Config)
	}
	return nil
}

func statusMark(status string) string {
	switch status {
	case catalog.RunCompleted:
		return ui.GetCheckMark()
	case catalog.RunFailed:
		return ui.GetCrossMark()
	}
	return ui.GetInfoMark()
}
