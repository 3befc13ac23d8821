package cmd

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/idlab-discover/visionprep-cli/internal/catalog"
	"github.com/idlab-discover/visionprep-cli/internal/dataquality"
	"github.com/idlab-discover/visionprep-cli/internal/storage"
	"github.com/idlab-discover/visionprep-cli/internal/ui"
)

// s3Config reads object-store settings from s3.* keys (VISIONPREP_S3_*).
// Empty credentials fall back to the AWS default chain.
func s3Config() storage.S3Config {
	return storage.S3Config{
		Endpoint:        viper.GetString("s3.endpoint"),
		Region:          viper.GetString("s3.region"),
		AccessKeyID:     viper.GetString("s3.access_key_id"),
		SecretAccessKey: viper.GetString("s3.secret_access_key"),
	}
}

// qualityView converts a data-quality report for rendering.
func qualityView(split string, r *dataquality.Report) ui.QualityReport {
	out := ui.QualityReport{
		Source:   r.Source,
		Split:    split,
		Total:    r.Total,
		Valid:    r.Valid(),
		Excluded: len(r.Excluded()),
	}
	for _, c := range r.Categories() {
		ids := r.Issues[c]
		is := ui.QualityIssue{Category: string(c), ImageIDs: ids}
		for _, id := range ids {
			if r.IsExcluded(id) {
				is.Excluding = true
				break
			}
		}
		out.Issues = append(out.Issues, is)
	}
	return out
}

func splitRows(summaries []catalog.SplitSummary) []ui.SplitRow {
	rows := make([]ui.SplitRow, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, ui.SplitRow{
			Split:       s.Split,
			Total:       s.Total,
			Valid:       s.Valid,
			Excluded:    s.Excluded,
			Annotations: s.Annotations,
			Categories:  s.Categories,
		})
	}
	return rows
}

func newQualityUI(cmd *cobra.Command) *ui.QualityUI {
	return ui.NewQualityUI(cmd.OutOrStdout(), quiet())
}

// interactiveStderr reports whether animated output can be drawn.
func interactiveStderr() bool {
	return isatty.IsTerminal(os.Stderr.Fd())
}
