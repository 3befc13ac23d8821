package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/idlab-discover/visionprep-cli/internal/apperr"
)

// QualityReport mirrors dataquality.Report. ui cannot import the validator
// without a cycle through the logging package.
type QualityReport struct {
	Source   string
	Split    string
	Total    int
	Valid    int
	Issues   []QualityIssue
	Excluded int
}

// QualityIssue is one category of findings.
type QualityIssue struct {
	Category  string
	ImageIDs  []int64
	Excluding bool
}

// Clean reports whether no issue was found.
func (r QualityReport) Clean() bool {
	for _, is := range r.Issues {
		if len(is.ImageIDs) > 0 {
			return false
		}
	}
	return true
}

// QualityUI renders data-quality and configuration reports.
type QualityUI struct {
	writer io.Writer
	quiet  bool
}

func NewQualityUI(w io.Writer, quiet bool) *QualityUI {
	return &QualityUI{writer: w, quiet: quiet}
}

// PrintReport renders a boxed report with one section per category.
func (v *QualityUI) PrintReport(report QualityReport) {
	if v.quiet {
		return
	}

	var out strings.Builder
	if report.Clean() {
		out.WriteString(Success.Bold(true).Render("✓ No data-quality issues"))
	} else {
		out.WriteString(Warning.Bold(true).Render("⚠ Data-quality issues found"))
	}
	out.WriteString("\n\n")

	out.WriteString(SectionHeader.Render("Annotations"))
	out.WriteString("\n")
	if report.Split != "" {
		out.WriteString(FormatKeyValue("Split", Highlight.Render(report.Split)))
		out.WriteString("\n")
	}
	if report.Source != "" {
		out.WriteString(FormatKeyValue("Source", report.Source))
		out.WriteString("\n")
	}
	out.WriteString(FormatKeyValue("Records", FormatCount(report.Total)))
	out.WriteString("\n")
	out.WriteString(FormatKeyValue("Valid", renderRatio(report.Valid, report.Total)))

	if !report.Clean() {
		out.WriteString("\n\n")
		out.WriteString(v.renderIssues(report.Issues))
	}

	if report.Excluded > 0 {
		out.WriteString("\n\n")
		out.WriteString(Dim.Render(fmt.Sprintf("%s record(s) excluded from the validated subset", FormatCount(report.Excluded))))
	}

	if report.Clean() {
		fmt.Fprintln(v.writer, SuccessBox.Render(out.String()))
	} else {
		fmt.Fprintln(v.writer, WarningBox.Render(out.String()))
	}
}

func (v *QualityUI) renderIssues(issues []QualityIssue) string {
	var sb strings.Builder
	n := 0
	for _, is := range issues {
		n += len(is.ImageIDs)
	}
	sb.WriteString(Warning.Render(fmt.Sprintf("▼ Issues (%d)", n)))
	sb.WriteString("\n")
	for _, is := range issues {
		if len(is.ImageIDs) == 0 {
			continue
		}
		mark := GetWarnMark()
		if is.Excluding {
			mark = GetCrossMark()
		}
		fmt.Fprintf(&sb, "  %s %s %s\n", mark, is.Category, Dim.Render(fmt.Sprintf("(%d) %s", len(is.ImageIDs), formatIDList(is.ImageIDs, 8))))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// PrintSimpleReport prints the report without boxes or colors beyond the marks.
func (v *QualityUI) PrintSimpleReport(report QualityReport) {
	if report.Clean() {
		fmt.Fprintf(v.writer, "%s No data-quality issues\n", GetCheckMark())
	} else {
		fmt.Fprintf(v.writer, "%s Data-quality issues found\n", GetWarnMark())
	}
	fmt.Fprintf(v.writer, "Records: %d, Valid: %d, Excluded: %d\n", report.Total, report.Valid, report.Excluded)
	for _, is := range report.Issues {
		if len(is.ImageIDs) > 0 {
			fmt.Fprintf(v.writer, "  %s: %d\n", is.Category, len(is.ImageIDs))
		}
	}
}

// ConfigCheck is the outcome of validating one configuration file.
type ConfigCheck struct {
	Path     string
	Task     string
	Problems []*apperr.ConfigError
}

// PrintConfigCheck renders the result of `config validate`.
func (v *QualityUI) PrintConfigCheck(check ConfigCheck) {
	if v.quiet {
		return
	}
	var out strings.Builder
	if len(check.Problems) == 0 {
		out.WriteString(Success.Bold(true).Render("✓ Configuration is valid"))
	} else {
		out.WriteString(Error.Bold(true).Render("✗ Configuration is invalid"))
	}
	out.WriteString("\n\n")
	out.WriteString(FormatKeyValue("File", check.Path))
	if check.Task != "" {
		out.WriteString("\n")
		out.WriteString(FormatKeyValue("Task", Highlight.Render(check.Task)))
	}
	if len(check.Problems) > 0 {
		out.WriteString("\n\n")
		out.WriteString(Error.Render(fmt.Sprintf("▼ Errors (%d)", len(check.Problems))))
		for _, p := range check.Problems {
			out.WriteString("\n  ")
			out.WriteString(GetCrossMark())
			out.WriteString(" ")
			if p.Field != "" {
				out.WriteString(Bold.Render(p.Field) + ": ")
			}
			out.WriteString(p.Reason)
		}
		fmt.Fprintln(v.writer, ErrorBox.Render(out.String()))
		return
	}
	fmt.Fprintln(v.writer, SuccessBox.Render(out.String()))
}

// SplitRow is one line of a run summary table.
type SplitRow struct {
	Split       string
	Total       int
	Valid       int
	Excluded    int
	Annotations int
	Categories  int
}

// PrintSplitTable renders per-split counts for a run.
func (v *QualityUI) PrintSplitTable(title string, rows []SplitRow) {
	if v.quiet {
		return
	}
	var out strings.Builder
	out.WriteString(SectionHeader.Render(title))
	out.WriteString("\n")
	if len(rows) == 0 {
		out.WriteString(Dim.Render("(no records)"))
		fmt.Fprintln(v.writer, Box.Render(out.String()))
		return
	}
	fmt.Fprintf(&out, "%-8s %9s %9s %9s %12s %11s", "split", "records", "valid", "excluded", "annotations", "categories")
	for _, r := range rows {
		fmt.Fprintf(&out, "\n%-8s %9s %9s %9s %12s %11s",
			r.Split, FormatCount(r.Total), FormatCount(r.Valid), FormatCount(r.Excluded),
			FormatCount(r.Annotations), FormatCount(r.Categories))
	}
	fmt.Fprintln(v.writer, Box.Render(out.String()))
}

func renderRatio(n, total int) string {
	s := fmt.Sprintf("%s/%s", FormatCount(n), FormatCount(total))
	switch {
	case total == 0 || n == total:
		return Success.Render(s)
	case n*2 >= total:
		return Warning.Render(s)
	}
	return Error.Render(s)
}

func formatIDList(ids []int64, limit int) string {
	parts := make([]string, 0, min(len(ids), limit))
	for i, id := range ids {
		if i == limit {
			parts = append(parts, fmt.Sprintf("+%d more", len(ids)-limit))
			break
		}
		parts = append(parts, fmt.Sprintf("%d", id))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
