package dataquality

import (
	"fmt"
	"slices"

	"github.com/idlab-discover/visionprep-cli/internal/coco"
)

// Report maps each issue category to the offending image ids.
type Report struct {
	Source   string
	Total    int
	Issues   map[IssueCategory][]int64
	Findings []Finding

	excluded map[int64]struct{}
}

// Clean reports whether no issue was found.
func (r *Report) Clean() bool { return len(r.Findings) == 0 }

// IssueCount returns the number of findings.
func (r *Report) IssueCount() int { return len(r.Findings) }

// Categories returns the categories with at least one finding, in report order.
func (r *Report) Categories() []IssueCategory {
	var out []IssueCategory
	for _, c := range AllCategories() {
		if len(r.Issues[c]) > 0 {
			out = append(out, c)
		}
	}
	return out
}

// Excluded returns the ids removed from the validated subset, ascending.
func (r *Report) Excluded() []int64 {
	out := make([]int64, 0, len(r.excluded))
	for id := range r.excluded {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// IsExcluded reports whether imageID is removed from the validated subset.
func (r *Report) IsExcluded(imageID int64) bool {
	_, ok := r.excluded[imageID]
	return ok
}

// IssuesFor returns the categories flagged on one image, in report order.
func (r *Report) IssuesFor(imageID int64) []IssueCategory {
	var out []IssueCategory
	for _, c := range AllCategories() {
		if _, found := slices.BinarySearch(r.Issues[c], imageID); found {
			out = append(out, c)
		}
	}
	return out
}

// Valid returns the number of records kept.
func (r *Report) Valid() int { return r.Total - len(r.excluded) }

// Apply returns the validated subset of coll.
func (r *Report) Apply(coll *coco.Collection) *coco.Collection {
	return coll.Filter(func(rec coco.Record) bool { return !r.IsExcluded(rec.ImageID) })
}

// PrintReport writes the report, grouped by category, to the configured
// logger writer. If no logger writer is configured, it produces no output.
func PrintReport(r *Report) {
	if r.Clean() {
		logf("✅ no data-quality issues in %d records", r.Total)
		return
	}
	logf("⚠ %d issues in %d records (%d excluded)", r.IssueCount(), r.Total, len(r.excluded))
	for _, c := range r.Categories() {
		ids := r.Issues[c]
		logf("%s (%d images): %s", c, len(ids), formatIDs(ids, 10))
	}
}

// FormatSummary returns a one-line summary for command output.
func FormatSummary(r *Report) string {
	status := "✅ CLEAN"
	if !r.Clean() {
		status = "⚠ ISSUES"
	}
	return fmt.Sprintf("Data quality: %s | Records: %d | Issues: %d | Excluded: %d",
		status, r.Total, r.IssueCount(), len(r.excluded))
}

func formatIDs(ids []int64, limit int) string {
	s := ""
	for i, id := range ids {
		if i == limit {
			return s + fmt.Sprintf(", … (+%d)", len(ids)-limit)
		}
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprint(id)
	}
	return s
}
