package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/idlab-discover/visionprep-cli/internal/coco"
	"github.com/idlab-discover/visionprep-cli/internal/dataquality"
)

const insertBatchSize = 500

// Session binds a Store to one run.
type Session struct {
	Store *Store
	Run   *Run
}

// RunID returns the run id as a string.
func (s *Session) RunID() string { return s.Run.Id.String() }

// BuildRows derives the table rows for one split. report may be nil, in
// which case every row is valid.
func (s *Session) BuildRows(split string, coll *coco.Collection, report *dataquality.Report) ([]ImageRecord, error) {
	rows := make([]ImageRecord, 0, coll.Len())
	for i, rec := range coll.Records {
		anns, err := json.Marshal(rec.Annotations)
		if err != nil {
			return nil, fmt.Errorf("encode annotations of image %d: %w", rec.ImageID, err)
		}
		status := RecordValid
		issues := []dataquality.IssueCategory{}
		if report != nil {
			if report.IsExcluded(rec.ImageID) {
				status = RecordExcluded
			}
			if got := report.IssuesFor(rec.ImageID); got != nil {
				issues = got
			}
		}
		issuesJSON, err := json.Marshal(issues)
		if err != nil {
			return nil, err
		}
		rows = append(rows, ImageRecord{
			RunId:           s.Run.Id,
			Split:           split,
			ImageId:         rec.ImageID,
			FileName:        rec.FileName,
			Width:           rec.Width,
			Height:          rec.Height,
			Position:        i,
			AnnotationCount: len(rec.Annotations),
			Annotations:     datatypes.JSON(anns),
			Status:          status,
			Issues:          datatypes.JSON(issuesJSON),
		})
	}
	return rows, nil
}

// SaveRecords replaces the rows and categories of one split in a single
// transaction and returns the number of rows written.
func (s *Session) SaveRecords(ctx context.Context, split string, coll *coco.Collection, report *dataquality.Report) (int, error) {
	rows, err := s.BuildRows(split, coll, report)
	if err != nil {
		return 0, err
	}
	cats := make([]Category, 0, len(coll.Categories))
	for _, id := range coll.CategoryIDs() {
		cats = append(cats, Category{RunId: s.Run.Id, Split: split, CategoryId: id, Name: coll.Categories[id]})
	}

	err = s.Store.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		if err := txn.Where("run_id = ? AND split = ?", s.Run.Id, split).Delete(&ImageRecord{}).Error; err != nil {
			return fmt.Errorf("clear rows: %w", err)
		}
		if err := txn.Where("run_id = ? AND split = ?", s.Run.Id, split).Delete(&Category{}).Error; err != nil {
			return fmt.Errorf("clear categories: %w", err)
		}
		if len(rows) > 0 {
			if err := txn.CreateInBatches(&rows, insertBatchSize).Error; err != nil {
				return fmt.Errorf("insert rows: %w", err)
			}
		}
		if len(cats) > 0 {
			if err := txn.CreateInBatches(&cats, insertBatchSize).Error; err != nil {
				return fmt.Errorf("insert categories: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("save %s records: %w", split, err)
	}
	logf(s.RunID(), "saved %d %s rows, %d categories", len(rows), split, len(cats))
	return len(rows), nil
}

// LoadRecords reads one split back as a collection, optionally restricted
// to rows marked valid. Records keep their annotation-file order.
func (s *Session) LoadRecords(ctx context.Context, split string, onlyValid bool) (*coco.Collection, error) {
	q := s.Store.db.WithContext(ctx).Where("run_id = ? AND split = ?", s.Run.Id, split)
	if onlyValid {
		q = q.Where("status = ?", RecordValid)
	}
	var rows []ImageRecord
	if err := q.Order("position, image_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load %s records: %w", split, err)
	}
	var cats []Category
	if err := s.Store.db.WithContext(ctx).
		Where("run_id = ? AND split = ?", s.Run.Id, split).
		Find(&cats).Error; err != nil {
		return nil, fmt.Errorf("load %s categories: %w", split, err)
	}

	records := make([]coco.Record, 0, len(rows))
	for _, r := range rows {
		anns := []coco.Annotation{}
		if len(r.Annotations) > 0 {
			if err := json.Unmarshal(r.Annotations, &anns); err != nil {
				return nil, fmt.Errorf("decode annotations of image %d: %w", r.ImageId, err)
			}
		}
		records = append(records, coco.Record{
			ImageID: r.ImageId, FileName: r.FileName, Width: r.Width, Height: r.Height, Annotations: anns,
		})
	}
	names := make(map[int64]string, len(cats))
	for _, c := range cats {
		names[c.CategoryId] = c.Name
	}
	return coco.NewCollection(fmt.Sprintf("catalog:%s/%s", s.RunID(), split), records, names), nil
}

// Finish marks the run with a terminal status.
func (s *Session) Finish(ctx context.Context, status string) error {
	now := time.Now().UTC()
	err := s.Store.db.WithContext(ctx).Model(&Run{}).Where("id = ?", s.Run.Id).
		Updates(map[string]any{"status": status, "completion_time": sql.NullTime{Time: now, Valid: true}}).Error
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	s.Run.Status = status
	s.Run.CompletionTime = sql.NullTime{Time: now, Valid: true}
	logf(s.RunID(), "run %s", status)
	return nil
}
