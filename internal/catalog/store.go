// Package catalog persists prepared image records to a queryable table.
//
// There is no package-level connection: callers open a Store, create or
// resume a Run, and thread the resulting Session through the pipeline.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/idlab-discover/visionprep-cli/internal/runconfig"
)

// ErrRunNotFound is returned when a run id or name matches nothing.
var ErrRunNotFound = errors.New("run not found")

// Store wraps the catalog database.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) a sqlite catalog at dsn and migrates it.
// dsn is a file path or ":memory:".
func Open(dsn string) (*Store, error) {
	memory := strings.Contains(dsn, ":memory:")
	if !memory {
		if err := os.MkdirAll(filepath.Dir(dsn), os.ModePerm); err != nil {
			return nil, fmt.Errorf("create catalog directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", dsn, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if memory {
		// Every new connection would see its own empty in-memory database.
		sqlDB.SetMaxOpenConns(1)
	}
	if err := enableForeignKeys(db); err != nil {
		return nil, err
	}
	if err := Migrator(db).Migrate(); err != nil {
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *gorm.DB { return s.db }

// Close releases the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateRun registers a new run for cfg and returns a session bound to it.
func (s *Store) CreateRun(ctx context.Context, name string, cfg *runconfig.RunConfig) (*Session, error) {
	doc, err := runconfig.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode run config: %w", err)
	}
	run := &Run{
		Id:           uuid.New(),
		Name:         name,
		Task:         string(cfg.Model.TaskType),
		Model:        cfg.Model.ModelName,
		Config:       string(doc),
		Status:       RunPreparing,
		CreationTime: time.Now().UTC(),
	}
	if run.Name == "" {
		run.Name = fmt.Sprintf("%s-%s", run.Task, run.Id.String()[:8])
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	logf(run.Id.String(), "created run %q (%s, %s)", run.Name, run.Task, run.Model)
	return &Session{Store: s, Run: run}, nil
}

// NewSession resumes an existing run by id or name.
func (s *Store) NewSession(ctx context.Context, ref string) (*Session, error) {
	run, err := s.GetRun(ctx, ref)
	if err != nil {
		return nil, err
	}
	return &Session{Store: s, Run: run}, nil
}

// GetRun looks a run up by uuid, then by name (most recent wins).
func (s *Store) GetRun(ctx context.Context, ref string) (*Run, error) {
	var run Run
	q := s.db.WithContext(ctx)
	if id, err := uuid.Parse(ref); err == nil {
		q = q.Where("id = ?", id)
	} else {
		q = q.Where("name = ?", ref).Order("creation_time DESC")
	}
	if err := q.First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, ref)
		}
		return nil, fmt.Errorf("get run %s: %w", ref, err)
	}
	return &run, nil
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	var runs []Run
	if err := s.db.WithContext(ctx).Order("creation_time DESC").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// SplitSummary aggregates the rows of one split.
type SplitSummary struct {
	Split       string
	Total       int
	Valid       int
	Excluded    int
	Annotations int
	Categories  int
}

// Summary returns per-split row counts for a run, ordered by split name.
func (s *Store) Summary(ctx context.Context, runID uuid.UUID) ([]SplitSummary, error) {
	var rows []SplitSummary
	err := s.db.WithContext(ctx).Model(&ImageRecord{}).
		Select("split, COUNT(*) AS total, SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS valid, SUM(annotation_count) AS annotations", RecordValid).
		Where("run_id = ?", runID).
		Group("split").
		Order("split").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("summarize run %s: %w", runID, err)
	}
	for i := range rows {
		rows[i].Excluded = rows[i].Total - rows[i].Valid
		var n int64
		if err := s.db.WithContext(ctx).Model(&Category{}).
			Where("run_id = ? AND split = ?", runID, rows[i].Split).
			Count(&n).Error; err != nil {
			return nil, fmt.Errorf("count categories: %w", err)
		}
		rows[i].Categories = int(n)
	}
	return rows, nil
}
