package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idlab-discover/visionprep-cli/internal/coco"
	"github.com/idlab-discover/visionprep-cli/internal/dataquality"
	"github.com/idlab-discover/visionprep-cli/internal/runconfig"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testCollection() *coco.Collection {
	box := coco.BBox{1, 2, 3, 4}
	return coco.NewCollection("mem", []coco.Record{
		{ImageID: 1, FileName: "a.jpg", Width: 10, Height: 10,
			Annotations: []coco.Annotation{{ID: 1, ImageID: 1, CategoryID: 1, BBox: &box}}},
		{ImageID: 2, FileName: "b.jpg", Width: 10, Height: 10, Annotations: []coco.Annotation{}},
	}, map[int64]string{1: "cat", 2: "dog"})
}

func TestSaveAndLoadRecords(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	cfg := runconfig.Default(runconfig.TaskDetection, "/vol")

	sess, err := store.CreateRun(ctx, "", cfg)
	require.NoError(t, err)
	assert.Equal(t, RunPreparing, sess.Run.Status)
	assert.Contains(t, sess.Run.Name, "detection-")

	coll := testCollection()
	report, err := dataquality.Validate(ctx, coll, dataquality.OptionsForTask(runconfig.TaskDetection))
	require.NoError(t, err)

	n, err := sess.SaveRecords(ctx, "train", coll, report)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := sess.LoadRecords(ctx, "train", false)
	require.NoError(t, err)
	require.Equal(t, 2, all.Len())
	rec, ok := all.Record(1)
	require.True(t, ok)
	require.Len(t, rec.Annotations, 1)
	assert.Equal(t, coco.BBox{1, 2, 3, 4}, *rec.Annotations[0].BBox)
	assert.Equal(t, "dog", all.Categories[2])

	valid, err := sess.LoadRecords(ctx, "train", true)
	require.NoError(t, err)
	assert.Equal(t, 1, valid.Len())

	var row ImageRecord
	require.NoError(t, store.DB().Where("run_id = ? AND image_id = ?", sess.Run.Id, 2).First(&row).Error)
	assert.Equal(t, RecordExcluded, row.Status)
	var issues []string
	require.NoError(t, json.Unmarshal(row.Issues, &issues))
	assert.Equal(t, []string{"empty_annotation_list"}, issues)
}

func TestLoadRecordsKeepsFileOrder(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	sess, err := store.CreateRun(ctx, "", runconfig.Default(runconfig.TaskClassification, "/vol"))
	require.NoError(t, err)

	var records []coco.Record
	for _, id := range []int64{30, 10, 20} {
		records = append(records, coco.Record{ImageID: id, FileName: "img.jpg", Width: 4, Height: 4})
	}
	coll := coco.NewCollection("mem", records, nil)
	_, err = sess.SaveRecords(ctx, "train", coll, nil)
	require.NoError(t, err)

	back, err := sess.LoadRecords(ctx, "train", true)
	require.NoError(t, err)
	var ids []int64
	for _, r := range back.Records {
		ids = append(ids, r.ImageID)
	}
	assert.Equal(t, []int64{30, 10, 20}, ids)

	var row ImageRecord
	require.NoError(t, store.DB().Where("run_id = ? AND image_id = ?", sess.Run.Id, 10).First(&row).Error)
	assert.Equal(t, 1, row.Position)
}

func TestSaveRecordsReplacesSplit(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	sess, err := store.CreateRun(ctx, "replace", runconfig.Default(runconfig.TaskDetection, "/vol"))
	require.NoError(t, err)

	coll := testCollection()
	_, err = sess.SaveRecords(ctx, "train", coll, nil)
	require.NoError(t, err)
	_, err = sess.SaveRecords(ctx, "val", coll, nil)
	require.NoError(t, err)

	reduced := coll.Filter(func(r coco.Record) bool { return r.ImageID == 1 })
	_, err = sess.SaveRecords(ctx, "train", reduced, nil)
	require.NoError(t, err)

	sums, err := store.Summary(ctx, sess.Run.Id)
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.Equal(t, SplitSummary{Split: "train", Total: 1, Valid: 1, Annotations: 1, Categories: 2}, sums[0])
	assert.Equal(t, SplitSummary{Split: "val", Total: 2, Valid: 2, Annotations: 1, Categories: 2}, sums[1])
}

func TestRunsLifecycle(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	first, err := store.CreateRun(ctx, "alpha", runconfig.Default(runconfig.TaskClassification, "/vol"))
	require.NoError(t, err)
	_, err = store.CreateRun(ctx, "beta", runconfig.Default(runconfig.TaskSemanticSegmentation, "/vol"))
	require.NoError(t, err)

	runs, err := store.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	require.NoError(t, first.Finish(ctx, RunCompleted))

	byName, err := store.NewSession(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, first.Run.Id, byName.Run.Id)
	assert.Equal(t, RunCompleted, byName.Run.Status)
	assert.True(t, byName.Run.CompletionTime.Valid)

	byID, err := store.GetRun(ctx, first.RunID())
	require.NoError(t, err)
	assert.Equal(t, "classification", byID.Task)

	cfg, err := runconfig.Parse([]byte(byID.Config))
	require.NoError(t, err)
	assert.Equal(t, runconfig.TaskClassification, cfg.Task())

	_, err = store.GetRun(ctx, "missing")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "catalog.db")
	s1, err := Open(path)
	require.NoError(t, err)
	_, err = s1.CreateRun(context.Background(), "keep", runconfig.Default(runconfig.TaskDetection, "/vol"))
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	runs, err := s2.ListRuns(context.Background())
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestOpenInMemory(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()
	_, err = store.CreateRun(context.Background(), "mem", runconfig.Default(runconfig.TaskDetection, "/vol"))
	require.NoError(t, err)
}
