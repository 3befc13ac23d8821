package visionprep

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writeFixture(t *testing.T) *Config {
	t.Helper()
	vol := t.TempDir()
	imgDir := filepath.Join(vol, "images")
	if err := os.MkdirAll(imgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a.png", "b.png"} {
		f, err := os.Create(filepath.Join(imgDir, name))
		if err != nil {
			t.Fatal(err)
		}
		if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, 20, 10))); err != nil {
			t.Fatal(err)
		}
		f.Close()
	}
	ann := filepath.Join(vol, "instances_train.json")
	doc := `{"images":[{"id":1,"file_name":"a.png","width":20,"height":10},{"id":2,"file_name":"b.png","width":20,"height":10}],` +
		`"annotations":[{"id":1,"image_id":1,"category_id":1,"bbox":[2,2,4,4],"area":16,"iscrowd":0},` +
		`{"id":2,"image_id":2,"category_id":1,"bbox":[1,1,3,3],"area":9,"iscrowd":0}],` +
		`"categories":[{"id":1,"name":"defect"}]}`
	if err := os.WriteFile(ann, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := DefaultConfig("detection", vol)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Data.TrainDataPath = imgDir
	cfg.Data.TrainAnnotationFile = ann
	cfg.Data.ImageSize = 16
	cfg.Data.BatchSize = 2
	cfg.Data.NumWorkers = 0
	return cfg
}

func TestDefaultConfig_UnknownTask(t *testing.T) {
	if _, err := DefaultConfig("keypoints", ""); err == nil {
		t.Fatal("expected an error for an unknown task")
	}
}

func TestPrepare(t *testing.T) {
	cfg := writeFixture(t)
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	out, err := Prepare(context.Background(), cfg, Options{
		Splits:      []string{"train"},
		CatalogPath: dbPath,
		RunName:     "embedded",
	})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if out.RunID == "" {
		t.Error("RunID is empty with a catalog configured")
	}
	loader, ok := out.Loaders["train"]
	if !ok {
		t.Fatalf("no train loader: %+v", out.Loaders)
	}
	if loader.Len() != 1 {
		t.Errorf("loader.Len() = %d, want 1 batch", loader.Len())
	}
	if r := out.Reports["train"]; r == nil {
		t.Error("missing train report")
	}

	n := 0
	for b, err := range loader.Epoch(context.Background(), 0) {
		if err != nil {
			t.Fatal(err)
		}
		n += b.Len()
	}
	if n != 2 {
		t.Errorf("iterated %d samples, want 2", n)
	}
}

func TestPrepare_BadFetchPolicy(t *testing.T) {
	cfg := writeFixture(t)
	if _, err := Prepare(context.Background(), cfg, Options{Splits: []string{"train"}, FetchPolicy: "retry"}); err == nil {
		t.Fatal("expected an error for an unknown fetch policy")
	}
}

func TestPrepare_NilConfig(t *testing.T) {
	if _, err := Prepare(context.Background(), nil, Options{}); err == nil {
		t.Fatal("expected an error")
	}
}
