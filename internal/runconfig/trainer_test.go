package runconfig

import (
	"maps"
	"testing"
)

func TestTrainerSettings_Resources(t *testing.T) {
	tests := []struct {
		name       string
		configured map[string]int
		useGPU     bool
		want       map[string]int
	}{
		{"unset with gpu", nil, true, map[string]int{"CPU": 1, "GPU": 1}},
		{"unset without gpu", nil, false, map[string]int{"CPU": 1, "GPU": 0}},
		{"empty map", map[string]int{}, true, map[string]int{"CPU": 1, "GPU": 1}},
		{"explicit kept with use_gpu off", map[string]int{"CPU": 2, "GPU": 1}, false, map[string]int{"CPU": 2, "GPU": 1}},
		{"explicit without cpu", map[string]int{"GPU": 2}, true, map[string]int{"GPU": 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default(TaskDetection, "/vol")
			cfg.Training.ResourcesPerWorker = tt.configured
			cfg.Training.UseGPU = tt.useGPU

			got := cfg.TrainerSettings().ResourcesPerWorker
			if !maps.Equal(got, tt.want) {
				t.Fatalf("ResourcesPerWorker = %v, want %v", got, tt.want)
			}
			if tt.configured != nil {
				got["CPU"] = 99
				if tt.configured["CPU"] == 99 {
					t.Fatalf("derived map aliases the configured one")
				}
			}
		})
	}
}

func TestTrainerSettings_Derived(t *testing.T) {
	cfg := Default(TaskDetection, "/vol")
	cfg.Model.ModelName = "facebook/detr-resnet-50"
	cfg.Data.NumWorkers = 4

	ts := cfg.TrainerSettings()
	if got := ts.CheckpointName(); got != "detection_detr-resnet-50_best" {
		t.Errorf("CheckpointName() = %q", got)
	}
	if !ts.SyncDist() {
		t.Errorf("SyncDist() = false with 4 workers")
	}
	cfg.Data.NumWorkers = 1
	if cfg.TrainerSettings().SyncDist() {
		t.Errorf("SyncDist() = true with 1 worker")
	}
	if ts.CheckpointDir != "/vol/checkpoints/detection" || ts.MaxEpochs != cfg.Training.MaxEpochs {
		t.Errorf("settings = %+v", ts)
	}
}
