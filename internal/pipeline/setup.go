package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/idlab-discover/visionprep-cli/internal/apperr"
	"github.com/idlab-discover/visionprep-cli/internal/runconfig"
)

// LayoutDirs are created under a volume root by EnsureLayout.
var LayoutDirs = []string{"logs", "configs", "checkpoints", "results", "data"}

// EnsureLayout creates the working directories under volume and returns
// their paths in LayoutDirs order.
func EnsureLayout(volume string) ([]string, error) {
	if volume == "" {
		volume = "."
	}
	out := make([]string, 0, len(LayoutDirs))
	for _, d := range LayoutDirs {
		p := filepath.Join(volume, d)
		if err := os.MkdirAll(p, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", p, err)
		}
		out = append(out, p)
	}
	logf("", "volume layout ready under %s", volume)
	return out, nil
}

// ConfigPath is where SetupConfig keeps the configuration of a task.
func ConfigPath(volume string, task runconfig.TaskType) string {
	return filepath.Join(volume, "configs", string(task)+"_config.yaml")
}

// SetupConfig loads the configuration at path, or writes the task default
// rooted at volume when path does not exist yet. created reports the latter.
func SetupConfig(task runconfig.TaskType, path, volume string) (cfg *runconfig.RunConfig, created bool, err error) {
	if _, statErr := os.Stat(path); statErr == nil {
		cfg, err = runconfig.Load(path)
		return cfg, false, err
	} else if !errors.Is(statErr, fs.ErrNotExist) {
		return nil, false, fmt.Errorf("stat %s: %w", path, statErr)
	}
	cfg = runconfig.Default(task, volume)
	if cfg == nil {
		return nil, false, apperr.Userf("unknown task type %q", task)
	}
	if err := runconfig.Save(cfg, path); err != nil {
		return nil, false, err
	}
	logf("", "created default %s configuration at %s", task, path)
	return cfg, true, nil
}
