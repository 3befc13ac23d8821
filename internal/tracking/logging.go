package tracking

import (
	"io"

	"github.com/idlab-discover/visionprep-cli/internal/logging"
	"github.com/idlab-discover/visionprep-cli/internal/ui"
)

var logger = &logging.Logger{PrefixText: "Tracking:", PrefixColor: ui.FgBlue, SubjectKey: "experiment"}

// SetLogger sets an optional destination for tracking logs.
func SetLogger(w io.Writer) { logger.SetWriter(w) }

func logf(experiment string, format string, args ...any) {
	logger.Logf(experiment, format, args...)
}
