package fetcher

import (
	"io"

	"github.com/idlab-discover/visionprep-cli/internal/logging"
	"github.com/idlab-discover/visionprep-cli/internal/ui"
)

var logger = &logging.Logger{PrefixText: "Fetch:", PrefixColor: ui.FgMagenta, SubjectKey: "model"}

// SetLogger sets an optional destination for fetch logs.
func SetLogger(w io.Writer) { logger.SetWriter(w) }

func logf(modelID string, format string, args ...any) {
	logger.Logf(modelID, format, args...)
}
