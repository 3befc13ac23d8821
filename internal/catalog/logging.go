package catalog

import (
	"io"

	"github.com/idlab-discover/visionprep-cli/internal/logging"
	"github.com/idlab-discover/visionprep-cli/internal/ui"
)

var logger = &logging.Logger{PrefixText: "Catalog:", PrefixColor: ui.FgMagenta, SubjectKey: "run"}

// SetLogger sets an optional destination for catalog logs.
func SetLogger(w io.Writer) { logger.SetWriter(w) }

func logf(run string, format string, args ...any) {
	logger.Logf(run, format, args...)
}
