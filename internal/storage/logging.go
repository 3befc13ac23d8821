package storage

import (
	"io"

	"github.com/idlab-discover/visionprep-cli/internal/logging"
	"github.com/idlab-discover/visionprep-cli/internal/ui"
)

var logger = &logging.Logger{PrefixText: "Storage:", PrefixColor: ui.FgYellow, SubjectKey: "root"}

// SetLogger sets an optional destination for storage logs.
func SetLogger(w io.Writer) { logger.SetWriter(w) }

func logf(root string, format string, args ...any) {
	logger.Logf(root, format, args...)
}
