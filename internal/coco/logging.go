package coco

import (
	"io"

	"github.com/idlab-discover/visionprep-cli/internal/logging"
	"github.com/idlab-discover/visionprep-cli/internal/ui"
)

var logger = &logging.Logger{PrefixText: "Annotations:", PrefixColor: ui.FgMagenta, SubjectKey: "source"}

// SetLogger sets an optional destination for annotation loading logs.
func SetLogger(w io.Writer) { logger.SetWriter(w) }

func logf(source string, format string, args ...any) {
	logger.Logf(source, format, args...)
}
