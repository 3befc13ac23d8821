package dataset

import (
	"io"

	"github.com/idlab-discover/visionprep-cli/internal/logging"
	"github.com/idlab-discover/visionprep-cli/internal/ui"
)

var logger = &logging.Logger{PrefixText: "Loader:", PrefixColor: ui.FgGreen, OmitSubject: true}

// SetLogger sets an optional destination for loader logs.
func SetLogger(w io.Writer) { logger.SetWriter(w) }

func logf(format string, args ...any) {
	logger.Logf("", format, args...)
}
