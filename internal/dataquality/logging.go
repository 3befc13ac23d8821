package dataquality

import (
	"io"

	"github.com/idlab-discover/visionprep-cli/internal/logging"
	"github.com/idlab-discover/visionprep-cli/internal/ui"
)

var logger = &logging.Logger{PrefixText: "Data Quality:", PrefixColor: ui.FgCyan, OmitSubject: true}

// SetLogger sets an optional destination for data-quality logs.
func SetLogger(w io.Writer) { logger.SetWriter(w) }

func logf(format string, args ...any) {
	logger.Logf("", format, args...)
}
