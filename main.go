package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/fang"

	cmd "github.com/idlab-discover/visionprep-cli/cmd/visionprep"
	"github.com/idlab-discover/visionprep-cli/internal/apperr"
	"github.com/idlab-discover/visionprep-cli/internal/ui"
)

// Version is set at build time
var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// SIGINT/SIGTERM cancel the context so prepare stops fetching samples
	// and still marks its catalog run as failed.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd.SetVersion(Version)
	err := fang.Execute(ctx, cmd.GetRootCmd(), fang.WithColorSchemeFunc(ui.FangColorScheme))
	switch {
	case err == nil, errors.Is(err, apperr.ErrCancelled):
		return 0
	case ctx.Err() != nil:
		return 130
	}
	return 1
}
