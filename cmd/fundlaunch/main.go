// Package main provides the fundlaunch launcher.
// It prepares the Python environment of a Streamlit application and starts it.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/clean-dependency-project/fundlaunch/internal/cli"
	"github.com/clean-dependency-project/fundlaunch/internal/runner"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.NewApp().RunContext(ctx, os.Args)
	stop()

	if err != nil {
		// The application already reported its own failure on the console.
		if _, ok := runner.ExitCodeOf(err); !ok {
			log.Print(err)
		}
		os.Exit(cli.ExitCode(err))
	}
}
