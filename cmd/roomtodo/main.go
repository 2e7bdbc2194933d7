// Command roomtodo is the roomtodo server and client.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/roach88/roomtodo/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()

	if err != nil {
		if !cli.IsReported(err) {
			fmt.Fprintf(os.Stderr, "roomtodo: %v\n", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
