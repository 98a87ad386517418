// Command margin is a terminal client for the reading companion service.
//
// Usage:
//
//	margin [flags]                 open the chat UI (same as "margin chat")
//	margin login --email EMAIL     sign in; the password is prompted for
//	margin demo                    start a demo session
//	margin logout                  sign out and forget saved credentials
//	margin whoami                  show the current session
//	margin ask QUESTION...         ask one question and stream the reply
//
// Settings are read from ~/.margin/config.toml. MARGIN_API_BASE_URL and
// MARGIN_LOG_LEVEL override the file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

// version is set at build time with -ldflags.
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "margin: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cli := &cli{
		getenv: os.Getenv,
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	return newRootCmd(cli).ExecuteContext(ctx)
}
