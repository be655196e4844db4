package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

var version = "dev"

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "event-risk-assessor",
		Usage:   "AI-assisted risk assessments for events",
		Version: version,
		Commands: []*cli.Command{
			cmdServe(),
			cmdAssess(),
		},
	}
}
