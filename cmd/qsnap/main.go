package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/delaneyj/resumable/logs"
	"github.com/urfave/cli/v3"
)

const (
	logLevelKey = "log-level"
	widthKey    = "width"
	depthKey    = "depth"
	itersKey    = "iters"
	devKey      = "dev"
)

func main() {
	cmd := &cli.Command{
		Name:  "qsnap",
		Usage: "Inspect and benchmark paused container snapshots",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  logLevelKey,
				Usage: "debug, info, warn or error",
				Value: "info",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "inspect",
				Usage:     "Summarize the snapshot of every container in an HTML file",
				ArgsUsage: "<file.html>",
				Action:    inspect,
			},
			{
				Name:  "bench",
				Usage: "Time pause and resume of synthetic containers",
				Flags: []cli.Flag{
					&cli.UintFlag{
						Name:  widthKey,
						Usage: "Number of components per container",
						Value: 100,
					},
					&cli.UintFlag{
						Name:  depthKey,
						Usage: "Store fields and element nesting per component",
						Value: 10,
					},
					&cli.UintFlag{
						Name:  itersKey,
						Usage: "Pause/resume cycles to time",
						Value: 100,
					},
					&cli.BoolFlag{
						Name:  devKey,
						Usage: "Use dev containers (indented payloads)",
					},
				},
				Action: bench,
			},
		},
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func logger(cmd *cli.Command) *slog.Logger {
	return logs.New(os.Stderr, logs.ParseLevel(cmd.String(logLevelKey)))
}
