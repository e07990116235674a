// Command examgen runs the exam question generation service: the job status
// HTTP surface, the generation worker, migrations and a few operator commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "examgen: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "examgen",
		Usage: "asynchronous exam question generation",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a YAML configuration file",
			},
			&cli.StringFlag{
				Name:  "env",
				Usage: "path to a dotenv file",
				Value: ".env",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "serve the job HTTP API",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "with-worker",
						Usage: "also consume jobs in this process",
					},
				},
				Action: serveAction,
			},
			{
				Name:   "worker",
				Usage:  "consume and run generation jobs",
				Action: workerAction,
			},
			{
				Name:      "migrate",
				Usage:     "run database migrations",
				ArgsUsage: "[up|down|reset|status|version]",
				Action:    migrateAction,
			},
			{
				Name:  "enqueue",
				Usage: "create a generation job",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "kind",
						Usage: "direct_knowledge or from_source_document",
						Value: "direct_knowledge",
					},
					&cli.StringFlag{
						Name:     "subject",
						Usage:    "subject ID",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "exam",
						Usage:    "exam ID",
						Required: true,
					},
					&cli.IntFlag{
						Name:     "count",
						Usage:    "number of questions to generate",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "document",
						Usage: "source document reference (http(s):// or s3://bucket/key)",
					},
					&cli.StringFlag{
						Name:  "document-id",
						Usage: "source document ID, derived from the reference when empty",
					},
					&cli.StringFlag{
						Name:  "external-id",
						Usage: "idempotency key, generated when empty",
					},
					&cli.StringFlag{
						Name:  "created-by",
						Usage: "creator user ID",
					},
				},
				Action: enqueueAction,
			},
			{
				Name:      "status",
				Usage:     "show one job",
				ArgsUsage: "<job-id|external-id>",
				Action:    statusAction,
			},
			{
				Name:  "jobs",
				Usage: "list jobs, active ones by default",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "kind",
						Usage: "filter by job kind",
					},
					&cli.StringSliceFlag{
						Name:  "status",
						Usage: "filter by status, repeatable",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "maximum number of jobs",
						Value: 50,
					},
				},
				Action: jobsAction,
			},
		},
	}
}
