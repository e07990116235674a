package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/examgen/internal/api"
	"github.com/phrazzld/examgen/internal/api/shared"
	"github.com/phrazzld/examgen/internal/config"
	"github.com/phrazzld/examgen/internal/domain"
	"github.com/phrazzld/examgen/internal/platform/postgres"
	"github.com/phrazzld/examgen/internal/task"
	"github.com/urfave/cli/v3"
)

func configOptions(cmd *cli.Command) config.Options {
	return config.Options{
		ConfigFile: cmd.String("config"),
		EnvFile:    cmd.String("env"),
	}
}

// serveAction runs the HTTP surface. With the memory queue, or when asked
// to, it also runs a worker in the same process.
func serveAction(ctx context.Context, cmd *cli.Command) error {
	app, err := newApplication(ctx, configOptions(cmd))
	if err != nil {
		return err
	}
	defer app.cleanup()

	if app.config.Queue.Backend == "memory" || cmd.Bool("with-worker") {
		if err := app.startWorker(ctx); err != nil {
			return err
		}
	} else if err := app.setupQueue(ctx, nil); err != nil {
		return err
	}

	svc, err := app.jobService()
	if err != nil {
		return err
	}
	return app.startHTTPServer(ctx, api.NewRouter(svc, app.logger, app.healthChecks()...))
}

// workerAction consumes jobs until the process is signalled.
func workerAction(ctx context.Context, cmd *cli.Command) error {
	app, err := newApplication(ctx, configOptions(cmd))
	if err != nil {
		return err
	}
	defer app.cleanup()

	if app.config.Queue.Backend == "memory" {
		app.logger.Warn("memory queue only sees jobs recovered at start; use the redis backend for a standalone worker")
	}
	if err := app.startWorker(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	app.logger.Info("worker shutting down")
	return nil
}

func migrateAction(ctx context.Context, cmd *cli.Command) error {
	command := cmd.Args().First()
	if command == "" {
		command = "up"
	}
	if !slices.Contains(postgres.MigrationCommands, command) {
		return fmt.Errorf("%w: unknown migration command %q (expected one of %s)",
			errUsage, command, strings.Join(postgres.MigrationCommands, ", "))
	}

	app, err := newApplication(ctx, configOptions(cmd))
	if err != nil {
		return err
	}
	defer app.cleanup()

	return postgres.Migrate(ctx, app.db, command, app.logger)
}

// enqueueAction creates a job from flags and prints the result.
func enqueueAction(ctx context.Context, cmd *cli.Command) error {
	req := api.CreateJobRequest{
		ExternalID:        cmd.String("external-id"),
		Kind:              cmd.String("kind"),
		SubjectID:         cmd.String("subject"),
		ExamID:            cmd.String("exam"),
		Requested:         cmd.Int("count"),
		SourceDocumentID:  cmd.String("document-id"),
		SourceDocumentRef: cmd.String("document"),
		CreatedBy:         cmd.String("created-by"),
	}
	if err := shared.ValidateRequest(req); err != nil {
		return fmt.Errorf("%w: %s", errUsage, api.SanitizeValidationError(err))
	}
	enqueue, err := api.ToEnqueueRequest(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	app, err := newApplication(ctx, configOptions(cmd))
	if err != nil {
		return err
	}
	defer app.cleanup()

	if err := app.setupQueue(ctx, nil); err != nil {
		return err
	}
	if app.config.Queue.Backend == "memory" {
		app.logger.Warn("memory queue is process local; the job runs when a worker next starts")
	}

	svc, err := app.jobService()
	if err != nil {
		return err
	}
	res, err := svc.Enqueue(ctx, enqueue)
	if err != nil {
		return err
	}
	return printJSON(output(cmd), api.CreateJobResponse{
		JobID:      res.JobID,
		ExternalID: res.ExternalID,
		Existing:   res.Existing,
	})
}

// statusAction prints one job, looked up by ID or external ID.
func statusAction(ctx context.Context, cmd *cli.Command) error {
	ref := strings.TrimSpace(cmd.Args().First())
	if ref == "" {
		return fmt.Errorf("%w: status requires a job ID or external ID", errUsage)
	}

	app, err := newApplication(ctx, configOptions(cmd))
	if err != nil {
		return err
	}
	defer app.cleanup()

	svc, err := app.jobService()
	if err != nil {
		return err
	}

	var view *task.JobStatusView
	if id, parseErr := uuid.Parse(ref); parseErr == nil {
		view, err = svc.GetJobStatus(ctx, id)
	} else {
		view, err = svc.GetJobStatusByExternalID(ctx, ref)
	}
	if err != nil {
		return err
	}
	return printJSON(output(cmd), view)
}

// jobsAction lists jobs, by default only the active ones.
func jobsAction(ctx context.Context, cmd *cli.Command) error {
	filter := task.ListJobsFilter{
		Kind:     domain.JobKind(cmd.String("kind")),
		Statuses: parseStatuses(cmd.StringSlice("status")),
		Limit:    cmd.Int("limit"),
	}
	if filter.Limit < 0 {
		return fmt.Errorf("%w: limit must be non-negative", errUsage)
	}

	app, err := newApplication(ctx, configOptions(cmd))
	if err != nil {
		return err
	}
	defer app.cleanup()

	svc, err := app.jobService()
	if err != nil {
		return err
	}
	views, err := svc.ListActiveJobs(ctx, filter)
	if err != nil {
		return err
	}
	if views == nil {
		views = []*task.JobStatusView{}
	}
	return printJSON(output(cmd), api.ListJobsResponse{Jobs: views, Count: len(views)})
}

// parseStatuses accepts repeated and comma-separated status values.
func parseStatuses(values []string) []domain.JobStatus {
	var statuses []domain.JobStatus
	for _, value := range values {
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, domain.JobStatus(s))
			}
		}
	}
	return statuses
}

func output(cmd *cli.Command) io.Writer {
	if root := cmd.Root(); root != nil && root.Writer != nil {
		return root.Writer
	}
	return os.Stdout
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
