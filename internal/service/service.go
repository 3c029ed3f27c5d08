package service

import (
	"context"
	"log/slog"

	"github.com/betterkit/betterkit/internal/jobs"
	"github.com/betterkit/betterkit/internal/launcher"
	"github.com/betterkit/betterkit/internal/log"
	"github.com/betterkit/betterkit/internal/metrics"
)

// ErrNotFound is returned by Get for identifiers never issued by Run.
var ErrNotFound = jobs.ErrNotFound

type Launcher interface {
	Launch(ctx context.Context, req launcher.Request) launcher.Result
}

type Service struct {
	table    *jobs.Table
	launcher Launcher
	metrics  *metrics.Metrics
}

func New(table *jobs.Table, l Launcher) *Service {
	return &Service{
		table:    table,
		launcher: l,
	}
}

// WithMetrics makes the service report job lifecycle events to m.
func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// Run creates a job for argv, executes it and returns its identifier once
// the launched process is gone. argv is not validated here, an empty
// vector is the launcher's business.
func (s *Service) Run(ctx context.Context, argv []string) uint64 {
	id := s.table.Allocate(argv)
	ctx = log.ContextAttrs(ctx, slog.Uint64("job_id", id))
	slog.InfoContext(ctx, "running", "argv", argv)
	if s.metrics != nil {
		s.metrics.Allocated()
	}

	err := s.table.Update(id, func(j *jobs.Job) error {
		return j.Advance(jobs.StatusRunning)
	})
	if err != nil {
		// only a broken table gets here
		slog.ErrorContext(ctx, "job can't be started", "error", err)
		return id
	}
	if s.metrics != nil {
		s.metrics.Started()
	}

	res := s.launcher.Launch(ctx, launcher.Request{JobID: id, Argv: argv})
	status, reason := outcome(res)
	stdout, stderr := res.Output()

	err = s.table.Update(id, func(j *jobs.Job) error {
		if err := j.Advance(status); err != nil {
			return err
		}
		j.Stdout = stdout
		j.Stderr = stderr
		j.ExitCode = int32(res.ExitCode())
		j.Unit = res.Unit
		j.Err = reason
		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "job result can't be recorded", "error", err)
		return id
	}
	if s.metrics != nil {
		s.metrics.Finished(status.String(), res.Stopped.Sub(res.Started))
	}

	if status == jobs.StatusFailed {
		slog.WarnContext(ctx, "job failed", "reason", reason)
	} else {
		slog.InfoContext(ctx, "job finished", "exit_code", res.ExitCode(), "unit", res.Unit)
	}
	slog.Log(ctx, log.LevelTrace, "job output", "stdout", string(stdout))
	return id
}

// Get returns the recorded state of a job or ErrNotFound.
func (s *Service) Get(_ context.Context, id uint64) (jobs.Job, error) {
	return s.table.Get(id)
}

func outcome(res launcher.Result) (jobs.Status, string) {
	switch {
	case res.StartErr != nil:
		return jobs.StatusFailed, res.StartErr.Error()
	case res.Exited():
		return jobs.StatusSucceeded, ""
	case res.Err != nil:
		return jobs.StatusFailed, res.Err.Error()
	default:
		return jobs.StatusFailed, "process state unknown"
	}
}
