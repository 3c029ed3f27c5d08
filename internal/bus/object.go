package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"

	"github.com/betterkit/betterkit/internal/jobs"
	"github.com/betterkit/betterkit/internal/log"
)

const (
	// Name is the well-known name the daemon owns.
	Name = "org.betterkit"
	// Path of the single exported object.
	Path = dbus.ObjectPath("/org/betterkit/betterkit1")
	// Interface implemented by the object.
	Interface = "org.betterkit.betterkit1"

	ErrNoSuchJob = Interface + ".Error.NoSuchJob"
)

// Invoker is what the object needs from the invocation service.
type Invoker interface {
	Run(ctx context.Context, argv []string) uint64
	Get(ctx context.Context, id uint64) (jobs.Job, error)
}

// JobReply is the D-Bus struct returned by Get, signature (tassayayiss).
type JobReply struct {
	ID       uint64
	Argv     []string
	Status   string
	Stdout   []byte
	Stderr   []byte
	ExitCode int32
	Error    string
	Unit     string
}

func replyFromJob(j jobs.Job) JobReply {
	argv := j.Argv
	if argv == nil {
		argv = []string{}
	}
	return JobReply{
		ID:       j.ID,
		Argv:     argv,
		Status:   j.Status.String(),
		Stdout:   j.Stdout,
		Stderr:   j.Stderr,
		ExitCode: j.ExitCode,
		Error:    j.Err,
		Unit:     j.Unit,
	}
}

// Object is exported at Path. Only methods returning *dbus.Error are
// visible on the bus.
type Object struct {
	ctx context.Context
	svc Invoker
}

// NewObject binds the object to the daemon context: requests run with it,
// so shutting the daemon down kills launched processes.
func NewObject(ctx context.Context, svc Invoker) *Object {
	return &Object{ctx: ctx, svc: svc}
}

// Run executes argv and replies with the job identifier. Launch failures
// are not errors here, Get reports them.
func (o *Object) Run(sender dbus.Sender, argv []string) (uint64, *dbus.Error) {
	ctx := log.ContextAttrs(o.ctx, slog.String("sender", string(sender)))
	return o.svc.Run(ctx, argv), nil
}

// Get replies with the recorded job or the NoSuchJob error.
func (o *Object) Get(sender dbus.Sender, id uint64) (JobReply, *dbus.Error) {
	ctx := log.ContextAttrs(o.ctx, slog.String("sender", string(sender)))
	job, err := o.svc.Get(ctx, id)
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		slog.DebugContext(ctx, "get: no such job", "job_id", id)
		return JobReply{}, dbus.NewError(ErrNoSuchJob, []any{fmt.Sprintf("no such job: %d", id)})
	case err != nil:
		return JobReply{}, dbus.MakeFailedError(err)
	}
	return replyFromJob(job), nil
}
