package bus

import (
	"context"
	"errors"

	"github.com/godbus/dbus/v5"

	"github.com/betterkit/betterkit/internal/jobs"
)

type Client struct {
	obj dbus.BusObject
}

func NewClient(conn *dbus.Conn, name string) *Client {
	if name == "" {
		name = Name
	}
	return &Client{obj: conn.Object(name, Path)}
}

func (c *Client) Run(ctx context.Context, argv []string) (uint64, error) {
	var id uint64
	err := c.obj.CallWithContext(ctx, Interface+".Run", 0, argv).Store(&id)
	return id, err
}

// Get returns jobs.ErrNotFound for the NoSuchJob reply.
func (c *Client) Get(ctx context.Context, id uint64) (JobReply, error) {
	var reply JobReply
	err := c.obj.CallWithContext(ctx, Interface+".Get", 0, id).Store(&reply)
	if isNoSuchJob(err) {
		return JobReply{}, jobs.ErrNotFound
	}
	return reply, err
}

func isNoSuchJob(err error) bool {
	if err == nil {
		return false
	}
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) {
		return dbusErr.Name == ErrNoSuchJob
	}
	var dbusErrp *dbus.Error
	if errors.As(err, &dbusErrp) {
		return dbusErrp.Name == ErrNoSuchJob
	}
	return false
}
