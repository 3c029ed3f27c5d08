// Package bus puts the invocation service on D-Bus.
//
// The Server owns the connection, exports one Object at Path implementing
// Interface plus org.freedesktop.DBus.Introspectable, and holds the
// well-known Name. Losing the name or the connection ends Do with an error,
// which is fatal for the daemon. Authorization is left to the bus policy.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

var (
	ErrNameTaken        = errors.New("bus name already owned")
	ErrNameLost         = errors.New("bus name lost")
	ErrConnectionClosed = errors.New("bus connection closed")
)

const (
	KindSystem  = "system"
	KindSession = "session"
)

type Config struct {
	// Kind is KindSystem or KindSession.
	Kind string
	// Address overrides Kind with an explicit bus address.
	Address string
	Name    string
}

type Server struct {
	cfg   Config
	svc   Invoker
	ready chan struct{}
}

func NewServer(cfg Config, svc Invoker) *Server {
	if cfg.Name == "" {
		cfg.Name = Name
	}
	return &Server{
		cfg:   cfg,
		svc:   svc,
		ready: make(chan struct{}),
	}
}

// Ready is closed once the name is owned and calls are served.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Do connects, registers and serves until ctx is cancelled.
// Returns nil on cancellation, an error when startup fails or the name
// or connection goes away.
func (s *Server) Do(ctx context.Context) error {
	conn, err := Connect(s.cfg)
	if err != nil {
		return fmt.Errorf("connecting to %s bus: %w", s.kind(), err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			slog.DebugContext(ctx, "closing bus connection", "error", err)
		}
	}()

	obj := NewObject(ctx, s.svc)
	if err := conn.Export(obj, Path, Interface); err != nil {
		return fmt.Errorf("exporting %s: %w", Path, err)
	}
	node := &introspect.Node{
		Name: string(Path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:    Interface,
				Methods: introspect.Methods(obj),
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), Path, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("exporting introspection data: %w", err)
	}

	signals := make(chan *dbus.Signal, 8)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)
	err = conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameLost"),
	)
	if err != nil {
		return fmt.Errorf("subscribing to NameLost: %w", err)
	}

	reply, err := conn.RequestName(s.cfg.Name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("requesting name %s: %w", s.cfg.Name, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("%s: %w", s.cfg.Name, ErrNameTaken)
	}

	slog.InfoContext(ctx, "serving", "bus", s.kind(), "name", s.cfg.Name, "path", Path)
	close(s.ready)

	for {
		select {
		case <-ctx.Done():
			slog.DebugContext(ctx, "stopping", "name", s.cfg.Name)
			return nil
		case sig, ok := <-signals:
			if !ok {
				return ErrConnectionClosed
			}
			if sig.Name != "org.freedesktop.DBus.NameLost" || len(sig.Body) == 0 {
				continue
			}
			if lost, _ := sig.Body[0].(string); lost == s.cfg.Name {
				return fmt.Errorf("%s: %w", s.cfg.Name, ErrNameLost)
			}
		}
	}
}

func (s *Server) kind() string {
	if s.cfg.Address != "" {
		return s.cfg.Address
	}
	if s.cfg.Kind == "" {
		return KindSystem
	}
	return s.cfg.Kind
}

// Connect opens a private connection to the configured bus.
func Connect(cfg Config) (*dbus.Conn, error) {
	switch {
	case cfg.Address != "":
		return dbus.Connect(cfg.Address)
	case cfg.Kind == KindSession:
		return dbus.ConnectSessionBus()
	case cfg.Kind == KindSystem, cfg.Kind == "":
		return dbus.ConnectSystemBus()
	default:
		return nil, fmt.Errorf("unknown bus kind %q", cfg.Kind)
	}
}
