package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/moffa90/go-chipprog/chipdb"
	"github.com/moffa90/go-chipprog/programmer"
	"github.com/moffa90/go-chipprog/sim"
	"github.com/moffa90/go-chipprog/transport"
)

// Adapter names accepted by --adapter.
const (
	adapterCH341 = "ch341"
	adapterSim   = "sim"
)

// app is the state shared by every command of one invocation, or of every
// line of a shell session.
type app struct {
	adapter string
	dbPath  string
	simChip string
	timeout time.Duration
	verbose bool

	// interactive is set while a shell session runs
	interactive bool

	out io.Writer
	err io.Writer

	db     *chipdb.Database
	engine *programmer.Engine
}

func newApp(out, errOut io.Writer) *app {
	return &app{out: out, err: errOut}
}

// database loads the chip database once.
func (a *app) database() (*chipdb.Database, error) {
	if a.db != nil {
		return a.db, nil
	}
	var err error
	if a.dbPath != "" {
		a.db, err = chipdb.LoadFile(a.dbPath)
	} else {
		a.db, err = chipdb.Default()
	}
	return a.db, err
}

// chip resolves a manufacturer/name selector; an empty selector is nil.
func (a *app) chip(sel string) (*chipdb.Descriptor, error) {
	if sel == "" {
		return nil, nil
	}
	db, err := a.database()
	if err != nil {
		return nil, err
	}
	d, err := db.ParseSelector(sel)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// opener returns the adapter opener chosen by --adapter.
func (a *app) opener() (transport.Opener, error) {
	switch a.adapter {
	case adapterCH341:
		return transport.OpenCH341Adapter, nil
	case adapterSim:
		chip, err := a.chip(a.simChip)
		if err != nil {
			return nil, err
		}
		if chip == nil {
			return nil, fmt.Errorf("--sim-chip is required with --adapter %s", adapterSim)
		}
		adapter, _, err := sim.Socket(*chip, 1)
		if err != nil {
			return nil, err
		}
		return adapter.Opener(), nil
	}
	return nil, fmt.Errorf("unknown adapter %q (want %s or %s)", a.adapter, adapterCH341, adapterSim)
}

// programmer creates the engine on first use.
func (a *app) programmer() (*programmer.Engine, error) {
	if a.engine != nil {
		return a.engine, nil
	}
	db, err := a.database()
	if err != nil {
		return nil, err
	}
	open, err := a.opener()
	if err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(a.err, &slog.HandlerOptions{Level: level}))

	a.engine = programmer.New(open,
		programmer.WithDatabase(db),
		programmer.WithLogger(&slogLogger{logger}),
		programmer.WithProgressCallback(a.progress),
	)
	return a.engine, nil
}

// context bounds one command by --timeout.
func (a *app) context(parent context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, a.timeout)
}

// progress prints one status line per update while verbose.
func (a *app) progress(p programmer.Progress) {
	if !a.verbose {
		return
	}
	if p.Phase == programmer.PhaseComplete {
		fmt.Fprintf(a.err, "\r%-12s done in %s\n", p.Phase, p.ElapsedTime.Round(time.Millisecond))
		return
	}
	fmt.Fprintf(a.err, "\r%-12s %5.1f%%  0x%06X", p.Phase, p.Percentage, p.Address)
}

func (a *app) close() error {
	if a.engine == nil {
		return nil
	}
	return a.engine.Close()
}

// slogLogger adapts a *slog.Logger to programmer.Logger.
type slogLogger struct {
	l *slog.Logger
}

func (s *slogLogger) Debug(msg string, kv ...interface{}) { s.l.Debug(msg, kv...) }
func (s *slogLogger) Info(msg string, kv ...interface{})  { s.l.Info(msg, kv...) }
func (s *slogLogger) Error(msg string, kv ...interface{}) { s.l.Error(msg, kv...) }
