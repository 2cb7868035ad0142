package lifecycle

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Component is a long-lived part of the process started and stopped by Runtime.
type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Func adapts a pair of plain functions to Component. Either may be nil.
type Func struct {
	OnStart func(ctx context.Context) error
	OnStop  func(ctx context.Context) error
}

func (f Func) Start(ctx context.Context) error {
	if f.OnStart == nil {
		return nil
	}
	return f.OnStart(ctx)
}

func (f Func) Stop(ctx context.Context) error {
	if f.OnStop == nil {
		return nil
	}
	return f.OnStop(ctx)
}

type entry struct {
	name      string
	component Component
}

// Runtime starts components in registration order and stops them in reverse.
type Runtime struct {
	entries []entry
	started []entry
}

func NewRuntime() *Runtime {
	return &Runtime{}
}

// Register appends a named component. Nil components are ignored.
func (r *Runtime) Register(name string, component Component) {
	if component == nil {
		return
	}
	r.entries = append(r.entries, entry{name: name, component: component})
}

// Start starts every component. When one fails, the ones already started
// are stopped before the error is returned.
func (r *Runtime) Start(ctx context.Context) error {
	r.started = make([]entry, 0, len(r.entries))
	for _, e := range r.entries {
		if err := e.component.Start(ctx); err != nil {
			_ = stopEntries(ctx, r.started)
			r.started = nil
			return fmt.Errorf("start %s: %w", e.name, err)
		}
		log.WithField("object", "Runtime").Debugf("started %s", e.name)
		r.started = append(r.started, e)
	}
	return nil
}

// Stop stops the components started by the last successful Start.
func (r *Runtime) Stop(ctx context.Context) error {
	err := stopEntries(ctx, r.started)
	r.started = nil
	return err
}

func stopEntries(ctx context.Context, entries []entry) error {
	var stopErr error
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if err := e.component.Stop(ctx); err != nil {
			log.WithField("object", "Runtime").WithField("error", err.Error()).Warnf("stop %s", e.name)
			stopErr = errors.Join(stopErr, fmt.Errorf("stop %s: %w", e.name, err))
			continue
		}
		log.WithField("object", "Runtime").Debugf("stopped %s", e.name)
	}
	return stopErr
}
