// Package examples provides two trivial Job implementations so
// runner.Registry and runner.Runner have something concrete to construct
// and invoke in tests, rather than only ever being exercised indirectly
// through domain-specific job types.
package examples

import (
	"fmt"

	"github.com/stepflow/stepflow/internal/engine/errs"
	"github.com/stepflow/stepflow/internal/engine/runner"
)

// NoopJob completes immediately with no side effects. Useful as a
// placeholder step in a workflow skeleton, or in tests that only care
// about dispatch/cascade behavior, not job bodies.
type NoopJob struct{}

func NewNoopJob(map[string]interface{}) (runner.Job, error) {
	return &NoopJob{}, nil
}

func (j *NoopJob) Execute(ctx *runner.Context) error {
	return ctx.Complete(nil)
}

// EchoJob requires a "message" argument and completes with it copied
// into the step's response, demonstrating MissingArgument handling for a
// required constructor parameter.
type EchoJob struct {
	Message string
}

func NewEchoJob(args map[string]interface{}) (runner.Job, error) {
	msg, ok := args["message"]
	if !ok {
		return nil, fmt.Errorf("echo: %w %q", errs.ErrMissingArgument, "message")
	}
	s, ok := msg.(string)
	if !ok {
		return nil, fmt.Errorf("echo: argument %q must be a string", "message")
	}
	return &EchoJob{Message: s}, nil
}

func (j *EchoJob) Execute(ctx *runner.Context) error {
	return ctx.Complete(map[string]interface{}{"echoed": j.Message})
}

// Register adds both example jobs to reg under their class names.
func Register(reg *runner.Registry) error {
	if err := reg.Register("examples.Noop", NewNoopJob); err != nil {
		return err
	}
	return reg.Register("examples.Echo", NewEchoJob)
}
