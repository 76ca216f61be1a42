// Package errctx provides the process-wide context every stage and engine
// component receives instead of relying on package-level globals: a logger,
// the "last error" sink, and the cancellation flag.
package errctx

import (
	"log"
	"sync"
	"sync/atomic"
)

// Context is shared by every clone of the pipeline and every stage. It
// replaces the global "last_error" string and the global subsystem
// init-once flag that the original engine relied on.
type Context struct {
	Logger *log.Logger

	cancelled atomic.Bool

	mu        sync.Mutex
	lastError error
	stage     string
}

// New returns a Context logging to log.Default().
func New() *Context {
	return &Context{Logger: log.Default()}
}

// Fail records err as the process-wide last error, prefixed with the
// failing stage name, and sets the cancellation flag so the outer loop
// stops scheduling new chunks. Only the first error is retained.
func (c *Context) Fail(stage string, err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	if c.lastError == nil {
		c.lastError = err
		c.stage = stage
	}
	c.mu.Unlock()
	c.cancelled.Store(true)
}

// Cancel requests cooperative cancellation without necessarily recording
// an error: this is a deliberate user stop, not a failure.
func (c *Context) Cancel() {
	c.cancelled.Store(true)
}

// Cancelled reports whether cancellation has been requested, by error or by
// explicit user stop.
func (c *Context) Cancelled() bool {
	return c.cancelled.Load()
}

// LastError returns the first recorded error and the name of the stage that
// raised it, or (nil, "") if none was recorded.
func (c *Context) LastError() (error, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError, c.stage
}

// Err formats a single human-readable failure message: the failing
// stage, and the lowest-level reason.
func (c *Context) Err() error {
	err, stage := c.LastError()
	if err == nil {
		return nil
	}
	if stage == "" {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}

// StageError wraps a stage's failure with the stage name that produced it.
type StageError struct {
	Stage string
	File  string
	Err   error
}

func (e *StageError) Error() string {
	if e.File != "" {
		return e.Stage + ": " + e.File + ": " + e.Err.Error()
	}
	return e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }
