package starlark

import (
	"context"
	"log/slog"

	"go.starlark.net/starlark"
)

// ThreadOptions configures a rendering thread.
type ThreadOptions struct {
	// MaxSteps bounds Starlark execution steps per thread (0 = unlimited).
	MaxSteps uint64
	// Logger receives print() output at debug level.
	Logger *slog.Logger
}

// NewThread creates a Starlark thread for rendering one artifact.
// Threads are not reused: per-artifact state lives in thread locals.
func NewThread(ctx context.Context, name string, opts ThreadOptions) *starlark.Thread {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			logger.Debug("template print", "artifact", name, "message", msg)
		},
	}
	if opts.MaxSteps > 0 {
		thread.SetMaxExecutionSteps(opts.MaxSteps)
	}

	if ctx == nil {
		return thread
	}
	if err := ctx.Err(); err != nil {
		thread.Cancel(err.Error())
	} else if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			thread.Cancel(ctx.Err().Error())
		})
		thread.SetLocal(stopKey, stop)
	}
	return thread
}

// ReleaseThread detaches the thread from its context.
func ReleaseThread(thread *starlark.Thread) {
	if stop, ok := thread.Local(stopKey).(func() bool); ok {
		stop()
	}
}

const stopKey = "sqlweave.stop"

// Local returns the thread-local value stored under key as T.
func Local[T any](thread *starlark.Thread, key string) (T, bool) {
	v, ok := thread.Local(key).(T)
	return v, ok
}
