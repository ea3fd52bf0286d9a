package build

import (
	"context"
	"errors"
	"fmt"

	"github.com/sofmeright/dockrun/src/pipeline"
	"github.com/sofmeright/dockrun/src/template"
)

// ErrorKind classifies why a plugin, phase, or run failed.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindValidation
	KindTemplate
	KindUnknownPlugin
	KindPluginExecution
	KindCancellation
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindValidation:
		return "validation"
	case KindTemplate:
		return "template-resolution"
	case KindUnknownPlugin:
		return "unknown-plugin"
	case KindPluginExecution:
		return "plugin-execution"
	case KindCancellation:
		return "cancelled"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// UnknownPluginError is a registry lookup miss.
type UnknownPluginError struct {
	Plugin string
}

func (e *UnknownPluginError) Error() string {
	return fmt.Sprintf("unknown plugin: %s", e.Plugin)
}

// PluginExecutionError wraps a failure reported by a capability.
type PluginExecutionError struct {
	Phase  pipeline.Phase
	Plugin string
	Err    error
}

func (e *PluginExecutionError) Error() string {
	return fmt.Sprintf("plugin %s failed: %v", e.Plugin, e.Err)
}

func (e *PluginExecutionError) Unwrap() error { return e.Err }

// CancellationError records that the run was cancelled before Plugin
// could start (or while it was running).
type CancellationError struct {
	Phase  pipeline.Phase
	Plugin string
	Cause  error
}

func (e *CancellationError) Error() string {
	if e.Plugin == "" {
		return fmt.Sprintf("%s cancelled: %v", e.Phase, e.Cause)
	}
	return fmt.Sprintf("cancelled before plugin %s: %v", e.Plugin, e.Cause)
}

func (e *CancellationError) Unwrap() error { return e.Cause }

// KindOf classifies err. Cancellation wins over the wrapping error since
// a cancelled plugin usually surfaces the context error.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var (
		cancelErr *CancellationError
		valErr    *pipeline.ValidationError
		tmplErr   *template.Error
		unkErr    *UnknownPluginError
		execErr   *PluginExecutionError
	)
	switch {
	case errors.As(err, &cancelErr):
		return KindCancellation
	case errors.As(err, &valErr):
		return KindValidation
	case errors.As(err, &tmplErr):
		return KindTemplate
	case errors.As(err, &unkErr):
		return KindUnknownPlugin
	case errors.As(err, &execErr):
		return KindPluginExecution
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancellation
	default:
		return KindPluginExecution
	}
}
