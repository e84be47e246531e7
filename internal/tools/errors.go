package tools

import (
	"errors"
	"fmt"
)

// Kind classifies why an external tool invocation failed.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindNonZeroExit Kind = "nonzero_exit"
	KindNoOutput    Kind = "no_output"
	KindCancelled   Kind = "cancelled"
)

// Sentinel errors matched through errors.Is against an *Error.
var (
	ErrTimeout       = errors.New("process timed out")
	ErrProcessFailed = errors.New("process exited with non-zero status")
	ErrNoOutput      = errors.New("process produced no output")
	ErrCancelled     = errors.New("process cancelled")
)

// Error describes a failed tool invocation.
type Error struct {
	Kind       Kind
	Tool       string // binary name, e.g. "yt-dlp"
	Op         string // logical step, e.g. "acquire.section"
	ExitCode   int
	StderrTail string
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNonZeroExit:
		if e.StderrTail != "" {
			return fmt.Sprintf("%s: %s exited %d: %s", e.Op, e.Tool, e.ExitCode, truncate(e.StderrTail, 500))
		}
		return fmt.Sprintf("%s: %s exited %d", e.Op, e.Tool, e.ExitCode)
	case KindTimeout:
		return fmt.Sprintf("%s: %s timed out", e.Op, e.Tool)
	case KindCancelled:
		return fmt.Sprintf("%s: %s cancelled", e.Op, e.Tool)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Tool, e.Err)
	}
	return fmt.Sprintf("%s: %s produced no output", e.Op, e.Tool)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	sentinel := kindSentinel(e.Kind)
	return sentinel != nil && target == sentinel
}

func kindSentinel(k Kind) error {
	switch k {
	case KindTimeout:
		return ErrTimeout
	case KindNonZeroExit:
		return ErrProcessFailed
	case KindNoOutput:
		return ErrNoOutput
	case KindCancelled:
		return ErrCancelled
	}
	return nil
}

// NoOutput builds the error for a process that exited cleanly without
// leaving its expected artifact behind.
func NoOutput(tool, op string, detail error) *Error {
	return &Error{Kind: KindNoOutput, Tool: tool, Op: op, Err: detail}
}

// KindOf reports the failure kind of err, or "" when err is not a tool error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}
