package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a script error.
type ErrorKind string

const (
	SyntaxError     ErrorKind = "SyntaxError"
	TypeError       ErrorKind = "TypeError"
	ReferenceError  ErrorKind = "ReferenceError"
	RuntimeError    ErrorKind = "RuntimeError"
	TimeoutError    ErrorKind = "TimeoutError"
	BreakpointAbort ErrorKind = "BreakpointAbort"
	LoadError       ErrorKind = "LoadError"
)

var (
	ErrTimeout             = errors.New("execution timed out")
	ErrNoCompiledInstance  = errors.New("no compiled script instance")
	ErrCallbackNotDefined  = errors.New("callback not defined")
	ErrInstanceGone        = errors.New("callback target was recompiled or destroyed")
	ErrExecutionTerminated = errors.New("execution terminated at breakpoint")
)

// CodeLocation identifies a position inside a script snippet. Line and
// Column are 1-based.
type CodeLocation struct {
	Snippet   string `json:"snippet"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	CharIndex int    `json:"charIndex"`
}

func (l CodeLocation) String() string {
	if l.Snippet == "" {
		return fmt.Sprintf("%d:%d", l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d:%d", l.Snippet, l.Line, l.Column)
}

// IsValid reports whether the location points at real source.
func (l CodeLocation) IsValid() bool { return l.Line > 0 }

// ScriptError is an error raised while compiling or running a script.
type ScriptError struct {
	Kind     ErrorKind
	Message  string
	Location CodeLocation
	Source   string // source line at Location, if known
	Err      error  // wrapped cause (ErrTimeout, ...)
}

// NewScriptError creates a ScriptError of the given kind.
func NewScriptError(kind ErrorKind, loc CodeLocation, format string, args ...any) *ScriptError {
	return &ScriptError{Kind: kind, Message: fmt.Sprintf(format, args...), Location: loc}
}

func (e *ScriptError) Error() string {
	if e.Location.IsValid() {
		return fmt.Sprintf("%s: %s: %s", e.Location, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// WithSource attaches the offending source line for caret rendering.
func (e *ScriptError) WithSource(src string) *ScriptError {
	if e.Location.Line <= 0 || src == "" {
		return e
	}
	lines := strings.Split(src, "\n")
	if e.Location.Line <= len(lines) {
		e.Source = strings.TrimRight(lines[e.Location.Line-1], "\r")
	}
	return e
}

// Caret renders the error with the source line and a caret under the column.
func (e *ScriptError) Caret() string {
	var sb strings.Builder
	sb.WriteString(e.Error())
	if e.Source == "" {
		return sb.String()
	}
	prefix := fmt.Sprintf("  %d | ", e.Location.Line)
	sb.WriteString("\n")
	sb.WriteString(prefix)
	sb.WriteString(e.Source)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat(" ", len(prefix)))
	if e.Location.Column > 1 {
		sb.WriteString(strings.Repeat(" ", e.Location.Column-1))
	}
	sb.WriteString("^")
	return sb.String()
}

// AsScriptError unwraps err into a *ScriptError.
func AsScriptError(err error) (*ScriptError, bool) {
	var se *ScriptError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
