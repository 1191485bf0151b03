package scriptnode

import (
	"fmt"
	"sort"
	"sync"
)

// ErrorKind classifies a node validation error.
type ErrorKind uint8

const (
	NoError ErrorKind = iota
	ChannelMismatch
	BlockSizeMismatch
	IllegalFrameCall
	IllegalBlockSize
	SampleRateMismatch
	InitialisationError
	NoMatchingParent
)

var errorKindNames = [...]string{
	NoError:             "NoError",
	ChannelMismatch:     "ChannelMismatch",
	BlockSizeMismatch:   "BlockSizeMismatch",
	IllegalFrameCall:    "IllegalFrameCall",
	IllegalBlockSize:    "IllegalBlockSize",
	SampleRateMismatch:  "SampleRateMismatch",
	InitialisationError: "InitialisationError",
	NoMatchingParent:    "NoMatchingParent",
}

func (k ErrorKind) String() string {
	if int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", k)
}

// Error is a per-node validation error. Expected and Actual carry the
// offending quantities (channels, samples, Hz) where they apply.
type Error struct {
	Kind     ErrorKind `json:"kind"`
	NodeID   string    `json:"node"`
	Expected int       `json:"expected"`
	Actual   int       `json:"actual"`
	Message  string    `json:"message,omitempty"`
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.NodeID, e.Kind)
	if e.Expected != 0 || e.Actual != 0 {
		s += fmt.Sprintf(" (expected %d, actual %d)", e.Expected, e.Actual)
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	return s
}

func newError(kind ErrorKind, expected, actual int, format string, args ...any) *Error {
	return &Error{Kind: kind, Expected: expected, Actual: actual, Message: fmt.Sprintf(format, args...)}
}

// ExceptionHandler collects node errors for a whole network. A node
// with an error is skipped during processing; the rest keeps running.
type ExceptionHandler struct {
	mu   sync.Mutex
	errs map[string][]Error
}

// NewExceptionHandler creates an empty handler.
func NewExceptionHandler() *ExceptionHandler {
	return &ExceptionHandler{errs: make(map[string][]Error)}
}

// Add records e for its node.
func (h *ExceptionHandler) Add(e Error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs[e.NodeID] = append(h.errs[e.NodeID], e)
}

// RemoveNode drops all errors of a node.
func (h *ExceptionHandler) RemoveNode(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.errs, id)
}

// ClearKind drops all errors of the given kind.
func (h *ExceptionHandler) ClearKind(kind ErrorKind) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, list := range h.errs {
		out := list[:0]
		for _, e := range list {
			if e.Kind != kind {
				out = append(out, e)
			}
		}
		if len(out) == 0 {
			delete(h.errs, id)
		} else {
			h.errs[id] = out
		}
	}
}

// Clear drops everything.
func (h *ExceptionHandler) Clear() {
	h.mu.Lock()
	h.errs = make(map[string][]Error)
	h.mu.Unlock()
}

// ForNode returns the errors of one node.
func (h *ExceptionHandler) ForNode(id string) []Error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Error(nil), h.errs[id]...)
}

// Errors returns all errors ordered by node id.
func (h *ExceptionHandler) Errors() []Error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Error
	for _, list := range h.errs {
		out = append(out, list...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// Len returns the number of recorded errors.
func (h *ExceptionHandler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, list := range h.errs {
		n += len(list)
	}
	return n
}
