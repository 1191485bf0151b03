package hisescript

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/cryguy/hisescript/internal/debugger"
	"github.com/cryguy/hisescript/internal/value"
)

// maxDebugMessageBytes is the maximum size of a single debugger command.
const maxDebugMessageBytes = 64 * 1024

// DebugCommand is a message sent by a debugger client.
type DebugCommand struct {
	Cmd     string `json:"cmd"` // continue, abort, toggle, list
	Snippet string `json:"snippet,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// DebugEvent is a message pushed to debugger clients.
type DebugEvent struct {
	Type        string                `json:"type"` // hit, breakpoints, toggled, error
	Index       int                   `json:"index,omitempty"`
	Snippet     string                `json:"snippet,omitempty"`
	Line        int                   `json:"line,omitempty"`
	Locals      map[string]any        `json:"locals,omitempty"`
	Breakpoints []debugger.Breakpoint `json:"breakpoints,omitempty"`
	Added       bool                  `json:"added,omitempty"`
	Message     string                `json:"message,omitempty"`
}

// DebugServer exposes a Debugger over a websocket. Clients receive a hit
// event whenever a breakpoint suspends the script and answer with
// continue or abort.
type DebugServer struct {
	Debugger     *debugger.Debugger
	PingInterval time.Duration
}

// NewDebugServer creates a server for the engine's debugger.
func NewDebugServer(e *Engine) *DebugServer {
	return &DebugServer{Debugger: e.Debugger(), PingInterval: 30 * time.Second}
}

// ServeHTTP upgrades the request and bridges the connection until either
// side closes it.
func (s *DebugServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("hisescript: debug server: accepting websocket: %v", err)
		return
	}
	defer conn.CloseNow()
	s.Bridge(r.Context(), conn)
	conn.Close(websocket.StatusNormalClosure, "")
}

// Bridge runs the message loop for one client connection.
func (s *DebugServer) Bridge(ctx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	conn.SetReadLimit(maxDebugMessageBytes)

	hits := make(chan DebugEvent, 16)
	remove := s.Debugger.AddListener(debugger.ListenerFunc(func(index int) {
		bp, ok := s.Debugger.Get(index)
		if !ok {
			return
		}
		ev := DebugEvent{Type: "hit", Index: index, Snippet: bp.Snippet, Line: bp.Line, Locals: plainLocals(bp.LocalScope)}
		select {
		case hits <- ev:
		default:
			log.Printf("hisescript: debug server: dropping hit at %s", bp)
		}
	}))
	defer remove()

	// Reader goroutine: decodes client commands into a channel.
	incoming := make(chan DebugCommand, 16)
	go func() {
		defer close(incoming)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var cmd DebugCommand
			if err := json.Unmarshal(data, &cmd); err != nil {
				cmd = DebugCommand{Cmd: "invalid"}
			}
			select {
			case incoming <- cmd:
			case <-ctx.Done():
				return
			}
		}
	}()

	interval := s.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	pingTicker := time.NewTicker(interval)
	defer pingTicker.Stop()

	for {
		select {
		case cmd, ok := <-incoming:
			if !ok {
				return
			}
			if ev, reply := s.handle(cmd); reply {
				if err := writeEvent(ctx, conn, ev); err != nil {
					return
				}
			}

		case ev := <-hits:
			if err := writeEvent(ctx, conn, ev); err != nil {
				return
			}

		case <-pingTicker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

func (s *DebugServer) handle(cmd DebugCommand) (DebugEvent, bool) {
	switch cmd.Cmd {
	case "continue":
		s.Debugger.Continue()
		return DebugEvent{}, false
	case "abort":
		s.Debugger.Abort()
		return DebugEvent{}, false
	case "toggle":
		added := s.Debugger.Toggle(debugger.Breakpoint{Snippet: cmd.Snippet, Line: cmd.Line})
		return DebugEvent{Type: "toggled", Snippet: cmd.Snippet, Line: cmd.Line, Added: added}, true
	case "list":
		return DebugEvent{Type: "breakpoints", Breakpoints: s.Debugger.List()}, true
	}
	return DebugEvent{Type: "error", Message: "unknown command " + cmd.Cmd}, true
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev DebugEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func plainLocals(scope map[string]value.Value) map[string]any {
	if len(scope) == 0 {
		return nil
	}
	out := make(map[string]any, len(scope))
	for k, v := range scope {
		out[k] = value.ToGo(v)
	}
	return out
}
