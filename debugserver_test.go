package hisescript

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func dialDebugServer(t *testing.T, e *Engine) (*websocket.Conn, context.Context) {
	t.Helper()
	srv := httptest.NewServer(NewDebugServer(e))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn, ctx
}

func sendCommand(t *testing.T, ctx context.Context, conn *websocket.Conn, cmd DebugCommand) {
	t.Helper()
	data, _ := json.Marshal(cmd)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) DebugEvent {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev DebugEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return ev
}

func TestDebugServer_ToggleAndList(t *testing.T) {
	e, _ := newTestEngine(t, EngineConfig{DebugEnabled: true})
	conn, ctx := dialDebugServer(t, e)

	sendCommand(t, ctx, conn, DebugCommand{Cmd: "toggle", Snippet: "onInit", Line: 4})
	ev := readEvent(t, ctx, conn)
	if ev.Type != "toggled" || !ev.Added {
		t.Errorf("toggle = %+v", ev)
	}

	sendCommand(t, ctx, conn, DebugCommand{Cmd: "list"})
	ev = readEvent(t, ctx, conn)
	if ev.Type != "breakpoints" || len(ev.Breakpoints) != 1 || ev.Breakpoints[0].Line != 4 {
		t.Errorf("list = %+v", ev)
	}

	sendCommand(t, ctx, conn, DebugCommand{Cmd: "bogus"})
	if ev := readEvent(t, ctx, conn); ev.Type != "error" {
		t.Errorf("bogus = %+v", ev)
	}
}

func TestDebugServer_HitAndContinue(t *testing.T) {
	e, _ := newTestEngine(t, EngineConfig{DebugEnabled: true})
	conn, ctx := dialDebugServer(t, e)

	sendCommand(t, ctx, conn, DebugCommand{Cmd: "toggle", Snippet: "onInit", Line: 2})
	readEvent(t, ctx, conn)

	done := make(chan Result, 1)
	go func() { done <- e.CompileScript("var level = 3;\nConsole.print(level);") }()

	ev := readEvent(t, ctx, conn)
	if ev.Type != "hit" || ev.Line != 2 || ev.Snippet != "onInit" {
		t.Fatalf("event = %+v, want hit at onInit:2", ev)
	}
	// JSON numbers decode as float64.
	if ev.Locals["level"] != float64(3) {
		t.Errorf("locals = %v", ev.Locals)
	}
	sendCommand(t, ctx, conn, DebugCommand{Cmd: "continue"})

	select {
	case res := <-done:
		if !res.OK() {
			t.Errorf("compile: %v", res.Err)
		}
	case <-ctx.Done():
		t.Fatal("compile still suspended after continue")
	}
}
