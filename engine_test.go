package hisescript

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kr/pretty"

	"github.com/cryguy/hisescript/internal/debugger"
	"github.com/cryguy/hisescript/internal/value"
)

// capture is a ConsoleSink recording every message.
type capture struct {
	mu    sync.Mutex
	lines []string
}

func (c *capture) Write(e LogEntry) {
	c.mu.Lock()
	c.lines = append(c.lines, e.Message)
	c.mu.Unlock()
}

func (c *capture) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

// waitFor polls until at least n lines were written.
func (c *capture) waitFor(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if lines := c.all(); len(lines) >= n {
			return lines
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d console lines, got %q", n, c.all())
	return nil
}

func newTestEngine(t *testing.T, cfg EngineConfig, opts ...Option) (*Engine, *capture) {
	t.Helper()
	c := &capture{}
	e := NewEngine(cfg, append([]Option{WithConsole(c)}, opts...)...)
	t.Cleanup(e.Close)
	return e, c
}

func mustCompile(t *testing.T, e *Engine, src string) Result {
	t.Helper()
	res := e.CompileScript(src)
	if !res.OK() {
		if se, ok := AsScriptError(res.Err); ok {
			t.Fatalf("compile failed:\n%s", se.Caret())
		}
		t.Fatalf("compile failed: %v", res.Err)
	}
	return res
}

func messages(logs []LogEntry) []string {
	out := make([]string, len(logs))
	for i, l := range logs {
		out[i] = l.Message
	}
	return out
}

func TestEngine_NoteOnDispatchWithoutLookup(t *testing.T) {
	e, c := newTestEngine(t, DefaultConfig())
	mustCompile(t, e, `function onNoteOn(){ Engine.getNumVoices(); Console.print("hit"); }`)

	before := e.Stats()
	res := e.NoteOn(&HiseEvent{Channel: 1, Number: 60, Value: 100})
	if !res.OK() {
		t.Fatalf("NoteOn: %v", res.Err)
	}
	after := e.Stats()

	if got := messages(res.Logs); len(got) != 1 || got[0] != "hit" {
		t.Errorf("logs = %q, want [hit]", got)
	}
	if got := c.all(); len(got) != 1 || got[0] != "hit" {
		t.Errorf("console = %q, want [hit]", got)
	}
	if d := after.ScopeLookups - before.ScopeLookups; d != 0 {
		t.Errorf("scope lookups during dispatch = %d, want 0", d)
	}
	if after.SlotAccesses <= before.SlotAccesses {
		t.Error("expected a slot access for the callback")
	}
	if d := after.ApiCalls - before.ApiCalls; d != 2 {
		t.Errorf("api calls = %d, want 2", d)
	}
}

func TestEngine_FailedCompileKeepsInstance(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())
	mustCompile(t, e, `
var x = 1;
function onNoteOn() { Console.print(x); }`)
	gen := e.Generation()

	res := e.CompileScript("var x = ;")
	if res.OK() {
		t.Fatal("expected a syntax error")
	}
	se, ok := AsScriptError(res.Err)
	if !ok || se.Kind != "SyntaxError" {
		t.Fatalf("err = %v, want SyntaxError", res.Err)
	}
	if se.Source != "var x = ;" {
		t.Errorf("source line = %q", se.Source)
	}

	res = e.CompileScript("var y = 2;\nundefinedFunction();")
	if res.OK() {
		t.Fatal("expected a runtime error in onInit")
	}
	if loc, ok := res.Location(); !ok || loc.Line != 2 {
		t.Errorf("location = %v, want line 2", loc)
	}

	if e.Generation() != gen {
		t.Errorf("generation = %d, want %d", e.Generation(), gen)
	}
	out := e.NoteOn(&HiseEvent{Number: 60})
	if got := messages(out.Logs); len(got) != 1 || got[0] != "1" {
		t.Errorf("previous instance output = %q, want [1]", got)
	}
	if e.LastResult().OK() {
		t.Error("LastResult should report the failed compile")
	}
}

func TestEngine_EvaluateAndCallFunction(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())
	if _, err := e.Evaluate("1 + 1"); !errors.Is(err, ErrNoCompiledInstance) {
		t.Errorf("Evaluate before compile: err = %v", err)
	}
	mustCompile(t, e, `
var a = 3;
function add(x, y) { return x + y; }
namespace Util { inline function twice(v) { return v * 2; } }`)

	v, err := e.Evaluate("a * 2")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.ToInt() != 6 {
		t.Errorf("a * 2 = %v, want 6", v)
	}
	v, err = e.CallFunction("add", value.Int(2), value.Int(3))
	if err != nil || v.ToInt() != 5 {
		t.Errorf("add(2, 3) = %v, %v", v, err)
	}
	v, err = e.CallFunction("Util.twice", value.Int(21))
	if err != nil || v.ToInt() != 42 {
		t.Errorf("Util.twice(21) = %v, %v", v, err)
	}
	if _, err := e.CallFunction("missing"); err == nil {
		t.Error("expected an error for an unknown function")
	}
}

func TestEngine_StrictParameterCalls(t *testing.T) {
	src := "function f(a, b) { return b; }"

	strict, _ := newTestEngine(t, EngineConfig{StrictParameterCalls: true})
	mustCompile(t, strict, src)
	_, err := strict.CallFunction("f", value.Int(1))
	se, ok := AsScriptError(err)
	if !ok || se.Kind != "TypeError" {
		t.Errorf("strict: err = %v, want TypeError", err)
	}

	lenient, _ := newTestEngine(t, EngineConfig{StrictParameterCalls: false})
	mustCompile(t, lenient, src)
	v, err := lenient.CallFunction("f", value.Int(1))
	if err != nil {
		t.Fatalf("lenient: %v", err)
	}
	if !v.IsUndefined() {
		t.Errorf("missing argument = %v, want undefined", v)
	}
}

func TestEngine_MessageAPI(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())
	mustCompile(t, e, `
function onNoteOn()
{
	Console.print(Message.getNoteNumber() + "/" + Message.getVelocity());
	if (Message.getNoteNumber() > 64)
		Message.ignoreEvent(true);
}
function onController()
{
	Console.print("cc" + Message.getControllerNumber() + "=" + Message.getControllerValue());
}
function peek() { return Message.getNoteNumber(); }`)

	low := &HiseEvent{Number: 60, Value: 90}
	res := e.NoteOn(low)
	if got := messages(res.Logs); len(got) != 1 || got[0] != "60/90" {
		t.Errorf("logs = %q", got)
	}
	if low.Ignored || low.EventID == 0 {
		t.Errorf("event = %+v, want assigned id and not ignored", low)
	}
	high := &HiseEvent{Number: 70, Value: 1}
	e.NoteOn(high)
	if !high.Ignored {
		t.Error("expected note 70 to be ignored")
	}
	res = e.Controller(&HiseEvent{Number: 1, Value: 64})
	if got := messages(res.Logs); len(got) != 1 || got[0] != "cc1=64" {
		t.Errorf("controller logs = %q", got)
	}
	if res := e.NoteOff(&HiseEvent{Number: 60}); !errors.Is(res.Err, ErrCallbackNotDefined) {
		t.Errorf("NoteOff: err = %v, want ErrCallbackNotDefined", res.Err)
	}
	if _, err := e.CallFunction("peek"); err == nil {
		t.Error("expected Message outside a MIDI callback to fail")
	}
}

func TestEngine_ControlChanged(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())
	mustCompile(t, e, `
function onControl(component, value)
{
	local doubled = value * 2;
	Console.print(component + ":" + doubled);
}`)
	res := e.ControlChanged("Knob1", 21)
	if got := messages(res.Logs); len(got) != 1 || got[0] != "Knob1:42" {
		t.Errorf("logs = %q", got)
	}
}

func TestEngine_DeferredEventsKeepOrder(t *testing.T) {
	e, c := newTestEngine(t, DefaultConfig())
	mustCompile(t, e, `
Synth.deferCallbacks(true);
function onNoteOn() { Console.print(Message.getNoteNumber()); }`)
	if !e.IsDeferred() {
		t.Fatal("expected deferred mode")
	}
	for n := 60; n < 65; n++ {
		res := e.NoteOn(&HiseEvent{Number: n})
		if !res.OK() || len(res.Logs) != 0 {
			t.Fatalf("deferred NoteOn returned %+v", res)
		}
	}
	got := c.waitFor(t, 5)
	if strings.Join(got, ",") != "60,61,62,63,64" {
		t.Errorf("order = %q", got)
	}
}

func TestEngine_TimerObject(t *testing.T) {
	e, c := newTestEngine(t, DefaultConfig())
	mustCompile(t, e, `
var count = 0;
var timer = Engine.createTimerObject();
timer.setTimerCallback(function()
{
	count++;
	Console.print("tick" + count);
	if (count == 2)
		timer.stopTimer();
});
timer.startTimer(10);`)
	got := c.waitFor(t, 2)
	if got[0] != "tick1" || got[1] != "tick2" {
		t.Errorf("ticks = %q", got)
	}
	time.Sleep(40 * time.Millisecond)
	if n := len(c.all()); n != 2 {
		t.Errorf("timer kept running: %q", c.all())
	}
	v, err := e.Evaluate("timer.isTimerRunning()")
	if err != nil || v.ToBool() {
		t.Errorf("isTimerRunning = %v, %v", v, err)
	}
}

func TestEngine_RecompileStopsTimers(t *testing.T) {
	e, c := newTestEngine(t, DefaultConfig())
	mustCompile(t, e, `
var timer = Engine.createTimerObject();
timer.setTimerCallback(function() { Console.print("old"); });
timer.startTimer(10);`)
	c.waitFor(t, 1)

	mustCompile(t, e, `Console.print("new");`)
	// A tick already waiting for the instance lock may still finish.
	time.Sleep(20 * time.Millisecond)
	n := len(c.all())
	time.Sleep(50 * time.Millisecond)
	if got := c.all(); len(got) != n {
		t.Errorf("stale timer fired after recompile: %q", got[n:])
	}
}

func TestEngine_SynthTimer(t *testing.T) {
	e, c := newTestEngine(t, DefaultConfig())
	mustCompile(t, e, `
Synth.startTimer(0.01);
function onTimer()
{
	Console.print("timer");
	Synth.stopTimer();
}`)
	c.waitFor(t, 1)
	time.Sleep(40 * time.Millisecond)
	if got := c.all(); len(got) != 1 {
		t.Errorf("onTimer ran %d times, want 1", len(got))
	}
	if res := e.CompileScript(`Synth.startTimer(0.001);`); res.OK() {
		t.Error("expected very short timer intervals to be rejected")
	}
}

func TestEngine_GlobalsSurviveRecompile(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())
	mustCompile(t, e, `Globals.tempo = 120;`)
	mustCompile(t, e, `var t = Globals.tempo;`)
	v, err := e.Evaluate("t")
	if err != nil || v.ToInt() != 120 {
		t.Errorf("t = %v, %v", v, err)
	}
	if v, _ := e.Globals().Get("tempo"); v.ToInt() != 120 {
		t.Errorf("Globals().tempo = %v", v)
	}
}

func TestEngine_TimeoutAborts(t *testing.T) {
	e, _ := newTestEngine(t, EngineConfig{ExecutionTimeout: 50})
	mustCompile(t, e, "var alive = 1;")
	gen := e.Generation()
	start := time.Now()
	res := e.CompileScript("while (true) {}")
	if !errors.Is(res.Err, ErrTimeout) {
		t.Fatalf("err = %v, want timeout", res.Err)
	}
	if d := time.Since(start); d > 2*time.Second {
		t.Errorf("timeout took %v", d)
	}
	if e.Generation() != gen {
		t.Error("timed out compile must not be published")
	}
	if v, err := e.Evaluate("alive"); err != nil || v.ToInt() != 1 {
		t.Errorf("previous instance: alive = %v, %v", v, err)
	}
}

func TestEngine_PreviousInstanceServesDuringCompile(t *testing.T) {
	e, c := newTestEngine(t, EngineConfig{ExecutionTimeout: 1500})
	mustCompile(t, e, `
Globals.spin = true;
function onNoteOn()
{
	Globals.note = Message.getNoteNumber();
	Console.print("old");
}`)
	gen := e.Generation()

	done := make(chan Result, 1)
	go func() {
		done <- e.CompileScript("Console.print(\"compiling\");\nwhile (Globals.spin) {}")
	}()
	c.waitFor(t, 1)

	start := time.Now()
	res := e.NoteOn(&HiseEvent{Number: 64})
	if d := time.Since(start); d > 500*time.Millisecond {
		t.Errorf("NoteOn took %v while another instance was compiling", d)
	}
	if got := messages(res.Logs); !res.OK() || len(got) != 1 || got[0] != "old" {
		t.Errorf("NoteOn = %q, %v", got, res.Err)
	}
	if v, err := e.Evaluate("Globals.note"); err != nil || v.ToInt() != 64 {
		t.Errorf("Globals.note = %v, %v", v, err)
	}

	select {
	case res := <-done:
		t.Fatalf("compile finished early: %v", res.Err)
	default:
	}
	if res := <-done; !errors.Is(res.Err, ErrTimeout) {
		t.Errorf("compile err = %v, want timeout", res.Err)
	}
	if e.Generation() != gen {
		t.Error("timed out compile must not be published")
	}
}

func TestEngine_CallbackBudgetWarning(t *testing.T) {
	e, _ := newTestEngine(t, EngineConfig{CallbackBudget: 1})
	mustCompile(t, e, `
function onNoteOn()
{
	local sum = 0;
	for (local i = 0; i < 5000; i++)
		sum += i;
}`)
	res := e.NoteOn(&HiseEvent{Number: 60})
	if !res.OK() {
		t.Fatalf("NoteOn: %v", res.Err)
	}
	found := false
	for _, l := range res.Logs {
		if l.Level == "warning" && strings.Contains(l.Message, "budget") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a budget warning, logs = %q", messages(res.Logs))
	}
}

func TestEngine_Breakpoint(t *testing.T) {
	e, _ := newTestEngine(t, EngineConfig{DebugEnabled: true})
	dbg := e.Debugger()
	dbg.Add(debugger.Breakpoint{Snippet: "onInit", Line: 3})
	var seen map[string]any
	dbg.AddListener(debugger.ListenerFunc(func(int) {
		bp, _ := dbg.Current()
		seen = plainLocals(bp.LocalScope)
		dbg.Continue()
	}))
	mustCompile(t, e, "var a = 1;\nvar b = \"x\";\nConsole.print(a);")

	want := map[string]any{"a": int64(1), "b": "x"}
	for k, v := range want {
		if seen[k] != v {
			t.Errorf("locals differ:\n%s", strings.Join(pretty.Diff(seen, want), "\n"))
			break
		}
	}
	bp, _ := dbg.Lookup("onInit", 3)
	if bp.HitCount != 1 {
		t.Errorf("hit count = %d, want 1", bp.HitCount)
	}
}

func TestEngine_BreakpointAbortKeepsInstance(t *testing.T) {
	e, _ := newTestEngine(t, EngineConfig{DebugEnabled: true})
	mustCompile(t, e, "var first = true;")
	gen := e.Generation()

	dbg := e.Debugger()
	dbg.Add(debugger.Breakpoint{Snippet: "onInit", Line: 2})
	dbg.AddListener(debugger.ListenerFunc(func(int) { dbg.Abort() }))
	res := e.CompileScript("var x = 1;\nvar y = 2;")
	se, ok := AsScriptError(res.Err)
	if !ok || se.Kind != "BreakpointAbort" {
		t.Fatalf("err = %v, want BreakpointAbort", res.Err)
	}
	if e.Generation() != gen {
		t.Error("aborted compile must not be published")
	}
}

func TestEngine_DspNetworkFromScript(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())
	mustCompile(t, e, `
const var net = Engine.createDspNetwork("fx");
const var gain = net.create("core.gain", "gain");
gain.setParent("fx", -1);
gain.set("Gain", -6.0);
var seen = 0;

function processBlock(channels)
{
	net.processBlock(channels);
	seen = channels[0][0];
}`)
	if res := e.PrepareToPlay(44100, 64); !res.OK() {
		t.Fatalf("PrepareToPlay: %v", res.Err)
	}
	n, err := e.Network("fx")
	if err != nil {
		t.Fatal(err)
	}
	if !n.IsPrepared() || n.NumNodes() != 2 {
		t.Fatalf("network prepared=%v nodes=%d", n.IsPrepared(), n.NumNodes())
	}

	block := [][]float32{make([]float32, 64), make([]float32, 64)}
	for _, ch := range block {
		for i := range ch {
			ch[i] = 1
		}
	}
	if res := e.ProcessBlock(block); !res.OK() {
		t.Fatalf("ProcessBlock: %v", res.Err)
	}
	if g := block[1][10]; g < 0.49 || g > 0.51 {
		t.Errorf("sample = %v, want ~0.501", g)
	}
	// The script observes the processed block too.
	if v, err := e.Evaluate("seen"); err != nil || v.ToDouble() < 0.49 || v.ToDouble() > 0.51 {
		t.Errorf("seen = %v, %v, want ~0.501", v, err)
	}

	v, err := e.Evaluate(`net.toXml()`)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(v.String(), `FactoryPath="core.gain"`) {
		t.Errorf("toXml = %s", v)
	}
	v, err = e.Evaluate(`net.get("gain").get("Gain")`)
	if err != nil || v.ToDouble() != -6 {
		t.Errorf("Gain = %v, %v", v, err)
	}

	// The network outlives recompilation.
	mustCompile(t, e, `const var net = Engine.createDspNetwork("fx");`)
	v, err = e.Evaluate("net.getNumNodes()")
	if err != nil || v.ToInt() != 2 {
		t.Errorf("nodes after recompile = %v, %v", v, err)
	}
}

func TestEngine_DspNetworkErrors(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())
	res := e.CompileScript(`
const var net = Engine.createDspNetwork("fx");
net.create("no.such.node", "x");`)
	if res.OK() {
		t.Fatal("expected unknown node type to fail")
	}
	if loc, _ := res.Location(); loc.Line != 3 {
		t.Errorf("location = %v, want line 3", loc)
	}
	if _, err := e.Network("missing"); !errors.Is(err, ErrNetworkNotFound) {
		t.Errorf("err = %v, want ErrNetworkNotFound", err)
	}
}

func TestEngine_MathRandomIsSeeded(t *testing.T) {
	run := func() string {
		e, _ := newTestEngine(t, EngineConfig{RandomSeed: 42})
		mustCompile(t, e, "var r = [Math.random(), Math.randInt(0, 100)];")
		v, err := e.Evaluate("r")
		if err != nil {
			t.Fatal(err)
		}
		return v.String()
	}
	if a, b := run(), run(); a != b {
		t.Errorf("random sequences differ: %s vs %s", a, b)
	}
}

func TestEngine_ConsoleAssertions(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())
	res := e.CompileScript("Console.assertEqual(1, 2);")
	if res.OK() || !strings.Contains(res.Message(), "Assertion failure") {
		t.Errorf("result = %s", res.Message())
	}
	res = e.CompileScript("Console.startBenchmark();\nConsole.stopBenchmark();")
	if !res.OK() || len(res.Logs) != 1 || !strings.HasPrefix(res.Logs[0].Message, "Benchmark result") {
		t.Errorf("benchmark = %+v", res)
	}
}

func TestEngine_LoadFromStore(t *testing.T) {
	store, err := NewMemoryStore()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if err := store.SaveScript("main", `var loaded = "yes";`); err != nil {
		t.Fatal(err)
	}
	e, _ := newTestEngine(t, DefaultConfig(), WithLoader(store))

	var wg sync.WaitGroup
	results := make([]Result, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.LoadFromStore("main")
		}(i)
	}
	wg.Wait()
	for i, r := range results {
		if !r.OK() {
			t.Errorf("load %d: %v", i, r.Err)
		}
	}
	v, err := e.Evaluate("loaded")
	if err != nil || v.String() != "yes" {
		t.Errorf("loaded = %v, %v", v, err)
	}
	if res := e.LoadFromStore("nope"); !errors.Is(res.Err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", res.Err)
	}
}

func TestEngine_CloseIsFinal(t *testing.T) {
	e := NewEngine(DefaultConfig())
	e.Close()
	e.Close()
	if res := e.CompileScript("var a = 1;"); !errors.Is(res.Err, ErrEngineClosed) {
		t.Errorf("err = %v, want ErrEngineClosed", res.Err)
	}
}

func TestEngine_CheckCyclicReferences(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())
	if _, err := e.CheckCyclicReferences(); !errors.Is(err, ErrNoCompiledInstance) {
		t.Errorf("err = %v, want ErrNoCompiledInstance", err)
	}
	mustCompile(t, e, "var a = {};\nvar b = [a];\na.child = b;")
	refs, err := e.CheckCyclicReferences()
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0].Target != "a" {
		t.Errorf("refs = %v", refs)
	}
}
