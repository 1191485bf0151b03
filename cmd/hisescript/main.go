// Command hisescript runs, debugs and packs HiseScript files.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/cryguy/hisescript"
)

const appName = "hisescript"

var color = term.IsTerminal(int(os.Stdout.Fd()))

func red(s string) string    { return paint("31", s) }
func yellow(s string) string { return paint("33", s) }
func blue(s string) string   { return paint("94", s) }

func paint(code, s string) string {
	if !color {
		return s
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "run":
		os.Exit(cmdRun(args))
	case "repl":
		os.Exit(cmdRepl(args))
	case "debug":
		os.Exit(cmdDebug(args))
	case "net":
		os.Exit(cmdNet(args))
	case "pack":
		os.Exit(cmdPack(args))
	case "unpack":
		os.Exit(cmdUnpack(args))
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "%s: unknown command %q\n", appName, cmd)
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Printf(`Usage:
  %[1]s run [-notes 60,64] [-blocks n] <file>     Compile a script and feed it events.
  %[1]s repl                                       Start the REPL.
  %[1]s debug [-addr :9229] [-break onInit:3] <file>
                                                  Compile with breakpoints served over a websocket.
  %[1]s net [-blocks n] [-store dir] <file.xml|id> Process a DSP network and print its peaks.
  %[1]s pack [-store dir -id name] <file>         Compress a script.
  %[1]s unpack [-store dir] <blob-file|id>         Decompress a script.
`, appName)
}

// consoleWriter prints script console output as it happens.
func consoleWriter(w io.Writer) hisescript.ConsoleFunc {
	return func(e hisescript.LogEntry) {
		switch e.Level {
		case "warning":
			fmt.Fprintln(w, yellow(e.Message))
		case "error":
			fmt.Fprintln(w, red(e.Message))
		default:
			fmt.Fprintln(w, e.Message)
		}
	}
}

func printError(err error) {
	if se, ok := hisescript.AsScriptError(err); ok {
		fmt.Fprintln(os.Stderr, red(se.Caret()))
		return
	}
	fmt.Fprintln(os.Stderr, red(err.Error()))
}

func parseNotes(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var out []int
	for _, f := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil || n < 0 || n > 127 {
			return nil, fmt.Errorf("invalid note %q", f)
		}
		out = append(out, n)
	}
	return out, nil
}

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	notes := fs.String("notes", "", "comma separated note numbers sent as note on/off pairs")
	blocks := fs.Int("blocks", 0, "number of audio blocks passed to processBlock")
	sampleRate := fs.Float64("samplerate", 44100, "sample rate for prepareToPlay")
	blockSize := fs.Int("blocksize", 512, "block size for prepareToPlay")
	timeout := fs.Int("timeout", 0, "execution timeout in milliseconds")
	stats := fs.Bool("stats", false, "print access counters when done")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s run [flags] <file>\n", appName)
		return 2
	}
	noteList, err := parseNotes(*notes)
	if err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		return 2
	}
	src, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: cannot read %s: %v\n", appName, fs.Arg(0), err)
		return 1
	}

	cfg := hisescript.DefaultConfig()
	cfg.ExecutionTimeout = *timeout
	e := hisescript.NewEngine(cfg, hisescript.WithConsole(consoleWriter(os.Stdout)))
	defer e.Close()

	res := e.CompileScript(string(src))
	if !res.OK() {
		printError(res.Err)
		return 1
	}
	fmt.Fprintln(os.Stderr, blue("compiled in "+humanize.SIWithDigits(res.Duration.Seconds(), 2, "s")))

	if res := e.PrepareToPlay(*sampleRate, *blockSize); !res.OK() {
		printError(res.Err)
		return 1
	}
	failed := false
	check := func(r hisescript.Result) {
		if !r.OK() && !isUndefinedCallback(r.Err) {
			printError(r.Err)
			failed = true
		}
	}
	for _, n := range noteList {
		check(e.NoteOn(&hisescript.HiseEvent{Channel: 1, Number: n, Value: 127}))
		check(e.NoteOff(&hisescript.HiseEvent{Channel: 1, Number: n}))
	}
	block := [][]float32{make([]float32, *blockSize), make([]float32, *blockSize)}
	for i := 0; i < *blocks; i++ {
		check(e.ProcessBlock(block))
	}
	if evs := e.GeneratedEvents(); len(evs) > 0 {
		fmt.Fprintf(os.Stderr, "%s events generated by the script\n", humanize.Comma(int64(len(evs))))
	}
	if *stats {
		c := e.Stats()
		fmt.Fprintf(os.Stderr, "scope lookups %s, slot accesses %s, api calls %s\n",
			humanize.Comma(c.ScopeLookups), humanize.Comma(c.SlotAccesses), humanize.Comma(c.ApiCalls))
	}
	if failed {
		return 1
	}
	return 0
}

func isUndefinedCallback(err error) bool {
	return errors.Is(err, hisescript.ErrCallbackNotDefined)
}

func openStore(dir string) (*hisescript.Store, error) {
	if dir == "" {
		return nil, nil
	}
	return hisescript.OpenStore(dir)
}

func cmdPack(args []string) int {
	fs := flag.NewFlagSet("pack", flag.ContinueOnError)
	storeDir := fs.String("store", "", "save the script to the store in this directory")
	id := fs.String("id", "", "script id in the store (default: file name)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s pack [flags] <file>\n", appName)
		return 2
	}
	src, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: cannot read %s: %v\n", appName, fs.Arg(0), err)
		return 1
	}
	store, err := openStore(*storeDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		return 1
	}
	if store == nil {
		blob, err := hisescript.CompressScript(string(src))
		if err != nil {
			fmt.Fprintln(os.Stderr, red(err.Error()))
			return 1
		}
		fmt.Println(blob)
		return 0
	}
	defer store.Close()
	name := *id
	if name == "" {
		base := filepath.Base(fs.Arg(0))
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if err := store.SaveScript(name, string(src)); err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		return 1
	}
	fmt.Fprintf(os.Stderr, "saved %s (%s)\n", name, humanize.Bytes(uint64(len(src))))
	return 0
}

func cmdUnpack(args []string) int {
	fs := flag.NewFlagSet("unpack", flag.ContinueOnError)
	storeDir := fs.String("store", "", "read the script from the store in this directory")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s unpack [flags] <blob-file|id>\n", appName)
		return 2
	}
	store, err := openStore(*storeDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		return 1
	}
	var src string
	if store != nil {
		defer store.Close()
		src, err = store.LoadScript(fs.Arg(0))
	} else {
		var blob []byte
		blob, err = os.ReadFile(fs.Arg(0))
		if err == nil {
			src, err = hisescript.DecompressScript(strings.TrimSpace(string(blob)))
		}
	}
	if err != nil {
		printError(err)
		return 1
	}
	fmt.Print(src)
	return 0
}
