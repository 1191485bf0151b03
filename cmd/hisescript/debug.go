package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cryguy/hisescript"
	"github.com/cryguy/hisescript/internal/debugger"
)

// breakpointList collects repeated -break snippet:line flags.
type breakpointList []debugger.Breakpoint

func (b *breakpointList) String() string {
	parts := make([]string, len(*b))
	for i, bp := range *b {
		parts[i] = bp.String()
	}
	return strings.Join(parts, ",")
}

func (b *breakpointList) Set(s string) error {
	snippet, line, ok := strings.Cut(s, ":")
	if !ok {
		snippet, line = "onInit", s
	}
	n, err := strconv.Atoi(line)
	if err != nil || n <= 0 {
		return fmt.Errorf("invalid breakpoint %q, want snippet:line", s)
	}
	*b = append(*b, debugger.Breakpoint{Snippet: snippet, Line: n})
	return nil
}

func cmdDebug(args []string) int {
	fs := flag.NewFlagSet("debug", flag.ContinueOnError)
	addr := fs.String("addr", "127.0.0.1:9229", "listen address of the debug websocket")
	var bps breakpointList
	fs.Var(&bps, "break", "breakpoint as snippet:line, may be repeated")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s debug [flags] <file>\n", appName)
		return 2
	}
	src, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: cannot read %s: %v\n", appName, fs.Arg(0), err)
		return 1
	}

	cfg := hisescript.DefaultConfig()
	cfg.DebugEnabled = true
	// Suspended breakpoints pause the watchdog; this bounds running code only.
	cfg.ExecutionTimeout = int((time.Minute).Milliseconds())
	e := hisescript.NewEngine(cfg, hisescript.WithConsole(consoleWriter(os.Stdout)))
	defer e.Close()
	for _, bp := range bps {
		e.Debugger().Add(bp)
	}

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		return 1
	}
	srv := &http.Server{Handler: hisescript.NewDebugServer(e)}
	fmt.Fprintf(os.Stderr, "debugger listening on ws://%s\n", ln.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	var compileErr error
	g.Go(func() error {
		// Give clients a moment to attach before the first breakpoint.
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return nil
		}
		res := e.CompileScript(string(src))
		compileErr = res.Err
		return errCompileDone
	})
	g.Go(func() error {
		<-ctx.Done()
		e.Debugger().Abort()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errCompileDone) {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		return 1
	}
	if compileErr != nil {
		printError(compileErr)
		return 1
	}
	return 0
}

var errCompileDone = errors.New("compile finished")
