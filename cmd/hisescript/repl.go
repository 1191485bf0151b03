package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/peterh/liner"

	"github.com/cryguy/hisescript"
	"github.com/cryguy/hisescript/internal/core"
	"github.com/cryguy/hisescript/internal/lexer"
)

const (
	historyFile = ".hisescript_history"
	promptMain  = "hise> "
	promptCont  = "  ... "
)

const replHelp = `REPL commands:
  :quit     Exit the REPL
  :source   Print the accumulated script
  :reset    Discard the accumulated script
Expressions are evaluated against the current script. Anything else is
appended to the script, which is then recompiled.`

// session accumulates declarations entered at the prompt. Every
// declaration recompiles the whole script; output already shown for the
// previous version is skipped.
type session struct {
	e      *hisescript.Engine
	source string
	shown  int
}

func (s *session) eval(code string) {
	v, err := s.e.Evaluate(code)
	if err == nil {
		fmt.Println(blue(v.String()))
		return
	}
	if se, ok := hisescript.AsScriptError(err); !ok || se.Kind != core.SyntaxError {
		printError(err)
		return
	}
	next := code
	if s.source != "" {
		next = s.source + "\n" + code
	}
	res := s.e.CompileScript(next)
	if !res.OK() {
		printError(res.Err)
		return
	}
	for i, l := range res.Logs {
		if i >= s.shown {
			fmt.Println(l.Message)
		}
	}
	s.source, s.shown = next, len(res.Logs)
}

func (s *session) reset() {
	s.source, s.shown = "", 0
	s.e.CompileScript("")
}

func cmdRepl(_ []string) int {
	fmt.Println("HiseScript REPL\nCtrl+C cancels input, Ctrl+D exits. Type :help for commands.")

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigc)
	go func() {
		<-sigc
		ln.Close()
		os.Exit(130)
	}()

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}

	e := hisescript.NewEngine(hisescript.DefaultConfig())
	defer e.Close()
	s := &session{e: e}
	s.reset()

	for {
		code, ok := readByParseProbe(ln, promptMain, promptCont)
		if !ok {
			fmt.Println()
			return 0
		}
		trimmed := strings.TrimSpace(code)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, ":") {
			switch strings.ToLower(trimmed) {
			case ":quit":
				return 0
			case ":help":
				fmt.Println(replHelp)
			case ":source":
				fmt.Println(s.source)
			case ":reset":
				s.reset()
			default:
				fmt.Println("unknown command. Type :help for commands.")
			}
			continue
		}
		s.eval(code)
		ln.AppendHistory(strings.ReplaceAll(code, "\n", " "))
	}
}

// readByParseProbe reads lines until the input has balanced brackets and
// no unterminated string or comment.
func readByParseProbe(ln *liner.State, prompt, cont string) (string, bool) {
	var b strings.Builder
	for {
		p := prompt
		if b.Len() > 0 {
			p = cont
		}
		line, err := ln.Prompt(p)
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if err != nil {
			return "", true
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		if !incomplete(b.String()) {
			return b.String(), true
		}
	}
}

func incomplete(src string) bool {
	toks, err := lexer.Tokenize(src, "repl")
	if err != nil {
		return strings.Contains(err.Error(), "unterminated")
	}
	depth := 0
	for _, t := range toks {
		switch t.Type {
		case lexer.LParen, lexer.LBrace, lexer.LBracket:
			depth++
		case lexer.RParen, lexer.RBrace, lexer.RBracket:
			depth--
		}
	}
	return depth > 0
}
