package hisescript

import (
	"errors"

	"github.com/cryguy/hisescript/internal/core"
	"github.com/cryguy/hisescript/internal/value"
)

// Type aliases re-exporting internal types so embedders can use
// hisescript.Result, hisescript.HiseEvent, etc. without importing the
// internal packages directly.

type EngineConfig = core.EngineConfig
type CallbackDef = core.CallbackDef
type CallbackID = core.CallbackID
type HiseEvent = core.HiseEvent
type EventType = core.EventType
type LogEntry = core.LogEntry
type Result = core.Result
type ScriptError = core.ScriptError
type CodeLocation = core.CodeLocation
type ErrorKind = core.ErrorKind
type ScriptLoader = core.ScriptLoader
type ConsoleSink = core.ConsoleSink
type ConsoleFunc = core.ConsoleFunc
type Host = core.Host
type Value = value.Value

// Callback slots of the default callback table.
const (
	OnInit        = core.OnInit
	OnNoteOn      = core.OnNoteOn
	OnNoteOff     = core.OnNoteOff
	OnController  = core.OnController
	OnTimer       = core.OnTimer
	OnControl     = core.OnControl
	PrepareToPlay = core.PrepareToPlay
	ProcessBlock  = core.ProcessBlock
)

// Event types.
const (
	EventNoteOn     = core.EventNoteOn
	EventNoteOff    = core.EventNoteOff
	EventController = core.EventController
	EventPitchBend  = core.EventPitchBend
)

// Sentinel errors.
var (
	ErrTimeout            = core.ErrTimeout
	ErrNoCompiledInstance = core.ErrNoCompiledInstance
	ErrCallbackNotDefined = core.ErrCallbackNotDefined
	ErrInstanceGone       = core.ErrInstanceGone
	ErrNetworkNotFound    = errors.New("dsp network not found")
	ErrEngineClosed       = errors.New("engine is closed")
)

// Functions re-exported from core.
var (
	DefaultConfig    = core.DefaultConfig
	DefaultCallbacks = core.DefaultCallbacks
	AsScriptError    = core.AsScriptError
)
