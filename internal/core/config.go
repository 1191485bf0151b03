package core

// Default values applied by EngineConfig.WithDefaults.
const (
	DefaultExecutionTimeout = 5000 // ms
	DefaultMaxLogEntries    = 1000
	NumRegisterSlots        = 32
	MaxApiSlots             = 60
	MaxCallbackParameters   = 4
)

// EngineConfig holds runtime configuration for a script engine instance.
type EngineConfig struct {
	ExecutionTimeout int // milliseconds before a callback is aborted
	CallbackBudget   int // microseconds per callback before a budget warning; 0 disables
	MaxLogEntries    int // max console entries captured per invocation

	// StrictParameterCalls makes calling a user function with fewer
	// arguments than declared parameters a TypeError. When false the call
	// proceeds with undefined arguments and a warning is logged.
	StrictParameterCalls bool

	// Callbacks is the callback-name table. Functions declared with one
	// of these names are stored in callback slots instead of the
	// function namespace.
	Callbacks []CallbackDef

	// Optimizations lists the optimisation passes run over callback and
	// inline function bodies after parsing. nil selects all built-in passes.
	Optimizations []string

	// DebugEnabled activates breakpoints. Only enable in edit contexts.
	DebugEnabled bool

	// RandomSeed seeds Math.random so runs are reproducible.
	RandomSeed int64

	// SampleRate and BlockSize are the initial audio settings reported to
	// scripts before prepareToPlay is called.
	SampleRate float64
	BlockSize  int
}

// WithDefaults returns a copy of cfg with zero fields filled in.
func (cfg EngineConfig) WithDefaults() EngineConfig {
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = DefaultExecutionTimeout
	}
	if cfg.MaxLogEntries <= 0 {
		cfg.MaxLogEntries = DefaultMaxLogEntries
	}
	if cfg.Callbacks == nil {
		cfg.Callbacks = DefaultCallbacks()
	}
	if cfg.RandomSeed == 0 {
		cfg.RandomSeed = 1
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = 512
	}
	return cfg
}

// DefaultConfig returns the configuration used by NewEngine when none is given.
func DefaultConfig() EngineConfig {
	return EngineConfig{StrictParameterCalls: true}.WithDefaults()
}
