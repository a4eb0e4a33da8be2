package programmer

import "time"

// Phases reported in Progress.
const (
	PhaseDetecting   = "detecting"
	PhaseReading     = "reading"
	PhaseErasing     = "erasing"
	PhaseProgramming = "programming"
	PhaseVerifying   = "verifying"
	PhaseComplete    = "complete"
)

// Progress contains information about a running operation.
// Passed to ProgressCallback after every block, page or sector.
type Progress struct {
	// Phase describes the current operation phase:
	//   "reading"     - Reading blocks
	//   "erasing"     - Erasing blocks or the whole chip
	//   "programming" - Programming pages
	//   "verifying"   - Reading back and comparing
	//   "complete"    - Operation completed successfully
	Phase string

	// Address is the start of the unit just completed
	Address uint32

	// CurrentUnit is the number of units completed
	CurrentUnit int

	// TotalUnits is the number of units in the operation
	TotalUnits int

	// Percentage is the completion percentage (0.0 to 100.0)
	Percentage float64

	// Bytes is the number of bytes processed so far
	Bytes int

	// ElapsedTime is the time elapsed since the operation started
	ElapsedTime time.Duration
}

// ProgressCallback is called after every unit of work.
// It runs on the operation's goroutine without the engine lock held, so it
// may call Engine.Abort.
//
// Example:
//
//	engine := programmer.New(opener,
//	    programmer.WithProgressCallback(func(p programmer.Progress) {
//	        fmt.Printf("[%s] %.1f%% - %d/%d\n",
//	            p.Phase, p.Percentage, p.CurrentUnit, p.TotalUnits)
//	    }),
//	)
type ProgressCallback func(Progress)

// Logger is an optional logging interface that can be provided to the engine.
// This allows integration with any logging framework.
//
// Example with log/slog:
//
//	type SlogLogger struct{ l *slog.Logger }
//	func (s SlogLogger) Debug(msg string, kv ...interface{}) { s.l.Debug(msg, kv...) }
//	func (s SlogLogger) Info(msg string, kv ...interface{})  { s.l.Info(msg, kv...) }
//	func (s SlogLogger) Error(msg string, kv ...interface{}) { s.l.Error(msg, kv...) }
//
//	engine := programmer.New(opener, programmer.WithLogger(SlogLogger{slog.Default()}))
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, keysAndValues ...interface{})

	// Info logs an info message with optional key-value pairs
	Info(msg string, keysAndValues ...interface{})

	// Error logs an error message with optional key-value pairs
	Error(msg string, keysAndValues ...interface{})
}
