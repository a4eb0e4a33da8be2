package programmer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/moffa90/go-chipprog/chipdb"
	"github.com/moffa90/go-chipprog/discovery"
	"github.com/moffa90/go-chipprog/driver"
	"github.com/moffa90/go-chipprog/errcode"
	"github.com/moffa90/go-chipprog/register"
	"github.com/moffa90/go-chipprog/transport"
)

// State is the engine state.
type State int

const (
	StateIdle State = iota
	StateDetecting
	StateReading
	StateErasing
	StateProgramming
	StateVerifying
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDetecting:
		return "detecting"
	case StateReading:
		return "reading"
	case StateErasing:
		return "erasing"
	case StateProgramming:
		return "programming"
	case StateVerifying:
		return "verifying"
	case StateAborted:
		return "aborted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Engine runs programming operations against one bridge adapter.
// At most one operation runs at a time; a request made while another runs
// fails with errcode.Busy.
//
// Engine is safe for concurrent use.
type Engine struct {
	opener transport.Opener
	config Config
	db     *chipdb.Database

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc

	// written by the running operation under mu
	adapter  transport.Adapter
	chip     *chipdb.Descriptor
	drv      driver.Driver
	status   *register.StatusSession
	security *register.Security
}

// New creates a new Engine that opens adapters with opener.
//
// Example:
//
//	engine := programmer.New(transport.OpenCH341Adapter,
//	    programmer.WithProgressCallback(progressFunc),
//	    programmer.WithVerifyAfterProgram(true),
//	)
func New(opener transport.Opener, opts ...Option) *Engine {
	if opener == nil {
		panic("opener cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Engine{
		opener: opener,
		config: cfg,
		db:     cfg.Database,
	}
}

// State returns the current engine state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Chip returns the detected descriptor, if any.
func (e *Engine) Chip() (chipdb.Descriptor, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.chip == nil {
		return chipdb.Descriptor{}, false
	}
	return *e.chip, true
}

// Abort cancels the running operation. The operation stops at the next
// block, page or sector boundary and reports errcode.Aborted. Abort reports
// whether an operation was running.
func (e *Engine) Abort() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateIdle {
		return false
	}
	e.state = StateAborted
	e.cancel()
	e.logInfo("Abort requested")
	return true
}

// Close releases the adapter and forgets the detected chip.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return &BusyError{Running: e.state}
	}
	e.forget()
	if e.adapter == nil {
		return nil
	}
	err := e.adapter.Close()
	e.adapter = nil
	return err
}

// begin claims the engine for one operation.
func (e *Engine) begin(ctx context.Context, s State) (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return nil, &BusyError{Running: e.state}
	}
	ctx, cancel := context.WithCancel(ctx)
	e.state = s
	e.cancel = cancel
	return ctx, nil
}

// enter moves the running operation to s unless it was aborted.
func (e *Engine) enter(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateAborted {
		e.state = s
	}
}

// finish returns the engine to idle.
func (e *Engine) finish() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancel()
	e.cancel = nil
	e.state = StateIdle
}

// forget drops the detected chip and its register session.
func (e *Engine) forget() {
	e.chip = nil
	e.drv = nil
	e.status = nil
	e.security = nil
}

// checkpoint reports errcode.Aborted once ctx is done.
func checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errcode.Wrap(errcode.Aborted, err)
	}
	return nil
}

// classify gives err the kind the caller should see: Aborted once the
// operation was cancelled, Disconnected when the adapter went away.
func (e *Engine) classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case ctx.Err() != nil:
		if errcode.Of(err) != errcode.Aborted {
			return errcode.Wrap(errcode.Aborted, err)
		}
	case errcode.Of(err) != errcode.Disconnected && transport.StateOf(e.adapter) == transport.Disconnected:
		return errcode.Wrap(errcode.Disconnected, err)
	}
	return err
}

// connect returns a live adapter, reopening it when the cached handle
// stopped responding. A reopened handle invalidates the detected chip.
func (e *Engine) connect() (transport.Adapter, error) {
	if transport.StateOf(e.adapter) == transport.Connected {
		return e.adapter, nil
	}
	if e.adapter != nil {
		e.adapter.Close()
		e.mu.Lock()
		e.adapter = nil
		e.forget()
		e.mu.Unlock()
	}

	e.logDebug("Opening adapter")
	a, err := e.opener()
	if err != nil {
		if errcode.Of(err) != errcode.Disconnected {
			err = errcode.Wrap(errcode.Disconnected, err)
		}
		return nil, err
	}
	e.mu.Lock()
	e.adapter = a
	e.mu.Unlock()
	return a, nil
}

// database returns the configured chip database, loading the built-in
// catalog on first use.
func (e *Engine) database() (*chipdb.Database, error) {
	if e.db != nil {
		return e.db, nil
	}
	db, err := chipdb.Default()
	if err != nil {
		return nil, err
	}
	e.db = db
	return db, nil
}

// Detect (re)establishes the adapter connection and resolves the chip.
//
// With a nil target the chip is identified by its JEDEC ID; only SPI flash
// answers one. With a target the engine trusts the descriptor and confirms
// that a chip of its family answers. MicroWire parts have no identity and
// no acknowledge, so an empty 93Cxx socket is never reported as
// errcode.ChipMissing; the first read returns erased data instead.
//
// On success the descriptor is cached for Read, Erase, Program and Verify,
// and the status register session starts over. On failure no chip is cached.
//
// Example:
//
//	res, err := engine.Detect(ctx, nil)
//	if err != nil {
//	    return err
//	}
//	if res.Warning != nil {
//	    log.Printf("warning: %v", res.Warning)
//	}
//	fmt.Println("found", res.Chip)
func (e *Engine) Detect(ctx context.Context, target *chipdb.Descriptor) (*DetectResult, error) {
	ctx, err := e.begin(ctx, StateDetecting)
	if err != nil {
		return nil, err
	}
	defer e.finish()

	return e.detect(ctx, target)
}

func (e *Engine) detect(ctx context.Context, target *chipdb.Descriptor) (*DetectResult, error) {
	start := time.Now()
	e.mu.Lock()
	e.forget()
	e.mu.Unlock()
	e.reportProgress(Progress{Phase: PhaseDetecting, TotalUnits: 1})

	if err := checkpoint(ctx); err != nil {
		return nil, err
	}

	adapter, err := e.connect()
	if err != nil {
		e.logError("Adapter not available", "error", err)
		return nil, err
	}

	res := &DetectResult{}
	if target == nil {
		if err := e.identify(adapter, res); err != nil {
			err = e.classify(ctx, err)
			e.logError("Identification failed", "error", err)
			return nil, err
		}
	} else {
		res.Chip = *target
		if target.Protocol == chipdb.ProtocolSPIFlash && !target.JEDEC.IsZero() {
			if id, err := discovery.ReadJEDEC(adapter.SPI()); err == nil {
				res.JEDEC = &id
				if id.JEDEC() != target.JEDEC {
					res.Warning = fmt.Errorf("chip answers %s, %s expects %s", id, target, target.JEDEC)
					e.logInfo("Identity differs from selected chip",
						"read", id.String(), "expected", target.JEDEC.String())
				}
			}
		}
	}
	chip := res.Chip

	if chip.Speed > 0 {
		if err := adapter.SetSpeed(chip.Speed); err != nil {
			err = e.classify(ctx, err)
			e.logError("Failed to set bus speed", "speed_khz", chip.Speed, "error", err)
			return nil, err
		}
	}

	drv, err := driver.New(adapter, chip, driver.WithPollInterval(e.config.PollInterval))
	if err != nil {
		return nil, err
	}
	if err := drv.Detect(ctx); err != nil {
		err = e.classify(ctx, err)
		e.logError("Chip did not answer", "chip", chip.String(), "error", err)
		return nil, err
	}

	e.mu.Lock()
	e.chip = &chip
	e.drv = drv
	e.status = register.NewStatusSession(adapter.SPI(), chip, drv,
		register.WithReadyTimeout(e.config.ReadyTimeout))
	e.security = register.NewSecurity(adapter, chip, drv,
		register.WithReadyTimeout(e.config.ReadyTimeout))
	e.mu.Unlock()

	e.reportProgress(Progress{
		Phase:       PhaseComplete,
		CurrentUnit: 1,
		TotalUnits:  1,
		Percentage:  100,
		ElapsedTime: time.Since(start),
	})
	e.logInfo("Chip detected",
		"chip", chip.String(),
		"protocol", string(chip.Protocol),
		"size", chip.Size,
		"elapsed", time.Since(start))
	return res, nil
}

// identify resolves the chip from its JEDEC ID.
func (e *Engine) identify(adapter transport.Adapter, res *DetectResult) error {
	db, err := e.database()
	if err != nil {
		return err
	}

	id, err := discovery.ReadJEDEC(adapter.SPI())
	if err != nil {
		return err
	}
	res.JEDEC = &id
	e.logDebug("JEDEC ID read", "id", id.String())

	m, err := db.MatchJEDEC(id.JEDEC())
	if err != nil {
		return err
	}
	res.Chip = m.Chip
	res.Candidates = m.Candidates
	if m.Ambiguous {
		res.Warning = &AmbiguousIdentityError{ID: id.JEDEC(), Selected: m.Chip, Candidates: m.Candidates}
		e.logInfo("Ambiguous identity", "id", id.String(), "selected", m.Chip.String(),
			"candidates", len(m.Candidates))
	}
	return nil
}

// ready returns the detected chip and its driver.
func (e *Engine) ready() (chipdb.Descriptor, driver.Driver, error) {
	if e.chip == nil || e.drv == nil {
		return chipdb.Descriptor{}, nil, notDetected()
	}
	return *e.chip, e.drv, nil
}

// Execute runs req and returns its result. A request naming a chip other
// than the detected one detects it first, under the same operation.
//
// Example:
//
//	res := engine.Execute(ctx, programmer.Request{
//	    Kind:  programmer.KindProgram,
//	    Chip:  &chip,
//	    Start: 0,
//	    Data:  image,
//	})
//	if !res.Success {
//	    return res.Err
//	}
func (e *Engine) Execute(ctx context.Context, req Request) Result {
	if req.Kind < KindDetect || req.Kind > KindVerify {
		return Result{Kind: req.Kind, Err: errcode.Wrap(errcode.InvalidFormat,
			fmt.Errorf("unknown request kind %d", int(req.Kind)))}
	}

	initial := StateDetecting
	if req.Kind != KindDetect && (req.Chip == nil || e.detected(req.Chip)) {
		initial = stateFor(req.Kind)
	}

	ctx, err := e.begin(ctx, initial)
	if err != nil {
		return Result{Kind: req.Kind, Err: err}
	}
	defer e.finish()

	if req.Kind == KindDetect {
		start := time.Now()
		d, err := e.detect(ctx, req.Chip)
		return Result{Kind: KindDetect, Success: err == nil, Err: err, Detect: d, Elapsed: time.Since(start)}
	}

	if initial == StateDetecting {
		if _, err := e.detect(ctx, req.Chip); err != nil {
			return Result{Kind: req.Kind, Err: err}
		}
		e.enter(stateFor(req.Kind))
	}

	switch req.Kind {
	case KindRead:
		buf := req.Data
		if buf == nil {
			buf, err = e.readBuffer(req.Start, req.Length)
			if err != nil {
				return Result{Kind: KindRead, Err: err}
			}
		}
		return e.read(ctx, req.Start, buf)
	case KindErase:
		return e.erase(ctx, req.Start, req.Length)
	case KindProgram:
		return e.program(ctx, req.Start, req.Data)
	}
	return e.verify(ctx, req.Start, req.Data)
}

// detected reports whether chip is the cached descriptor.
func (e *Engine) detected(chip *chipdb.Descriptor) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chip != nil && e.chip.Key() == chip.Key()
}

func stateFor(k Kind) State {
	switch k {
	case KindRead:
		return StateReading
	case KindErase:
		return StateErasing
	case KindProgram:
		return StateProgramming
	case KindVerify:
		return StateVerifying
	}
	return StateDetecting
}

// reportProgress calls the progress callback if configured.
func (e *Engine) reportProgress(p Progress) {
	if e.config.ProgressCallback != nil {
		e.config.ProgressCallback(p)
	}
}

// logDebug logs a debug message if logger is configured.
func (e *Engine) logDebug(msg string, keysAndValues ...interface{}) {
	if e.config.Logger != nil {
		e.config.Logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if logger is configured.
func (e *Engine) logInfo(msg string, keysAndValues ...interface{}) {
	if e.config.Logger != nil {
		e.config.Logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is configured.
func (e *Engine) logError(msg string, keysAndValues ...interface{}) {
	if e.config.Logger != nil {
		e.config.Logger.Error(msg, keysAndValues...)
	}
}
