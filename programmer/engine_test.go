package programmer

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/moffa90/go-chipprog/chipdb"
	"github.com/moffa90/go-chipprog/errcode"
	"github.com/moffa90/go-chipprog/protocol"
	"github.com/moffa90/go-chipprog/sim"
)

// MockLogger collects messages for assertions
type MockLogger struct {
	mu        sync.Mutex
	debugMsgs []string
	infoMsgs  []string
	errorMsgs []string
}

func (l *MockLogger) Debug(msg string, kv ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugMsgs = append(l.debugMsgs, msg)
}

func (l *MockLogger) Info(msg string, kv ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoMsgs = append(l.infoMsgs, msg)
}

func (l *MockLogger) Error(msg string, kv ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorMsgs = append(l.errorMsgs, msg)
}

func lookup(t *testing.T, manufacturer, name string) chipdb.Descriptor {
	t.Helper()
	db, err := chipdb.Default()
	if err != nil {
		t.Fatalf("Default() error: %v", err)
	}
	chip, err := db.Lookup(manufacturer, name)
	if err != nil {
		t.Fatalf("Lookup(%s/%s) error: %v", manufacturer, name, err)
	}
	return chip
}

// bench is an engine wired to one simulated part.
type bench struct {
	chip    chipdb.Descriptor
	adapter *sim.Adapter
	part    sim.Part
	engine  *Engine
}

func newBench(t *testing.T, manufacturer, name string, opts ...Option) *bench {
	t.Helper()
	chip := lookup(t, manufacturer, name)
	a, part, err := sim.Socket(chip, 2)
	if err != nil {
		t.Fatalf("Socket error: %v", err)
	}
	return &bench{
		chip:    chip,
		adapter: a,
		part:    part,
		engine:  New(a.Opener(), append([]Option{WithPollInterval(0)}, opts...)...),
	}
}

// flashBench plugs a simulated SPI flash and gives direct access to it.
func flashBench(t *testing.T, manufacturer, name string, opts ...Option) (*bench, *sim.Flash) {
	t.Helper()
	chip := lookup(t, manufacturer, name)
	f := sim.NewFlash(chip)
	f.BusyPolls = 2
	a := sim.New(sim.WithSPI(f))
	return &bench{
		chip:    chip,
		adapter: a,
		part:    f,
		engine:  New(a.Opener(), append([]Option{WithPollInterval(0)}, opts...)...),
	}, f
}

func (b *bench) detect(t *testing.T) {
	t.Helper()
	if _, err := b.engine.Detect(context.Background(), &b.chip); err != nil {
		t.Fatalf("Detect(%s) error: %v", b.chip, err)
	}
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*7)
	}
	return b
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		options []Option
	}{
		{
			name:    "with no options",
			options: nil,
		},
		{
			name: "with all options",
			options: []Option{
				WithProgressCallback(func(p Progress) {}),
				WithLogger(&MockLogger{}),
				WithReadyTimeout(0),
				WithEraseTimeout(0, 0),
				WithPollInterval(0),
				WithVerifyAfterProgram(true),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(sim.New().Opener(), tt.options...)
			if e == nil {
				t.Fatal("New() returned nil")
			}
			if e.config.ReadyTimeout <= 0 || e.config.EraseTimeout <= 0 {
				t.Error("non-positive timeouts must keep the defaults")
			}
			if e.State() != StateIdle {
				t.Errorf("State() = %s, want idle", e.State())
			}
		})
	}
}

func TestNewWithNilOpener(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("New(nil) should panic")
		}
	}()
	New(nil)
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()
	if cfg.VerifyAfterProgram {
		t.Error("VerifyAfterProgram should default to false")
	}
	if cfg.ChipEraseTimeout <= cfg.EraseTimeout {
		t.Errorf("ChipEraseTimeout %v should exceed EraseTimeout %v", cfg.ChipEraseTimeout, cfg.EraseTimeout)
	}
	if cfg.ProgressCallback != nil || cfg.Logger != nil || cfg.Database != nil {
		t.Error("optional hooks should default to nil")
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateDetecting, "detecting"},
		{StateReading, "reading"},
		{StateErasing, "erasing"},
		{StateProgramming, "programming"},
		{StateVerifying, "verifying"},
		{StateAborted, "aborted"},
		{State(42), "State(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}

func TestDetectByJEDEC(t *testing.T) {
	tests := []struct {
		name         string
		manufacturer string
		part         string
		jedec        *[3]byte
		want         string
		ambiguous    bool
	}{
		{name: "exact capacity match", manufacturer: "Winbond", part: "W25Q32", want: "W25Q32"},
		{name: "shared identity", manufacturer: "Winbond", part: "W25Q128JV", want: "W25Q128FV", ambiguous: true},
		{name: "no capacity match", manufacturer: "Winbond", part: "W25Q32", jedec: &[3]byte{0xEF, 0x40, 0x1A}, want: "W25Q80", ambiguous: true},
		{name: "other vendor", manufacturer: "Macronix", part: "MX25L6405", want: "MX25L6405"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, f := flashBench(t, tt.manufacturer, tt.part)
			if tt.jedec != nil {
				f.JEDEC = *tt.jedec
			}

			res, err := b.engine.Detect(context.Background(), nil)
			if err != nil {
				t.Fatalf("Detect error: %v", err)
			}
			if res.Chip.Name != tt.want {
				t.Errorf("Chip = %s, want %s", res.Chip.Name, tt.want)
			}
			if got := errors.Is(res.Warning, errcode.AmbiguousIdentity); got != tt.ambiguous {
				t.Errorf("ambiguous warning = %v (%v), want %v", got, res.Warning, tt.ambiguous)
			}
			if res.JEDEC == nil || res.JEDEC.Bytes() != f.JEDEC {
				t.Errorf("JEDEC = %v, want % X", res.JEDEC, f.JEDEC)
			}
			if tt.ambiguous {
				var ae *AmbiguousIdentityError
				if !errors.As(res.Warning, &ae) || len(ae.Candidates) < 2 {
					t.Errorf("warning = %#v, want candidates", res.Warning)
				}
			}
			if chip, ok := b.engine.Chip(); !ok || chip.Name != tt.want {
				t.Errorf("cached chip = %v, %v", chip, ok)
			}
		})
	}
}

func TestDetectFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown identity", func(t *testing.T) {
		b, f := flashBench(t, "Winbond", "W25Q32")
		f.JEDEC = [3]byte{0x12, 0x34, 0x56}
		if _, err := b.engine.Detect(ctx, nil); !errors.Is(err, errcode.UnsupportedChip) {
			t.Errorf("Detect error = %v, want UnsupportedChip", err)
		}
	})

	t.Run("empty socket", func(t *testing.T) {
		e := New(sim.New().Opener(), WithPollInterval(0))
		if _, err := e.Detect(ctx, nil); errcode.Of(err) != errcode.ReadError {
			t.Errorf("Detect error = %v, want ReadError", err)
		}
	})

	t.Run("missing EEPROM", func(t *testing.T) {
		chip := lookup(t, "Atmel", "AT24C02")
		part := sim.NewI2CEEPROM(chip)
		part.Absent = true
		e := New(sim.New(sim.WithI2C(part)).Opener())
		if _, err := e.Detect(ctx, &chip); !errors.Is(err, errcode.ChipMissing) {
			t.Errorf("Detect error = %v, want ChipMissing", err)
		}
		if _, ok := e.Chip(); ok {
			t.Error("failed detection left a chip cached")
		}
	})

	t.Run("empty MicroWire socket", func(t *testing.T) {
		chip := lookup(t, "Microchip", "93C46")
		e := New(sim.New().Opener(), WithPollInterval(0))
		if _, err := e.Detect(ctx, &chip); err != nil {
			t.Fatalf("Detect error = %v, want success without an acknowledge", err)
		}
		buf := make([]byte, chip.Size)
		if r := e.Read(ctx, 0, buf); !r.Success {
			t.Fatalf("Read error: %v", r.Err)
		}
		if !protocol.IsErased(buf, chip.ErasedValue()) {
			t.Errorf("empty socket read % X, want erased data", buf[:8])
		}
	})

	t.Run("unplugged", func(t *testing.T) {
		b := newBench(t, "Winbond", "W25Q32")
		b.adapter.Unplug()
		if _, err := b.engine.Detect(ctx, nil); !errors.Is(err, errcode.Disconnected) {
			t.Errorf("Detect error = %v, want Disconnected", err)
		}
		b.adapter.Plug()
		if _, err := b.engine.Detect(ctx, nil); err != nil {
			t.Errorf("Detect after replug error: %v", err)
		}
	})

	t.Run("failure forgets previous chip", func(t *testing.T) {
		b := newBench(t, "Winbond", "W25Q32")
		b.detect(t)
		b.adapter.Unplug()
		if _, err := b.engine.Detect(ctx, &b.chip); err == nil {
			t.Fatal("Detect on unplugged adapter succeeded")
		}
		if _, ok := b.engine.Chip(); ok {
			t.Error("chip still cached after failed detection")
		}
		if r := b.engine.Read(ctx, 0, make([]byte, 16)); r.Code() != errcode.NotDetected {
			t.Errorf("Read error = %v, want NotDetected", r.Err)
		}
	})
}

func TestDetectTarget(t *testing.T) {
	ctx := context.Background()

	b := newBench(t, "Atmel", "AT24C02")
	res, err := b.engine.Detect(ctx, &b.chip)
	if err != nil {
		t.Fatalf("Detect error: %v", err)
	}
	if res.JEDEC != nil || res.Warning != nil {
		t.Errorf("EEPROM detection = %+v, want no identity and no warning", res)
	}
	if b.chip.Speed > 0 && b.adapter.Speed() != b.chip.Speed {
		t.Errorf("bus speed = %d kHz, want %d", b.adapter.Speed(), b.chip.Speed)
	}

	// a flash target that answers with another identity is kept, with a warning
	fb, _ := flashBench(t, "Winbond", "W25Q32")
	other := lookup(t, "Winbond", "W25Q64")
	res, err = fb.engine.Detect(ctx, &other)
	if err != nil {
		t.Fatalf("Detect error: %v", err)
	}
	if res.Chip.Name != "W25Q64" || res.Warning == nil {
		t.Errorf("Detect = %s, warning %v; want W25Q64 with a warning", res.Chip.Name, res.Warning)
	}
}

func TestNotDetected(t *testing.T) {
	ctx := context.Background()
	e := New(sim.New().Opener())

	results := []Result{
		e.Read(ctx, 0, make([]byte, 4)),
		e.Erase(ctx, 0, 0),
		e.Program(ctx, 0, []byte{1}),
		e.Verify(ctx, 0, []byte{1}),
	}
	for _, r := range results {
		if r.Code() != errcode.NotDetected {
			t.Errorf("%s error = %v, want NotDetected", r.Kind, r.Err)
		}
	}
	if _, err := e.ReadStatus(ctx, 0); !errors.Is(err, errcode.NotDetected) {
		t.Errorf("ReadStatus error = %v, want NotDetected", err)
	}
	if err := e.WriteSecurity(ctx, 0, []byte{1}); !errors.Is(err, errcode.NotDetected) {
		t.Errorf("WriteSecurity error = %v, want NotDetected", err)
	}
}

func TestBusyRejection(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	b := newBench(t, "Winbond", "W25Q32", WithProgressCallback(func(p Progress) {
		if p.Phase == PhaseReading {
			once.Do(func() {
				close(started)
				<-release
			})
		}
	}))
	b.detect(t)

	done := make(chan Result)
	go func() {
		done <- b.engine.Read(ctx, 0, make([]byte, 2*b.chip.BlockSize))
	}()
	<-started

	if b.engine.State() != StateReading {
		t.Errorf("State() = %s, want reading", b.engine.State())
	}

	r := b.engine.Erase(ctx, 0, 0)
	var be *BusyError
	if !errors.As(r.Err, &be) || be.Running != StateReading {
		t.Errorf("Erase while reading error = %v, want BusyError", r.Err)
	}
	if r.Code() != errcode.Busy {
		t.Errorf("Erase code = %s, want Busy", r.Code())
	}
	if _, err := b.engine.Detect(ctx, nil); !errors.Is(err, errcode.Busy) {
		t.Errorf("Detect while reading error = %v, want Busy", err)
	}
	if _, err := b.engine.ReadJEDEC(ctx); !errors.Is(err, errcode.Busy) {
		t.Errorf("ReadJEDEC while reading error = %v, want Busy", err)
	}
	if err := b.engine.Close(); !errors.Is(err, errcode.Busy) {
		t.Errorf("Close while reading error = %v, want Busy", err)
	}

	close(release)
	if res := <-done; !res.Success {
		t.Errorf("Read error: %v", res.Err)
	}
	if b.engine.State() != StateIdle {
		t.Errorf("State() after read = %s, want idle", b.engine.State())
	}
}

func TestAbortMidErase(t *testing.T) {
	ctx := context.Background()
	var b *bench
	b = newBench(t, "Winbond", "W25Q32", WithProgressCallback(func(p Progress) {
		if p.Phase == PhaseErasing && p.CurrentUnit == 4 {
			if !b.engine.Abort() {
				t.Error("Abort() = false during erase")
			}
		}
	}))
	b.detect(t)

	block := b.chip.BlockSize
	b.part.Poke(0, make([]byte, 10*block))

	res := b.engine.Erase(ctx, 0, 10*block)
	if res.Code() != errcode.Aborted {
		t.Fatalf("Erase code = %s (%v), want Aborted", res.Code(), res.Err)
	}
	if res.BytesProcessed != int(4*block) {
		t.Errorf("BytesProcessed = %d, want %d", res.BytesProcessed, 4*block)
	}

	for i := uint32(0); i < 10; i++ {
		data := b.part.Peek(i*block, int(block))
		erased := slices.IndexFunc(data, func(v byte) bool { return v != 0xFF }) < 0
		untouched := slices.IndexFunc(data, func(v byte) bool { return v != 0x00 }) < 0
		switch {
		case i <= 3 && !erased:
			t.Errorf("block %d not erased", i)
		case i > 3 && !untouched:
			t.Errorf("block %d modified after abort", i)
		}
	}

	if b.engine.State() != StateIdle {
		t.Errorf("State() = %s, want idle after abort", b.engine.State())
	}
	if b.engine.Abort() {
		t.Error("Abort() on an idle engine = true")
	}

	// the engine accepts the next request
	if r := b.engine.Erase(ctx, 4*block, block); !r.Success {
		t.Errorf("Erase after abort error: %v", r.Err)
	}
}

func TestContextCancel(t *testing.T) {
	b := newBench(t, "Winbond", "W25Q32")
	b.detect(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := b.engine.Read(ctx, 0, make([]byte, b.chip.BlockSize))
	if res.Code() != errcode.Aborted {
		t.Errorf("Read with cancelled context code = %s, want Aborted", res.Code())
	}
	if res.BytesProcessed != 0 {
		t.Errorf("BytesProcessed = %d, want 0", res.BytesProcessed)
	}
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	b := newBench(t, "Atmel", "AT24C02")
	data := pattern(40, 0x10)

	// naming an undetected chip detects it first
	res := b.engine.Execute(ctx, Request{Kind: KindRead, Chip: &b.chip})
	if !res.Success {
		t.Fatalf("Execute(read) error: %v", res.Err)
	}
	if len(res.Data) != int(b.chip.Size) {
		t.Errorf("read %d bytes, want %d", len(res.Data), b.chip.Size)
	}
	if b.adapter.Opens() != 1 {
		t.Errorf("Opens() = %d, want 1", b.adapter.Opens())
	}

	steps := []Request{
		{Kind: KindErase, Chip: &b.chip},
		{Kind: KindProgram, Chip: &b.chip, Start: 20, Data: data},
		{Kind: KindVerify, Start: 20, Data: data},
	}
	for _, req := range steps {
		if r := b.engine.Execute(ctx, req); !r.Success || r.Kind != req.Kind {
			t.Fatalf("Execute(%s) = %+v", req.Kind, r)
		}
	}

	buf := make([]byte, len(data))
	if r := b.engine.Execute(ctx, Request{Kind: KindRead, Start: 20, Data: buf}); !r.Success {
		t.Fatalf("Execute(read into) error: %v", r.Err)
	}
	if !slices.Equal(buf, data) {
		t.Errorf("read back % X, want % X", buf, data)
	}

	before := b.adapter.Transactions()
	if r := b.engine.Execute(ctx, Request{Kind: Kind(99)}); r.Code() != errcode.InvalidFormat {
		t.Errorf("unknown kind code = %s, want InvalidFormat", r.Code())
	}
	if b.adapter.Transactions() != before {
		t.Error("unknown kind reached the bus")
	}

	r := b.engine.Execute(ctx, Request{Kind: KindDetect, Chip: &b.chip})
	if !r.Success || r.Detect == nil || r.Detect.Chip.Name != "AT24C02" {
		t.Errorf("Execute(detect) = %+v", r)
	}
}

func TestLogging(t *testing.T) {
	logger := &MockLogger{}
	b := newBench(t, "Winbond", "W25Q32", WithLogger(logger))
	b.detect(t)
	b.engine.Read(context.Background(), 0, make([]byte, 256))

	for _, want := range []string{"Chip detected", "Reading", "Read complete"} {
		if !slices.Contains(logger.infoMsgs, want) {
			t.Errorf("info messages %q missing %q", logger.infoMsgs, want)
		}
	}

	b.adapter.Unplug()
	b.engine.Detect(context.Background(), nil)
	if len(logger.errorMsgs) == 0 {
		t.Error("failed detection logged no error")
	}
}

func TestSecurityLogging(t *testing.T) {
	ctx := context.Background()
	logger := &MockLogger{}
	b := newBench(t, "Winbond", "W25Q32", WithLogger(logger))
	b.detect(t)

	if _, err := b.engine.ReadSecurity(ctx, 9); err == nil {
		t.Fatal("ReadSecurity(9) succeeded")
	}
	if err := b.engine.EraseSecurity(ctx, 9); err == nil {
		t.Fatal("EraseSecurity(9) succeeded")
	}
	for _, want := range []string{"Security register read failed", "Security register erase failed"} {
		if !slices.Contains(logger.errorMsgs, want) {
			t.Errorf("error messages %q missing %q", logger.errorMsgs, want)
		}
	}
}
