// Package programmer provides the high-level API for reading and writing
// serial memory chips through a USB bridge adapter.
//
// # Overview
//
// The Engine is a small state machine:
//
//	Idle -> Detecting -> Reading | Erasing | Programming | Verifying -> Idle
//
// with Aborted reachable from every active state. It orchestrates:
//   - Detecting the chip by JEDEC ID or from a selected descriptor
//   - Reading a range block by block
//   - Erasing whole erase blocks or the whole chip
//   - Programming page by page, waiting for each page to complete
//   - Verifying with a CRC-32 check and a byte scan on mismatch
//   - Status and security register access, JEDEC/SFDP/unique ID reads
//
// Only one operation runs at a time. A request made while another runs
// fails immediately with errcode.Busy.
//
// # Basic Usage
//
//	engine := programmer.New(transport.OpenCH341Adapter)
//	defer engine.Close()
//
//	// Identify the chip
//	res, err := engine.Detect(context.Background(), nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Erase, program and verify
//	ctx := context.Background()
//	if r := engine.Erase(ctx, 0, 0); !r.Success {
//	    log.Fatal(r.Err)
//	}
//	if r := engine.Program(ctx, 0, image); !r.Success {
//	    log.Fatal(r.Err)
//	}
//	if r := engine.Verify(ctx, 0, image); !r.Success {
//	    log.Fatal(r.Err)
//	}
//
// Chips without a JEDEC ID (EEPROMs, MicroWire) are selected from the
// database:
//
//	db, _ := chipdb.Default()
//	chip, _ := db.Lookup("Atmel", "AT24C02")
//	_, err := engine.Detect(ctx, &chip)
//
// # Progress Tracking
//
//	engine := programmer.New(opener,
//	    programmer.WithProgressCallback(func(p programmer.Progress) {
//	        fmt.Printf("[%s] %.1f%% - %d/%d\n",
//	            p.Phase, p.Percentage, p.CurrentUnit, p.TotalUnits)
//	    }),
//	)
//
// # Configuration Options
//
//	engine := programmer.New(opener,
//	    programmer.WithProgressCallback(progressFunc),
//	    programmer.WithLogger(myLogger),
//	    programmer.WithDatabase(db),
//	    programmer.WithReadyTimeout(time.Second),
//	    programmer.WithEraseTimeout(3*time.Second, 200*time.Second),
//	    programmer.WithPollInterval(time.Millisecond),
//	    programmer.WithVerifyAfterProgram(true),
//	)
//
// # Logging
//
// Integrate with any logging framework through the Logger interface:
//
//	type SlogLogger struct{ l *slog.Logger }
//
//	func (s SlogLogger) Debug(msg string, kv ...interface{}) { s.l.Debug(msg, kv...) }
//	func (s SlogLogger) Info(msg string, kv ...interface{})  { s.l.Info(msg, kv...) }
//	func (s SlogLogger) Error(msg string, kv ...interface{}) { s.l.Error(msg, kv...) }
//
// # Context Support
//
// Every operation takes a context. Cancelling it, or calling Abort, stops the
// operation at the next block, page or sector boundary. A transaction already
// on the bus always completes, and completed blocks are never rolled back.
//
//	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
//	defer cancel()
//
//	res := engine.Erase(ctx, 0, 0)
//	if res.Code() == errcode.Aborted {
//	    // blocks before res.BytesProcessed are erased
//	}
//
// # Error Handling
//
// Every failure carries one errcode kind, recovered with errcode.Of or
// errors.Is. Structured errors add context:
//   - errcode.AddressError: read, write or erase failure at an address
//   - errcode.MismatchError: first differing byte found by Verify
//   - SizeError: program data larger than the chip
//   - RangeError: range outside the chip
//   - BusyError: another operation is running
//   - AmbiguousIdentityError: non-fatal warning from Detect
//
// No failure is fatal to the engine; it returns to Idle and accepts the next
// request.
package programmer
