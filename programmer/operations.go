package programmer

import (
	"context"
	"fmt"
	"time"

	"github.com/moffa90/go-chipprog/chipdb"
	"github.com/moffa90/go-chipprog/driver"
	"github.com/moffa90/go-chipprog/errcode"
	"github.com/moffa90/go-chipprog/protocol"
)

// Read fills buf from the detected chip starting at start.
//
// The range is read block by block in ascending order. A failing block ends
// the read: the bytes already read stay in buf, and the result carries the
// failing block address.
//
// Example:
//
//	buf := make([]byte, chip.Size)
//	res := engine.Read(ctx, 0, buf)
//	if !res.Success {
//	    return res.Err
//	}
//	fmt.Printf("CRC32 0x%08X\n", res.CRC32)
func (e *Engine) Read(ctx context.Context, start uint32, buf []byte) Result {
	ctx, err := e.begin(ctx, StateReading)
	if err != nil {
		return Result{Kind: KindRead, Err: err}
	}
	defer e.finish()

	return e.read(ctx, start, buf)
}

// Erase erases length bytes from start; zero length runs to the end of the
// chip. The range must cover whole erase blocks. A whole-chip range uses the
// chip erase instruction when the chip has one.
//
// Example:
//
//	res := engine.Erase(ctx, 0, 0)
func (e *Engine) Erase(ctx context.Context, start, length uint32) Result {
	ctx, err := e.begin(ctx, StateErasing)
	if err != nil {
		return Result{Kind: KindErase, Err: err}
	}
	defer e.finish()

	return e.erase(ctx, start, length)
}

// Program writes data from start, page by page. Data that does not fit the
// chip fails with errcode.SizeExceeded before anything is sent. Erase the
// range first on chips that need it.
//
// Example:
//
//	res := engine.Program(ctx, 0, image)
//	if errors.Is(res.Err, errcode.SizeExceeded) {
//	    // split the image
//	}
func (e *Engine) Program(ctx context.Context, start uint32, data []byte) Result {
	ctx, err := e.begin(ctx, StateProgramming)
	if err != nil {
		return Result{Kind: KindProgram, Err: err}
	}
	defer e.finish()

	return e.program(ctx, start, data)
}

// Verify reads the range back and compares it with data. The CRC-32 of both
// sides is compared first; only on a CRC mismatch is the range scanned for
// the first differing byte, reported as an *errcode.MismatchError.
//
// Example:
//
//	res := engine.Verify(ctx, 0, image)
//	var m *errcode.MismatchError
//	if errors.As(res.Err, &m) {
//	    fmt.Printf("0x%06X: want 0x%02X, chip has 0x%02X\n", m.Address, m.Expected, m.Actual)
//	}
func (e *Engine) Verify(ctx context.Context, start uint32, data []byte) Result {
	ctx, err := e.begin(ctx, StateVerifying)
	if err != nil {
		return Result{Kind: KindVerify, Err: err}
	}
	defer e.finish()

	return e.verify(ctx, start, data)
}

// readBuffer allocates the destination of a read request.
func (e *Engine) readBuffer(start, length uint32) ([]byte, error) {
	chip, _, err := e.ready()
	if err != nil {
		return nil, err
	}
	length, err = span(chip, start, length)
	if err != nil {
		return nil, err
	}
	return make([]byte, length), nil
}

// span resolves a zero length to the end of the chip and checks the range.
func span(chip chipdb.Descriptor, start, length uint32) (uint32, error) {
	if start > chip.Size {
		return 0, &RangeError{Start: start, Length: length, Size: chip.Size}
	}
	if length == 0 {
		length = chip.Size - start
	}
	if uint64(start)+uint64(length) > uint64(chip.Size) {
		return 0, &RangeError{Start: start, Length: length, Size: chip.Size}
	}
	return length, nil
}

func (e *Engine) read(ctx context.Context, start uint32, buf []byte) (res Result) {
	begin := time.Now()
	res = Result{Kind: KindRead, Data: buf}
	defer func() { res.Elapsed = time.Since(begin) }()

	chip, drv, err := e.ready()
	if err != nil {
		res.fail(err)
		return res
	}
	if uint64(start)+uint64(len(buf)) > uint64(chip.Size) {
		res.fail(&RangeError{Start: start, Length: uint32(len(buf)), Size: chip.Size})
		return res
	}

	e.logInfo("Reading", "chip", chip.String(), "start", start, "length", len(buf))
	n, crc, err := e.readRange(ctx, PhaseReading, chip, drv, start, buf, begin)
	res.BytesProcessed = n
	res.CRC32 = crc
	if err != nil {
		e.failed(&res, err)
		return res
	}

	res.Success = true
	e.complete(begin, n)
	e.logInfo("Read complete", "bytes", n, "crc32", res.CRC32, "elapsed", time.Since(begin))
	return res
}

// readRange reads buf block by block and returns the bytes read with their
// CRC-32. A failure carries the failing block address.
func (e *Engine) readRange(ctx context.Context, phase string, chip chipdb.Descriptor, drv driver.Driver,
	start uint32, buf []byte, begin time.Time) (int, uint32, error) {
	total := units(start, uint32(len(buf)), chip.BlockSize)
	crc := protocol.NewCRC32()
	done := 0
	for i := 0; done < len(buf); i++ {
		at := start + uint32(done)
		if err := checkpoint(ctx); err != nil {
			return done, crc.Sum32(), err
		}

		n := int(chunk(at, uint32(len(buf)-done), chip.BlockSize))
		if err := drv.ReadBlock(ctx, at, buf[done:done+n]); err != nil {
			err = e.classify(ctx, err)
			if errcode.Of(err) == errcode.ReadError {
				err = errcode.At(errcode.ReadError, "read block", alignDown(at, chip.BlockSize), err)
			}
			e.logError("Block read failed", "address", at, "error", err)
			return done, crc.Sum32(), err
		}
		crc.Write(buf[done : done+n])
		done += n

		e.reportProgress(Progress{
			Phase:       phase,
			Address:     at,
			CurrentUnit: i + 1,
			TotalUnits:  total,
			Percentage:  percent(i+1, total),
			Bytes:       done,
			ElapsedTime: time.Since(begin),
		})
	}
	return done, crc.Sum32(), nil
}

func (e *Engine) erase(ctx context.Context, start, length uint32) (res Result) {
	begin := time.Now()
	res = Result{Kind: KindErase}
	defer func() { res.Elapsed = time.Since(begin) }()

	chip, drv, err := e.ready()
	if err != nil {
		res.fail(err)
		return res
	}
	length, err = span(chip, start, length)
	if err != nil {
		res.fail(err)
		return res
	}
	if length == 0 {
		res.Success = true
		return res
	}

	if start == 0 && length == chip.Size && chip.ChipErase {
		if eraser, ok := drv.(driver.ChipEraser); ok {
			err := e.eraseChip(ctx, eraser, drv)
			if err == nil {
				res.Success = true
				res.BytesProcessed = int(length)
				e.reportProgress(Progress{
					Phase:       PhaseErasing,
					CurrentUnit: 1,
					TotalUnits:  1,
					Percentage:  100,
					Bytes:       int(length),
					ElapsedTime: time.Since(begin),
				})
				e.complete(begin, int(length))
				e.logInfo("Chip erased", "chip", chip.String(), "elapsed", time.Since(begin))
				return res
			}
			if k := errcode.Of(err); k == errcode.Aborted || k == errcode.Disconnected {
				e.failed(&res, err)
				return res
			}
			e.logError("Chip erase failed, erasing block by block", "error", err)
		}
	}

	if !aligned(start, chip.BlockSize) || !aligned(length, chip.BlockSize) {
		res.failAt(start, errcode.At(errcode.EraseError, "erase", start,
			fmt.Errorf("range of %d bytes is not aligned to %d-byte blocks", length, chip.BlockSize)))
		e.logError("Erase range not block aligned", "start", start, "length", length, "block", chip.BlockSize)
		return res
	}

	total := int(length / chip.BlockSize)
	e.logInfo("Erasing", "chip", chip.String(), "start", start, "blocks", total)
	for i := 0; i < total; i++ {
		at := start + uint32(i)*chip.BlockSize
		if err := checkpoint(ctx); err != nil {
			e.failed(&res, err)
			return res
		}

		err := drv.EraseBlock(ctx, at)
		if err == nil {
			err = drv.WaitUntilReady(ctx, e.config.EraseTimeout)
		}
		if err != nil {
			err = attribute(e.classify(ctx, err), errcode.EraseError, "erase block", at)
			if errcode.Of(err) != errcode.Aborted {
				res.failAt(at, err)
			} else {
				res.fail(err)
			}
			e.logError("Block erase failed", "address", at, "error", err)
			return res
		}
		res.BytesProcessed += int(chip.BlockSize)

		e.reportProgress(Progress{
			Phase:       PhaseErasing,
			Address:     at,
			CurrentUnit: i + 1,
			TotalUnits:  total,
			Percentage:  percent(i+1, total),
			Bytes:       res.BytesProcessed,
			ElapsedTime: time.Since(begin),
		})
	}

	res.Success = true
	e.complete(begin, res.BytesProcessed)
	e.logInfo("Erase complete", "bytes", res.BytesProcessed, "elapsed", time.Since(begin))
	return res
}

func (e *Engine) eraseChip(ctx context.Context, eraser driver.ChipEraser, drv driver.Driver) error {
	if err := checkpoint(ctx); err != nil {
		return err
	}
	e.logInfo("Erasing whole chip")
	if err := eraser.EraseChip(ctx); err != nil {
		return e.classify(ctx, err)
	}
	err := drv.WaitUntilReady(ctx, e.config.ChipEraseTimeout)
	return attribute(e.classify(ctx, err), errcode.EraseError, "erase chip", 0)
}

// attribute gives a failure without a kind the kind of the step that
// raised it. Status failures reported by the chip arrive this way.
func attribute(err error, code errcode.Code, op string, addr uint32) error {
	if err != nil && errcode.Of(err) == errcode.Error {
		return errcode.At(code, op, addr, err)
	}
	return err
}

func (e *Engine) program(ctx context.Context, start uint32, data []byte) (res Result) {
	begin := time.Now()
	res = Result{Kind: KindProgram}
	defer func() { res.Elapsed = time.Since(begin) }()

	chip, drv, err := e.ready()
	if err != nil {
		res.fail(err)
		return res
	}
	if uint64(start)+uint64(len(data)) > uint64(chip.Size) {
		res.fail(&SizeError{Start: start, Length: len(data), Size: chip.Size})
		e.logError("Data exceeds chip", "start", start, "length", len(data), "size", chip.Size)
		return res
	}

	total := units(start, uint32(len(data)), chip.PageSize)
	e.logInfo("Programming", "chip", chip.String(), "start", start, "pages", total)
	for i := 0; res.BytesProcessed < len(data); i++ {
		off := res.BytesProcessed
		at := start + uint32(off)
		if err := checkpoint(ctx); err != nil {
			e.failed(&res, err)
			return res
		}

		n := int(chunk(at, uint32(len(data)-off), chip.PageSize))
		err := drv.ProgramPage(ctx, at, data[off:off+n])
		if err == nil {
			err = drv.WaitUntilReady(ctx, e.config.ReadyTimeout)
		}
		if err != nil {
			err = attribute(e.classify(ctx, err), errcode.WriteError, "program page", at)
			if errcode.Of(err) != errcode.Aborted {
				res.failAt(alignDown(at, chip.PageSize), err)
			} else {
				res.fail(err)
			}
			e.logError("Page program failed", "address", at, "error", err)
			return res
		}
		res.BytesProcessed += n

		e.reportProgress(Progress{
			Phase:       PhaseProgramming,
			Address:     at,
			CurrentUnit: i + 1,
			TotalUnits:  total,
			Percentage:  percent(i+1, total),
			Bytes:       res.BytesProcessed,
			ElapsedTime: time.Since(begin),
		})
	}
	res.CRC32 = protocol.CalculateCRC32(data)

	if e.config.VerifyAfterProgram && len(data) > 0 {
		e.enter(StateVerifying)
		v := e.verify(ctx, start, data)
		if !v.Success {
			res.Err = v.Err
			res.FailingAddress = v.FailingAddress
			res.HasFailingAddress = v.HasFailingAddress
			return res
		}
	}

	res.Success = true
	e.complete(begin, res.BytesProcessed)
	e.logInfo("Program complete", "bytes", res.BytesProcessed, "crc32", res.CRC32, "elapsed", time.Since(begin))
	return res
}

func (e *Engine) verify(ctx context.Context, start uint32, data []byte) (res Result) {
	begin := time.Now()
	res = Result{Kind: KindVerify}
	defer func() { res.Elapsed = time.Since(begin) }()

	chip, drv, err := e.ready()
	if err != nil {
		res.fail(err)
		return res
	}
	if uint64(start)+uint64(len(data)) > uint64(chip.Size) {
		res.fail(&RangeError{Start: start, Length: uint32(len(data)), Size: chip.Size})
		return res
	}

	e.logInfo("Verifying", "chip", chip.String(), "start", start, "length", len(data))
	buf := make([]byte, len(data))
	n, got, err := e.readRange(ctx, PhaseVerifying, chip, drv, start, buf, begin)
	if err != nil {
		res.BytesProcessed = n
		e.failed(&res, err)
		return res
	}
	res.BytesProcessed = n
	res.CRC32 = got

	want := protocol.CalculateCRC32(data)
	if got != want {
		e.logDebug("CRC mismatch, scanning", "expected", want, "actual", got)
	}
	if err := compareImage(start, data, buf, want, got); err != nil {
		res.fail(err)
		e.logError("Verify failed", "error", err)
		return res
	}

	res.Success = true
	e.complete(begin, n)
	e.logInfo("Verify complete", "bytes", n, "crc32", got, "elapsed", time.Since(begin))
	return res
}

// compareImage checks the read-back buf against data. Equal checksums pass;
// otherwise the first differing byte is reported, or ChecksumError when the
// checksums disagree over identical bytes.
func compareImage(start uint32, data, buf []byte, want, got uint32) error {
	if got == want {
		return nil
	}
	if i := protocol.FirstDifference(data, buf); i >= 0 {
		addr := start + uint32(i)
		return &errcode.MismatchError{Address: addr, Expected: data[i], Actual: buf[i]}
	}
	return errcode.Wrap(errcode.ChecksumError,
		fmt.Errorf("crc32 0x%08X, expected 0x%08X, over identical bytes", got, want))
}

// failed records err on res, logging aborts.
func (e *Engine) failed(res *Result, err error) {
	if errcode.Of(err) == errcode.Aborted {
		e.logInfo("Operation aborted", "kind", res.Kind.String(), "bytes", res.BytesProcessed)
	}
	res.fail(err)
}

func (e *Engine) complete(begin time.Time, n int) {
	e.reportProgress(Progress{
		Phase:       PhaseComplete,
		Percentage:  100,
		Bytes:       n,
		ElapsedTime: time.Since(begin),
	})
}
