package programmer

import (
	"context"
	"errors"

	"github.com/moffa90/go-chipprog/chipdb"
	"github.com/moffa90/go-chipprog/discovery"
	"github.com/moffa90/go-chipprog/errcode"
	"github.com/moffa90/go-chipprog/register"
)

// Metadata is the result of ReadSFDP.
type Metadata struct {
	// SFDP is the decoded parameter space
	SFDP *discovery.SFDP

	// FromDescriptor is set when the chip has no SFDP space and the values
	// were taken from the detected descriptor instead
	FromDescriptor bool
}

// run executes fn as one guarded operation.
func (e *Engine) run(ctx context.Context, s State, fn func(ctx context.Context) error) error {
	ctx, err := e.begin(ctx, s)
	if err != nil {
		return err
	}
	defer e.finish()

	if err := checkpoint(ctx); err != nil {
		return err
	}
	return e.classify(ctx, fn(ctx))
}

// ReadStatus reads status register idx (0 for SR1) of the detected chip.
// The value is remembered so that WriteStatus can modify it.
//
// Example:
//
//	st, err := engine.ReadStatus(ctx, 1)
//	if qe, _ := st.Bit("QE"); qe {
//	    fmt.Println("quad enabled")
//	}
func (e *Engine) ReadStatus(ctx context.Context, idx int) (register.Status, error) {
	var st register.Status
	err := e.run(ctx, StateReading, func(ctx context.Context) error {
		if e.status == nil {
			return notDetected()
		}
		var err error
		st, err = e.status.Read(ctx, idx)
		return err
	})
	if err != nil {
		e.logError("Status register read failed", "register", idx, "error", err)
	}
	return st, err
}

// WriteStatus applies changes to status register idx. The register must
// have been read since the last Detect; otherwise the call fails with
// errcode.PrecededByReadRequired and nothing is sent.
//
// Example:
//
//	if _, err := engine.ReadStatus(ctx, 0); err != nil {
//	    return err
//	}
//	st, err := engine.WriteStatus(ctx, 0, register.Changes{2: false, 3: false, 4: false})
func (e *Engine) WriteStatus(ctx context.Context, idx int, changes register.Changes) (register.Status, error) {
	var st register.Status
	err := e.run(ctx, StateProgramming, func(ctx context.Context) error {
		if e.status == nil {
			return notDetected()
		}
		var err error
		st, err = e.status.Write(ctx, idx, changes)
		return err
	})
	if err != nil {
		e.logError("Status register write failed", "register", idx, "error", err)
		return st, err
	}
	e.logInfo("Status register written", "register", idx, "value", st.Raw)
	return st, nil
}

// ReadSecurity returns security register sector idx.
func (e *Engine) ReadSecurity(ctx context.Context, idx int) ([]byte, error) {
	var data []byte
	err := e.run(ctx, StateReading, func(ctx context.Context) error {
		if e.security == nil {
			return notDetected()
		}
		var err error
		data, err = e.security.Read(ctx, idx)
		return err
	})
	if err != nil {
		e.logError("Security register read failed", "register", idx, "error", err)
	}
	return data, err
}

// EraseSecurity erases security register sector idx.
func (e *Engine) EraseSecurity(ctx context.Context, idx int) error {
	err := e.run(ctx, StateErasing, func(ctx context.Context) error {
		if e.security == nil {
			return notDetected()
		}
		return e.security.Erase(ctx, idx)
	})
	if err != nil {
		e.logError("Security register erase failed", "register", idx, "error", err)
	}
	return err
}

// WriteSecurity replaces security register sector idx with data. Data
// larger than the sector fails with errcode.SizeExceeded before anything is
// sent.
//
// Example:
//
//	err := engine.WriteSecurity(ctx, 0, []byte("SN-000142"))
func (e *Engine) WriteSecurity(ctx context.Context, idx int, data []byte) error {
	err := e.run(ctx, StateProgramming, func(ctx context.Context) error {
		if e.security == nil {
			return notDetected()
		}
		return e.security.Write(ctx, idx, data)
	})
	if err != nil {
		e.logError("Security register write failed", "register", idx, "error", err)
	}
	return err
}

// ReadJEDEC reads the JEDEC ID from the SPI bus. No detection is needed.
func (e *Engine) ReadJEDEC(ctx context.Context) (discovery.JedecID, error) {
	var id discovery.JedecID
	err := e.run(ctx, StateReading, func(ctx context.Context) error {
		adapter, err := e.connect()
		if err != nil {
			return err
		}
		id, err = discovery.ReadJEDEC(adapter.SPI())
		return err
	})
	return id, err
}

// ReadUniqueID reads the factory unique ID from the SPI bus.
func (e *Engine) ReadUniqueID(ctx context.Context) (discovery.UniqueID, error) {
	var uid discovery.UniqueID
	err := e.run(ctx, StateReading, func(ctx context.Context) error {
		adapter, err := e.connect()
		if err != nil {
			return err
		}
		uid, err = discovery.ReadUniqueID(adapter.SPI())
		return err
	})
	return uid, err
}

// ReadSFDP reads the discoverable parameters. When the chip has none and a
// chip was detected, the descriptor's values are returned instead; without
// a detected chip the call fails with errcode.SfdpUnsupported.
//
// Example:
//
//	md, err := engine.ReadSFDP(ctx)
//	if err != nil {
//	    return err
//	}
//	fmt.Print(discovery.Summary(md.SFDP))
func (e *Engine) ReadSFDP(ctx context.Context) (*Metadata, error) {
	var md *Metadata
	err := e.run(ctx, StateReading, func(ctx context.Context) error {
		adapter, err := e.connect()
		if err != nil {
			return err
		}
		s, err := discovery.ReadSFDP(adapter.SPI())
		if err == nil {
			md = &Metadata{SFDP: s}
			return nil
		}
		if errcode.Of(err) != errcode.SfdpUnsupported || e.chip == nil {
			return err
		}
		e.logInfo("No SFDP, using descriptor values", "chip", e.chip.String())
		md = &Metadata{SFDP: descriptorSFDP(*e.chip), FromDescriptor: true}
		return nil
	})
	return md, err
}

// descriptorSFDP fills the decoded fields from a descriptor.
func descriptorSFDP(chip chipdb.Descriptor) *discovery.SFDP {
	addr := "3"
	if chip.FourByteAddressing() {
		addr = "4"
	}
	s := &discovery.SFDP{
		Capacity:       uint64(chip.Size),
		EraseBlockSize: chip.BlockSize,
		PageSize:       chip.PageSize,
		AddressBytes:   addr,
		OTP:            chip.SecurityRegisters > 0,
	}
	if chip.Voltage > 0 {
		s.VCCMin = chip.Voltage
		s.VCCMax = chip.Voltage
	}
	return s
}

func notDetected() error {
	return errcode.Wrap(errcode.NotDetected, errors.New("run Detect before this operation"))
}
