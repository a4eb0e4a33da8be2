package programmer

import (
	"fmt"
	"strings"

	"github.com/moffa90/go-chipprog/chipdb"
	"github.com/moffa90/go-chipprog/errcode"
)

// BusyError indicates that a request arrived while another operation runs.
type BusyError struct {
	Running State
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("operation in progress: engine is %s", e.Running)
}

// Is reports whether target is errcode.Busy.
func (e *BusyError) Is(target error) bool { return target == errcode.Busy }

// Kind returns errcode.Busy.
func (e *BusyError) Kind() errcode.Code { return errcode.Busy }

// SizeError indicates that a buffer does not fit the chip from its start address.
type SizeError struct {
	Start  uint32
	Length int
	Size   uint32
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("%d bytes at 0x%06X exceed chip size %d: split the data",
		e.Length, e.Start, e.Size)
}

// Is reports whether target is errcode.SizeExceeded.
func (e *SizeError) Is(target error) bool { return target == errcode.SizeExceeded }

// Kind returns errcode.SizeExceeded.
func (e *SizeError) Kind() errcode.Code { return errcode.SizeExceeded }

// RangeError indicates that a read, erase or verify range lies outside the chip.
type RangeError struct {
	Start  uint32
	Length uint32
	Size   uint32
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range 0x%06X+%d is outside the %d-byte chip", e.Start, e.Length, e.Size)
}

// Is reports whether target is errcode.OutOfRange.
func (e *RangeError) Is(target error) bool { return target == errcode.OutOfRange }

// Kind returns errcode.OutOfRange.
func (e *RangeError) Kind() errcode.Code { return errcode.OutOfRange }

// AmbiguousIdentityError is the non-fatal warning attached to a detection
// whose identity matched more than one descriptor.
type AmbiguousIdentityError struct {
	ID         chipdb.JEDEC
	Selected   chipdb.Descriptor
	Candidates []chipdb.Descriptor
}

func (e *AmbiguousIdentityError) Error() string {
	names := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		names[i] = c.String()
	}
	return fmt.Sprintf("identity %s matches %s; selected %s",
		e.ID, strings.Join(names, ", "), e.Selected)
}

// Is reports whether target is errcode.AmbiguousIdentity.
func (e *AmbiguousIdentityError) Is(target error) bool { return target == errcode.AmbiguousIdentity }

// Kind returns errcode.AmbiguousIdentity.
func (e *AmbiguousIdentityError) Kind() errcode.Code { return errcode.AmbiguousIdentity }
