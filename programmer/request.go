package programmer

import (
	"time"

	"github.com/moffa90/go-chipprog/chipdb"
	"github.com/moffa90/go-chipprog/discovery"
	"github.com/moffa90/go-chipprog/errcode"
)

// Kind selects the operation of a Request.
type Kind int

const (
	KindDetect Kind = iota
	KindRead
	KindErase
	KindProgram
	KindVerify
)

func (k Kind) String() string {
	switch k {
	case KindDetect:
		return "detect"
	case KindRead:
		return "read"
	case KindErase:
		return "erase"
	case KindProgram:
		return "program"
	case KindVerify:
		return "verify"
	}
	return "unknown"
}

// Request describes one operation for Execute.
type Request struct {
	// Kind is the operation to run
	Kind Kind

	// Chip is the target descriptor. When it differs from the detected chip
	// (or nothing was detected yet) Execute detects it first. Nil uses the
	// detected chip, or identifies one by JEDEC ID for KindDetect.
	Chip *chipdb.Descriptor

	// Start is the first chip address
	Start uint32

	// Length is the number of bytes for Read and Erase; zero runs to the end
	// of the chip. Ignored when Data is set.
	Length uint32

	// Data is the source buffer for Program and Verify, and the optional
	// destination buffer for Read
	Data []byte
}

// DetectResult is the outcome of a successful detection.
type DetectResult struct {
	// Chip is the resolved descriptor, now cached by the engine
	Chip chipdb.Descriptor

	// JEDEC is the identity read from the chip, nil when the family has none
	JEDEC *discovery.JedecID

	// Candidates lists every descriptor that shared the identity
	Candidates []chipdb.Descriptor

	// Warning is a non-fatal finding, e.g. an *AmbiguousIdentityError
	Warning error
}

// Result is the terminal outcome of an operation.
type Result struct {
	// Kind is the operation that ran
	Kind Kind

	// Success is set when the whole range was processed
	Success bool

	// BytesProcessed counts the bytes read, erased, written or compared
	BytesProcessed int

	// CRC32 is the IEEE CRC-32 of the transferred data
	CRC32 uint32

	// FailingAddress is the block, page or byte address that failed
	FailingAddress    uint32
	HasFailingAddress bool

	// Err is the failure; errcode.Of(Err) gives its kind
	Err error

	// Data is the read buffer for KindRead
	Data []byte

	// Detect is set for KindDetect
	Detect *DetectResult

	// Elapsed is the wall time of the operation
	Elapsed time.Duration
}

// Code returns the error kind of the result, errcode.OK on success.
func (r Result) Code() errcode.Code {
	return errcode.Of(r.Err)
}

// failAt records err and the failing address.
func (r *Result) failAt(addr uint32, err error) {
	r.Success = false
	r.Err = err
	r.FailingAddress = addr
	r.HasFailingAddress = true
}

// fail records err. An address carried by err is reported as the failing
// address.
func (r *Result) fail(err error) {
	r.Success = false
	r.Err = err
	if addr, ok := errcode.AddressOf(err); ok {
		r.FailingAddress = addr
		r.HasFailingAddress = true
	}
}
