// Package errcode defines the error kinds reported by the programmer.
//
// Every failure surfaced by the engine carries exactly one Code. Callers
// distinguish "no device" from "wrong chip" from "data mismatch" with
// errors.Is or Of:
//
//	if errors.Is(err, errcode.Disconnected) {
//	    // prompt the user to plug the adapter in
//	}
//
//	switch errcode.Of(err) {
//	case errcode.VerifyMismatch:
//	    var m *errcode.MismatchError
//	    errors.As(err, &m)
//	}
package errcode

import (
	"errors"
	"fmt"
)

// Code is a stable error kind. It is comparable and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Error kinds.
const (
	OK Code = "ok"

	Disconnected           Code = "adapter disconnected"
	UnsupportedChip        Code = "unsupported chip"
	AmbiguousIdentity      Code = "ambiguous chip identity"
	ChipMissing            Code = "chip is not connected or missing"
	NotDetected            Code = "chip not detected"
	ReadError              Code = "read error"
	WriteError             Code = "write error"
	EraseError             Code = "erase error"
	VerifyMismatch         Code = "verify mismatch"
	ChecksumError          Code = "checksum error"
	SizeExceeded           Code = "size exceeded"
	OutOfRange             Code = "address out of range"
	InvalidFormat          Code = "invalid format"
	PrecededByReadRequired Code = "register must be read before it is written"
	SfdpUnsupported        Code = "SFDP not supported"
	Timeout                Code = "timeout"
	Aborted                Code = "operation aborted"
	Busy                   Code = "operation in progress"

	Error Code = "error" // generic fallback
)

// AddressError is a failure tied to a chip address.
type AddressError struct {
	// Code is the error kind (ReadError, WriteError, EraseError, ...)
	Code Code

	// Op names the failing step, e.g. "read block"
	Op string

	// Address is the first address of the failing unit
	Address uint32

	// Err is the underlying cause, if any
	Err error
}

func (e *AddressError) Error() string {
	msg := fmt.Sprintf("%s at 0x%06X", e.Code, e.Address)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AddressError) Unwrap() error { return e.Err }

// Is reports whether target is this error's Code.
func (e *AddressError) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.Code
}

// Kind returns the error kind.
func (e *AddressError) Kind() Code { return e.Code }

// MismatchError is the first divergence found while verifying.
type MismatchError struct {
	Address  uint32
	Expected byte
	Actual   byte
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("verify mismatch at 0x%06X: expected 0x%02X, chip has 0x%02X",
		e.Address, e.Expected, e.Actual)
}

// Is reports whether target is VerifyMismatch.
func (e *MismatchError) Is(target error) bool { return target == VerifyMismatch }

// Kind returns VerifyMismatch.
func (e *MismatchError) Kind() Code { return VerifyMismatch }

// At builds an AddressError.
func At(code Code, op string, addr uint32, err error) error {
	return &AddressError{Code: code, Op: op, Address: addr, Err: err}
}

// Wrap attaches a kind to err while keeping err in the chain.
func Wrap(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &kinded{code: code, err: err}
}

type kinded struct {
	code Code
	err  error
}

func (k *kinded) Error() string        { return string(k.code) + ": " + k.err.Error() }
func (k *kinded) Unwrap() error        { return k.err }
func (k *kinded) Kind() Code           { return k.code }
func (k *kinded) Is(target error) bool { return target == k.code }

// Of extracts the kind from err, defaulting to Error.
// The outermost kind in the chain wins.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	type kinder interface{ Kind() Code }
	for e := err; e != nil; e = errors.Unwrap(e) {
		if c, ok := e.(Code); ok {
			return c
		}
		if k, ok := e.(kinder); ok {
			return k.Kind()
		}
	}
	return Error
}

// AddressOf returns the failing address carried by err, if any.
func AddressOf(err error) (uint32, bool) {
	var ae *AddressError
	if errors.As(err, &ae) {
		return ae.Address, true
	}
	var me *MismatchError
	if errors.As(err, &me) {
		return me.Address, true
	}
	return 0, false
}
