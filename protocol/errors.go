package protocol

import "fmt"

// CommandError represents a failure reported by the chip in a status byte.
type CommandError struct {
	// Operation is the command that failed
	Operation string

	// Status is the status byte read after the command
	Status byte
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s failed: %s (0x%02X)", e.Operation, getStatusName(e.Status), e.Status)
}

// IsCommandError returns true if the error is a CommandError.
func IsCommandError(err error) bool {
	_, ok := err.(*CommandError)
	return ok
}

// getStatusName returns a human-readable name for a NAND status byte.
func getStatusName(status byte) string {
	switch {
	case status&NANDStatusProgramFail != 0:
		return "program failure"
	case status&NANDStatusEraseFail != 0:
		return "erase failure"
	case status&NANDStatusOIP != 0:
		return "operation in progress"
	case status == 0:
		return "success"
	default:
		return fmt.Sprintf("unknown status 0x%02X", status)
	}
}
