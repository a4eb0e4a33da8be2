package programmer

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/moffa90/go-chipprog/chipdb"
	"github.com/moffa90/go-chipprog/errcode"
)

func TestErrorMessages(t *testing.T) {
	fv := chipdb.Descriptor{Manufacturer: "Winbond", Name: "W25Q128FV"}
	jv := chipdb.Descriptor{Manufacturer: "Winbond", Name: "W25Q128JV"}

	tests := []struct {
		name     string
		err      error
		kind     errcode.Code
		contains []string
	}{
		{
			name:     "busy",
			err:      &BusyError{Running: StateErasing},
			kind:     errcode.Busy,
			contains: []string{"in progress", "erasing"},
		},
		{
			name:     "size",
			err:      &SizeError{Start: 0x1000, Length: 300, Size: 256},
			kind:     errcode.SizeExceeded,
			contains: []string{"300 bytes", "0x001000", "256"},
		},
		{
			name:     "range",
			err:      &RangeError{Start: 0x100, Length: 16, Size: 256},
			kind:     errcode.OutOfRange,
			contains: []string{"0x000100+16", "256-byte"},
		},
		{
			name: "ambiguous identity",
			err: &AmbiguousIdentityError{
				ID:         chipdb.JEDEC{0xEF, 0x40, 0x18},
				Selected:   fv,
				Candidates: []chipdb.Descriptor{fv, jv},
			},
			kind:     errcode.AmbiguousIdentity,
			contains: []string{"EF4018", "Winbond W25Q128FV, Winbond W25Q128JV", "selected Winbond W25Q128FV"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("Error() = %q, want it to contain %q", msg, s)
				}
			}
			if !errors.Is(tt.err, tt.kind) {
				t.Errorf("errors.Is(%v) = false", tt.kind)
			}
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if got := errcode.Of(wrapped); got != tt.kind {
				t.Errorf("errcode.Of = %v, want %v", got, tt.kind)
			}
		})
	}
}
