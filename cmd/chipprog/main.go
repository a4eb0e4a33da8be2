// Command chipprog drives a CH341A programmer from the command line.
//
// Usage:
//
//	chipprog detect
//	chipprog read -o dump.bin
//	chipprog write --erase --verify firmware.bin
//	chipprog status read 1
//	chipprog --adapter sim --sim-chip Atmel/AT24C02 shell
//
// Interrupting a running command aborts the operation between units.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/moffa90/go-chipprog/errcode"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := newApp(os.Stdout, os.Stderr)
	err := newRootCommand(a).ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error [%s]: %v\n", errcode.Of(err), err)
		stop()
		os.Exit(1)
	}
}
