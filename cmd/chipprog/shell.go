package main

import (
	"bufio"
	"fmt"
	"io"

	"github.com/google/shlex"
	"github.com/spf13/cobra"

	"github.com/moffa90/go-chipprog/errcode"
)

const shellPrompt = "chipprog> "

func newShellCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Run commands against one engine session",
		Long: "Read commands from standard input, one per line, against a single engine. " +
			"The detected chip and the status registers read so far are kept between lines. " +
			"Type 'exit' to leave.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.interactive = true
			defer func() { a.interactive = false }()
			return a.shell(cmd, cmd.InOrStdin())
		},
	}
}

// shell executes lines from in until EOF or "exit". A failing line is
// reported and the session continues.
func (a *app) shell(cmd *cobra.Command, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(a.out, shellPrompt)
		if !scanner.Scan() {
			fmt.Fprintln(a.out)
			return scanner.Err()
		}
		args, err := shlex.Split(scanner.Text())
		if err != nil {
			fmt.Fprintf(a.err, "error: %v\n", err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "exit", "quit":
			return nil
		}

		line := &cobra.Command{
			Use:           "chipprog",
			SilenceUsage:  true,
			SilenceErrors: true,
		}
		addCommands(line, a)
		line.SetArgs(args)
		line.SetOut(a.out)
		line.SetErr(a.err)
		if err := line.ExecuteContext(cmd.Context()); err != nil {
			fmt.Fprintf(a.err, "error [%s]: %v\n", errcode.Of(err), err)
		}
	}
}
