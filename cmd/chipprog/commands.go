package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/moffa90/go-chipprog/chipdb"
	"github.com/moffa90/go-chipprog/discovery"
	"github.com/moffa90/go-chipprog/programmer"
	"github.com/moffa90/go-chipprog/register"
)

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "chipprog",
		Short:         "Serial EEPROM and Flash programmer for the CH341A",
		Long:          "Detect, read, erase, program and verify 24xx, 25xx, 45xx, 93xx and SPI NAND chips through a CH341A bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.adapter, "adapter", adapterCH341, "bridge: ch341|sim")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "chip database YAML file (default: built-in)")
	root.PersistentFlags().StringVar(&a.simChip, "sim-chip", "Winbond/W25Q32", "chip in the simulated socket (with --adapter sim)")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 0, "abort a command after this long (0: no limit)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log engine activity and progress")

	addCommands(root, a)
	root.AddCommand(newShellCommand(a))
	return root
}

// addCommands attaches every chip command to parent.
func addCommands(parent *cobra.Command, a *app) {
	parent.AddCommand(
		newDetectCommand(a),
		newReadCommand(a),
		newEraseCommand(a),
		newWriteCommand(a),
		newVerifyCommand(a),
		newInfoCommand(a),
		newStatusCommand(a),
		newSecregCommand(a),
		newChipsCommand(a),
	)
}

// target resolves --chip and makes sure a chip is detected. Without
// --chip, an already detected chip is kept and otherwise the chip is
// identified by its JEDEC ID.
func (a *app) target(ctx context.Context, sel string) (*programmer.Engine, *chipdb.Descriptor, error) {
	eng, err := a.programmer()
	if err != nil {
		return nil, nil, err
	}
	chip, err := a.chip(sel)
	if err != nil {
		return nil, nil, err
	}
	if chip != nil {
		return eng, chip, nil
	}
	if _, ok := eng.Chip(); ok {
		return eng, nil, nil
	}
	res, err := eng.Detect(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	a.printWarning(res)
	return eng, nil, nil
}

// execute runs req after resolving its target.
func (a *app) execute(cmd *cobra.Command, sel string, req programmer.Request) (programmer.Result, error) {
	ctx, cancel := a.context(cmd.Context())
	defer cancel()

	eng, chip, err := a.target(ctx, sel)
	if err != nil {
		return programmer.Result{}, err
	}
	req.Chip = chip
	res := eng.Execute(ctx, req)
	return res, res.Err
}

// detected returns the descriptor of the chip detected by target.
func (a *app) detected(cmd *cobra.Command, sel string) (*programmer.Engine, chipdb.Descriptor, error) {
	ctx, cancel := a.context(cmd.Context())
	defer cancel()

	eng, chip, err := a.target(ctx, sel)
	if err != nil {
		return nil, chipdb.Descriptor{}, err
	}
	if chip != nil {
		if current, ok := eng.Chip(); !ok || current.Key() != chip.Key() {
			res, err := eng.Detect(ctx, chip)
			if err != nil {
				return nil, chipdb.Descriptor{}, err
			}
			a.printWarning(res)
		}
	}
	d, _ := eng.Chip()
	return eng, d, nil
}

func (a *app) printWarning(res *programmer.DetectResult) {
	if res != nil && res.Warning != nil {
		fmt.Fprintf(a.err, "warning: %v\n", res.Warning)
	}
}

func newDetectCommand(a *app) *cobra.Command {
	var sel string
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Identify the chip in the socket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := a.programmer()
			if err != nil {
				return err
			}
			chip, err := a.chip(sel)
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd.Context())
			defer cancel()

			res, err := eng.Detect(ctx, chip)
			if err != nil {
				return err
			}
			a.printWarning(res)
			printChip(a, res.Chip)
			if res.JEDEC != nil {
				fmt.Fprintf(a.out, "jedec:      %s\n", res.JEDEC)
			}
			if len(res.Candidates) > 1 {
				names := make([]string, len(res.Candidates))
				for i, c := range res.Candidates {
					names[i] = c.String()
				}
				fmt.Fprintf(a.out, "candidates: %s\n", strings.Join(names, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sel, "chip", "", "expected chip as manufacturer/name (default: identify by JEDEC ID)")
	return cmd
}

func printChip(a *app, d chipdb.Descriptor) {
	fmt.Fprintf(a.out, "chip:       %s\n", d)
	fmt.Fprintf(a.out, "protocol:   %s\n", d.Protocol)
	fmt.Fprintf(a.out, "size:       %d bytes\n", d.Size)
	fmt.Fprintf(a.out, "page/block: %d/%d bytes\n", d.PageSize, d.BlockSize)
}

func newReadCommand(a *app) *cobra.Command {
	var (
		sel    string
		start  uint32
		length uint32
		output string
	)
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read the chip into a file or as a hex dump",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.execute(cmd, sel, programmer.Request{
				Kind:   programmer.KindRead,
				Start:  start,
				Length: length,
			})
			if err != nil {
				return err
			}
			if output == "" {
				fmt.Fprint(a.out, hex.Dump(res.Data))
				return nil
			}
			if err := os.WriteFile(output, res.Data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			fmt.Fprintf(a.out, "read %d bytes to %s (crc32 %08x)\n", res.BytesProcessed, output, res.CRC32)
			return nil
		},
	}
	cmd.Flags().StringVar(&sel, "chip", "", "chip as manufacturer/name")
	cmd.Flags().Uint32Var(&start, "start", 0, "first address")
	cmd.Flags().Uint32Var(&length, "length", 0, "bytes to read (0: to the end of the chip)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: hex dump)")
	return cmd
}

func newEraseCommand(a *app) *cobra.Command {
	var (
		sel    string
		start  uint32
		length uint32
	)
	cmd := &cobra.Command{
		Use:   "erase",
		Short: "Erase the chip or a block-aligned range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.execute(cmd, sel, programmer.Request{
				Kind:   programmer.KindErase,
				Start:  start,
				Length: length,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "erased %d bytes in %s\n", res.BytesProcessed, res.Elapsed)
			return nil
		},
	}
	cmd.Flags().StringVar(&sel, "chip", "", "chip as manufacturer/name")
	cmd.Flags().Uint32Var(&start, "start", 0, "first address, block aligned")
	cmd.Flags().Uint32Var(&length, "length", 0, "bytes to erase (0: to the end of the chip)")
	return cmd
}

func newWriteCommand(a *app) *cobra.Command {
	var (
		sel    string
		start  uint32
		erase  bool
		verify bool
	)
	cmd := &cobra.Command{
		Use:   "write FILE",
		Short: "Program a raw binary file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if erase {
				_, chip, err := a.detected(cmd, sel)
				if err != nil {
					return err
				}
				first, length := blockSpan(chip, start, uint32(len(data)))
				if _, err := a.execute(cmd, "", programmer.Request{
					Kind:   programmer.KindErase,
					Start:  first,
					Length: length,
				}); err != nil {
					return err
				}
			}
			res, err := a.execute(cmd, sel, programmer.Request{
				Kind:  programmer.KindProgram,
				Start: start,
				Data:  data,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "programmed %d bytes at 0x%06X (crc32 %08x)\n", res.BytesProcessed, start, res.CRC32)
			if !verify {
				return nil
			}
			res, err = a.execute(cmd, sel, programmer.Request{
				Kind:  programmer.KindVerify,
				Start: start,
				Data:  data,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "verified %d bytes\n", res.BytesProcessed)
			return nil
		},
	}
	cmd.Flags().StringVar(&sel, "chip", "", "chip as manufacturer/name")
	cmd.Flags().Uint32Var(&start, "start", 0, "first address")
	cmd.Flags().BoolVar(&erase, "erase", false, "erase the covered blocks first")
	cmd.Flags().BoolVar(&verify, "verify", false, "verify after programming")
	return cmd
}

// blockSpan widens [start, start+n) to erase block boundaries, clamped to
// the chip.
func blockSpan(chip chipdb.Descriptor, start, n uint32) (uint32, uint32) {
	block := max(chip.BlockSize, 1)
	first := start - start%block
	end := min(start+n, chip.Size)
	if rem := end % block; rem != 0 {
		end = min(end+block-rem, chip.Size)
	}
	return first, end - first
}

func newVerifyCommand(a *app) *cobra.Command {
	var (
		sel   string
		start uint32
	)
	cmd := &cobra.Command{
		Use:   "verify FILE",
		Short: "Compare the chip with a raw binary file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			res, err := a.execute(cmd, sel, programmer.Request{
				Kind:  programmer.KindVerify,
				Start: start,
				Data:  data,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "verified %d bytes (crc32 %08x)\n", res.BytesProcessed, res.CRC32)
			return nil
		},
	}
	cmd.Flags().StringVar(&sel, "chip", "", "chip as manufacturer/name")
	cmd.Flags().Uint32Var(&start, "start", 0, "first address")
	return cmd
}

func newInfoCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Read identification and discoverable parameters",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "jedec",
		Short: "Read the JEDEC ID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := a.programmer()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd.Context())
			defer cancel()
			id, err := eng.ReadJEDEC(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, id)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "uid",
		Short: "Read the factory unique ID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := a.programmer()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd.Context())
			defer cancel()
			uid, err := eng.ReadUniqueID(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, uid)
			return nil
		},
	})

	var raw bool
	sfdp := &cobra.Command{
		Use:   "sfdp",
		Short: "Read and decode the SFDP parameter tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := a.programmer()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd.Context())
			defer cancel()
			md, err := eng.ReadSFDP(ctx)
			if err != nil {
				return err
			}
			if md.FromDescriptor {
				fmt.Fprintln(a.out, "no SFDP tables; values from the chip database")
			}
			fmt.Fprint(a.out, discovery.Summary(md.SFDP))
			if raw && !md.FromDescriptor {
				fmt.Fprintln(a.out)
				fmt.Fprint(a.out, discovery.FormatAreas(md.SFDP))
			}
			return nil
		},
	}
	sfdp.Flags().BoolVar(&raw, "raw", false, "also dump every parameter table")
	cmd.AddCommand(sfdp)
	return cmd
}

// registerIndex parses a 1-based register number.
func registerIndex(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("register %q: want a number from 1", s)
	}
	return n - 1, nil
}

// parseChanges reads BIT=VALUE arguments. BIT is a bit number or a bit name
// of register idx.
func parseChanges(idx int, args []string) (register.Changes, error) {
	changes := register.Changes{}
	named := map[string]bool{}
	for _, arg := range args {
		bit, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("change %q: want BIT=0|1", arg)
		}
		v, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("change %q: %w", arg, err)
		}
		if n, err := strconv.ParseUint(bit, 10, 8); err == nil {
			changes[uint(n)] = v
		} else {
			named[strings.ToUpper(bit)] = v
		}
	}
	if len(named) > 0 {
		byName, err := register.ChangesByName(idx, named)
		if err != nil {
			return nil, err
		}
		for bit, v := range byName {
			changes[bit] = v
		}
	}
	return changes, nil
}

func newStatusCommand(a *app) *cobra.Command {
	var sel string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Read or modify status registers",
	}
	cmd.PersistentFlags().StringVar(&sel, "chip", "", "chip as manufacturer/name")

	cmd.AddCommand(&cobra.Command{
		Use:   "read N",
		Short: "Read status register N (1-3)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := registerIndex(args[0])
			if err != nil {
				return err
			}
			eng, _, err := a.detected(cmd, sel)
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd.Context())
			defer cancel()
			st, err := eng.ReadStatus(ctx, idx)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, st)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "write N BIT=0|1...",
		Short: "Change bits of status register N",
		Long: "Change bits of status register N. In a shell session the register must have been " +
			"read with 'status read N' first; a single command reads it itself.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := registerIndex(args[0])
			if err != nil {
				return err
			}
			changes, err := parseChanges(idx, args[1:])
			if err != nil {
				return err
			}
			eng, _, err := a.detected(cmd, sel)
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd.Context())
			defer cancel()
			if !a.interactive {
				before, err := eng.ReadStatus(ctx, idx)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "before: %s\n", before)
			}
			st, err := eng.WriteStatus(ctx, idx, changes)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "after:  %s\n", st)
			return nil
		},
	})
	return cmd
}

func newSecregCommand(a *app) *cobra.Command {
	var sel string
	cmd := &cobra.Command{
		Use:   "secreg",
		Short: "Read, erase or write security registers",
	}
	cmd.PersistentFlags().StringVar(&sel, "chip", "", "chip as manufacturer/name")

	var output string
	read := &cobra.Command{
		Use:   "read N",
		Short: "Read security register sector N (from 0)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("sector %q: %w", args[0], err)
			}
			eng, _, err := a.detected(cmd, sel)
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd.Context())
			defer cancel()
			data, err := eng.ReadSecurity(ctx, idx)
			if err != nil {
				return err
			}
			if output != "" {
				return os.WriteFile(output, data, 0o644)
			}
			fmt.Fprint(a.out, hex.Dump(data))
			return nil
		},
	}
	read.Flags().StringVarP(&output, "output", "o", "", "output file (default: hex dump)")
	cmd.AddCommand(read)

	cmd.AddCommand(&cobra.Command{
		Use:   "erase N",
		Short: "Erase security register sector N",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("sector %q: %w", args[0], err)
			}
			eng, _, err := a.detected(cmd, sel)
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd.Context())
			defer cancel()
			if err := eng.EraseSecurity(ctx, idx); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "erased security register %d\n", idx)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "write N FILE",
		Short: "Replace security register sector N with a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("sector %q: %w", args[0], err)
			}
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			eng, _, err := a.detected(cmd, sel)
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd.Context())
			defer cancel()
			if err := eng.WriteSecurity(ctx, idx, data); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "wrote %d bytes to security register %d\n", len(data), idx)
			return nil
		},
	})
	return cmd
}

func newChipsCommand(a *app) *cobra.Command {
	var manufacturer string
	cmd := &cobra.Command{
		Use:   "chips",
		Short: "List the chip database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.database()
			if err != nil {
				return err
			}
			chips := db.Chips()
			if manufacturer != "" {
				chips = db.ByManufacturer(manufacturer)
			}
			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MANUFACTURER\tNAME\tPROTOCOL\tSIZE\tPAGE\tBLOCK\tJEDEC")
			for _, d := range chips {
				id := "-"
				if !d.JEDEC.IsZero() {
					id = d.JEDEC.String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					d.Manufacturer, d.Name, d.Protocol, d.Size, d.PageSize, d.BlockSize, id)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%d chip(s)\n", len(chips))
			return nil
		},
	}
	cmd.Flags().StringVar(&manufacturer, "manufacturer", "", "only list this manufacturer")
	return cmd
}
