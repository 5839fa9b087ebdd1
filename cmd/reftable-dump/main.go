// Command reftable-dump opens a reftable file and prints its refs, logs,
// and section statistics to stdout.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nrednav/reftable/record"
	"github.com/nrednav/reftable/reftable"
	"github.com/nrednav/reftable/rterrs"
	"github.com/nrednav/reftable/rtio"
	"github.com/nrednav/reftable/rtlog"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		showRefs   bool
		showLogs   bool
		showStats  bool
		refPrefix  string
		lz4Scratch string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "reftable-dump <file>",
		Short: "Dump the contents of a reftable file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], dumpOptions{
				showRefs:   showRefs,
				showLogs:   showLogs,
				showStats:  showStats,
				refPrefix:  refPrefix,
				lz4Scratch: lz4Scratch,
				verbose:    verbose,
			})
		},
	}

	cmd.Flags().BoolVar(&showRefs, "refs", true, "print ref records")
	cmd.Flags().BoolVar(&showLogs, "logs", false, "print log records")
	cmd.Flags().BoolVar(&showStats, "stats", true, "print section statistics")
	cmd.Flags().StringVar(&refPrefix, "ref-prefix", "", "only print refs with this name prefix")
	cmd.Flags().StringVar(&lz4Scratch, "lz4-scratch", "", "compress the file into this LZ4 scratch path and read it from there")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	return cmd
}

type dumpOptions struct {
	showRefs   bool
	showLogs   bool
	showStats  bool
	refPrefix  string
	lz4Scratch string
	verbose    bool
}

func run(path string, opts dumpOptions) error {
	logger := rtlog.Nop()
	if opts.verbose {
		l, err := rtlog.NewDevelopment()
		if err != nil {
			return err
		}
		logger = l
	}

	src, err := rtio.OpenFile(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	var source rtio.Source = src
	if opts.lz4Scratch != "" {
		lz4src, err := rtio.NewLZ4File(opts.lz4Scratch, src)
		if err != nil {
			return fmt.Errorf("build lz4 scratch: %w", err)
		}
		defer lz4src.Close()
		source = lz4src
		logger.Debugw("built lz4 scratch copy", "path", opts.lz4Scratch)
	}

	r, err := reftable.Init(source, reftable.ReaderWithLogger(logger))
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	defer r.Close()

	if opts.showStats {
		printStats(r.Stats())
	}
	if opts.showRefs {
		if err := dumpRefs(r, opts.refPrefix); err != nil {
			return err
		}
	}
	if opts.showLogs {
		if err := dumpLogs(r); err != nil {
			return err
		}
	}

	return nil
}

func printStats(s reftable.ReaderStats) {
	fmt.Printf("block_size=%d hash_size=%d update_index=[%d,%d]\n",
		s.BlockSize, s.HashSize, s.MinUpdateIndex, s.MaxUpdateIndex)
	fmt.Printf("sections: refs=%v objs=%v logs=%v\n", s.RefSectionPresent, s.ObjSectionPresent, s.LogSectionPresent)
}

func dumpRefs(r *reftable.Reader, prefix string) error {
	if !r.Stats().RefSectionPresent {
		return nil
	}

	it, err := r.SeekRef(prefix)
	if err != nil {
		if errors.Is(err, rterrs.ErrSectionAbsent) {
			return nil
		}
		return err
	}

	for {
		ref, err := it.NextRef()
		if err != nil {
			if errors.Is(err, rterrs.ErrIterationDone) {
				return nil
			}
			return err
		}
		if prefix != "" && !hasPrefix(ref.Name, prefix) {
			return nil
		}
		printRef(ref)
	}
}

func printRef(ref *record.Ref) {
	switch {
	case ref.IsDeletion():
		fmt.Printf("%s %d deleted\n", ref.Name, ref.UpdateIndex)
	case ref.TargetName != "":
		fmt.Printf("%s %d -> %s\n", ref.Name, ref.UpdateIndex, ref.TargetName)
	case ref.TargetValue != nil:
		fmt.Printf("%s %d %x (peeled %x)\n", ref.Name, ref.UpdateIndex, ref.Value, ref.TargetValue)
	default:
		fmt.Printf("%s %d %x\n", ref.Name, ref.UpdateIndex, ref.Value)
	}
}

func dumpLogs(r *reftable.Reader) error {
	if !r.Stats().LogSectionPresent {
		return nil
	}

	it, err := r.SeekLog("")
	if err != nil {
		if errors.Is(err, rterrs.ErrSectionAbsent) {
			return nil
		}
		return err
	}

	for {
		l, err := it.NextLog()
		if err != nil {
			if errors.Is(err, rterrs.ErrIterationDone) {
				return nil
			}
			return err
		}
		fmt.Printf("%s %d %s <%s> %d %q\n", l.RefName, l.UpdateIndex, l.Name, l.Email, l.Time, l.Message)
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
