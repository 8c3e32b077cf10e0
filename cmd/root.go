package cmd

import (
	"context"
	"runtime/pprof"

	"os"

	"github.com/MmAaXx500/binutils-gdb-godot/pkg/linker"
	"github.com/MmAaXx500/binutils-gdb-godot/pkg/log"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
)

func Execute(ctx context.Context) error {
	return RootCmd().ExecuteContext(ctx)
}

func RootCmd() *cobra.Command {
	opts := struct {
		Profile bool
		Debug   bool
	}{
		false,
		false,
	}

	rootCmd := &cobra.Command{
		Use:   "godot",
		Short: "Godot deduplicates mergeable ELF sections",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Debug {
				slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
					AddSource: false,
					Level:     slog.LevelDebug,
				})))
			}

			if opts.Profile {
				file, err := os.Create("cpu.pprof")
				if err != nil {
					return err
				}

				pprof.StartCPUProfile(file)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Profile {
				pprof.StopCPUProfile()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&opts.Profile, "profile", "p", false, "enable profiling")
	rootCmd.PersistentFlags().BoolVarP(&opts.Debug, "debug", "d", false, "enable debugging")

	rootCmd.AddCommand(mergeCmd())

	return rootCmd
}

func mergeCmd() *cobra.Command {
	opts := struct {
		Output string
		Base   uint64
	}{}

	mergeCmd := &cobra.Command{
		Use:   "merge [object files]",
		Short: "Merge and deduplicate the mergeable sections of relocatable objects",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l := linker.NewLinker(linker.LinkerInputs{Filenames: args})

			for _, inputFile := range l.LinkerInputs.Filenames {
				if err := l.NewFile(inputFile); err != nil {
					return err
				}
			}

			if err := l.CollectMergeableSections(); err != nil {
				return err
			}
			total := l.FinalizeLayout(opts.Base)

			for _, st := range l.Stats() {
				log.Infof("%s: entsize=%d input=%d output=%d mappings=%d",
					st.Name, st.EntSize, st.InputBytes, st.OutputBytes, st.Mappings)
			}
			log.Infof("Total merged size: %d bytes", total)

			for _, obj := range l.InputObjects {
				if _, err := l.ResolveMergedRelocations(obj); err != nil {
					return err
				}
			}

			if opts.Output != "" {
				file, err := os.Create(opts.Output)
				if err != nil {
					return err
				}
				defer file.Close()

				if err := l.Emit(file); err != nil {
					return err
				}
			}

			return nil
		},
	}

	mergeCmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the merged section contents to this file")
	mergeCmd.Flags().Uint64Var(&opts.Base, "base", 0, "base address assigned to the merged sections")

	return mergeCmd
}
