package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sudo-karan/stackvm/jit"
	"github.com/sudo-karan/stackvm/vm"
)

var (
	flagJIT     bool
	flagDebug   bool
	flagVerbose bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "vm <image-path>",
		Short:         "Run a bytecode image on the stack machine",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			return runImage(args[0])
		},
	}

	cmd.Flags().BoolVar(&flagJIT, "jit", false, "compile and run the image with the x86-64 JIT instead of the interpreter")
	cmd.Flags().BoolVar(&flagDebug, "debug", false, "start the interactive debugger before running")
	cmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug-level logging")

	return cmd
}

func setupLogging() {
	level := zerolog.InfoLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

func runImage(path string) error {
	code, err := vm.LoadImage(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	if flagJIT {
		return runJIT(code)
	}
	return runInterpreted(path, code)
}

func runJIT(code []byte) error {
	compiled, err := jit.Compile(code)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	result := compiled()
	fmt.Printf("JIT Result: %d\n", result)
	return nil
}

func runInterpreted(path string, code []byte) error {
	machine := vm.New(code)
	machine.SetLogger(log.Logger)
	machine.EnableAsyncTriggers()
	defer machine.Close()

	if flagDebug {
		lines := vm.LoadDebugTable(path)
		if err := machine.EnableDebugger(lines); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return err
		}
	}

	machine.Run()

	if err := machine.Err(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	if top, ok := machine.TopOfStack(); ok {
		fmt.Printf("Top of stack: %d\n", top)
	} else {
		fmt.Println("Stack empty")
	}

	stats := machine.Stats()
	if stats.Cycles > 0 {
		fmt.Fprintf(os.Stderr, "[GC Stats] Runs: %d, Freed: %d, Total Time: %.6fs, Max Heap Used: %d\n",
			stats.Cycles, stats.FreedObjects, stats.TotalGCTime, stats.MaxHeapUsed)
	}

	return nil
}
