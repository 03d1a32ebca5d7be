// Command dmunit loads a kernel object (a real compiled one, or the
// built-in synthetic test kernel) and runs unit tests against its
// dm_bm_*/dm_btree_* functions from user space, the way
// original_source's dm-unit binary does from its own process.
package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dm-devel/dmunit/internal/config"
	"github.com/dm-devel/dmunit/internal/dmlog"
	"github.com/dm-devel/dmunit/internal/fixture"
	"github.com/dm-devel/dmunit/internal/guest"
	"github.com/dm-devel/dmunit/internal/loader"
	"github.com/dm-devel/dmunit/internal/memory"
	"github.com/dm-devel/dmunit/internal/stubs/blockdev"
	"github.com/dm-devel/dmunit/internal/stubs/libc"
	"github.com/dm-devel/dmunit/internal/stubs/locks"
	"github.com/dm-devel/dmunit/internal/suite"
	"github.com/dm-devel/dmunit/internal/testkernel"
	"github.com/dm-devel/dmunit/internal/testrunner"
)

// heapBase is where the allocator-managed heap/stack region starts; it is
// chosen well clear of testkernel.CodeBase and the flat blob's stub
// address range so the two address spaces never overlap.
const heapBase guest.Addr = 0x01000000

var (
	flagFilter     string
	flagVerbose    bool
	flagObject     string
	flagLogLevel   string
	flagLimit      uint64
	flagConfigPath string
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dmunit",
		Short: "run unit tests against a device-mapper metadata kernel object from user space",
		RunE:  runTests,
	}
	root.PersistentFlags().StringVarP(&flagFilter, "filter", "f", "", "only run tests whose path contains this substring")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug-level logging and instruction tracing")
	root.PersistentFlags().StringVar(&flagObject, "object", "", "path to a compiled RV64 kernel object (ELF); defaults to the built-in synthetic test kernel")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override the configured log level (debug|info|warn|error)")
	root.PersistentFlags().Uint64Var(&flagLimit, "limit", 0, "override the configured per-call instruction limit")
	root.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to a TOML harness config file")

	root.AddCommand(newInfoCmd(), newListCmd())
	return root
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("loading config: %w", err)
	}
	return cfg.Override(0, 0, flagLimit, flagLogLevel), nil
}

// buildSetup returns a testrunner.SetupFunc that gives each test a fresh
// fixture: a new address space, a newly loaded kernel object, and a
// newly registered, newly bound stub set.
func buildSetup(cfg config.Config, objectBytes []byte) testrunner.SetupFunc {
	return func() (*fixture.Fixture, error) {
		mem := memory.New(heapBase, 0)

		var obj *loader.Object
		var err error
		if objectBytes != nil {
			obj, err = loader.LoadELF(bytes.NewReader(objectBytes), mem)
		} else {
			obj, err = testkernel.Load(mem)
		}
		if err != nil {
			return nil, fmt.Errorf("loading kernel object: %w", err)
		}

		log := dmlog.New(cfg.LogLevel == "debug" || flagVerbose)
		fix := fixture.New(mem, obj.Symbols, log)
		fix.InstructionLimit = cfg.InstructionLimit

		libc.Register(fix.Stubs)
		locks.Register(fix.Stubs)
		dev, err := blockdev.New(mem, cfg.BlockCount, cfg.BlockSize)
		if err != nil {
			return nil, fmt.Errorf("building simulated block device: %w", err)
		}
		dev.Register(fix.Stubs)

		fix.InstallStubs()
		return fix, nil
	}
}

func runTests(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	objectBytes, err := readObject()
	if err != nil {
		return err
	}

	runner := testrunner.New(buildSetup(cfg, objectBytes))
	suite.Register(runner)

	results := runner.Run(flagFilter)
	testrunner.PrintResults(cmd.OutOrStdout(), results)

	for _, r := range results {
		if r.Status == testrunner.Failed {
			return fmt.Errorf("one or more tests failed")
		}
	}
	return nil
}

func readObject() ([]byte, error) {
	if flagObject == "" {
		return nil, nil
	}
	data, err := os.ReadFile(flagObject)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", flagObject, err)
	}
	return data, nil
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "print the effective configuration and which kernel object would be loaded",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			obj := "built-in synthetic test kernel"
			if flagObject != "" {
				obj = flagObject
			}
			fmt.Fprintf(cmd.OutOrStdout(), "object:            %s\n", obj)
			fmt.Fprintf(cmd.OutOrStdout(), "block_count:       %d\n", cfg.BlockCount)
			fmt.Fprintf(cmd.OutOrStdout(), "block_size:        %d\n", cfg.BlockSize)
			fmt.Fprintf(cmd.OutOrStdout(), "instruction_limit: %d\n", cfg.InstructionLimit)
			fmt.Fprintf(cmd.OutOrStdout(), "log_level:         %s\n", cfg.LogLevel)
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list every registered test path without running it",
		RunE: func(cmd *cobra.Command, args []string) error {
			runner := testrunner.New(nil)
			suite.Register(runner)
			for _, path := range runner.Paths() {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
}
