package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/katbot/modgate/core/config"
)

// exitError carries a process exit code for gate verdicts. The report has
// already been written by the time one is returned, so main exits silently.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// Gate verdict exit codes, distinct from the generic failure exit 1.
const (
	exitBlocked        = 2
	exitReviewRequired = 3
)

// cli carries the state shared across subcommands.
type cli struct {
	configPath string
	debug      bool
	cfg        config.Config
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	cmd := &cobra.Command{
		Use:   "modgate",
		Short: "Safety gate for self-modifying agent code",
		Long: `Modgate validates generated code modifications before and after they are
applied: static and security rule scans, impact assessment, sandbox trials,
and automatic rollback on critical post-modification failures. Reports are
written to stdout as JSON; logs go to stderr.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
	}
	cmd.PersistentFlags().StringVar(&c.configPath, "config", "", "path to a YAML configuration file (defaults apply when unset)")
	cmd.PersistentFlags().BoolVar(&c.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(
		newValidateCmd(c),
		newRulesCmd(c),
		newPermissionsCmd(c),
		newBackupsCmd(c),
		newVersionCmd(),
	)
	return cmd
}

func (c *cli) setup() error {
	cfg := config.Default()
	if c.configPath != "" {
		loaded, err := config.LoadFile(c.configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	c.cfg = cfg

	// stdout is reserved for JSON output.
	zcfg := zap.NewProductionConfig()
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	if c.debug {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	c.logger = logger
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readInput reads a file, or stdin when path is "-" or empty.
func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "modgate", version)
		},
	}
}
