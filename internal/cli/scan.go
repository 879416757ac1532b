package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/vigil/pkg/agent"
	"github.com/yairfalse/vigil/pkg/scanner"
)

var scanFull bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a one-shot scan and print the result as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		a, err := agent.New(cfg, agent.WithLogger(logger))
		if err != nil {
			return err
		}

		depth := scanner.Quick
		if scanFull {
			depth = scanner.Full
		}
		result := a.ManualScan(cmd.Context(), depth)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	scanCmd.Flags().BoolVar(&scanFull, "full", false, "include processes and network counters")
}
