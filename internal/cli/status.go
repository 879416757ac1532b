package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/vigil/pkg/agent"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print an agent status snapshot as JSON",
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

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(a.Status())
	},
}
