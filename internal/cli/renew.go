package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/vigil/pkg/agent"
)

var renewPartial bool

var renewCmd = &cobra.Command{
	Use:   "renew",
	Short: "Force a renewal cycle on a fresh agent and print the result",
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

		if err := a.ForceRenew(renewPartial); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(a.Status().Renewal)
	},
}

func init() {
	renewCmd.Flags().BoolVar(&renewPartial, "partial", false, "clear only events, metrics and alerts")
}
