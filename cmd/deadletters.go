package cmd

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetrisk/infra/deadletter"
)

var deadLettersCmd = &cobra.Command{
	Use:   "deadletters",
	Short: "Print dropped messages recorded in the dead-letter file",
	Args:  cobra.NoArgs,
	RunE:  runDeadLetters,
}

func init() {
	rootCmd.AddCommand(deadLettersCmd)
}

func runDeadLetters(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.DeadLetter.Path == "" {
		return errors.New("deadletter.path is not configured")
	}
	dl, err := deadletter.NewJSONLStore(cfg.DeadLetter)
	if err != nil {
		return err
	}
	defer func() { _ = dl.Close() }()
	recs, err := dl.ReadAll()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
