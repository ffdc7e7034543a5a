package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetrisk/infra/storage"
)

var vehiclesCmd = &cobra.Command{
	Use:   "vehicles",
	Short: "Inspect vehicle statistics in the configured store",
}

var vehiclesLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List vehicles and their risk classification",
	Args:  cobra.NoArgs,
	RunE:  runVehiclesLs,
}

var vehiclesStatsCmd = &cobra.Command{
	Use:   "stats <vehicle-id>",
	Short: "Print the statistics of one vehicle as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runVehiclesStats,
}

func init() {
	vehiclesCmd.AddCommand(vehiclesLsCmd, vehiclesStatsCmd)
	rootCmd.AddCommand(vehiclesCmd)
}

func runVehiclesLs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	st, err := storage.Open(ctx, cfg.Store.Module())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	all, err := st.List(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VEHICLE\tREADINGS\tSAFE%\tMODERATE%\tRISKY%\tCLASS\tLAST SEEN")
	for _, v := range all {
		fmt.Fprintf(w, "%s\t%d\t%.1f\t%.1f\t%.1f\t%s\t%s\n",
			v.VehicleID, v.TotalReadings, v.PctSafe, v.PctModerate, v.PctRisky,
			v.OverallClassification, v.LastSeen.Format(time.RFC3339))
	}
	return w.Flush()
}

func runVehiclesStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	st, err := storage.Open(ctx, cfg.Store.Module())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	stats, err := st.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("vehicle %s: %w", args[0], err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}
