package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetrisk/infra/logger"
	"github.com/kilianp07/fleetrisk/infra/mqtt"
	"github.com/kilianp07/fleetrisk/internal/simulator"
)

var (
	simVehicles int
	simCount    int
	simInterval time.Duration
	simSeed     int64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Publish synthetic telemetry to the configured broker",
	Args:  cobra.NoArgs,
	RunE:  runSimulate,
}

func init() {
	simulateCmd.Flags().IntVar(&simVehicles, "vehicles", 5, "number of simulated vehicles")
	simulateCmd.Flags().IntVar(&simCount, "count", 10, "readings per vehicle, 0 for unlimited")
	simulateCmd.Flags().DurationVar(&simInterval, "interval", time.Second, "delay between rounds")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", time.Now().UnixNano(), "random seed")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	pubCfg := cfg.MQTT
	pubCfg.ClientID = "fleetrisk-sim-" + uuid.NewString()[:8]
	log := logger.New("simulate")
	pub, err := mqtt.NewPublisher(pubCfg, log)
	if err != nil {
		return err
	}
	defer pub.Close()

	fleet := simulator.GenerateFleet(simVehicles, simSeed)
	sent := 0
	for round := 0; simCount == 0 || round < simCount; round++ {
		now := time.Now()
		for _, v := range fleet {
			payload, err := v.Payload(now)
			if err != nil {
				return err
			}
			if err := pub.Publish(pub.TopicFor(v.ID), payload); err != nil {
				return fmt.Errorf("publish %s: %w", v.ID, err)
			}
			sent++
		}
		select {
		case <-ctx.Done():
			log.Infof("interrupted after %d messages", sent)
			return nil
		case <-time.After(simInterval):
		}
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "published %d messages for %d vehicles\n", sent, len(fleet))
	return err
}
