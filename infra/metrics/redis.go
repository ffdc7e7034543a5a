package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	coremetrics "github.com/kilianp07/fleetrisk/core/metrics"
	"github.com/kilianp07/fleetrisk/core/model"
	"github.com/kilianp07/fleetrisk/core/query"
)

// RedisConfig configures RedisSink.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	// Prefix namespaces keys and channels.
	Prefix string `json:"prefix"`
	// AlertCooldown suppresses repeated alerts for one vehicle.
	AlertCooldown time.Duration `json:"alert_cooldown"`
}

// RedisSink mirrors the latest statistics of each vehicle into a hash and
// publishes updates and risky-event alerts on pub/sub channels for live
// dashboards.
type RedisSink struct {
	client   *redis.Client
	prefix   string
	cooldown time.Duration
}

// NewRedisSink connects and pings Redis.
func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "fleetrisk"
	}
	if cfg.AlertCooldown <= 0 {
		cfg.AlertCooldown = time.Minute
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: 10,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisSink{client: client, prefix: cfg.Prefix, cooldown: cfg.AlertCooldown}, nil
}

func (r *RedisSink) statsKey(vehicleID string) string {
	return fmt.Sprintf("%s:vehicle:%s:stats", r.prefix, vehicleID)
}

func (r *RedisSink) StatsChannel() string { return r.prefix + ":stats" }
func (r *RedisSink) AlertChannel() string { return r.prefix + ":alerts" }

func (r *RedisSink) RecordIngest(coremetrics.IngestEvent) error { return nil }

func (r *RedisSink) RecordVehicleStats(st model.VehicleStatistics) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal statistics: %w", err)
	}
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, r.statsKey(st.VehicleID), map[string]any{
		"total_readings": st.TotalReadings,
		"count_safe":     st.CountSafe,
		"count_moderate": st.CountModerate,
		"count_risky":    st.CountRisky,
		"pct_risky":      st.PctRisky,
		"overall":        st.OverallClassification.String(),
		"last_seen":      st.LastSeen.Unix(),
	})
	pipe.Publish(ctx, r.StatsChannel(), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// RecordTelemetry publishes an alert for risky events, at most once per
// vehicle per cooldown.
func (r *RedisSink) RecordTelemetry(ev model.TelemetryEvent) error {
	if ev.RiskClass != model.RiskRisky {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	dedup := fmt.Sprintf("%s:alert:%s", r.prefix, ev.VehicleID)
	fresh, err := r.client.SetNX(ctx, dedup, ev.Key, r.cooldown).Result()
	if err != nil {
		return fmt.Errorf("alert dedup failed: %w", err)
	}
	if !fresh {
		return nil
	}
	alert := query.Alert{VehicleID: ev.VehicleID, DriverID: ev.DriverID, Timestamp: ev.Timestamp, Type: query.AlertType}
	if v, ok := ev.Reading("speed"); ok {
		alert.Speed = &v
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.AlertChannel(), payload).Err()
}

// Close releases the connection pool.
func (r *RedisSink) Close() error { return r.client.Close() }
