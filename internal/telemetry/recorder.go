// Package telemetry measures operation durations and outcomes, writing them
// to InfluxDB and mirroring them onto the message bus.
package telemetry

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/bardlex/cnpool/internal/messaging"
	"github.com/bardlex/cnpool/pkg/log"
)

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Recorder writes measurements to Influx and the bus. A nil Recorder is
// valid and drops everything, so wiring stays unconditional.
type Recorder struct {
	logger   *log.Logger
	client   influxdb2.Client
	writeAPI api.WriteAPI
	bus      *messaging.KafkaClient
}

// NewRecorder creates a telemetry recorder. The Influx sink is optional;
// with an empty URL only the bus mirror is active.
func NewRecorder(cfg *Config, bus *messaging.KafkaClient, logger *log.Logger) (*Recorder, error) {
	r := &Recorder{
		logger: logger.WithComponent("telemetry"),
		bus:    bus,
	}

	if cfg != nil && cfg.URL != "" {
		client := influxdb2.NewClient(cfg.URL, cfg.Token)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		health, err := client.Health(ctx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to check InfluxDB health: %w", err)
		}
		if health.Status != "pass" {
			client.Close()
			msg := ""
			if health.Message != nil {
				msg = *health.Message
			}
			return nil, fmt.Errorf("InfluxDB health check failed: %s", msg)
		}

		r.client = client
		r.writeAPI = client.WriteAPI(cfg.Org, cfg.Bucket)
	}

	return r, nil
}

// Measure records the duration and outcome of an operation started at start.
func (r *Recorder) Measure(ctx context.Context, category string, start time.Time, success bool) {
	if r == nil {
		return
	}

	duration := time.Since(start)

	if r.writeAPI != nil {
		tags := map[string]string{
			"category": category,
			"success":  fmt.Sprintf("%t", success),
		}
		fields := map[string]interface{}{
			"duration_ms": float64(duration.Nanoseconds()) / 1e6,
			"count":       1,
		}

		point := write.NewPoint("telemetry", tags, fields, time.Now())
		r.writeAPI.WritePoint(point)
	}

	if r.bus != nil {
		event := messaging.Telemetry{
			Category:   category,
			DurationMs: float64(duration.Nanoseconds()) / 1e6,
			Success:    success,
		}

		// Fire-and-forget: telemetry must not stall the measured path
		go func() {
			pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()

			if err := r.bus.Publish(pubCtx, messaging.TopicTelemetry, category, event); err != nil {
				r.logger.WithError(err).Debug("failed to publish telemetry event")
			}
		}()
	}
}

// Close flushes and shuts down the Influx sink.
func (r *Recorder) Close() {
	if r == nil || r.client == nil {
		return
	}
	r.writeAPI.Flush()
	r.client.Close()
}
