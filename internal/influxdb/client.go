package influxdb

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-reconciler/internal/models"
)

const measurement = "reconciliation"

// Client writes reconciliation snapshots to InfluxDB v2
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	config   config.InfluxDBConfig
	logger   *slog.Logger
}

// NewClient initializes the InfluxDB v2 client and verifies connectivity
func NewClient(ctx context.Context, cfg config.InfluxDBConfig, logger *slog.Logger) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}

	logger = logger.With("component", "influxdb")
	logger.Info("influxdb_connected", "url", cfg.URL, "bucket", cfg.Bucket, "status", health.Status)
	return &Client{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		config:   cfg,
		logger:   logger,
	}, nil
}

// Name identifies the sink in logs and metrics
func (c *Client) Name() string { return "influxdb" }

// Publish writes one point per node of every snapshot
func (c *Client) Publish(ctx context.Context, snapshots []models.Snapshot) error {
	points := reconciliationPoints(snapshots)
	if len(points) == 0 {
		return nil
	}
	if err := c.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("write %d points: %w", len(points), err)
	}
	c.logger.Debug("points_written", "points", len(points))
	return nil
}

// reconciliationPoints maps snapshots to points stamped with the window end
func reconciliationPoints(snapshots []models.Snapshot) []*write.Point {
	var points []*write.Point
	for _, snap := range snapshots {
		root := strconv.FormatInt(snap.ScopeRoot, 10)
		for _, n := range snap.Tree.Nodes {
			tags := map[string]string{
				"meter_id":   strconv.FormatInt(n.ID, 10),
				"scope_root": root,
				"kind":       "leaf",
			}
			fields := map[string]interface{}{
				"actual":   n.Actual,
				"has_data": n.HasData,
			}
			if c := n.Comparison; c != nil {
				tags["kind"] = "internal"
				tags["classification"] = string(c.Classification)
				fields["expected"] = c.Expected
				fields["discrepancy_pct"] = c.DiscrepancyPct
				fields["discrepancy_defined"] = c.Defined
			}
			points = append(points, write.NewPoint(measurement, tags, fields, snap.WindowEnd))
		}
	}
	return points
}

// Close closes the InfluxDB client
func (c *Client) Close() {
	c.client.Close()
}
