package influxdb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/config"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/fuel"
	"github.com/kanna-karuppasamy/fuel-price-pipeline/internal/models"
)

const (
	measurementFuelPrice = "fuel_price"
	measurementOutcomes  = "pipeline_outcomes"
)

// pointWriter is the part of api.WriteAPI the client uses.
type pointWriter interface {
	WritePoint(point *write.Point)
}

// Client represents an InfluxDB v2 client
type Client struct {
	client   influxdb2.Client
	writeAPI pointWriter
	logger   *slog.Logger
}

// NewClient initializes the InfluxDB v2 client and verifies connectivity
func NewClient(ctx context.Context, cfg config.InfluxDBConfig, logger *slog.Logger) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	if _, err := client.Health(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	c := newClient(writeAPI, logger)
	c.client = client

	// The non-blocking writer reports failures asynchronously
	go func() {
		for err := range writeAPI.Errors() {
			c.logger.Error("influxdb_write_failed", "error", err)
		}
	}()

	c.logger.Info("influxdb_connected", "url", cfg.URL, "bucket", cfg.Bucket)
	return c, nil
}

func newClient(w pointWriter, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{writeAPI: w, logger: logger}
}

// WriteStationPrices writes one fuel_price point per fuel code of the
// capture, stamped with the capture time.
func (c *Client) WriteStationPrices(doc models.StationDocument, rec models.PriceRecord) error {
	for _, code := range fuel.Codes() {
		price, ok := rec.Prices[code]
		if !ok {
			continue
		}
		category, err := fuel.CategoryOf(code)
		if err != nil {
			return err
		}
		point := write.NewPoint(
			measurementFuelPrice,
			map[string]string{
				"station_key": string(doc.Key),
				"company":     doc.Company,
				"fuel_code":   string(code),
				"category":    string(category),
			},
			map[string]interface{}{
				"price": price.InexactFloat64(),
			},
			rec.CapturedAt,
		)
		c.writeAPI.WritePoint(point)
	}
	return nil
}

// WriteOutcomeCounts writes aggregated processing outcome counts
func (c *Client) WriteOutcomeCounts(counts map[string]int, timestamp time.Time) error {
	for outcome, count := range counts {
		point := write.NewPoint(
			measurementOutcomes,
			map[string]string{
				"outcome": outcome,
			},
			map[string]interface{}{
				"count": count,
			},
			timestamp,
		)
		c.writeAPI.WritePoint(point)
	}
	return nil
}

// Close flushes pending points and closes the InfluxDB client
func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
}
