// Package influxdb provides InfluxDB connectivity for Lumen Core.
//
// It wraps the official influxdb-client-go v2 library with Lumen Core-specific
// patterns for connection management, metric writing, and health monitoring.
//
// # Purpose
//
// This package handles long-range time-series archival for:
//   - Light intensity readings from streetlight controllers
//   - Lamp status transitions for duty-cycle analysis
//
// The SQLite store remains the source of truth; InfluxDB is an
// optional archive and can be disabled in config.
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "lumengrid",
//	    Bucket: "metrics",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Archive a reading
//	client.WriteReading("lamp-0042", 245.0, time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are logged via a callback.
// Connection and health check errors are returned directly.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size, flush_interval).
// This reduces network overhead for high-frequency telemetry data.
package influxdb
