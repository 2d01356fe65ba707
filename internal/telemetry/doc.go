// Package telemetry ingests light intensity readings and heartbeats
// from streetlight controllers.
//
// Readings arrive over MQTT or the HTTP API, are persisted to SQLite,
// refresh the device's liveness, and trigger an automation evaluation
// when the device is in AUTO mode. An optional InfluxDB archive
// receives a copy of every accepted reading.
package telemetry
