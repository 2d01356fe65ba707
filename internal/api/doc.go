// Package api provides the HTTP REST API for Lumen Core.
//
// It exposes device registration and fleet queries, telemetry ingest
// and history, manual control and mode changes, the transition log,
// system settings, and dashboard statistics to operator interfaces.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
