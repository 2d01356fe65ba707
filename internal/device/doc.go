// Package device provides the Device Registry for Lumen Core.
//
// The Device Registry is the central catalogue of every streetlight
// controller in a Lumen installation. It manages registration and
// lifecycle, caches device state for fast lookups, and owns the
// per-device locks that serialize read-decide-write sequences across
// the automation engine and manual control paths.
//
// # Key Types
//
//   - Device: a registered streetlight controller (status, mode, liveness)
//   - Status: lamp state, ON or OFF
//   - Mode: control mode, AUTO (engine-driven) or MANUAL (operator-driven)
//   - Registry: cached, thread-safe device management over a Repository
//   - Repository: persistence interface with a SQLite implementation
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.Conn())
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(logger)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	lamp := &device.Device{ID: "lamp-0042", Name: "Elm Street 42"}
//	if err := registry.Register(ctx, lamp); err != nil {
//	    // errors.Is(err, device.ErrDeviceExists) on duplicate ID
//	}
//
// Status and mode writes that must commit atomically with a transition
// log entry go through the repository's Tx variants inside a single
// database transaction; callers then call Registry.Invalidate to
// refresh the cache.
package device
