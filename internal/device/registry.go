package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups
// plus a per-device lock map that serializes read-decide-write
// sequences for one device while letting other devices proceed.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating write operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Device // Cached devices by ID
	cacheMu sync.RWMutex       // Protects cache

	locks   map[string]*sync.Mutex // Per-device serialization locks
	locksMu sync.Mutex             // Protects locks map

	defaultMode Mode
	logger      Logger
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the registry adds caching
// and per-device locking. New devices default to MANUAL mode unless
// overridden with SetDefaultMode.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:        repo,
		cache:       make(map[string]*Device),
		locks:       make(map[string]*sync.Mutex),
		defaultMode: ModeManual,
		logger:      noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetDefaultMode sets the mode assigned to newly registered devices
// that don't specify one. Typically wired from config.
func (r *Registry) SetDefaultMode(mode Mode) error {
	if err := ValidateMode(mode); err != nil {
		return err
	}
	r.defaultMode = mode
	return nil
}

// Lock acquires the serialization lock for a device. Every
// read-decide-write sequence (automation evaluation, manual control,
// mode change) must hold this lock for the duration of the sequence.
// Locks for distinct devices are independent.
func (r *Registry) Lock(id string) {
	r.lockFor(id).Lock()
}

// Unlock releases the serialization lock for a device.
func (r *Registry) Unlock(id string) {
	r.lockFor(id).Unlock()
}

// lockFor returns the mutex for a device, creating it on first use.
// Lock entries are never removed; the per-device footprint is one
// mutex and fleet sizes are bounded.
func (r *Registry) lockFor(id string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()

	mu, ok := r.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		r.locks[id] = mu
	}
	return mu
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	// Clear and rebuild cache with deep copies
	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		d := devices[i]
		r.cache[d.ID] = d.DeepCopy()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// Register creates a new device with registration defaults: status OFF,
// the registry's default mode (unless the caller set one), offline.
// Returns ErrDeviceExists if the ID is already registered.
func (r *Registry) Register(ctx context.Context, d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}

	if d.Status == "" {
		d.Status = StatusOff
	}
	if d.Mode == "" {
		d.Mode = r.defaultMode
	}
	d.IsOnline = false
	d.LastSeen = nil

	if err := ValidateDevice(d); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, d); err != nil {
		return err
	}

	// Update cache (store a deep copy to prevent external modification)
	r.cacheMu.Lock()
	r.cache[d.ID] = d.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("device registered", "id", d.ID, "name", d.Name, "mode", d.Mode)
	return nil
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	// Try cache first
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		// Return a deep copy to prevent external mutation of cache
		return cached.DeepCopy(), nil
	}

	// Fall back to repository (might be a new device not yet cached)
	device, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// Cache for future lookups (store a deep copy)
	r.cacheMu.Lock()
	r.cache[id] = device.DeepCopy()
	r.cacheMu.Unlock()

	return device, nil
}

// ListDevices retrieves all devices.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	// Return from cache if populated
	if len(r.cache) > 0 {
		devices := make([]Device, 0, len(r.cache))
		for _, d := range r.cache {
			// Deep copy to prevent external mutation of cache
			devices = append(devices, *d.DeepCopy())
		}
		return devices, nil
	}

	// Fall back to repository
	return r.repo.List(ctx)
}

// GetDevicesByMode retrieves all devices in a specific control mode.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) GetDevicesByMode(ctx context.Context, mode Mode) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	// Filter from cache if populated
	if len(r.cache) > 0 {
		var devices []Device
		for _, d := range r.cache {
			if d.Mode == mode {
				devices = append(devices, *d.DeepCopy())
			}
		}
		return devices, nil
	}

	return r.repo.ListByMode(ctx, mode)
}

// DeleteDevice removes a device. Its readings and transition logs are
// removed by the database cascade.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	// Update cache
	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "id", id)
	return nil
}

// MarkSeen records liveness for a device: is_online=true and
// last_seen=now. Called on every telemetry message and heartbeat.
func (r *Registry) MarkSeen(ctx context.Context, id string) error {
	now := time.Now().UTC()
	if err := r.repo.UpdateLiveness(ctx, id, now); err != nil {
		return err
	}

	// Update cache using deep copy to prevent race conditions
	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := cached.DeepCopy()
		updated.IsOnline = true
		updated.LastSeen = &now
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	r.logger.Debug("device seen", "id", id)
	return nil
}

// Invalidate re-reads a device from the repository and replaces the
// cached copy. Called after a transaction that wrote device rows
// directly (status+log commits bypass the registry).
func (r *Registry) Invalidate(ctx context.Context, id string) error {
	device, err := r.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			r.cacheMu.Lock()
			delete(r.cache, id)
			r.cacheMu.Unlock()
		}
		return err
	}

	r.cacheMu.Lock()
	r.cache[id] = device.DeepCopy()
	r.cacheMu.Unlock()

	return nil
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats returns registry statistics for monitoring and the dashboard.
type Stats struct {
	TotalDevices int
	LightsOn     int
	AutoMode     int
	Online       int
	Offline      int
}

// GetStats returns current fleet statistics. Offline is derived: a
// device counts as offline when it has never reported or its last_seen
// is older than the staleness window.
func (r *Registry) GetStats(offlineAfter time.Duration) Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	now := time.Now().UTC()
	stats := Stats{TotalDevices: len(r.cache)}

	for _, d := range r.cache {
		if d.Status == StatusOn {
			stats.LightsOn++
		}
		if d.Mode == ModeAuto {
			stats.AutoMode++
		}
		if d.SeenWithin(offlineAfter, now) {
			stats.Online++
		} else {
			stats.Offline++
		}
	}

	return stats
}
