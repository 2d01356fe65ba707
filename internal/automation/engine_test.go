package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lumengrid/lumen-core/internal/audit"
	"github.com/lumengrid/lumen-core/internal/device"
	"github.com/lumengrid/lumen-core/internal/settings"
)

// setupTestDB creates an in-memory SQLite database with the tables the
// engine touches.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE devices (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			location TEXT,
			status TEXT NOT NULL DEFAULT 'OFF',
			mode TEXT NOT NULL DEFAULT 'MANUAL',
			is_online INTEGER NOT NULL DEFAULT 0,
			last_seen TEXT,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
		CREATE TABLE transition_logs (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			action TEXT NOT NULL,
			mode TEXT NOT NULL,
			actor TEXT,
			detail TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		) STRICT;
		CREATE TABLE system_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// testHarness wires an engine against real repositories and a capturing
// MQTT mock.
type testHarness struct {
	db       *sql.DB
	engine   *Engine
	devices  *device.SQLiteRepository
	registry *device.Registry
	logs     *audit.SQLiteRepository
	settings *settings.SQLiteRepository
	mqtt     *mockPublisher
}

func setupEngine(t *testing.T) *testHarness {
	t.Helper()

	db := setupTestDB(t)
	devices := device.NewSQLiteRepository(db)
	registry := device.NewRegistry(devices)
	logs := audit.NewSQLiteRepository(db)
	store := settings.NewSQLiteRepository(db)
	pub := &mockPublisher{}

	return &testHarness{
		db:       db,
		engine:   NewEngine(db, devices, logs, store, registry, pub, nil),
		devices:  devices,
		registry: registry,
		logs:     logs,
		settings: store,
		mqtt:     pub,
	}
}

// seedLamp inserts a device in AUTO mode with the given status.
func (h *testHarness) seedLamp(t *testing.T, id string, status device.Status) *device.Device {
	t.Helper()

	dev := &device.Device{
		ID:     id,
		Name:   "Lamp " + id,
		Status: status,
		Mode:   device.ModeAuto,
	}
	if err := h.devices.Create(context.Background(), dev); err != nil {
		t.Fatalf("seeding device: %v", err)
	}
	return dev
}

func (h *testHarness) transitions(t *testing.T, deviceID string) []audit.Transition {
	t.Helper()

	entries, err := h.logs.ListByDevice(context.Background(), deviceID, 50)
	if err != nil {
		t.Fatalf("listing transitions: %v", err)
	}
	return entries
}

// mockPublisher captures published MQTT messages.
type mockPublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
	err      error
}

type publishedMessage struct {
	topic   string
	payload []byte
}

func (m *mockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, publishedMessage{topic: topic, payload: payload})
	return nil
}

// mockArchiver captures archived status changes.
type mockArchiver struct {
	mu      sync.Mutex
	changes []archivedChange
}

type archivedChange struct {
	deviceID string
	status   string
	mode     string
}

func (m *mockArchiver) WriteStatusChange(deviceID, status, mode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes = append(m.changes, archivedChange{deviceID: deviceID, status: status, mode: mode})
}

func (m *mockPublisher) published() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishedMessage(nil), m.messages...)
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name      string
		intensity float64
		threshold float64
		want      device.Status
	}{
		{"above threshold turns on", 350, 300, device.StatusOn},
		{"below threshold turns off", 250, 300, device.StatusOff},
		{"equal to threshold turns off", 300, 300, device.StatusOff},
		{"just above threshold turns on", 300.01, 300, device.StatusOn},
		{"zero intensity turns off", 0, 300, device.StatusOff},
		{"zero threshold treats any light as on", 1, 0, device.StatusOn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.intensity, tt.threshold); got != tt.want {
				t.Errorf("Decide(%v, %v) = %v, want %v", tt.intensity, tt.threshold, got, tt.want)
			}
		})
	}
}

func TestEngine_Evaluate(t *testing.T) {
	ctx := context.Background()

	t.Run("turns lamp on above threshold", func(t *testing.T) {
		h := setupEngine(t)
		dev := h.seedLamp(t, "lamp-0001", device.StatusOff)

		status, changed, err := h.engine.Evaluate(ctx, dev, 350)
		if err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
		if status != device.StatusOn {
			t.Errorf("status = %v, want ON", status)
		}
		if !changed {
			t.Error("changed = false, want true")
		}

		got, err := h.devices.GetByID(ctx, "lamp-0001")
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got.Status != device.StatusOn {
			t.Errorf("persisted status = %v, want ON", got.Status)
		}
	})

	t.Run("turns lamp off below threshold", func(t *testing.T) {
		h := setupEngine(t)
		dev := h.seedLamp(t, "lamp-0001", device.StatusOn)

		status, changed, err := h.engine.Evaluate(ctx, dev, 250)
		if err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
		if status != device.StatusOff {
			t.Errorf("status = %v, want OFF", status)
		}
		if !changed {
			t.Error("changed = false, want true")
		}
	})

	t.Run("intensity equal to threshold means off", func(t *testing.T) {
		h := setupEngine(t)
		dev := h.seedLamp(t, "lamp-0001", device.StatusOn)

		status, changed, err := h.engine.Evaluate(ctx, dev, 300)
		if err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
		if status != device.StatusOff {
			t.Errorf("status = %v, want OFF", status)
		}
		if !changed {
			t.Error("changed = false, want true")
		}
	})

	t.Run("unchanged status writes nothing", func(t *testing.T) {
		h := setupEngine(t)
		dev := h.seedLamp(t, "lamp-0001", device.StatusOff)

		status, changed, err := h.engine.Evaluate(ctx, dev, 100)
		if err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
		if status != device.StatusOff {
			t.Errorf("status = %v, want OFF", status)
		}
		if changed {
			t.Error("changed = true, want false")
		}

		if entries := h.transitions(t, "lamp-0001"); len(entries) != 0 {
			t.Errorf("transition log has %d entries, want 0", len(entries))
		}
		if msgs := h.mqtt.published(); len(msgs) != 0 {
			t.Errorf("published %d commands, want 0", len(msgs))
		}
	})

	t.Run("logs transition with auto detail", func(t *testing.T) {
		h := setupEngine(t)
		dev := h.seedLamp(t, "lamp-0001", device.StatusOff)

		if _, _, err := h.engine.Evaluate(ctx, dev, 350); err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}

		entries := h.transitions(t, "lamp-0001")
		if len(entries) != 1 {
			t.Fatalf("transition log has %d entries, want 1", len(entries))
		}
		entry := entries[0]
		if entry.Action != audit.ActionOn {
			t.Errorf("action = %q, want ON", entry.Action)
		}
		if entry.Mode != string(device.ModeAuto) {
			t.Errorf("mode = %q, want AUTO", entry.Mode)
		}
		if entry.Actor != "" {
			t.Errorf("actor = %q, want empty", entry.Actor)
		}
		want := "Auto control: light intensity 350 > threshold 300"
		if entry.Detail != want {
			t.Errorf("detail = %q, want %q", entry.Detail, want)
		}
	})

	t.Run("off transition detail uses lte operator", func(t *testing.T) {
		h := setupEngine(t)
		dev := h.seedLamp(t, "lamp-0001", device.StatusOn)

		if _, _, err := h.engine.Evaluate(ctx, dev, 250); err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}

		entries := h.transitions(t, "lamp-0001")
		if len(entries) != 1 {
			t.Fatalf("transition log has %d entries, want 1", len(entries))
		}
		want := "Auto control: light intensity 250 <= threshold 300"
		if entries[0].Detail != want {
			t.Errorf("detail = %q, want %q", entries[0].Detail, want)
		}
	})

	t.Run("publishes command after change", func(t *testing.T) {
		h := setupEngine(t)
		dev := h.seedLamp(t, "lamp-0001", device.StatusOff)

		if _, _, err := h.engine.Evaluate(ctx, dev, 350); err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}

		msgs := h.mqtt.published()
		if len(msgs) != 1 {
			t.Fatalf("published %d commands, want 1", len(msgs))
		}
		if msgs[0].topic != "lumen/command/lamp-0001" {
			t.Errorf("topic = %q, want lumen/command/lamp-0001", msgs[0].topic)
		}

		var cmd commandPayload
		if err := json.Unmarshal(msgs[0].payload, &cmd); err != nil {
			t.Fatalf("unmarshaling command: %v", err)
		}
		if cmd.Status != "ON" {
			t.Errorf("command status = %q, want ON", cmd.Status)
		}
		if cmd.Source != "auto" {
			t.Errorf("command source = %q, want auto", cmd.Source)
		}
	})

	t.Run("publish failure does not fail evaluation", func(t *testing.T) {
		h := setupEngine(t)
		h.mqtt.err = errors.New("broker down")
		dev := h.seedLamp(t, "lamp-0001", device.StatusOff)

		status, changed, err := h.engine.Evaluate(ctx, dev, 350)
		if err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
		if status != device.StatusOn || !changed {
			t.Errorf("Evaluate() = (%v, %v), want (ON, true)", status, changed)
		}
	})

	t.Run("archives committed status change", func(t *testing.T) {
		h := setupEngine(t)
		archive := &mockArchiver{}
		h.engine.SetArchiver(archive)
		dev := h.seedLamp(t, "lamp-0001", device.StatusOff)

		if _, _, err := h.engine.Evaluate(ctx, dev, 350); err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
		if len(archive.changes) != 1 {
			t.Fatalf("archived %d changes, want 1", len(archive.changes))
		}
		if archive.changes[0].status != "ON" || archive.changes[0].mode != "AUTO" {
			t.Errorf("archived change = %+v, want ON/AUTO", archive.changes[0])
		}
	})

	t.Run("works without mqtt client", func(t *testing.T) {
		h := setupEngine(t)
		h.engine.mqtt = nil
		dev := h.seedLamp(t, "lamp-0001", device.StatusOff)

		if _, _, err := h.engine.Evaluate(ctx, dev, 350); err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
	})

	t.Run("reads threshold fresh per evaluation", func(t *testing.T) {
		h := setupEngine(t)
		dev := h.seedLamp(t, "lamp-0001", device.StatusOff)

		// 350 is below a raised threshold, so the lamp stays off.
		if err := h.settings.Set(ctx, settings.KeyLightThreshold, "400"); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		status, changed, err := h.engine.Evaluate(ctx, dev, 350)
		if err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
		if status != device.StatusOff || changed {
			t.Fatalf("Evaluate() = (%v, %v), want (OFF, false)", status, changed)
		}

		// Lowering the threshold flips the same reading to ON.
		if err := h.settings.Set(ctx, settings.KeyLightThreshold, "200"); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		status, changed, err = h.engine.Evaluate(ctx, dev, 350)
		if err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
		if status != device.StatusOn || !changed {
			t.Errorf("Evaluate() = (%v, %v), want (ON, true)", status, changed)
		}

		entries := h.transitions(t, "lamp-0001")
		if len(entries) != 1 {
			t.Fatalf("transition log has %d entries, want 1", len(entries))
		}
		if !strings.Contains(entries[0].Detail, "threshold 200") {
			t.Errorf("detail = %q, want threshold 200 mentioned", entries[0].Detail)
		}
	})

	t.Run("falls back to default threshold when unset", func(t *testing.T) {
		h := setupEngine(t)
		dev := h.seedLamp(t, "lamp-0001", device.StatusOff)

		// No light_threshold row exists; the default of 300 applies.
		status, _, err := h.engine.Evaluate(ctx, dev, 301)
		if err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
		if status != device.StatusOn {
			t.Errorf("status = %v, want ON at default threshold", status)
		}
	})

	t.Run("skips evaluation when automation disabled", func(t *testing.T) {
		h := setupEngine(t)
		dev := h.seedLamp(t, "lamp-0001", device.StatusOff)

		if err := h.settings.Set(ctx, settings.KeyAutoModeEnabled, "false"); err != nil {
			t.Fatalf("Set() error = %v", err)
		}

		status, changed, err := h.engine.Evaluate(ctx, dev, 999)
		if err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
		if status != device.StatusOff || changed {
			t.Errorf("Evaluate() = (%v, %v), want (OFF, false)", status, changed)
		}
		if entries := h.transitions(t, "lamp-0001"); len(entries) != 0 {
			t.Errorf("transition log has %d entries, want 0", len(entries))
		}
	})

	t.Run("nil device returns error", func(t *testing.T) {
		h := setupEngine(t)

		_, _, err := h.engine.Evaluate(ctx, nil, 350)
		if !errors.Is(err, ErrNilDevice) {
			t.Errorf("Evaluate(nil) error = %v, want ErrNilDevice", err)
		}
	})

	t.Run("log failure rolls back status update", func(t *testing.T) {
		h := setupEngine(t)
		dev := h.seedLamp(t, "lamp-0001", device.StatusOff)

		// Dropping the log table makes the insert fail inside the
		// transaction; the status update must roll back with it.
		if _, err := h.db.Exec(`DROP TABLE transition_logs`); err != nil {
			t.Fatalf("dropping table: %v", err)
		}

		_, _, err := h.engine.Evaluate(ctx, dev, 350)
		if err == nil {
			t.Fatal("Evaluate() error = nil, want failure")
		}

		got, err := h.devices.GetByID(ctx, "lamp-0001")
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got.Status != device.StatusOff {
			t.Errorf("status after rollback = %v, want OFF", got.Status)
		}
	})
}

func TestEngine_Evaluate_InvalidatesCache(t *testing.T) {
	ctx := context.Background()
	h := setupEngine(t)
	h.seedLamp(t, "lamp-0001", device.StatusOff)

	// Prime the registry cache with the OFF state.
	cached, err := h.registry.GetDevice(ctx, "lamp-0001")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if cached.Status != device.StatusOff {
		t.Fatalf("cached status = %v, want OFF", cached.Status)
	}

	if _, _, err := h.engine.Evaluate(ctx, cached, 350); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	fresh, err := h.registry.GetDevice(ctx, "lamp-0001")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if fresh.Status != device.StatusOn {
		t.Errorf("cached status after evaluate = %v, want ON", fresh.Status)
	}
}
