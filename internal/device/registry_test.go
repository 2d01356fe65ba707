package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func setupTestRegistry(t *testing.T) (*Registry, *SQLiteRepository) {
	t.Helper()
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	return NewRegistry(repo), repo
}

func TestRegistry_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("applies registration defaults", func(t *testing.T) {
		reg, _ := setupTestRegistry(t)

		d := &Device{ID: "lamp-0001", Name: "Elm Street 1"}
		if err := reg.Register(ctx, d); err != nil {
			t.Fatalf("Register() error = %v", err)
		}

		got, err := reg.GetDevice(ctx, "lamp-0001")
		if err != nil {
			t.Fatalf("GetDevice() error = %v", err)
		}
		if got.Status != StatusOff {
			t.Errorf("Status = %q, want %q", got.Status, StatusOff)
		}
		if got.Mode != ModeManual {
			t.Errorf("Mode = %q, want default %q", got.Mode, ModeManual)
		}
		if got.IsOnline {
			t.Error("IsOnline = true, want false at registration")
		}
		if got.LastSeen != nil {
			t.Errorf("LastSeen = %v, want nil at registration", got.LastSeen)
		}
	})

	t.Run("respects configured default mode", func(t *testing.T) {
		reg, _ := setupTestRegistry(t)
		if err := reg.SetDefaultMode(ModeAuto); err != nil {
			t.Fatalf("SetDefaultMode() error = %v", err)
		}

		d := &Device{ID: "lamp-auto", Name: "Auto Lamp"}
		if err := reg.Register(ctx, d); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		if d.Mode != ModeAuto {
			t.Errorf("Mode = %q, want %q", d.Mode, ModeAuto)
		}
	})

	t.Run("caller-specified mode wins over default", func(t *testing.T) {
		reg, _ := setupTestRegistry(t)
		if err := reg.SetDefaultMode(ModeAuto); err != nil {
			t.Fatalf("SetDefaultMode() error = %v", err)
		}

		d := &Device{ID: "lamp-man", Name: "Manual Lamp", Mode: ModeManual}
		if err := reg.Register(ctx, d); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		if d.Mode != ModeManual {
			t.Errorf("Mode = %q, want %q", d.Mode, ModeManual)
		}
	})

	t.Run("returns ErrDeviceExists for duplicate registration", func(t *testing.T) {
		reg, _ := setupTestRegistry(t)

		if err := reg.Register(ctx, &Device{ID: "lamp-dup", Name: "First"}); err != nil {
			t.Fatalf("Register() error = %v", err)
		}

		err := reg.Register(ctx, &Device{ID: "lamp-dup", Name: "Second"})
		if !errors.Is(err, ErrDeviceExists) {
			t.Errorf("Register() error = %v, want ErrDeviceExists", err)
		}
	})

	t.Run("rejects invalid device", func(t *testing.T) {
		reg, _ := setupTestRegistry(t)

		err := reg.Register(ctx, &Device{ID: "lamp-bad"})
		if !errors.Is(err, ErrInvalidName) {
			t.Errorf("Register() error = %v, want ErrInvalidName", err)
		}
	})
}

func TestRegistry_GetDevice(t *testing.T) {
	ctx := context.Background()

	t.Run("returns ErrDeviceNotFound for missing device", func(t *testing.T) {
		reg, _ := setupTestRegistry(t)

		_, err := reg.GetDevice(ctx, "lamp-missing")
		if !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("GetDevice() error = %v, want ErrDeviceNotFound", err)
		}
	})

	t.Run("returns deep copies", func(t *testing.T) {
		reg, _ := setupTestRegistry(t)
		if err := reg.Register(ctx, &Device{ID: "lamp-copy", Name: "Copy Lamp"}); err != nil {
			t.Fatalf("Register() error = %v", err)
		}

		first, err := reg.GetDevice(ctx, "lamp-copy")
		if err != nil {
			t.Fatalf("GetDevice() error = %v", err)
		}
		first.Name = "Mutated"

		second, err := reg.GetDevice(ctx, "lamp-copy")
		if err != nil {
			t.Fatalf("GetDevice() error = %v", err)
		}
		if second.Name != "Copy Lamp" {
			t.Errorf("cached device mutated: Name = %q", second.Name)
		}
	})

	t.Run("falls back to repository for uncached device", func(t *testing.T) {
		reg, repo := setupTestRegistry(t)

		// Write directly via the repository so the cache never sees it
		if err := repo.Create(ctx, testDevice("lamp-direct", "Direct")); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		got, err := reg.GetDevice(ctx, "lamp-direct")
		if err != nil {
			t.Fatalf("GetDevice() error = %v", err)
		}
		if got.ID != "lamp-direct" {
			t.Errorf("ID = %q, want lamp-direct", got.ID)
		}
	})
}

func TestRegistry_MarkSeen(t *testing.T) {
	ctx := context.Background()
	reg, _ := setupTestRegistry(t)

	if err := reg.Register(ctx, &Device{ID: "lamp-seen", Name: "Seen Lamp"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	before := time.Now().UTC().Add(-time.Second)
	if err := reg.MarkSeen(ctx, "lamp-seen"); err != nil {
		t.Fatalf("MarkSeen() error = %v", err)
	}

	got, err := reg.GetDevice(ctx, "lamp-seen")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if !got.IsOnline {
		t.Error("IsOnline = false after MarkSeen()")
	}
	if got.LastSeen == nil || got.LastSeen.Before(before) {
		t.Errorf("LastSeen = %v, want recent timestamp", got.LastSeen)
	}

	t.Run("returns ErrDeviceNotFound for missing device", func(t *testing.T) {
		err := reg.MarkSeen(ctx, "lamp-missing")
		if !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("MarkSeen() error = %v, want ErrDeviceNotFound", err)
		}
	})
}

func TestRegistry_Invalidate(t *testing.T) {
	ctx := context.Background()
	reg, repo := setupTestRegistry(t)

	if err := reg.Register(ctx, &Device{ID: "lamp-inv", Name: "Invalidate Lamp"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// Simulate a transaction writing past the registry
	if err := repo.UpdateStatus(ctx, "lamp-inv", StatusOn); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}

	// Cache is stale until invalidated
	stale, _ := reg.GetDevice(ctx, "lamp-inv")
	if stale.Status != StatusOff {
		t.Fatalf("expected stale cache before Invalidate, got %q", stale.Status)
	}

	if err := reg.Invalidate(ctx, "lamp-inv"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	fresh, _ := reg.GetDevice(ctx, "lamp-inv")
	if fresh.Status != StatusOn {
		t.Errorf("Status = %q after Invalidate, want %q", fresh.Status, StatusOn)
	}

	t.Run("drops cache entry for deleted device", func(t *testing.T) {
		if err := repo.Delete(ctx, "lamp-inv"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}

		err := reg.Invalidate(ctx, "lamp-inv")
		if !errors.Is(err, ErrDeviceNotFound) {
			t.Fatalf("Invalidate() error = %v, want ErrDeviceNotFound", err)
		}

		_, err = reg.GetDevice(ctx, "lamp-inv")
		if !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("GetDevice() error = %v, want ErrDeviceNotFound", err)
		}
	})
}

func TestRegistry_Lock(t *testing.T) {
	reg, _ := setupTestRegistry(t)

	t.Run("serializes access per device", func(t *testing.T) {
		var counter int
		var wg sync.WaitGroup

		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				reg.Lock("lamp-0001")
				defer reg.Unlock("lamp-0001")
				counter++
			}()
		}
		wg.Wait()

		if counter != 50 {
			t.Errorf("counter = %d, want 50", counter)
		}
	})

	t.Run("locks for distinct devices are independent", func(t *testing.T) {
		reg.Lock("lamp-a")
		defer reg.Unlock("lamp-a")

		done := make(chan struct{})
		go func() {
			reg.Lock("lamp-b")
			reg.Unlock("lamp-b")
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("lock on lamp-b blocked by lock on lamp-a")
		}
	})
}

func TestRegistry_GetStats(t *testing.T) {
	ctx := context.Background()
	reg, _ := setupTestRegistry(t)

	on := &Device{ID: "lamp-on", Name: "On", Status: StatusOn, Mode: ModeAuto}
	off := &Device{ID: "lamp-off", Name: "Off"}
	for _, d := range []*Device{on, off} {
		if err := reg.Register(ctx, d); err != nil {
			t.Fatalf("Register(%s) error = %v", d.ID, err)
		}
	}

	// Registration forces is_online=false, so flip one via MarkSeen
	if err := reg.MarkSeen(ctx, "lamp-on"); err != nil {
		t.Fatalf("MarkSeen() error = %v", err)
	}

	stats := reg.GetStats(5 * time.Minute)
	if stats.TotalDevices != 2 {
		t.Errorf("TotalDevices = %d, want 2", stats.TotalDevices)
	}
	if stats.LightsOn != 1 {
		t.Errorf("LightsOn = %d, want 1", stats.LightsOn)
	}
	if stats.AutoMode != 1 {
		t.Errorf("AutoMode = %d, want 1", stats.AutoMode)
	}
	if stats.Online != 1 {
		t.Errorf("Online = %d, want 1", stats.Online)
	}
	if stats.Offline != 1 {
		t.Errorf("Offline = %d, want 1", stats.Offline)
	}
}

func TestRegistry_DeleteDevice(t *testing.T) {
	ctx := context.Background()
	reg, _ := setupTestRegistry(t)

	if err := reg.Register(ctx, &Device{ID: "lamp-del", Name: "Delete Me"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := reg.DeleteDevice(ctx, "lamp-del"); err != nil {
		t.Fatalf("DeleteDevice() error = %v", err)
	}

	_, err := reg.GetDevice(ctx, "lamp-del")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetDevice() after delete error = %v, want ErrDeviceNotFound", err)
	}
}
