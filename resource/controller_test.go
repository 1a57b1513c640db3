package resource

import (
	"context"
	"testing"
)

func TestControllerMemoryAccounting(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 8192})
	ctx := context.Background()

	if err := c.AcquireMemory(ctx, 4096); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if got := c.MemoryUsage(); got != 4096 {
		t.Errorf("usage = %d, want 4096", got)
	}

	c.ReleaseMemory(4096)
	if got := c.MemoryUsage(); got != 0 {
		t.Errorf("usage after release = %d, want 0", got)
	}
}

func TestControllerBackgroundSlots(t *testing.T) {
	c := NewController(Config{MaxBackgroundWriters: 1})

	if !c.TryAcquireBackground() {
		t.Fatal("first slot should be free")
	}
	if c.TryAcquireBackground() {
		t.Fatal("second slot should be busy")
	}
	c.ReleaseBackground()
	if !c.TryAcquireBackground() {
		t.Fatal("slot should be free again")
	}
}

func TestNilControllerIsNoop(t *testing.T) {
	var c *Controller
	ctx := context.Background()

	if err := c.AcquireMemory(ctx, 1<<20); err != nil {
		t.Fatalf("nil controller acquire: %v", err)
	}
	c.ReleaseMemory(1 << 20)
	if err := c.AcquireIO(ctx, 1<<20); err != nil {
		t.Fatalf("nil controller io: %v", err)
	}
}
