package shutdown

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"renderbox/internal/pkg/logger"
)

func newTestLogger() *logger.Logger {
	var buf bytes.Buffer
	return logger.New(logger.Config{
		Level:  "debug",
		Format: "json",
		Output: &buf,
	})
}

func TestRegister(t *testing.T) {
	mgr := NewManager(newTestLogger(), 5*time.Second)

	mgr.Register("store", func(ctx context.Context) error { return nil })

	if len(mgr.handlers) != 1 {
		t.Errorf("expected 1 handler, got %d", len(mgr.handlers))
	}
	if mgr.handlers[0].Name != "store" {
		t.Errorf("expected handler name 'store', got %s", mgr.handlers[0].Name)
	}
}

func TestShutdownRunsAllHandlers(t *testing.T) {
	mgr := NewManager(newTestLogger(), 5*time.Second)

	var counter atomic.Int32
	for i := 0; i < 5; i++ {
		mgr.Register("handler", func(ctx context.Context) error {
			counter.Add(1)
			return nil
		})
	}

	mgr.Shutdown()

	if counter.Load() != 5 {
		t.Errorf("expected 5 handlers to run, got %d", counter.Load())
	}
}

func TestShutdownHandlerError(t *testing.T) {
	mgr := NewManager(newTestLogger(), 5*time.Second)

	mgr.Register("failing", func(ctx context.Context) error {
		return context.DeadlineExceeded
	})

	// Must not panic or hang.
	mgr.Shutdown()
}

func TestDone(t *testing.T) {
	mgr := NewManager(newTestLogger(), 5*time.Second)

	done := mgr.Done()
	select {
	case <-done:
		t.Error("expected done channel to not be closed initially")
	default:
	}

	mgr.Shutdown()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("expected done channel to be closed after shutdown")
	}
}

func TestContext(t *testing.T) {
	mgr := NewManager(newTestLogger(), 5*time.Second)

	ctx := mgr.Context()
	select {
	case <-ctx.Done():
		t.Error("expected context to not be canceled initially")
	default:
	}

	mgr.Shutdown()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Error("expected context to be canceled after shutdown")
	}
}

func TestShutdownTimeout(t *testing.T) {
	mgr := NewManager(newTestLogger(), 100*time.Millisecond)

	mgr.Register("slow", func(ctx context.Context) error {
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
		}
		return nil
	})

	start := time.Now()
	mgr.Shutdown()

	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("shutdown took too long: %v", elapsed)
	}
}
