package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBulkhead_AllowsWithinLimit(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "items", MaxConcurrent: 3})

	var callCount int32
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := b.Execute(context.Background(), func() error {
				atomic.AddInt32(&callCount, 1)
				time.Sleep(10 * time.Millisecond)
				return nil
			})
			if err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		}()
	}
	wg.Wait()

	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestBulkhead_RejectsWhenFull(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "items", MaxConcurrent: 1})

	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	err := b.Acquire(context.Background())
	if !errors.Is(err, ErrBulkheadFull) {
		t.Errorf("expected ErrBulkheadFull, got %v", err)
	}
	if !IsRejection(err) {
		t.Error("expected IsRejection to be true")
	}
	b.Release()
}

func TestBulkhead_ReleaseFromAnotherGoroutine(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "items", MaxConcurrent: 1, MaxWait: time.Second})

	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		b.Release()
	}()

	start := time.Now()
	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("expected the waiting acquire to succeed, got %v", err)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Error("expected acquire to wait for the release")
	}
	b.Release()
}

func TestBulkhead_TimesOutWaiting(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "items", MaxConcurrent: 1, MaxWait: 20 * time.Millisecond})
	b.Acquire(context.Background())
	defer b.Release()

	err := b.Acquire(context.Background())
	if !errors.Is(err, ErrBulkheadTimeout) {
		t.Errorf("expected ErrBulkheadTimeout, got %v", err)
	}
}

func TestBulkhead_RespectsContext(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "items", MaxConcurrent: 1, MaxWait: time.Second})
	b.Acquire(context.Background())
	defer b.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := b.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
	if IsRejection(err) {
		t.Error("a context error is not a rejection")
	}
}

func TestBulkhead_Callbacks(t *testing.T) {
	var acquired, released, rejected int32
	b := NewBulkhead(BulkheadConfig{
		Name:          "items",
		MaxConcurrent: 1,
		OnAcquire:     func(string) { atomic.AddInt32(&acquired, 1) },
		OnRelease:     func(string) { atomic.AddInt32(&released, 1) },
		OnReject:      func(string) { atomic.AddInt32(&rejected, 1) },
	})

	b.Acquire(context.Background())
	b.Acquire(context.Background())
	b.Release()

	if acquired != 1 || released != 1 || rejected != 1 {
		t.Errorf("expected 1/1/1 callbacks, got acquire=%d release=%d reject=%d", acquired, released, rejected)
	}
}

func TestBulkhead_AvailableAndInUse(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "items", MaxConcurrent: 3})

	if b.Available() != 3 || b.InUse() != 0 {
		t.Fatalf("expected 3 available, got %d (in use %d)", b.Available(), b.InUse())
	}
	b.Acquire(context.Background())
	b.Acquire(context.Background())
	if b.Available() != 1 || b.InUse() != 2 {
		t.Errorf("expected 1 available and 2 in use, got %d and %d", b.Available(), b.InUse())
	}
	b.Release()
	b.Release()
	if b.MaxConcurrent() != 3 {
		t.Errorf("expected MaxConcurrent 3, got %d", b.MaxConcurrent())
	}
}

func TestNewBulkhead_DefaultLimit(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "items"})
	if b.MaxConcurrent() != 10 {
		t.Errorf("expected default limit 10, got %d", b.MaxConcurrent())
	}
}
