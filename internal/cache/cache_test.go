package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetOrComputeSingleFlight(t *testing.T) {
	c := New(16, time.Minute)
	var calls int32
	release := make(chan struct{})

	const waiters = 10
	results := make([][]byte, waiters)
	errs := make([]error, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrCompute(context.Background(), "fp", func(ctx context.Context) ([]byte, error) {
				atomic.AddInt32(&calls, 1)
				<-release
				return []byte("value"), nil
			})
		}(i)
	}

	// Give every waiter time to join the in-flight computation.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 computation, got %d", got)
	}
	for i := 0; i < waiters; i++ {
		if errs[i] != nil {
			t.Fatalf("waiter %d: unexpected error %v", i, errs[i])
		}
		if string(results[i]) != "value" {
			t.Fatalf("waiter %d: got %q", i, results[i])
		}
	}
}

func TestGetOrComputeCachesHit(t *testing.T) {
	c := New(16, time.Minute)
	var calls int32
	fn := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("v"), nil
	}

	for i := 0; i < 3; i++ {
		if _, err := c.GetOrCompute(context.Background(), "fp", fn); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 computation across repeated gets, got %d", calls)
	}
}

func TestGetOrComputeExpiryRecomputes(t *testing.T) {
	c := New(16, 20*time.Millisecond)
	var calls int32
	fn := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("v"), nil
	}

	if _, err := c.GetOrCompute(context.Background(), "fp", fn); err != nil {
		t.Fatal(err)
	}
	time.Sleep(60 * time.Millisecond)
	if _, err := c.GetOrCompute(context.Background(), "fp", fn); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("expected recompute after expiry, got %d calls", calls)
	}
}

func TestGetOrComputeErrorNotCached(t *testing.T) {
	c := New(16, time.Minute)
	boom := errors.New("boom")
	var calls int32

	_, err := c.GetOrCompute(context.Background(), "fp", func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	v, err := c.GetOrCompute(context.Background(), "fp", func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("ok"), nil
	})
	if err != nil || string(v) != "ok" {
		t.Fatalf("expected recovery after error, got %q %v", v, err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestFingerprintNormalization(t *testing.T) {
	a := Fingerprint("Photosynthesis  basics", "similarity")
	b := Fingerprint("photosynthesis basics", "similarity")
	if a != b {
		t.Fatalf("normalized inputs should share a fingerprint")
	}
	if a == Fingerprint("photosynthesis basics", "keyword") {
		t.Fatalf("different modes must not collide")
	}
	if a == Fingerprint("photosynthesis", "basics similarity") {
		t.Fatalf("part boundaries must not collide")
	}
}

func TestGetOrComputeSurvivesLeaderCancellation(t *testing.T) {
	c := New(16, time.Minute)
	var calls int32
	release := make(chan struct{})

	compute := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		// The shared flight must not inherit any single caller's
		// cancellation.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []byte("value"), nil
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrCompute(leaderCtx, "fp", compute)
		leaderErr <- err
	}()

	waiterVal := make(chan []byte, 1)
	waiterErr := make(chan error, 1)
	go func() {
		v, err := c.GetOrCompute(context.Background(), "fp", compute)
		waiterVal <- v
		waiterErr <- err
	}()

	// Let both join the flight, then abandon the first caller.
	time.Sleep(50 * time.Millisecond)
	cancelLeader()
	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller error = %v, want context.Canceled", err)
	}

	close(release)
	if err := <-waiterErr; err != nil {
		t.Fatalf("waiter error = %v, want shared value", err)
	}
	if got := string(<-waiterVal); got != "value" {
		t.Fatalf("waiter value = %q", got)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 computation, got %d", got)
	}
}
