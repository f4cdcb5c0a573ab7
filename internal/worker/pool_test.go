package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lazypower/stratum/internal/config"
)

func testPoolConfig() config.PoolConfig {
	return config.PoolConfig{
		MinWorkers:        1,
		MaxWorkers:        2,
		QueueCapacity:     2,
		HighPrioWaitMS:    50,
		MonitorIntervalMS: 20,
		ScaleUpDepth:      100,
		ScaleDownDepth:    0,
		WatchdogTimeoutMS: 0,
		BatchSize:         4,
		MaxJobAttempts:    2,
		AgeBoostMinutes:   5,
	}
}

func TestPoolRunsJobs(t *testing.T) {
	p := New(testPoolConfig(), nil)
	p.Start(context.Background())
	defer p.Close()

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		job := &Job{
			ID:       NewJobID("test", "r"),
			Kind:     "test",
			Priority: 6,
			Run: func(ctx context.Context) error {
				ran.Add(1)
				wg.Done()
				return nil
			},
		}
		if err := p.Submit(job); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	waitOrFail(t, &wg, 2*time.Second)
	if ran.Load() != 2 {
		t.Errorf("ran = %d, want 2", ran.Load())
	}
}

func TestLowPriorityDroppedOnOverflow(t *testing.T) {
	// No workers started: the queue fills and stays full.
	p := New(testPoolConfig(), nil)
	defer p.Close()

	for i := 0; i < 2; i++ {
		if err := p.Submit(&Job{ID: "fill", Kind: "test", Priority: 2, Run: noop}); err != nil {
			t.Fatalf("fill Submit: %v", err)
		}
	}

	err := p.Submit(&Job{ID: "shed", Kind: "test", Priority: 2, Run: noop})
	if !errors.Is(err, ErrJobDropped) {
		t.Fatalf("Submit err = %v, want ErrJobDropped", err)
	}

	stats := p.Snapshot()
	if stats.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", stats.Dropped)
	}
	if stats.QueueDepth != 2 {
		t.Errorf("QueueDepth = %d, want 2", stats.QueueDepth)
	}
}

func TestHighPriorityGetsBackpressure(t *testing.T) {
	p := New(testPoolConfig(), nil)
	defer p.Close()

	for i := 0; i < 2; i++ {
		if err := p.Submit(&Job{ID: "fill", Kind: "test", Priority: 2, Run: noop}); err != nil {
			t.Fatalf("fill Submit: %v", err)
		}
	}

	start := time.Now()
	err := p.Submit(&Job{ID: "urgent", Kind: "test", Priority: 8, Run: noop})
	elapsed := time.Since(start)

	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("Submit err = %v, want ErrCapacityExceeded", err)
	}
	// The bounded wait must actually wait before surfacing backpressure.
	if elapsed < 40*time.Millisecond {
		t.Errorf("backpressure surfaced after %v, want >= ~50ms wait", elapsed)
	}
}

func TestRequeueBypassesCapacity(t *testing.T) {
	p := New(testPoolConfig(), nil)
	defer p.Close()

	for i := 0; i < 2; i++ {
		if err := p.Submit(&Job{ID: "fill", Kind: "test", Priority: 2, Run: noop}); err != nil {
			t.Fatalf("fill Submit: %v", err)
		}
	}

	// Accepted work is never shed on requeue, even over a full queue.
	p.Requeue(&Job{ID: "retry", Kind: "test", Priority: 2, Run: noop}, errors.New("transient"))
	if depth := p.Depth(); depth != 3 {
		t.Errorf("Depth = %d, want 3", depth)
	}
}

func TestExhaustedJobGoesToDeadLetter(t *testing.T) {
	dead := make(chan *Job, 1)
	p := New(testPoolConfig(), func(job *Job, err error) {
		dead <- job
	})
	p.Start(context.Background())
	defer p.Close()

	var runs atomic.Int32
	job := &Job{
		ID:       NewJobID("test", "doomed"),
		Kind:     "test",
		RecordID: "doomed",
		Priority: 6,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return errors.New("always fails")
		},
	}
	if err := p.Submit(job); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case got := <-dead:
		if got.RecordID != "doomed" {
			t.Errorf("dead letter RecordID = %q", got.RecordID)
		}
		if got.Attempts != 2 {
			t.Errorf("Attempts = %d, want 2", got.Attempts)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("dead letter never arrived")
	}
	if runs.Load() != 2 {
		t.Errorf("runs = %d, want 2 (initial + one retry)", runs.Load())
	}
}

func TestScalesUpUnderLoad(t *testing.T) {
	cfg := testPoolConfig()
	cfg.QueueCapacity = 20
	cfg.ScaleUpDepth = 1

	p := New(cfg, nil)
	p.Start(context.Background())
	defer p.Close()

	release := make(chan struct{})
	blocker := func(ctx context.Context) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}
	for i := 0; i < 6; i++ {
		if err := p.Submit(&Job{ID: NewJobID("test", "b"), Kind: "test", Priority: 6, Run: blocker}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	// Two consecutive deep observations trigger the scale-up.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.Snapshot().Workers == cfg.MaxWorkers {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := p.Snapshot().Workers; got != cfg.MaxWorkers {
		t.Errorf("Workers = %d, want %d", got, cfg.MaxWorkers)
	}
	close(release)
}

func TestWatchdogReplacesStuckWorker(t *testing.T) {
	cfg := testPoolConfig()
	cfg.WatchdogTimeoutMS = 50

	p := New(cfg, nil)
	p.Start(context.Background())
	defer p.Close()

	var runs atomic.Int32
	done := make(chan struct{})
	job := &Job{
		ID:       NewJobID("test", "stuck"),
		Kind:     "test",
		RecordID: "stuck",
		Priority: 6,
		Run: func(ctx context.Context) error {
			if runs.Add(1) == 1 {
				// First attempt hangs until the watchdog cancels it.
				<-ctx.Done()
				return ctx.Err()
			}
			close(done)
			return nil
		},
	}
	if err := p.Submit(job); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("requeued job never ran on a replacement worker")
	}
	if runs.Load() != 2 {
		t.Errorf("runs = %d, want 2", runs.Load())
	}
}

func TestSubmitAfterClose(t *testing.T) {
	p := New(testPoolConfig(), nil)
	p.Start(context.Background())
	p.Close()

	err := p.Submit(&Job{ID: "late", Kind: "test", Priority: 6, Run: noop})
	if !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Submit err = %v, want ErrPoolClosed", err)
	}
}

func noop(ctx context.Context) error { return nil }

func waitOrFail(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for jobs")
	}
}
