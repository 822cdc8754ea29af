package workers

import (
	"errors"
	"sync"
	"testing"
	"time"

	"chart_engine_backend/models"
)

func testConfig(workers int) Config {
	return Config{
		Workers:      workers,
		QueueSize:    64,
		RetryCeiling: 3,
		BackoffBase:  5 * time.Millisecond,
		BackoffCap:   20 * time.Millisecond,
	}
}

func TestExecuteResolvesResult(t *testing.T) {
	pool := NewPool(testConfig(2), func(kind TaskKind, candles []models.Candle, params TaskParams) (interface{}, error) {
		return len(candles) * params.Period, nil
	})
	defer pool.Stop()

	result := <-pool.Execute(KindSMA, make([]models.Candle, 5), TaskParams{Period: 3})
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.Value.(int) != 15 {
		t.Fatalf("value = %v, want 15", result.Value)
	}
}

func TestStopDuringCrashRestartWindow(t *testing.T) {
	// Stopping while a crashed slot's backed-off restart is pending must
	// not trip the shutdown WaitGroup.
	for i := 0; i < 20; i++ {
		pool := NewPool(testConfig(1), func(kind TaskKind, candles []models.Candle, params TaskParams) (interface{}, error) {
			panic("always crashes")
		})
		<-pool.Execute(KindSMA, nil, TaskParams{Period: 20})
		pool.Stop()
	}
}

func TestCrashRejectsOnlyInFlightTask(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	pool := NewPool(testConfig(4), func(kind TaskKind, candles []models.Candle, params TaskParams) (interface{}, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		if kind == KindRSI {
			panic("bad indicator input")
		}
		return "ok", nil
	})
	defer pool.Stop()

	crash := pool.Execute(KindRSI, nil, TaskParams{})
	healthy := make([]<-chan TaskResult, 0, 8)
	for i := 0; i < 8; i++ {
		healthy = append(healthy, pool.Execute(KindSMA, nil, TaskParams{Period: 20}))
	}

	result := <-crash
	if !errors.Is(result.Err, ErrWorkerCrashed) {
		t.Fatalf("crashed task error = %v, want ErrWorkerCrashed", result.Err)
	}

	// Every healthy task still completes; the crash stays isolated.
	for i, ch := range healthy {
		select {
		case r := <-ch:
			if r.Err != nil {
				t.Fatalf("healthy task %d failed: %v", i, r.Err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("healthy task %d never resolved", i)
		}
	}
}

func TestWorkerRestartsAfterBackoff(t *testing.T) {
	first := true
	var mu sync.Mutex
	pool := NewPool(testConfig(1), func(kind TaskKind, candles []models.Candle, params TaskParams) (interface{}, error) {
		mu.Lock()
		defer mu.Unlock()
		if first {
			first = false
			panic("transient")
		}
		return "recovered", nil
	})
	defer pool.Stop()

	if result := <-pool.Execute(KindEMA, nil, TaskParams{}); !errors.Is(result.Err, ErrWorkerCrashed) {
		t.Fatalf("first task error = %v, want ErrWorkerCrashed", result.Err)
	}

	// The single worker restarts after backoff and serves again.
	select {
	case result := <-pool.Execute(KindEMA, nil, TaskParams{}):
		if result.Err != nil {
			t.Fatalf("post-restart task failed: %v", result.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker never restarted")
	}
}

func TestRetryCeilingRetiresSlot(t *testing.T) {
	pool := NewPool(testConfig(1), func(kind TaskKind, candles []models.Candle, params TaskParams) (interface{}, error) {
		panic("always broken")
	})
	defer pool.Stop()

	// Crash the lone worker up to its ceiling.
	for i := 0; i < 3; i++ {
		result := <-pool.Execute(KindSMA, nil, TaskParams{})
		if !errors.Is(result.Err, ErrWorkerCrashed) {
			// After retirement the pool starts rejecting outright.
			if errors.Is(result.Err, ErrNoWorkers) {
				break
			}
			t.Fatalf("attempt %d error = %v", i, result.Err)
		}
		// Give the restart timer a chance to fire between crashes.
		time.Sleep(50 * time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if pool.GetStats().Retired == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("slot never retired")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if result := <-pool.Execute(KindSMA, nil, TaskParams{}); !errors.Is(result.Err, ErrNoWorkers) {
		t.Fatalf("post-retirement error = %v, want ErrNoWorkers", result.Err)
	}
}

func TestStopRejectsNewTasks(t *testing.T) {
	pool := NewPool(testConfig(2), func(kind TaskKind, candles []models.Candle, params TaskParams) (interface{}, error) {
		return nil, nil
	})
	pool.Stop()

	if result := <-pool.Execute(KindSMA, nil, TaskParams{}); !errors.Is(result.Err, ErrPoolStopped) {
		t.Fatalf("error = %v, want ErrPoolStopped", result.Err)
	}
}

func TestTaskKindString(t *testing.T) {
	if KindHeikinAshi.String() != "heikin_ashi" {
		t.Errorf("unexpected kind name %q", KindHeikinAshi)
	}
	if TaskKind(99).String() != "unknown" {
		t.Error("unknown kind should stringify to unknown")
	}
}
