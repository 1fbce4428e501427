package parallel

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWorkerPool_ExecuteFunc(t *testing.T) {
	pool := NewWorkerPool[int, int](DefaultPoolConfig())

	inputs := []int{1, 2, 3, 4, 5}
	results := pool.ExecuteFunc(context.Background(), inputs, func(ctx context.Context, input int) (int, error) {
		return input * 2, nil
	})

	if len(results) != len(inputs) {
		t.Fatalf("Expected %d results, got %d", len(inputs), len(results))
	}
	for i, r := range results {
		if r.Error != nil {
			t.Errorf("Unexpected error for input %d: %v", inputs[i], r.Error)
		}
		if r.Input != inputs[i] || r.Result != inputs[i]*2 {
			t.Errorf("Result %d out of order: %+v", i, r)
		}
	}
}

func TestWorkerPool_Empty(t *testing.T) {
	pool := NewWorkerPool[int, int](PoolConfig{})
	if got := pool.ExecuteFunc(context.Background(), nil, nil); got != nil {
		t.Errorf("Expected nil results, got %v", got)
	}
	if pool.Workers() <= 0 {
		t.Errorf("Expected default workers, got %d", pool.Workers())
	}
}

func TestWorkerPool_CancelledContext(t *testing.T) {
	pool := NewWorkerPool[int, int](DefaultPoolConfig().WithWorkers(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := pool.ExecuteFunc(ctx, []int{1, 2, 3}, func(ctx context.Context, input int) (int, error) {
		return input, ctx.Err()
	})
	for i, r := range results {
		if !errors.Is(r.Error, context.Canceled) {
			t.Errorf("Result %d: expected context.Canceled, got %v", i, r.Error)
		}
	}
}

func TestWorkerPool_Timeout(t *testing.T) {
	pool := NewWorkerPool[int, int](DefaultPoolConfig().WithTimeout(20 * time.Millisecond))

	results := pool.ExecuteFunc(context.Background(), make([]int, 4), func(ctx context.Context, input int) (int, error) {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Second):
			return input, nil
		}
	})
	for _, r := range results {
		if r.Error == nil {
			t.Errorf("Expected timeout error, got %+v", r)
		}
	}
}

func TestChunks(t *testing.T) {
	got := Chunks(10, 4)
	want := []Range{{0, 4}, {4, 8}, {8, 10}}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Chunk %d: expected %v, got %v", i, want[i], got[i])
		}
	}
	if Chunks(0, 4) != nil {
		t.Error("Expected nil for empty input")
	}
	if c := Chunks(3, 0); len(c) != 1 || c[0].Len() != 3 {
		t.Errorf("Expected single chunk, got %v", c)
	}
}

func TestMapChunks_PreservesOrder(t *testing.T) {
	items := make([]int, 1000)
	for i := range items {
		items[i] = i
	}
	pool := NewWorkerPool[Range, []int](DefaultPoolConfig().WithWorkers(4))

	out, err := MapChunks(context.Background(), pool, items, 7, func(chunk []int, offset int) ([]int, error) {
		res := make([]int, 0, len(chunk))
		for i, v := range chunk {
			if v%3 == 0 && v == offset+i {
				res = append(res, v)
			}
		}
		return res, nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	for i := 1; i < len(out); i++ {
		if out[i] <= out[i-1] {
			t.Fatalf("Output not ordered at %d: %d <= %d", i, out[i], out[i-1])
		}
	}
	if len(out) != 334 {
		t.Errorf("Expected 334 items, got %d", len(out))
	}
}

func TestMapChunks_Error(t *testing.T) {
	boom := errors.New("boom")
	pool := NewWorkerPool[Range, []int](DefaultPoolConfig())

	_, err := MapChunks(context.Background(), pool, []int{1, 2, 3, 4}, 1, func(chunk []int, offset int) ([]int, error) {
		if offset == 2 {
			return nil, boom
		}
		return chunk, nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("Expected boom, got %v", err)
	}
}
