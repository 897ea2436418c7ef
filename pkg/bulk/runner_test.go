// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package bulk

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
)

func TestChunk(t *testing.T) {
	tests := []struct {
		name     string
		items    int
		size     int
		expected []int
	}{
		{name: "empty", items: 0, size: 50, expected: []int{}},
		{name: "exact multiple", items: 150, size: 50, expected: []int{50, 50, 50}},
		{name: "remainder", items: 120, size: 50, expected: []int{50, 50, 20}},
		{name: "smaller than chunk", items: 7, size: 50, expected: []int{7}},
		{name: "invalid size falls back to default", items: 60, size: 0, expected: []int{50, 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := make([]int, tt.items)
			chunks := Chunk(items, tt.size)

			if len(chunks) != len(tt.expected) {
				t.Fatalf("expected %d chunks, got %d", len(tt.expected), len(chunks))
			}
			for i, c := range chunks {
				if len(c) != tt.expected[i] {
					t.Errorf("chunk %d: expected %d items, got %d", i, tt.expected[i], len(c))
				}
			}
		})
	}
}

func TestRunCollectsFailuresAndKeepsOrder(t *testing.T) {
	for _, concurrency := range []int{1, 8} {
		t.Run(fmt.Sprintf("concurrency %d", concurrency), func(t *testing.T) {
			items := make([]int, 120)
			for i := range items {
				items[i] = i
			}

			r := NewRunner(50, concurrency)
			res := Run(context.Background(), r, items, strconv.Itoa, func(_ context.Context, n int) (int, error) {
				if n%10 == 0 {
					return 0, errors.New("divisible by ten")
				}
				return n, nil
			})

			if res.Processed != len(items) {
				t.Errorf("expected %d processed, got %d", len(items), res.Processed)
			}
			if len(res.Failed) != 12 {
				t.Errorf("expected 12 failures, got %d", len(res.Failed))
			}
			if len(res.Successful) != 108 {
				t.Errorf("expected 108 successes, got %d", len(res.Successful))
			}
			for i := 1; i < len(res.Successful); i++ {
				if res.Successful[i] < res.Successful[i-1] {
					t.Fatalf("results out of input order at %d", i)
				}
			}
			if res.Stats.TotalBatches != 3 || res.Stats.ItemsPerBatch != 50 {
				t.Errorf("unexpected stats %+v", res.Stats)
			}
			if res.Failed[0].ID != "0" || res.Failed[0].Err() == nil {
				t.Errorf("unexpected first failure %+v", res.Failed[0])
			}
		})
	}
}

func TestRunStopsBetweenChunksWhenCancelled(t *testing.T) {
	items := make([]int, 100)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	res := Run(ctx, NewRunner(10, 1), items, strconv.Itoa, func(context.Context, int) (int, error) {
		calls++
		if calls == 10 {
			cancel()
		}
		return 0, nil
	})

	if !res.Cancelled {
		t.Error("expected run to report cancellation")
	}
	if res.Processed != 10 || calls != 10 {
		t.Errorf("expected exactly one chunk to run, processed %d calls %d", res.Processed, calls)
	}
}
