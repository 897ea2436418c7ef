// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package bulk

import (
	"context"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultChunkSize   = 50
	DefaultConcurrency = 1
)

// Failure reports one input item that could not be processed.
type Failure struct {
	ID    string `json:"id"`
	Error string `json:"error"`

	err error
}

// Err returns the underlying error of the failure.
func (f Failure) Err() error {
	return f.err
}

type Stats struct {
	TotalBatches  int `json:"total_batches"`
	ItemsPerBatch int `json:"items_per_batch"`
}

type Result[R any] struct {
	Successful []R       `json:"successful"`
	Failed     []Failure `json:"failed"`
	Stats      Stats     `json:"stats"`
	// Processed counts items that ran to completion, successful or not.
	Processed int `json:"processed"`
	// Cancelled is set when the context ended before every chunk ran.
	Cancelled bool `json:"cancelled,omitempty"`
}

type Runner struct {
	chunkSize   int
	concurrency int
}

func NewRunner(chunkSize, concurrency int) *Runner {
	r := new(Runner)

	r.chunkSize = chunkSize
	if r.chunkSize <= 0 {
		r.chunkSize = DefaultChunkSize
	}

	r.concurrency = concurrency
	if r.concurrency <= 0 {
		r.concurrency = DefaultConcurrency
	}

	return r
}

func (r *Runner) ChunkSize() int {
	return r.chunkSize
}

// Chunk splits items into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = DefaultChunkSize
	}

	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

type outcome[R any] struct {
	value R
	err   error
}

// Run applies fn to every item, chunk by chunk. Per-item errors are collected into
// Result.Failed and never stop the batch. Successful results keep the input order.
// The context is checked between chunks; a cancelled run reports what already ran.
func Run[T, R any](ctx context.Context, r *Runner, items []T, id func(T) string, fn func(context.Context, T) (R, error)) *Result[R] {
	chunks := Chunk(items, r.chunkSize)

	res := &Result[R]{
		Successful: make([]R, 0, len(items)),
		Failed:     make([]Failure, 0),
		Stats: Stats{
			TotalBatches:  len(chunks),
			ItemsPerBatch: r.chunkSize,
		},
	}

	for _, chunk := range chunks {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}

		outcomes := runChunk(ctx, r.concurrency, chunk, fn)

		for i, o := range outcomes {
			res.Processed++
			if o.err != nil {
				res.Failed = append(res.Failed, Failure{ID: id(chunk[i]), Error: o.err.Error(), err: o.err})
				continue
			}
			res.Successful = append(res.Successful, o.value)
		}
	}

	return res
}

func runChunk[T, R any](ctx context.Context, concurrency int, chunk []T, fn func(context.Context, T) (R, error)) []outcome[R] {
	outcomes := make([]outcome[R], len(chunk))

	if concurrency == 1 {
		for i, item := range chunk {
			v, err := fn(ctx, item)
			outcomes[i] = outcome[R]{value: v, err: err}
		}
		return outcomes
	}

	var g errgroup.Group
	g.SetLimit(concurrency)

	for i, item := range chunk {
		g.Go(func() error {
			v, err := fn(ctx, item)
			outcomes[i] = outcome[R]{value: v, err: err}
			return nil
		})
	}

	_ = g.Wait()

	return outcomes
}
