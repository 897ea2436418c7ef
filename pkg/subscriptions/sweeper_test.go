// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package subscriptions

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/canonical/license-service/internal/logging"
)

type sweepCounter struct {
	ServiceInterface

	calls atomic.Int32
	err   error
}

func (s *sweepCounter) Sweep(ctx context.Context, now time.Time) (*SweepResult, error) {
	s.calls.Add(1)
	return &SweepResult{Expired: 1}, s.err
}

func TestSweeperSweepOnce(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "clean sweep"},
		{name: "partial failure still reports", err: errors.New("one subscription failed")},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			service := &sweepCounter{err: test.err}

			result := NewSweeper(service, time.Minute, logging.NewNoopLogger()).SweepOnce(context.Background())

			if result == nil || result.Expired != 1 {
				t.Fatalf("expected the sweep result to be returned, got %+v", result)
			}
			if service.calls.Load() != 1 {
				t.Fatalf("expected 1 sweep, got %d", service.calls.Load())
			}
		})
	}
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	service := new(sweepCounter)
	sweeper := NewSweeper(service, 5*time.Millisecond, logging.NewNoopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for service.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("sweeper never ran")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

func TestNewSweeperDefaultsInterval(t *testing.T) {
	if s := NewSweeper(new(sweepCounter), 0, logging.NewNoopLogger()); s.interval != time.Hour {
		t.Fatalf("expected default interval of 1h, got %s", s.interval)
	}
}
