// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package subscriptions

import (
	"context"
	"time"

	"github.com/canonical/license-service/internal/logging"
)

// Sweeper periodically applies the time based lifecycle transitions.
type Sweeper struct {
	service  ServiceInterface
	interval time.Duration

	now func() time.Time

	logger logging.LoggerInterface
}

// Run sweeps once per interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Infof("lifecycle sweeper started, interval %s", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("lifecycle sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) *SweepResult {
	result, err := s.service.Sweep(ctx, s.now())
	if err != nil {
		s.logger.Errorf("lifecycle sweep finished with errors: %v", err)
	}
	return result
}

func NewSweeper(service ServiceInterface, interval time.Duration, logger logging.LoggerInterface) *Sweeper {
	s := new(Sweeper)

	s.service = service
	s.interval = interval
	if s.interval <= 0 {
		s.interval = time.Hour
	}

	s.now = time.Now
	s.logger = logger

	return s
}
