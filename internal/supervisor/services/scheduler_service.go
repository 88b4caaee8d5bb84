// Listenbridge - ListenBrainz Scrobbling Bridge for Media Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenbridge

package services

import (
	"context"
	"fmt"
)

// ResubmissionScheduler matches the scheduler's lifecycle.
type ResubmissionScheduler interface {
	Start(ctx context.Context) error
	Stop() error
}

// SchedulerService wraps the resubmission scheduler as a supervised
// service.
type SchedulerService struct {
	scheduler ResubmissionScheduler
	name      string
}

// NewSchedulerService creates a scheduler service wrapper.
func NewSchedulerService(scheduler ResubmissionScheduler) *SchedulerService {
	return &SchedulerService{
		scheduler: scheduler,
		name:      "resubmission-scheduler",
	}
}

// Serve implements suture.Service.
func (s *SchedulerService) Serve(ctx context.Context) error {
	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("scheduler start failed: %w", err)
	}

	<-ctx.Done()

	if err := s.scheduler.Stop(); err != nil {
		return fmt.Errorf("scheduler stop failed: %w", err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer; suture uses it in log messages.
func (s *SchedulerService) String() string {
	return s.name
}
