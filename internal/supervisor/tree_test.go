// Listenbridge - ListenBrainz Scrobbling Bridge for Media Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenbridge

package supervisor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

// blockingService runs until its context is canceled.
type blockingService struct {
	served atomic.Int32
}

func (s *blockingService) Serve(ctx context.Context) error {
	s.served.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func (s *blockingService) String() string { return "blocking-service" }

func TestNewSupervisorTreeAppliesDefaults(t *testing.T) {
	tree, err := NewSupervisorTree(slog.Default(), TreeConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tree.config.FailureThreshold != 5.0 {
		t.Errorf("failure threshold: got %f", tree.config.FailureThreshold)
	}
	if tree.config.ShutdownTimeout != 10*time.Second {
		t.Errorf("shutdown timeout: got %v", tree.config.ShutdownTimeout)
	}
	if tree.Root() == nil {
		t.Error("root supervisor must exist")
	}
}

func TestSupervisorTreeRunsServices(t *testing.T) {
	tree, err := NewSupervisorTree(slog.Default(), DefaultTreeConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pipelineSvc := &blockingService{}
	apiSvc := &blockingService{}
	tree.AddPipelineService(pipelineSvc)
	tree.AddAPIService(apiSvc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.After(2 * time.Second)
	for pipelineSvc.served.Load() == 0 || apiSvc.served.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("services did not start")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not stop")
	}
}
