// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/trendavatar/pkg/config"
	"github.com/AleutianAI/trendavatar/services/observability"
)

// SubjectOutcome is one subject's result within a sweep.
type SubjectOutcome struct {
	SubjectID       string `json:"subject_id"`
	SkippedInFlight bool   `json:"skipped_in_flight,omitempty"`
	Result          Result `json:"result"`
	Err             error  `json:"-"`
}

// BatchResult summarizes one scheduler sweep.
type BatchResult struct {
	Started  time.Time        `json:"started"`
	Finished time.Time        `json:"finished"`
	Outcomes []SubjectOutcome `json:"outcomes"`
}

// Posted counts subjects that ended the sweep with a published post.
func (b BatchResult) Posted() int {
	n := 0
	for _, o := range b.Outcomes {
		if o.Result.Posted() {
			n++
		}
	}
	return n
}

// Scheduler sweeps all known subjects through scheduled pipeline runs
// at a fixed interval.
//
// # Description
//
// Uses the ticker + done channel pattern for graceful shutdown. Each
// sweep enumerates subjects (a fixed configured list, or everything in
// the credential records), runs each through the orchestrator in
// scheduled mode under a per-subject timeout, and collects outcomes.
// A subject still in flight from a previous trigger is skipped rather
// than run twice.
//
// # Thread Safety
//
// All public methods are thread-safe.
type Scheduler struct {
	runner   Runner
	subjects SubjectSource
	cfg      config.Scheduler
	metrics  *observability.PipelineMetrics
	logger   *slog.Logger

	done chan struct{}

	mu       sync.Mutex
	running  bool
	inFlight map[string]bool
}

// NewScheduler wires a scheduler. metrics may be nil.
func NewScheduler(runner Runner, subjects SubjectSource, cfg config.Scheduler, metrics *observability.PipelineMetrics, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		subjects: subjects,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
		done:     make(chan struct{}),
		inFlight: make(map[string]bool),
	}
}

// Start begins the background sweep loop. Returns an error if the
// scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.done = make(chan struct{}) // reset for restart
	done := s.done
	s.mu.Unlock()

	s.logger.Info("pipeline scheduler starting",
		"interval", s.cfg.Interval.String(),
		"concurrency", s.cfg.Concurrency,
		"subject_timeout", s.cfg.SubjectTimeout.String(),
	)

	go s.runLoop(ctx, done)
	return nil
}

// Stop signals the loop to exit. Safe to call multiple times; does not
// interrupt a sweep already in progress.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.logger.Info("pipeline scheduler stopping")
	close(s.done)
	s.running = false
}

// RunNow triggers an immediate sweep, independent of the interval.
func (s *Scheduler) RunNow(ctx context.Context) (BatchResult, error) {
	return s.sweep(ctx)
}

// runLoop receives its done channel as a parameter: Start replaces
// s.done on restart, and a loop from a previous Start/Stop cycle may
// still be draining when that happens.
func (s *Scheduler) runLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("pipeline scheduler stopped (context cancelled)")
			return
		case <-done:
			s.logger.Info("pipeline scheduler stopped (stop requested)")
			return
		case <-ticker.C:
			s.executeSweep(ctx)
		}
	}
}

// executeSweep runs one sweep with logging; sweep errors never crash
// the loop.
func (s *Scheduler) executeSweep(ctx context.Context) {
	batch, err := s.sweep(ctx)
	if err != nil {
		s.logger.Error("scheduled sweep failed", "error", err)
		return
	}
	s.logger.Info("scheduled sweep completed",
		"subjects", len(batch.Outcomes),
		"posted", batch.Posted(),
		"duration", batch.Finished.Sub(batch.Started).String(),
	)
}

// sweep runs every enumerable subject through a scheduled pipeline
// run. One subject's failure never aborts the batch.
func (s *Scheduler) sweep(ctx context.Context) (BatchResult, error) {
	batch := BatchResult{Started: time.Now()}

	subjects, err := s.listSubjects(ctx)
	if err != nil {
		return batch, fmt.Errorf("enumerating subjects: %w", err)
	}
	if len(subjects) == 0 {
		batch.Finished = time.Now()
		return batch, nil
	}

	var mu sync.Mutex
	outcomes := make([]SubjectOutcome, 0, len(subjects))
	skipped := 0

	g, gctx := errgroup.WithContext(ctx)
	concurrency := s.cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	g.SetLimit(concurrency)

	for _, subjectID := range subjects {
		if !s.claim(subjectID) {
			s.logger.Warn("subject still in flight, skipping", "subject_id", subjectID)
			mu.Lock()
			outcomes = append(outcomes, SubjectOutcome{SubjectID: subjectID, SkippedInFlight: true})
			mu.Unlock()
			skipped++
			continue
		}

		g.Go(func() error {
			defer s.release(subjectID)

			runCtx, cancel := context.WithTimeout(gctx, s.cfg.SubjectTimeout)
			defer cancel()

			result, runErr := s.runner.Run(runCtx, subjectID, ModeScheduled)
			mu.Lock()
			outcomes = append(outcomes, SubjectOutcome{SubjectID: subjectID, Result: result, Err: runErr})
			mu.Unlock()
			// Errors are recorded per subject, never propagated, so
			// the group keeps draining the remaining subjects.
			return nil
		})
	}

	_ = g.Wait()
	batch.Outcomes = outcomes
	batch.Finished = time.Now()
	s.metrics.RecordBatch(skipped > 0)
	return batch, nil
}

// listSubjects prefers the configured fixed list, falling back to the
// credential records.
func (s *Scheduler) listSubjects(ctx context.Context) ([]string, error) {
	if len(s.cfg.Subjects) > 0 {
		return s.cfg.Subjects, nil
	}
	return s.subjects.Subjects(ctx)
}

func (s *Scheduler) claim(subjectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[subjectID] {
		return false
	}
	s.inFlight[subjectID] = true
	return true
}

func (s *Scheduler) release(subjectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, subjectID)
}
