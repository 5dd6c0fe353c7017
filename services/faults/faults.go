// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package faults defines the error taxonomy shared by the platform
// client, the content oracle, and the pipeline.
//
// Callers classify failures with errors.Is against the sentinels here.
// The taxonomy drives retry and surfacing decisions:
//
//   - Unauthenticated: no usable credential and refresh failed. Requires
//     re-login; never retried automatically.
//   - RateLimited: the governor rejected the call. Back off; not retried
//     within the same run.
//   - UpstreamUnavailable: network failure or 5xx from platform/oracle.
//     The orchestrator may retry idempotent reads once; upload and
//     publish are never auto-retried (duplicate-post risk).
//   - InvalidResponse: the upstream payload did not parse. Logged, and
//     treated like UpstreamUnavailable for read-path retry purposes.
//
// "No suitable content" is deliberately NOT an error here: it is a
// normal terminal outcome of a pipeline run.
package faults

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy.
var (
	ErrUnauthenticated     = errors.New("unauthenticated: re-login required")
	ErrRateLimited         = errors.New("rate limited")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrInvalidResponse     = errors.New("invalid upstream response")
	ErrNotFound            = errors.New("not found")
)

// StageError attributes a failure to the pipeline stage that produced
// it, so scheduler logs and interactive responses can name the stage
// ("trends", "search", "assess", "composite", "caption", "upload",
// "publish"; voice cloning adds "history" and "style") without losing
// the underlying kind.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// AtStage wraps err with a stage name. Returns nil when err is nil.
func AtStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// Stage extracts the stage name from an error chain, or "" if the
// error carries no stage attribution.
func Stage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Retryable reports whether an error is safe to retry on an idempotent
// read path.
func Retryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, ErrInvalidResponse)
}
