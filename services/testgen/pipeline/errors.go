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
	"errors"

	"github.com/AleutianAI/AleutianForge/services/testgen/datatypes"
)

// Sentinel errors collaborators wrap so the executor can classify failures
// without inspecting transport details. Classification happens here, at the
// pipeline boundary, never inside a collaborator.
var (
	// ErrUnavailable marks a transient backend outage (connection refused,
	// 5xx, DNS). Worth retrying.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrRateLimited marks a backend throttling response. Worth retrying
	// after a delay.
	ErrRateLimited = errors.New("rate limited")

	// ErrPermissionDenied marks a 401/403 from the repository host. Retrying
	// cannot help until credentials change.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrBranchExists marks a branch-name collision. The executor resolves
	// it inline with a suffixed name rather than through the retry policy.
	ErrBranchExists = errors.New("branch already exists")

	// ErrInvalidArtifact marks generated output that failed structural
	// validation. The model may do better on another attempt.
	ErrInvalidArtifact = errors.New("generated artifact failed validation")

	// ErrInsufficientInput marks an issue too thin to generate from. The
	// job is disqualified, not failed.
	ErrInsufficientInput = errors.New("issue body below minimum length")
)

// Class is the executor's verdict on a stage failure.
type Class int

const (
	// ClassRetryable failures are rescheduled per the retry policy.
	ClassRetryable Class = iota
	// ClassTerminal failures end the job as FAILED immediately.
	ClassTerminal
	// ClassDisqualified inputs end the job as SKIPPED.
	ClassDisqualified
)

// Stable error codes surfaced on jobs and in the API. The leading digit
// groups by subsystem: 1xx webhook intake, 2xx retrieval, 3xx generation,
// 4xx repository host, 5xx infrastructure.
const (
	CodeInsufficientInput = "E104"
	CodeVectorQuery       = "E201"
	CodeGeneration        = "E301"
	CodeGenerationTimeout = "E302"
	CodeInvalidArtifact   = "E303"
	CodeBranchExists      = "E402"
	CodePermissionDenied  = "E403"
	CodeRateLimited       = "E405"
	CodeRepositoryHost    = "E406"
	CodeInfrastructure    = "E501"
)

// Fault is a classified stage failure.
type Fault struct {
	Class Class
	Code  string
	Err   error
}

func (f Fault) Error() string { return f.Code + ": " + f.Err.Error() }

func (f Fault) Unwrap() error { return f.Err }

// Classify maps a raw stage error to a Fault.
//
// # Description
//
// The mapping depends on both the error and the stage it came from: a
// timeout during GENERATE carries a generation code, the same timeout
// during COMMIT carries a repository-host code. Unknown errors default to
// retryable with the stage's generic code, so a new failure mode degrades
// to a bounded retry rather than an instant FAILED.
func Classify(stage datatypes.WorkflowStage, err error) Fault {
	timeout := errors.Is(err, context.DeadlineExceeded)

	switch {
	case errors.Is(err, ErrInsufficientInput):
		return Fault{ClassDisqualified, CodeInsufficientInput, err}
	case errors.Is(err, ErrPermissionDenied):
		return Fault{ClassTerminal, CodePermissionDenied, err}
	case errors.Is(err, ErrRateLimited):
		return Fault{ClassRetryable, CodeRateLimited, err}
	case errors.Is(err, ErrInvalidArtifact):
		return Fault{ClassRetryable, CodeInvalidArtifact, err}
	case errors.Is(err, ErrBranchExists):
		return Fault{ClassRetryable, CodeBranchExists, err}
	}

	switch stage {
	case datatypes.StageRetrieve:
		return Fault{ClassRetryable, CodeVectorQuery, err}
	case datatypes.StageGenerate:
		if timeout {
			return Fault{ClassRetryable, CodeGenerationTimeout, err}
		}
		return Fault{ClassRetryable, CodeGeneration, err}
	case datatypes.StageCommit, datatypes.StageCreatePR, datatypes.StageFinalize:
		return Fault{ClassRetryable, CodeRepositoryHost, err}
	}
	return Fault{ClassRetryable, CodeInfrastructure, err}
}
