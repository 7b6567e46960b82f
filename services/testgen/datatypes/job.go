// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
	JobSkipped    JobStatus = "SKIPPED"
)

// Terminal reports whether the status is an end state. Terminal jobs are
// immutable except for audit reads.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobSkipped:
		return true
	}
	return false
}

// Valid reports whether s is one of the known lifecycle states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobProcessing, JobCompleted, JobFailed, JobSkipped:
		return true
	}
	return false
}

// WorkflowStage identifies the pipeline stage a job is executing or will
// execute next. Stages always advance in declaration order.
type WorkflowStage string

const (
	StageReceive  WorkflowStage = "RECEIVE"
	StageRetrieve WorkflowStage = "RETRIEVE"
	StageGenerate WorkflowStage = "GENERATE"
	StageCommit   WorkflowStage = "COMMIT"
	StageCreatePR WorkflowStage = "CREATE_PR"
	StageFinalize WorkflowStage = "FINALIZE"
)

// Stages lists the pipeline stages in execution order.
var Stages = []WorkflowStage{
	StageReceive,
	StageRetrieve,
	StageGenerate,
	StageCommit,
	StageCreatePR,
	StageFinalize,
}

// Next returns the stage after s, or false when s is the last stage.
func (s WorkflowStage) Next() (WorkflowStage, bool) {
	for i, st := range Stages {
		if st == s && i+1 < len(Stages) {
			return Stages[i+1], true
		}
	}
	return s, false
}

// StageRefs carries the external references produced by completed stages.
//
// # Description
//
// Each write stage records what it created so a resumed job can skip work
// that already happened instead of repeating it. A zero field means the
// corresponding stage has not produced its output yet.
type StageRefs struct {
	ContextSources []int  `json:"context_sources,omitempty"`
	BranchName     string `json:"branch_name,omitempty"`
	CommitSHA      string `json:"commit_sha,omitempty"`
	PRNumber       int    `json:"pr_number,omitempty"`
	PRURL          string `json:"pr_url,omitempty"`
	CommentPosted  bool   `json:"comment_posted,omitempty"`
}

// Job is the unit of work tracked across the generation pipeline.
//
// # Description
//
// A Job is created PENDING when a webhook is admitted, moves to PROCESSING
// when a worker picks it up, and ends in exactly one of COMPLETED, FAILED,
// or SKIPPED. CurrentStage always names the next stage to execute, so a job
// reloaded after a crash resumes where it stopped.
//
// # Invariants
//
//   - CompletedAt is non-nil if and only if Status is terminal.
//   - RetryCount equals len(RetryDelays).
//   - ErrorCode is empty unless Status is FAILED or SKIPPED.
//
// # Thread Safety
//
// Job is a value type persisted through compare-and-swap updates; callers
// never share a mutable Job across goroutines.
type Job struct {
	JobID          string        `json:"job_id"`
	EventID        string        `json:"event_id"`
	Repository     string        `json:"repository"`
	IssueNumber    int           `json:"issue_number"`
	IdempotencyKey string        `json:"idempotency_key"`
	CorrelationID  string        `json:"correlation_id"`
	Status         JobStatus     `json:"status"`
	CurrentStage   WorkflowStage `json:"current_stage"`
	Refs           StageRefs     `json:"refs"`
	RetryCount     int           `json:"retry_count"`
	RetryDelays    []int64       `json:"retry_delays,omitempty"` // seconds, in consumption order
	LastRetryAt    *time.Time    `json:"last_retry_at,omitempty"`
	ErrorCode      string        `json:"error_code,omitempty"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
}

// JobExpectation is the optimistic-concurrency precondition for a job
// update. An update only applies when the stored job still matches.
type JobExpectation struct {
	Status JobStatus
	Stage  WorkflowStage
}

// Matches reports whether the job satisfies the expectation.
func (e JobExpectation) Matches(j Job) bool {
	return j.Status == e.Status && j.CurrentStage == e.Stage
}

// NewJob builds a PENDING job for an admitted event.
func NewJob(ev WebhookEvent) Job {
	now := time.Now().UTC()
	return Job{
		JobID:          uuid.NewString(),
		EventID:        ev.EventID,
		Repository:     ev.Repository,
		IssueNumber:    ev.IssueNumber,
		IdempotencyKey: ev.IdempotencyKey(),
		CorrelationID:  ev.CorrelationID,
		Status:         JobPending,
		CurrentStage:   StageReceive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// CheckInvariants verifies the cross-field consistency rules every stored
// job must satisfy. The store rejects any update that breaks one.
func (j Job) CheckInvariants() error {
	if j.JobID == "" {
		return fmt.Errorf("job has no id")
	}
	if j.Status.Terminal() != (j.CompletedAt != nil) {
		return fmt.Errorf("job %s: completed_at set=%v but status=%s",
			j.JobID, j.CompletedAt != nil, j.Status)
	}
	if j.RetryCount != len(j.RetryDelays) {
		return fmt.Errorf("job %s: retry_count=%d but %d delays recorded",
			j.JobID, j.RetryCount, len(j.RetryDelays))
	}
	if j.ErrorCode != "" && j.Status != JobFailed && j.Status != JobSkipped {
		return fmt.Errorf("job %s: error_code %q on non-error status %s",
			j.JobID, j.ErrorCode, j.Status)
	}
	return nil
}
