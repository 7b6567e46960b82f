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
	"testing"
	"time"
)

func testJob() Job {
	ev := WebhookEvent{
		EventID:     "d1",
		EventType:   "issues",
		Action:      "labeled",
		Repository:  "acme/widgets",
		IssueNumber: 42,
		IssueTitle:  "Add OAuth2 login",
	}
	return NewJob(ev)
}

func TestNewJobStartsPendingAtReceive(t *testing.T) {
	j := testJob()
	if j.Status != JobPending {
		t.Errorf("Status = %s, want PENDING", j.Status)
	}
	if j.CurrentStage != StageReceive {
		t.Errorf("CurrentStage = %s, want RECEIVE", j.CurrentStage)
	}
	if j.CompletedAt != nil {
		t.Error("new job must not carry completed_at")
	}
	if err := j.CheckInvariants(); err != nil {
		t.Errorf("CheckInvariants: %v", err)
	}
}

func TestStageOrdering(t *testing.T) {
	order := []WorkflowStage{StageReceive, StageRetrieve, StageGenerate, StageCommit, StageCreatePR, StageFinalize}
	stage := StageReceive
	for i := 1; i < len(order); i++ {
		next, ok := stage.Next()
		if !ok {
			t.Fatalf("stage %s unexpectedly terminal", stage)
		}
		if next != order[i] {
			t.Fatalf("after %s got %s, want %s", stage, next, order[i])
		}
		stage = next
	}
	if _, ok := stage.Next(); ok {
		t.Errorf("%s should be the last stage", stage)
	}
}

func TestCompletedAtTracksTerminalStatus(t *testing.T) {
	j := testJob()

	// Terminal without timestamp.
	j.Status = JobCompleted
	if err := j.CheckInvariants(); err == nil {
		t.Error("terminal job without completed_at should fail invariants")
	}

	// Timestamp without terminal status.
	j = testJob()
	now := time.Now().UTC()
	j.Status = JobProcessing
	j.CompletedAt = &now
	if err := j.CheckInvariants(); err == nil {
		t.Error("non-terminal job with completed_at should fail invariants")
	}

	// Consistent terminal job.
	j = testJob()
	j.Status = JobCompleted
	j.CurrentStage = StageFinalize
	j.CompletedAt = &now
	if err := j.CheckInvariants(); err != nil {
		t.Errorf("consistent terminal job failed invariants: %v", err)
	}
}

func TestRetryCountMatchesDelays(t *testing.T) {
	j := testJob()
	j.RetryCount = 2
	j.RetryDelays = []int64{5}
	if err := j.CheckInvariants(); err == nil {
		t.Error("mismatched retry bookkeeping should fail invariants")
	}

	j.RetryDelays = []int64{5, 15}
	if err := j.CheckInvariants(); err != nil {
		t.Errorf("matched retry bookkeeping failed: %v", err)
	}
}

func TestErrorCodeOnlyOnErrorStatuses(t *testing.T) {
	j := testJob()
	j.ErrorCode = "E301"
	if err := j.CheckInvariants(); err == nil {
		t.Error("error_code on PENDING job should fail invariants")
	}

	now := time.Now().UTC()
	j.Status = JobFailed
	j.CompletedAt = &now
	if err := j.CheckInvariants(); err != nil {
		t.Errorf("error_code on FAILED job should pass: %v", err)
	}
}

func TestJobExpectationMatches(t *testing.T) {
	j := testJob()
	exp := JobExpectation{Status: JobPending, Stage: StageReceive}
	if !exp.Matches(j) {
		t.Error("expectation should match fresh job")
	}
	j.Status = JobProcessing
	if exp.Matches(j) {
		t.Error("expectation must not match after status change")
	}
}
