// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/services/testgen/datatypes"
	"github.com/AleutianAI/AleutianForge/services/testgen/store"
)

type jobsFixture struct {
	store *store.Store
	rt    *gin.Engine
}

func newJobsFixture(t *testing.T) *jobsFixture {
	t.Helper()

	db, err := store.OpenDB(store.InMemoryDBConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &jobsFixture{store: store.New(db)}
	f.rt = gin.New()
	f.rt.GET("/v1/jobs", ListJobs(f.store))
	f.rt.GET("/v1/jobs/:jobId", GetJob(f.store))
	f.rt.GET("/v1/jobs/:jobId/audit", GetJobAudit(f.store))
	return f
}

func (f *jobsFixture) seedJob(t *testing.T, repo string, issue int) datatypes.Job {
	t.Helper()
	ev := datatypes.WebhookEvent{
		EventID:     "delivery-1",
		EventType:   "issues",
		Action:      "labeled",
		Repository:  repo,
		IssueNumber: issue,
		IssueTitle:  "Flaky retry behavior",
		IssueBody:   "The retry loop gives up one attempt early when the clock skews.",
		ReceivedAt:  time.Now().UTC(),
	}
	job := datatypes.NewJob(ev)
	require.NoError(t, f.store.CreateJob(context.Background(), job, ev))
	return job
}

func (f *jobsFixture) get(path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", path, nil)
	f.rt.ServeHTTP(w, req)
	return w
}

func TestGetJob_ReturnsPersistedJob(t *testing.T) {
	f := newJobsFixture(t)
	job := f.seedJob(t, "acme/widgets", 7)

	w := f.get("/v1/jobs/" + job.JobID)

	require.Equal(t, http.StatusOK, w.Code)
	var got datatypes.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, job.JobID, got.JobID)
	assert.Equal(t, datatypes.JobPending, got.Status)
	assert.Equal(t, datatypes.StageReceive, got.CurrentStage)
}

func TestGetJob_UnknownID(t *testing.T) {
	f := newJobsFixture(t)

	w := f.get("/v1/jobs/no-such-job")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetJobAudit_ReturnsTransitions(t *testing.T) {
	f := newJobsFixture(t)
	job := f.seedJob(t, "acme/widgets", 7)

	started := time.Now().UTC()
	_, err := f.store.UpdateJob(context.Background(), job.JobID,
		datatypes.JobExpectation{Status: datatypes.JobPending, Stage: datatypes.StageReceive},
		func(j *datatypes.Job) error {
			j.Status = datatypes.JobProcessing
			j.StartedAt = &started
			return nil
		})
	require.NoError(t, err)

	w := f.get("/v1/jobs/" + job.JobID + "/audit")

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		JobID   string             `json:"job_id"`
		Entries []store.AuditEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, job.JobID, resp.JobID)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, datatypes.JobPending, resp.Entries[0].Status)
	assert.Equal(t, datatypes.JobProcessing, resp.Entries[1].Status)
}

func TestGetJobAudit_UnknownID(t *testing.T) {
	f := newJobsFixture(t)

	w := f.get("/v1/jobs/no-such-job/audit")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListJobs_StatusFilter(t *testing.T) {
	f := newJobsFixture(t)
	pending := f.seedJob(t, "acme/widgets", 1)
	done := f.seedJob(t, "acme/widgets", 2)

	finished := time.Now().UTC()
	_, err := f.store.UpdateJob(context.Background(), done.JobID,
		datatypes.JobExpectation{Status: datatypes.JobPending, Stage: datatypes.StageReceive},
		func(j *datatypes.Job) error {
			j.Status = datatypes.JobCompleted
			j.CompletedAt = &finished
			return nil
		})
	require.NoError(t, err)

	w := f.get("/v1/jobs?status=PENDING")

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Jobs  []datatypes.Job `json:"jobs"`
		Count int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, pending.JobID, resp.Jobs[0].JobID)
}

func TestListJobs_NoFilterReturnsAll(t *testing.T) {
	f := newJobsFixture(t)
	f.seedJob(t, "acme/widgets", 1)
	f.seedJob(t, "acme/widgets", 2)

	w := f.get("/v1/jobs")

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
}

func TestListJobs_RejectsUnknownStatus(t *testing.T) {
	f := newJobsFixture(t)

	w := f.get("/v1/jobs?status=RUNNING")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListJobs_RejectsBadLimit(t *testing.T) {
	f := newJobsFixture(t)

	for _, q := range []string{"limit=0", "limit=-3", "limit=abc"} {
		w := f.get("/v1/jobs?" + q)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestListJobs_LimitApplied(t *testing.T) {
	f := newJobsFixture(t)
	for i := 1; i <= 5; i++ {
		f.seedJob(t, "acme/widgets", i)
	}

	w := f.get("/v1/jobs?limit=3")

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Count)
}

func TestHealthCheck_ReturnsOK(t *testing.T) {
	rt := gin.New()
	rt.GET("/health", HealthCheck)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	rt.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}
