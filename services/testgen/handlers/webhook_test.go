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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/services/testgen/datatypes"
	"github.com/AleutianAI/AleutianForge/services/testgen/pipeline"
	"github.com/AleutianAI/AleutianForge/services/testgen/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type noopRunner struct{}

func (noopRunner) Execute(context.Context, string) (pipeline.Result, error) {
	return pipeline.Result{}, nil
}

type webhookFixture struct {
	store *store.Store
	guard *store.Guard
	pool  *pipeline.Pool
	rt    *gin.Engine
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()

	db, err := store.OpenDB(store.InMemoryDBConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &webhookFixture{
		store: store.New(db),
		guard: store.NewGuard(db, time.Hour),
		pool:  pipeline.NewPool(noopRunner{}, 1, 8),
	}
	f.rt = gin.New()
	f.rt.POST("/webhooks/github", ReceiveWebhook(f.store, f.guard, f.pool, "generate-tests"))
	return f
}

func issuePayload(repo string, number int, labels ...string) []byte {
	type label struct {
		Name string `json:"name"`
	}
	var ls []label
	for _, l := range labels {
		ls = append(ls, label{Name: l})
	}
	payload := map[string]any{
		"action": "labeled",
		"issue": map[string]any{
			"number": number,
			"title":  "Add retry handling to the uploader",
			"body":   "The uploader drops files when the network flaps. Steps to reproduce are attached.",
			"labels": ls,
		},
		"repository": map[string]any{"full_name": repo},
		"sender":     map[string]any{"login": "octocat"},
	}
	raw, _ := json.Marshal(payload)
	return raw
}

func (f *webhookFixture) post(body []byte, eventType string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/webhooks/github", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(eventTypeHeader, eventType)
	req.Header.Set(deliveryHeader, "delivery-1234")
	f.rt.ServeHTTP(w, req)
	return w
}

func TestReceiveWebhook_AcceptsLabeledIssue(t *testing.T) {
	f := newWebhookFixture(t)

	w := f.post(issuePayload("acme/widgets", 42, "generate-tests"), "issues")

	assert.Equal(t, http.StatusAccepted, w.Code)
	jobID := w.Header().Get(jobIDHeader)
	require.NotEmpty(t, jobID)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp["status"])
	assert.Equal(t, jobID, resp["job_id"])

	job, err := f.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.JobPending, job.Status)
	assert.Equal(t, "acme/widgets", job.Repository)
	assert.Equal(t, 42, job.IssueNumber)
}

func TestReceiveWebhook_DuplicateDeliveryConflicts(t *testing.T) {
	f := newWebhookFixture(t)

	first := f.post(issuePayload("acme/widgets", 42, "generate-tests"), "issues")
	require.Equal(t, http.StatusAccepted, first.Code)
	firstJob := first.Header().Get(jobIDHeader)

	second := f.post(issuePayload("acme/widgets", 42, "generate-tests"), "issues")
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.NotEmpty(t, second.Header().Get(idempotencyHeader))

	var resp map[string]string
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.Equal(t, firstJob, resp["job_id"])
	assert.Equal(t, "E103", resp["code"])
}

func TestReceiveWebhook_DistinctIssuesBothAccepted(t *testing.T) {
	f := newWebhookFixture(t)

	first := f.post(issuePayload("acme/widgets", 42, "generate-tests"), "issues")
	second := f.post(issuePayload("acme/widgets", 43, "generate-tests"), "issues")

	assert.Equal(t, http.StatusAccepted, first.Code)
	assert.Equal(t, http.StatusAccepted, second.Code)
	assert.NotEqual(t, first.Header().Get(jobIDHeader), second.Header().Get(jobIDHeader))
}

func TestReceiveWebhook_IgnoresNonIssueEvents(t *testing.T) {
	f := newWebhookFixture(t)

	w := f.post(issuePayload("acme/widgets", 42, "generate-tests"), "push")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ignored")
	assert.Empty(t, w.Header().Get(jobIDHeader))
}

func TestReceiveWebhook_IgnoresUnsupportedAction(t *testing.T) {
	f := newWebhookFixture(t)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(issuePayload("acme/widgets", 42, "generate-tests"), &payload))
	payload["action"] = "closed"
	raw, _ := json.Marshal(payload)

	w := f.post(raw, "issues")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "unsupported action")
}

func TestReceiveWebhook_IgnoresMissingTriggerLabel(t *testing.T) {
	f := newWebhookFixture(t)

	w := f.post(issuePayload("acme/widgets", 42, "bug", "docs"), "issues")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "trigger label absent")
}

func TestReceiveWebhook_MalformedPayload(t *testing.T) {
	f := newWebhookFixture(t)

	w := f.post([]byte(`{"action": `), "issues")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "E102")
}

func TestReceiveWebhook_MissingRepository(t *testing.T) {
	f := newWebhookFixture(t)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(issuePayload("acme/widgets", 42, "generate-tests"), &payload))
	delete(payload, "repository")
	raw, _ := json.Marshal(payload)

	w := f.post(raw, "issues")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "E102")
}

func TestReceiveWebhook_QueueFullStillAccepted(t *testing.T) {
	f := newWebhookFixture(t)

	// Saturate the queue so Submit fails; the job must still be accepted
	// and persisted PENDING for the sweeper to pick up.
	for i := 0; ; i++ {
		if err := f.pool.Submit(fmt.Sprintf("filler-%d", i)); err != nil {
			break
		}
	}

	w := f.post(issuePayload("acme/widgets", 42, "generate-tests"), "issues")
	require.Equal(t, http.StatusAccepted, w.Code)

	job, err := f.store.GetJob(context.Background(), w.Header().Get(jobIDHeader))
	require.NoError(t, err)
	assert.Equal(t, datatypes.JobPending, job.Status)
}
