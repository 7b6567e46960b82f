// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the gin handlers for webhook intake and the
// jobs API.
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianForge/services/testgen/correlation"
	"github.com/AleutianAI/AleutianForge/services/testgen/datatypes"
	"github.com/AleutianAI/AleutianForge/services/testgen/observability"
	"github.com/AleutianAI/AleutianForge/services/testgen/pipeline"
	"github.com/AleutianAI/AleutianForge/services/testgen/store"
)

// Webhook intake headers.
const (
	eventTypeHeader   = "X-GitHub-Event"
	deliveryHeader    = "X-GitHub-Delivery"
	jobIDHeader       = "X-Job-ID"
	idempotencyHeader = "X-Idempotency-Key"
)

// ReceiveWebhook handles POST /webhooks/github.
//
// # Description
//
// Parses the delivery, filters by event type, action, and trigger label,
// runs duplicate admission, persists a PENDING job, and enqueues it. The
// response is 202 as soon as the job exists; all pipeline work happens on
// the worker pool.
//
// # Error Conditions
//
//   - 400 on malformed payloads.
//   - 409 when the issue is already reserved inside the dedup window.
//   - Signature failures are rejected upstream by the middleware (401).
func ReceiveWebhook(st *store.Store, guard *store.Guard, pool *pipeline.Pool, triggerLabel string) gin.HandlerFunc {
	metrics := observability.Default()

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		log := correlation.Logger(ctx)

		if et := c.GetHeader(eventTypeHeader); et != "issues" {
			metrics.WebhooksTotal.WithLabelValues("ignored").Inc()
			c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": "unsupported event type"})
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body", "code": "E102"})
			return
		}

		ev, err := datatypes.ParseWebhookEvent(body, c.GetHeader(eventTypeHeader), c.GetHeader(deliveryHeader))
		if err != nil {
			metrics.WebhooksTotal.WithLabelValues("invalid").Inc()
			log.Warn("Rejected malformed webhook", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "E102"})
			return
		}
		ev.CorrelationID = correlation.FromContext(ctx)

		if ev.Action != "labeled" && ev.Action != "opened" {
			metrics.WebhooksTotal.WithLabelValues("ignored").Inc()
			c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": "unsupported action"})
			return
		}
		if !ev.HasLabel(triggerLabel) {
			metrics.WebhooksTotal.WithLabelValues("ignored").Inc()
			c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": "trigger label absent"})
			return
		}

		job := datatypes.NewJob(ev)
		won, holder, err := guard.Admit(ctx, job.IdempotencyKey, job.JobID)
		if err != nil {
			log.Error("Idempotency admission failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "admission failed", "code": "E501"})
			return
		}
		if !won {
			metrics.WebhooksTotal.WithLabelValues("duplicate").Inc()
			log.Info("Duplicate delivery suppressed",
				"repository", ev.Repository, "issue", ev.IssueNumber, "existing_job", holder)
			c.Header(idempotencyHeader, job.IdempotencyKey)
			c.JSON(http.StatusConflict, gin.H{
				"error":  "issue already has an active or recent job",
				"code":   "E103",
				"job_id": holder,
			})
			return
		}

		if err := st.CreateJob(ctx, job, ev); err != nil {
			log.Error("Job creation failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "job creation failed", "code": "E501"})
			return
		}

		if err := pool.Submit(job.JobID); err != nil {
			if errors.Is(err, pipeline.ErrQueueFull) {
				// The job is persisted PENDING; the sweeper resubmits it.
				log.Warn("Queue full, job deferred", "job_id", job.JobID)
			} else {
				log.Error("Job submit failed", "job_id", job.JobID, "error", err)
			}
		}

		metrics.WebhooksTotal.WithLabelValues("accepted").Inc()
		log.Info("Webhook accepted",
			"repository", ev.Repository, "issue", ev.IssueNumber, "job_id", job.JobID)
		c.Header(jobIDHeader, job.JobID)
		c.JSON(http.StatusAccepted, gin.H{
			"status": "accepted",
			"job_id": job.JobID,
		})
	}
}
