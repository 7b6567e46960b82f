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
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianForge/services/testgen/correlation"
	"github.com/AleutianAI/AleutianForge/services/testgen/datatypes"
	"github.com/AleutianAI/AleutianForge/services/testgen/store"
)

const defaultListLimit = 50

// GetJob handles GET /v1/jobs/:jobId.
func GetJob(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		jobID := c.Param("jobId")

		job, err := st.GetJob(ctx, jobID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
				return
			}
			correlation.Logger(ctx).Error("Job lookup failed", "job_id", jobID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "job lookup failed", "code": "E501"})
			return
		}

		c.JSON(http.StatusOK, job)
	}
}

// GetJobAudit handles GET /v1/jobs/:jobId/audit and returns the ordered
// transition history for a job.
func GetJobAudit(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		jobID := c.Param("jobId")

		if _, err := st.GetJob(ctx, jobID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "job lookup failed", "code": "E501"})
			return
		}

		entries, err := st.Audit(ctx, jobID)
		if err != nil {
			correlation.Logger(ctx).Error("Audit lookup failed", "job_id", jobID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "audit lookup failed", "code": "E501"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"job_id": jobID, "entries": entries})
	}
}

// ListJobs handles GET /v1/jobs. Supports optional ?status= and ?limit=
// query parameters; results are newest first.
func ListJobs(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		limit := defaultListLimit
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = parsed
		}

		var status datatypes.JobStatus
		if raw := c.Query("status"); raw != "" {
			status = datatypes.JobStatus(raw)
			if !status.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status filter"})
				return
			}
		}

		jobs, err := st.ListJobs(ctx, status, limit)
		if err != nil {
			correlation.Logger(ctx).Error("Job list failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "job list failed", "code": "E501"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
	}
}
