// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianForge/services/testgen/config"
	"github.com/AleutianAI/AleutianForge/services/testgen/handlers"
	"github.com/AleutianAI/AleutianForge/services/testgen/middleware"
	"github.com/AleutianAI/AleutianForge/services/testgen/pipeline"
	"github.com/AleutianAI/AleutianForge/services/testgen/store"
)

// SetupRoutes wires all HTTP endpoints onto the router.
//
// The webhook endpoint carries the signature check; everything else is
// unauthenticated read-only surface intended for operators behind the
// service mesh.
func SetupRoutes(router *gin.Engine, cfg *config.Config, st *store.Store,
	guard *store.Guard, pool *pipeline.Pool) {

	router.Use(middleware.Correlation())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/github",
		middleware.VerifySignature(cfg.GitHubWebhookSecret),
		handlers.ReceiveWebhook(st, guard, pool, cfg.TriggerLabel))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.GET("", handlers.ListJobs(st))
			jobs.GET("/:jobId", handlers.GetJob(st))
			jobs.GET("/:jobId/audit", handlers.GetJobAudit(st))
		}
	}
}
