// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/cortexka/assistant/pkg/extensions"
	"github.com/cortexka/assistant/services/assistant/handlers"
	"github.com/cortexka/assistant/services/assistant/middleware"
	"github.com/cortexka/assistant/services/assistant/services"
)

// SetupRoutes registers all HTTP routes on the router.
//
// The health probe is unauthenticated. Everything under /v1 requires a
// valid bearer token and is rate limited per principal.
func SetupRoutes(router *gin.Engine, svc *services.AnswerService,
	authProvider extensions.AuthProvider, limiter *middleware.RateLimiter,
	serviceName, version string) {

	router.GET("/healthz", handlers.HandleHealth(serviceName, version))

	queryHandler := handlers.NewQueryHandler(svc)
	streamHandler := handlers.NewStreamHandler(svc)
	snapshotHandler := handlers.NewSnapshotHandler(svc)

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(authProvider))
	v1.Use(middleware.RateLimitMiddleware(limiter))
	{
		v1.POST("/query", queryHandler.HandleQuery)
		v1.POST("/query/stream", streamHandler.HandleQueryStream)
		v1.GET("/subjects/:id/snapshot", snapshotHandler.HandleSnapshot)
	}
}
