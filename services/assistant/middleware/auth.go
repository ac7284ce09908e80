// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the assistant service.
//
// The auth middleware extracts a bearer token from the Authorization
// header, resolves it through the configured AuthProvider, and stores the
// resulting Principal in the Gin context where handlers retrieve it via
// GetPrincipal. Scope resolution never happens here; the middleware only
// establishes WHO is calling, the access filter decides WHAT they may read.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cortexka/assistant/pkg/extensions"
	"github.com/cortexka/assistant/services/assistant/datatypes"
)

// principalKey is the context key for the resolved principal.
// A package-private constant prevents collisions with other context values.
const principalKey = "cortexka_principal"

// SetPrincipal stores the authenticated principal in the Gin context.
// Called by AuthMiddleware after successful token validation; tests use
// it to install a caller directly.
func SetPrincipal(c *gin.Context, principal *datatypes.Principal) {
	c.Set(principalKey, principal)
}

// GetPrincipal retrieves the authenticated principal from the Gin context.
// Returns nil when the request did not pass through AuthMiddleware.
func GetPrincipal(c *gin.Context) *datatypes.Principal {
	if v, exists := c.Get(principalKey); exists {
		if principal, ok := v.(*datatypes.Principal); ok {
			return principal
		}
	}
	return nil
}

// AuthMiddleware creates a Gin middleware that authenticates requests.
//
// # Description
//
// Extracts the bearer token from the Authorization header, validates it
// with the given provider, and stores the resolved Principal in the
// context for downstream handlers. Requests with unknown tokens are
// rejected with 401 before any handler runs.
//
// # Inputs
//
//   - provider: AuthProvider used to validate tokens. Must not be nil.
//
// # Outputs
//
//   - gin.HandlerFunc ready to attach with router.Use
//
// # Limitations
//
//   - Only the Bearer scheme is supported.
//   - Validation results are not cached; every request hits the provider.
func AuthMiddleware(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		principal, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, extensions.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "unauthorized",
				})
				return
			}
			// Provider failures are deliberately indistinguishable from bad
			// tokens on the wire.
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication failed",
			})
			return
		}

		SetPrincipal(c, principal)
		c.Next()
	}
}

// extractBearerToken parses "Authorization: Bearer <token>". The scheme is
// case-insensitive per RFC 7235. Returns the empty string when the header
// is missing or malformed.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
