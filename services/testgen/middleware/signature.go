// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides gin middleware for webhook intake:
// signature verification and correlation ID propagation.
package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianForge/services/testgen/correlation"
)

// SignatureHeader is GitHub's HMAC header for webhook deliveries.
const SignatureHeader = "X-Hub-Signature-256"

// VerifySignature validates the delivery's HMAC-SHA256 signature against
// the shared secret before any handler sees the payload.
//
// # Description
//
// GitHub signs the raw request body and sends "sha256=<hex>" in
// X-Hub-Signature-256. The middleware recomputes the digest and compares
// in constant time. The body is restored for downstream handlers.
//
// An empty secret disables verification. That is a deliberate dev-mode
// escape hatch; production configs always set the secret.
//
// # Error Conditions
//
//   - 401 when the header is missing, malformed, or the digest differs.
func VerifySignature(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		header := c.GetHeader(SignatureHeader)
		if !validSignature(secret, body, header) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid webhook signature",
				"code":  "E101",
			})
			return
		}
		c.Next()
	}
}

func validSignature(secret string, body []byte, header string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	want, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

// Correlation attaches a correlation ID to the request context and echoes
// it on the response. Incoming IDs are honored so upstream systems can
// trace across services.
func Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(correlation.Header)
		if id == "" {
			id = correlation.NewID()
		}
		c.Request = c.Request.WithContext(correlation.WithID(c.Request.Context(), id))
		c.Header(correlation.Header, id)
		c.Next()
	}
}
