// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package correlation threads a per-delivery correlation ID through
// contexts and log records so one webhook can be traced end to end.
package correlation

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type contextKey struct{}

// Header is the HTTP header the correlation ID is read from and echoed on.
const Header = "X-Correlation-ID"

// NewID mints a fresh correlation ID.
func NewID() string {
	return uuid.NewString()
}

// WithID returns a context carrying the given correlation ID. An empty id
// gets a fresh one so downstream code never sees a blank.
func WithID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = NewID()
	}
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext extracts the correlation ID, or "" when none was attached.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// Logger returns the default logger with the context's correlation ID
// attached, so every record carries it without callers repeating the attr.
func Logger(ctx context.Context) *slog.Logger {
	if id := FromContext(ctx); id != "" {
		return slog.Default().With("correlation_id", id)
	}
	return slog.Default()
}
