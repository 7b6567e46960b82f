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
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// MaxIssueBodyChars is the hard cap on the issue body carried by an event.
// Bodies beyond this are truncated at ingest and flagged, never rejected.
const MaxIssueBodyChars = 5000

var eventValidate = validator.New(validator.WithRequiredStructEnabled())

// WebhookEvent is the normalized form of a GitHub issue webhook delivery.
//
// # Description
//
// A WebhookEvent captures everything downstream stages need from the raw
// GitHub payload: the issue coordinates, the (possibly truncated) body text,
// and the labels that gated admission. It is persisted alongside its Job so
// that a crashed job can be resumed without re-receiving the delivery.
//
// # Thread Safety
//
// WebhookEvent is a value type. Copies are independent; no locking needed.
type WebhookEvent struct {
	EventID       string    `json:"event_id" validate:"required"`
	EventType     string    `json:"event_type" validate:"required"`
	Action        string    `json:"action" validate:"required"`
	Repository    string    `json:"repository" validate:"required,contains=/"`
	IssueNumber   int       `json:"issue_number" validate:"required,gt=0"`
	IssueTitle    string    `json:"issue_title" validate:"required"`
	IssueBody     string    `json:"issue_body"`
	BodyTruncated bool      `json:"body_truncated"`
	Labels        []string  `json:"labels"`
	Sender        string    `json:"sender"`
	ReceivedAt    time.Time `json:"received_at"`
	CorrelationID string    `json:"correlation_id"`
}

// githubIssuePayload mirrors the subset of the GitHub "issues" event payload
// this service consumes.
type githubIssuePayload struct {
	Action string `json:"action"`
	Issue  struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
		Labels []struct {
			Name string `json:"name"`
		} `json:"labels"`
	} `json:"issue"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
}

// ParseWebhookEvent decodes a raw GitHub issues payload into a WebhookEvent.
//
// # Inputs
//
//   - body: Raw request body as delivered by GitHub.
//   - eventType: Value of the X-GitHub-Event header.
//   - deliveryID: Value of the X-GitHub-Delivery header (kept as EventID).
//
// # Outputs
//
//   - WebhookEvent: Normalized event with the body truncated to
//     MaxIssueBodyChars when oversized.
//   - error: Non-nil on malformed JSON or missing required fields.
func ParseWebhookEvent(body []byte, eventType, deliveryID string) (WebhookEvent, error) {
	var payload githubIssuePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookEvent{}, fmt.Errorf("malformed webhook payload: %w", err)
	}

	ev := WebhookEvent{
		EventID:     deliveryID,
		EventType:   eventType,
		Action:      payload.Action,
		Repository:  payload.Repository.FullName,
		IssueNumber: payload.Issue.Number,
		IssueTitle:  payload.Issue.Title,
		IssueBody:   payload.Issue.Body,
		Sender:      payload.Sender.Login,
		ReceivedAt:  time.Now().UTC(),
	}
	for _, l := range payload.Issue.Labels {
		ev.Labels = append(ev.Labels, l.Name)
	}

	if len(ev.IssueBody) > MaxIssueBodyChars {
		// Back up to a rune boundary so the cut never splits a multi-byte
		// character and persists invalid UTF-8.
		cut := MaxIssueBodyChars
		for cut > 0 && !utf8.RuneStart(ev.IssueBody[cut]) {
			cut--
		}
		ev.IssueBody = ev.IssueBody[:cut]
		ev.BodyTruncated = true
	}

	if err := ev.Validate(); err != nil {
		return WebhookEvent{}, err
	}
	return ev, nil
}

// Validate checks the structural invariants of the event.
func (e WebhookEvent) Validate() error {
	if err := eventValidate.Struct(e); err != nil {
		return fmt.Errorf("invalid webhook event: %w", err)
	}
	return nil
}

// HasLabel reports whether the issue carries the given label.
func (e WebhookEvent) HasLabel(name string) bool {
	for _, l := range e.Labels {
		if l == name {
			return true
		}
	}
	return false
}

// IdempotencyKey derives the deterministic dedup key for this event.
//
// Two deliveries for the same issue in the same repository always map to the
// same key, regardless of delivery ID or timing.
func (e WebhookEvent) IdempotencyKey() string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s-%d", e.Repository, e.IssueNumber))
	return fmt.Sprintf("%x", sum)
}
