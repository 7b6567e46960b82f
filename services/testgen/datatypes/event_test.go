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
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func issuePayload(repo string, number int, body string, labels ...string) []byte {
	labelParts := make([]string, 0, len(labels))
	for _, l := range labels {
		labelParts = append(labelParts, fmt.Sprintf(`{"name":%q}`, l))
	}
	return fmt.Appendf(nil,
		`{"action":"labeled","issue":{"number":%d,"title":"Add OAuth2 login","body":%q,"labels":[%s]},"repository":{"full_name":%q},"sender":{"login":"octocat"}}`,
		number, body, strings.Join(labelParts, ","), repo)
}

func TestParseWebhookEvent(t *testing.T) {
	body := issuePayload("acme/widgets", 42, "Implement OAuth2 with Google provider", "needs-tests")

	ev, err := ParseWebhookEvent(body, "issues", "delivery-1")
	if err != nil {
		t.Fatalf("ParseWebhookEvent returned error: %v", err)
	}
	if ev.Repository != "acme/widgets" {
		t.Errorf("Repository = %q, want acme/widgets", ev.Repository)
	}
	if ev.IssueNumber != 42 {
		t.Errorf("IssueNumber = %d, want 42", ev.IssueNumber)
	}
	if !ev.HasLabel("needs-tests") {
		t.Error("expected needs-tests label to be present")
	}
	if ev.BodyTruncated {
		t.Error("short body should not be flagged truncated")
	}
}

func TestParseWebhookEventTruncatesLongBody(t *testing.T) {
	long := strings.Repeat("x", MaxIssueBodyChars+500)
	ev, err := ParseWebhookEvent(issuePayload("acme/widgets", 7, long), "issues", "d2")
	if err != nil {
		t.Fatalf("ParseWebhookEvent returned error: %v", err)
	}
	if len(ev.IssueBody) != MaxIssueBodyChars {
		t.Errorf("body length = %d, want %d", len(ev.IssueBody), MaxIssueBodyChars)
	}
	if !ev.BodyTruncated {
		t.Error("expected BodyTruncated to be set")
	}
}

func TestParseWebhookEventTruncatesOnRuneBoundary(t *testing.T) {
	// Place a multi-byte character straddling the cut so a byte-index
	// slice would split it.
	long := strings.Repeat("x", MaxIssueBodyChars-1) + strings.Repeat("é", 300)
	ev, err := ParseWebhookEvent(issuePayload("acme/widgets", 7, long), "issues", "d3")
	if err != nil {
		t.Fatalf("ParseWebhookEvent returned error: %v", err)
	}
	if !ev.BodyTruncated {
		t.Error("expected BodyTruncated to be set")
	}
	if len(ev.IssueBody) > MaxIssueBodyChars {
		t.Errorf("body length = %d, want <= %d", len(ev.IssueBody), MaxIssueBodyChars)
	}
	if !utf8.ValidString(ev.IssueBody) {
		t.Error("truncated body is not valid UTF-8")
	}
}

func TestParseWebhookEventRejectsMalformed(t *testing.T) {
	cases := map[string][]byte{
		"not json":      []byte("{nope"),
		"no repository": []byte(`{"action":"labeled","issue":{"number":1,"title":"t"}}`),
		"no issue":      []byte(`{"action":"labeled","repository":{"full_name":"a/b"}}`),
	}
	for name, body := range cases {
		if _, err := ParseWebhookEvent(body, "issues", "d"); err == nil {
			t.Errorf("%s: expected error, got nil", name)
		}
	}
}

func TestIdempotencyKeyIsDeterministic(t *testing.T) {
	a, err := ParseWebhookEvent(issuePayload("acme/widgets", 42, "some body text here"), "issues", "d1")
	if err != nil {
		t.Fatalf("parse a: %v", err)
	}
	b, err := ParseWebhookEvent(issuePayload("acme/widgets", 42, "different body entirely"), "issues", "d2")
	if err != nil {
		t.Fatalf("parse b: %v", err)
	}
	if a.IdempotencyKey() != b.IdempotencyKey() {
		t.Error("same repo+issue should share an idempotency key")
	}

	c, _ := ParseWebhookEvent(issuePayload("acme/widgets", 43, "some body text here"), "issues", "d3")
	if a.IdempotencyKey() == c.IdempotencyKey() {
		t.Error("different issues must not share an idempotency key")
	}
}
