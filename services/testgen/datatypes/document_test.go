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
	"strings"
	"testing"
)

const validDocContent = `# Test Cases: Add OAuth2 login

## Overview
Covers the OAuth2 login flow with the Google provider.

## Test Scenarios

### Scenario 1: Successful login
**Given**: user on the login page
**When**: user completes the consent screen
**Then**: user lands on the dashboard with a session cookie
`

func TestValidateStructure(t *testing.T) {
	doc := TestCaseDocument{IssueNumber: 42, IssueTitle: "Add OAuth2 login", Content: validDocContent}
	if err := doc.ValidateStructure(); err != nil {
		t.Errorf("valid document rejected: %v", err)
	}
}

func TestValidateStructureRejectsDegenerateOutput(t *testing.T) {
	cases := map[string]string{
		"empty":       "",
		"too short":   "# Test Cases: x\n### Scenario 1",
		"no heading":  strings.Repeat("prose without any markdown heading whatsoever. ", 10),
		"no scenario": "# Test Cases: x\n\n" + strings.Repeat("## Overview only, nothing executable. ", 10),
	}
	for name, content := range cases {
		doc := TestCaseDocument{IssueNumber: 1, Content: content}
		if err := doc.ValidateStructure(); err == nil {
			t.Errorf("%s: expected structural error, got nil", name)
		}
	}
}

func TestDocumentNaming(t *testing.T) {
	doc := TestCaseDocument{IssueNumber: 42, IssueTitle: "Add OAuth2 login"}
	if got := doc.BranchName(); got != "test-cases/issue-42" {
		t.Errorf("BranchName = %q", got)
	}
	if got := doc.FilePath(); got != "test-cases/issue-42.md" {
		t.Errorf("FilePath = %q", got)
	}
	if got := doc.PullRequestTitle(); got != "Test Cases: Add OAuth2 login" {
		t.Errorf("PullRequestTitle = %q", got)
	}
	if body := doc.PullRequestBody(); !strings.Contains(body, "Closes #42") {
		t.Errorf("PullRequestBody missing issue link: %q", body)
	}
}
