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
	"time"
)

// TestCaseDocument is the generated Markdown artifact for one issue.
type TestCaseDocument struct {
	Repository  string    `json:"repository"`
	IssueNumber int       `json:"issue_number"`
	IssueTitle  string    `json:"issue_title"`
	Content     string    `json:"content"`
	Model       string    `json:"model,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// minDocumentChars guards against degenerate model output. A structurally
// valid document is always longer than this.
const minDocumentChars = 100

// ValidateStructure checks that the generated Markdown is well formed
// enough to commit: a top-level heading plus at least one scenario section.
// Invalid output is a retryable condition, not a terminal one, because the
// model may succeed on a later attempt.
func (d TestCaseDocument) ValidateStructure() error {
	content := strings.TrimSpace(d.Content)
	if len(content) < minDocumentChars {
		return fmt.Errorf("generated document too short (%d chars)", len(content))
	}
	if !strings.HasPrefix(content, "# ") && !strings.Contains(content, "\n# ") {
		return fmt.Errorf("generated document has no top-level heading")
	}
	if !strings.Contains(content, "### Scenario") {
		return fmt.Errorf("generated document has no test scenario sections")
	}
	return nil
}

// BranchName returns the branch the document is committed on.
func (d TestCaseDocument) BranchName() string {
	return fmt.Sprintf("test-cases/issue-%d", d.IssueNumber)
}

// FilePath returns the repository path the document is written to.
func (d TestCaseDocument) FilePath() string {
	return fmt.Sprintf("test-cases/issue-%d.md", d.IssueNumber)
}

// CommitMessage returns the commit message used when writing the document.
func (d TestCaseDocument) CommitMessage() string {
	return fmt.Sprintf("Add test cases for issue #%d", d.IssueNumber)
}

// PullRequestTitle returns the title for the generated pull request.
func (d TestCaseDocument) PullRequestTitle() string {
	return fmt.Sprintf("Test Cases: %s", d.IssueTitle)
}

// PullRequestBody returns the body for the generated pull request. The
// "Closes #N" line links the PR back to the triggering issue.
func (d TestCaseDocument) PullRequestBody() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automatically generated test cases for issue #%d.\n\n", d.IssueNumber)
	fmt.Fprintf(&b, "Closes #%d\n", d.IssueNumber)
	return b.String()
}

// ContextItem is one similar historical document returned by retrieval.
type ContextItem struct {
	IssueNumber int     `json:"issue_number"`
	Content     string  `json:"content"`
	Score       float64 `json:"score,omitempty"`
}
