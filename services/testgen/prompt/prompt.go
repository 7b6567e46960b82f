// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompt renders the test-case generation prompt from an issue
// and its retrieved context documents.
package prompt

import (
	"strings"
	"text/template"

	"github.com/AleutianAI/AleutianForge/services/testgen/datatypes"
)

// maxReferenceChars caps each reference excerpt so a handful of long
// documents cannot crowd the issue out of the context window.
const maxReferenceChars = 500

const generationTemplate = `You are an expert software testing engineer. Your task is to generate comprehensive test cases based on a GitHub issue.

## GitHub Issue

**Issue #{{.Issue.IssueNumber}}: {{.Issue.IssueTitle}}**

{{.Issue.IssueBody}}
{{if .Context}}
## Similar Test Cases for Reference

The following test cases were previously generated for similar issues. Use them as inspiration for structure, coverage, and best practices:
{{range $i, $doc := .Context}}
### Reference {{inc $i}}: Issue #{{$doc.IssueNumber}}
{{excerpt $doc.Content}}
{{end}}{{end}}
## Your Task

Generate comprehensive test cases in Markdown format following this structure:

# Test Cases: {{.Issue.IssueTitle}}

## Overview
Brief description of what is being tested (2-3 sentences).

## Prerequisites
List any setup requirements, test data, or environment configuration needed.

## Test Scenarios

### Scenario 1: [Happy Path - Normal Flow]
**Given**: Initial conditions and setup
**When**: User action or system event
**Then**: Expected outcome with specific assertions

**Test Steps**:
1. Step-by-step instructions
2. Include specific data values
3. Verify expected results

---

### Scenario 2: [Edge Case - Boundary Conditions]
**Given**: Edge case setup
**When**: Action at boundary
**Then**: Expected handling

---

### Scenario 3: [Error Handling - Invalid Input]
**Given**: Invalid or missing input
**When**: Error condition triggered
**Then**: Appropriate error response

---

## Test Data

Provide sample test data needed for the scenarios.

## Acceptance Criteria

- [ ] All happy path scenarios pass
- [ ] Edge cases handled correctly
- [ ] Error messages are clear and actionable

**Important Guidelines**:
1. **Be Specific**: Include exact values, not placeholders
2. **Be Comprehensive**: Cover happy path, edge cases, and errors
3. **Be Practical**: Tests should be executable by a QA engineer
4. **Reference Context**: If similar test cases exist, incorporate their patterns

Now generate the test cases:
`

var tmpl = template.Must(template.New("generation").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
	"excerpt": func(s string) string {
		if len(s) > maxReferenceChars {
			return s[:maxReferenceChars] + "..."
		}
		return s
	},
}).Parse(generationTemplate))

// Render produces the full generation prompt for the issue plus context.
func Render(ev datatypes.WebhookEvent, items []datatypes.ContextItem) string {
	var b strings.Builder
	err := tmpl.Execute(&b, struct {
		Issue   datatypes.WebhookEvent
		Context []datatypes.ContextItem
	}{Issue: ev, Context: items})
	if err != nil {
		// The template is static and parsed at init; execution can only
		// fail on a broken writer, which strings.Builder is not.
		panic(err)
	}
	return b.String()
}
