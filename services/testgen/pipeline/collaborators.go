// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"

	"github.com/AleutianAI/AleutianForge/services/testgen/datatypes"
)

// ContextRetriever finds historical documents similar to an issue. A nil
// result with a nil error means nothing relevant was indexed yet.
type ContextRetriever interface {
	Query(ctx context.Context, repository, text string, limit int) ([]datatypes.ContextItem, error)
}

// Indexer stores a finished document so future jobs can retrieve it.
type Indexer interface {
	Index(ctx context.Context, doc datatypes.TestCaseDocument) error
}

// Generator produces test-case Markdown from a fully rendered prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// RepositoryClient performs the write operations against the repository
// host. Implementations wrap failures in the pipeline sentinel errors; they
// never decide retry behavior themselves.
type RepositoryClient interface {
	CreateBranch(ctx context.Context, repository, branch, base string) error
	CommitFile(ctx context.Context, repository, branch, path, message, content string) (string, error)
	OpenPullRequest(ctx context.Context, repository, title, body, head, base string) (int, string, error)
	PostIssueComment(ctx context.Context, repository string, issueNumber int, body string) error
}

// Store is the slice of job storage the executor needs.
type Store interface {
	GetJob(ctx context.Context, jobID string) (datatypes.Job, error)
	GetEvent(ctx context.Context, jobID string) (datatypes.WebhookEvent, error)
	UpdateJob(ctx context.Context, jobID string, expect datatypes.JobExpectation, mutate func(*datatypes.Job) error) (datatypes.Job, error)
	PutDocument(ctx context.Context, jobID string, doc datatypes.TestCaseDocument) error
	GetDocument(ctx context.Context, jobID string) (datatypes.TestCaseDocument, bool, error)
}

// PromptFunc renders the generation prompt for an issue plus its retrieved
// context.
type PromptFunc func(ev datatypes.WebhookEvent, items []datatypes.ContextItem) string
