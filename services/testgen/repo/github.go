// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package repo writes generated documents back to GitHub: branch, commit,
// pull request, and issue comment. Failures are wrapped in the pipeline
// sentinel errors so the executor can classify them without knowing HTTP.
package repo

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianForge/services/testgen/pipeline"
)

// GitHub is a minimal REST v3 client scoped to what the pipeline needs.
//
// # Thread Safety
//
// Safe for concurrent use; all state is immutable after construction.
type GitHub struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewGitHub builds a client against baseURL (https://api.github.com in
// production, an httptest server in tests).
func NewGitHub(baseURL, token string, timeout time.Duration) *GitHub {
	return &GitHub{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// CreateBranch creates branch off base. A collision surfaces as
// pipeline.ErrBranchExists.
func (g *GitHub) CreateBranch(ctx context.Context, repository, branch, base string) error {
	var ref struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	path := fmt.Sprintf("/repos/%s/git/ref/heads/%s", repository, base)
	if err := g.do(ctx, http.MethodGet, path, nil, &ref); err != nil {
		return fmt.Errorf("resolve base branch %s: %w", base, err)
	}

	body := map[string]string{
		"ref": "refs/heads/" + branch,
		"sha": ref.Object.SHA,
	}
	err := g.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/git/refs", repository), body, nil)
	if err != nil {
		if se, ok := err.(*statusError); ok && se.status == http.StatusUnprocessableEntity {
			return fmt.Errorf("%w: %s", pipeline.ErrBranchExists, branch)
		}
		return fmt.Errorf("create branch %s: %w", branch, err)
	}
	return nil
}

// CommitFile writes content to path on branch, creating or updating the
// file, and returns the commit SHA.
func (g *GitHub) CommitFile(ctx context.Context, repository, branch, path, message, content string) (string, error) {
	contentsPath := fmt.Sprintf("/repos/%s/contents/%s", repository, path)

	// An existing file must be updated with its blob SHA.
	var existing struct {
		SHA string `json:"sha"`
	}
	err := g.do(ctx, http.MethodGet, contentsPath+"?ref="+branch, nil, &existing)
	if err != nil {
		if se, ok := err.(*statusError); !ok || se.status != http.StatusNotFound {
			return "", fmt.Errorf("check existing file %s: %w", path, err)
		}
	}

	body := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString([]byte(content)),
		"branch":  branch,
	}
	if existing.SHA != "" {
		body["sha"] = existing.SHA
	}

	var result struct {
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
	}
	if err := g.do(ctx, http.MethodPut, contentsPath, body, &result); err != nil {
		return "", fmt.Errorf("commit %s: %w", path, err)
	}
	return result.Commit.SHA, nil
}

// OpenPullRequest opens a PR from head into base and returns its number
// and HTML URL.
func (g *GitHub) OpenPullRequest(ctx context.Context, repository, title, body, head, base string) (int, string, error) {
	req := map[string]string{
		"title": title,
		"body":  body,
		"head":  head,
		"base":  base,
	}
	var result struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
	}
	if err := g.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/pulls", repository), req, &result); err != nil {
		return 0, "", fmt.Errorf("open pull request: %w", err)
	}
	return result.Number, result.HTMLURL, nil
}

// PostIssueComment adds a comment on the issue.
func (g *GitHub) PostIssueComment(ctx context.Context, repository string, issueNumber int, body string) error {
	req := map[string]string{"body": body}
	path := fmt.Sprintf("/repos/%s/issues/%d/comments", repository, issueNumber)
	if err := g.do(ctx, http.MethodPost, path, req, nil); err != nil {
		return fmt.Errorf("comment on issue %d: %w", issueNumber, err)
	}
	return nil
}

// statusError carries the HTTP status for callers that branch on it.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("github returned %d: %s", e.status, e.body)
}

func (g *GitHub) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if resp.Header.Get("X-RateLimit-Remaining") == "0" {
			return fmt.Errorf("%w: %s", pipeline.ErrRateLimited, respBody)
		}
		return fmt.Errorf("%w: %s", pipeline.ErrPermissionDenied, respBody)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", pipeline.ErrRateLimited, respBody)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", pipeline.ErrUnavailable, resp.StatusCode)
	}
	return &statusError{status: resp.StatusCode, body: string(respBody)}
}
