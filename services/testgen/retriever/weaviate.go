// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retriever finds historical test-case documents similar to an
// incoming issue, and indexes finished documents for future retrieval.
// Weaviate is the backing store; ranking uses BM25 keyword similarity so
// no embedding service is required in the write path.
package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/AleutianAI/AleutianForge/services/testgen/datatypes"
)

const className = "TestCaseDocument"

// Weaviate implements retrieval and indexing against a Weaviate instance.
//
// # Thread Safety
//
// Safe for concurrent use; the underlying client is stateless per call.
type Weaviate struct {
	client *weaviate.Client
}

// New connects to the Weaviate instance at rawURL (scheme + host).
func New(rawURL string) (*Weaviate, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q", rawURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return &Weaviate{client: client}, nil
}

// NewWithClient wraps an existing client. For tests.
func NewWithClient(client *weaviate.Client) *Weaviate {
	return &Weaviate{client: client}
}

// EnsureSchema creates the TestCaseDocument class if it does not exist.
// Idempotent; safe to call on every startup.
func (w *Weaviate) EnsureSchema(ctx context.Context) error {
	exists, err := w.client.Schema().ClassExistenceChecker().WithClassName(className).Do(ctx)
	if err != nil {
		return fmt.Errorf("check class %s: %w", className, err)
	}
	if exists {
		return nil
	}
	if err := w.client.Schema().ClassCreator().WithClass(documentClass()).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", className, err)
	}
	slog.Info("Created Weaviate class", "class", className)
	return nil
}

// Query returns up to limit documents from the same repository ranked by
// BM25 similarity to the issue text.
func (w *Weaviate) Query(ctx context.Context, repository, text string, limit int) ([]datatypes.ContextItem, error) {
	repoFilter := filters.Where().
		WithPath([]string{"repository"}).
		WithOperator(filters.Equal).
		WithValueString(repository)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "issue_number"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "score"},
		}},
	}

	result, err := w.client.GraphQL().Get().
		WithClassName(className).
		WithBM25(w.client.GraphQL().Bm25ArgBuilder().WithQuery(text)).
		WithWhere(repoFilter).
		WithFields(fields...).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate query: %w", err)
	}

	parsed, err := parseGraphQLResponse[documentQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("parse weaviate response: %w", err)
	}

	items := make([]datatypes.ContextItem, 0, len(parsed.Get.TestCaseDocument))
	for _, doc := range parsed.Get.TestCaseDocument {
		items = append(items, datatypes.ContextItem{
			IssueNumber: doc.IssueNumber,
			Content:     doc.Content,
			Score:       doc.Additional.Score,
		})
	}
	slog.Debug("Retrieved similar documents", "repository", repository, "count", len(items))
	return items, nil
}

// Index stores a finished document so later jobs in the same repository
// can retrieve it as context.
func (w *Weaviate) Index(ctx context.Context, doc datatypes.TestCaseDocument) error {
	_, err := w.client.Data().Creator().
		WithClassName(className).
		WithProperties(map[string]interface{}{
			"repository":   doc.Repository,
			"issue_number": doc.IssueNumber,
			"issue_title":  doc.IssueTitle,
			"content":      doc.Content,
			"generated_at": doc.GeneratedAt.UnixMilli(),
		}).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("index document for issue %d: %w", doc.IssueNumber, err)
	}
	return nil
}
