// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retriever

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// documentClass defines the Weaviate class for stored test-case documents.
// Vectorizer is "none": retrieval is pure BM25 over the inverted index.
func documentClass() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       className,
		Description: "A generated test-case document tied to a repository issue.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "repository",
				DataType:        []string{"text"},
				Description:     "owner/repo the document belongs to.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "issue_number",
				DataType:        []string{"int"},
				Description:     "Issue the document was generated for.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:         "issue_title",
				DataType:     []string{"text"},
				Description:  "Title of the source issue.",
				Tokenization: "word",
			},
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "Full Markdown content of the document.",
				Tokenization: "word",
			},
			{
				Name:        "generated_at",
				DataType:    []string{"int"},
				Description: "Generation time, Unix milliseconds.",
			},
		},
	}
}

// documentQueryResponse is the typed shape of a TestCaseDocument query.
type documentQueryResponse struct {
	Get struct {
		TestCaseDocument []struct {
			Content     string `json:"content"`
			IssueNumber int    `json:"issue_number"`
			Additional  struct {
				Score float64 `json:"score,string"`
			} `json:"_additional"`
		} `json:"TestCaseDocument"`
	} `json:"Get"`
}

// parseGraphQLResponse converts Weaviate's dynamic response into a typed
// struct via a JSON round trip. Type mismatches surface as zero values.
func parseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal GraphQL response data: %w", err)
	}
	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("unmarshal into target type: %w", err)
	}
	return &result, nil
}
