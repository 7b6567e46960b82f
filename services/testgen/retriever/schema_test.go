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
	"testing"

	"github.com/weaviate/weaviate/entities/models"
)

func TestDocumentClassShape(t *testing.T) {
	class := documentClass()
	if class.Class != className {
		t.Errorf("class name = %q", class.Class)
	}
	if class.Vectorizer != "none" {
		t.Errorf("vectorizer = %q, want none", class.Vectorizer)
	}

	want := map[string]bool{
		"repository": false, "issue_number": false, "issue_title": false,
		"content": false, "generated_at": false,
	}
	for _, p := range class.Properties {
		if _, ok := want[p.Name]; !ok {
			t.Errorf("unexpected property %q", p.Name)
			continue
		}
		want[p.Name] = true
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("missing property %q", name)
		}
	}
}

func TestParseGraphQLResponse(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{
				"TestCaseDocument": []interface{}{
					map[string]interface{}{
						"content":      "# Test Cases: Login",
						"issue_number": 38,
						"_additional":  map[string]interface{}{"score": "1.25"},
					},
				},
			},
		},
	}

	parsed, err := parseGraphQLResponse[documentQueryResponse](resp)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	docs := parsed.Get.TestCaseDocument
	if len(docs) != 1 {
		t.Fatalf("got %d documents, want 1", len(docs))
	}
	if docs[0].IssueNumber != 38 {
		t.Errorf("issue_number = %d", docs[0].IssueNumber)
	}
	if docs[0].Additional.Score != 1.25 {
		t.Errorf("score = %v", docs[0].Additional.Score)
	}
}

func TestParseGraphQLResponseNil(t *testing.T) {
	if _, err := parseGraphQLResponse[documentQueryResponse](nil); err == nil {
		t.Error("nil response should error")
	}
}
