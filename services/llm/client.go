package llm

import "context"

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the standard interface for any LLM backend
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// Tunables for test-document generation. Temperature stays low so repeated
// runs over the same issue produce comparable documents; the token budget
// must fit a full multi-scenario Markdown file, not a chat reply.
const (
	testDocTemperature = float32(0.2)
	testDocTokenBudget = 8192
)

// Generator binds an LLMClient to fixed generation parameters, exposing
// the single-argument Generate the pipeline consumes.
type Generator struct {
	Client LLMClient
	Params GenerationParams
}

// DefaultGenerator returns a Generator tuned for test documents.
func DefaultGenerator(client LLMClient) Generator {
	temp := testDocTemperature
	maxTokens := testDocTokenBudget
	return Generator{
		Client: client,
		Params: GenerationParams{Temperature: &temp, MaxTokens: &maxTokens},
	}
}

func (g Generator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.Client.Generate(ctx, prompt, g.Params)
}
