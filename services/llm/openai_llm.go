package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// openaiSecretPath is where the container runtime mounts the API key when
// it is not passed through the environment.
const openaiSecretPath = "/run/secrets/openai_api_key"

// defaultPersona frames every completion as test engineering work. The
// SYSTEM_ROLE_PROMPT_PERSONA env var overrides it per deployment.
const defaultPersona = "You are an expert software testing engineer."

type OpenAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey, err := resolveOpenAIKey()
	if err != nil {
		return nil, err
	}
	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	slog.Info("Initializing OpenAI client", "model", model)
	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// resolveOpenAIKey prefers the environment and falls back to the mounted
// secret file.
func resolveOpenAIKey() (string, error) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return key, nil
	}
	raw, err := os.ReadFile(openaiSecretPath)
	if err != nil {
		slog.Error("OPENAI_API_KEY environment variable not set and secret not found",
			"path", openaiSecretPath)
		return "", fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	slog.Info("Read the OpenAI API Key from mounted secret")
	return strings.TrimSpace(string(raw)), nil
}

// Generate implements the LLMClient interface. The persona system message
// keeps the model answering as a test author rather than a general
// assistant; callers supply the document prompt and tunables.
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	slog.Debug("Generating test document via OpenAI", "model", o.model)

	persona := os.Getenv("SYSTEM_ROLE_PROMPT_PERSONA")
	if persona == "" {
		persona = defaultPersona
	}
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: persona},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("OpenAI API call failed", "error", err)
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices")
		return "", fmt.Errorf("OpenAI returned no choices")
	}
	slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}
