// Package llm adapts the hosted OpenAI models behind the narrow contract the
// core needs: embed a string, complete a prompt, generate a title. Every call
// takes the owner's credential because keys are stored per user, not
// per process.
package llm

import (
	"context"
	"fmt"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Client is the provider contract consumed by the core services.
type Client interface {
	Embed(ctx context.Context, apiKey, text string) ([]float32, error)
	Complete(ctx context.Context, apiKey, systemPrompt, userPrompt string) (string, error)
	GenerateTitle(ctx context.Context, apiKey, userMessage, assistantResponse string) (string, error)
}

const titleMaxTokens = 20

// The client drops a literal 0 temperature from the request (omitempty), so
// the smallest positive float stands in for "really zero", as the library
// documents.
const answerTemperature = math.SmallestNonzeroFloat32

// OpenAI implements Client against the OpenAI API.
type OpenAI struct {
	embeddingModel string
	chatModel      string
}

func NewOpenAI(embeddingModel, chatModel string) *OpenAI {
	if embeddingModel == "" {
		embeddingModel = string(openai.SmallEmbedding3)
	}
	if chatModel == "" {
		chatModel = openai.GPT4oMini
	}
	return &OpenAI{
		embeddingModel: embeddingModel,
		chatModel:      chatModel,
	}
}

func (c *OpenAI) Embed(ctx context.Context, apiKey, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}

	client := openai.NewClient(apiKey)
	resp, err := client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.embeddingModel),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("no embedding data received from openai")
	}
	return resp.Data[0].Embedding, nil
}

// answerRequest builds the deterministic completion request used for RAG
// answers.
func (c *OpenAI) answerRequest(systemPrompt, userPrompt string) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Temperature: answerTemperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	}
}

func (c *OpenAI) Complete(ctx context.Context, apiKey, systemPrompt, userPrompt string) (string, error) {
	client := openai.NewClient(apiKey)
	resp, err := client.CreateChatCompletion(ctx, c.answerRequest(systemPrompt, userPrompt))
	if err != nil {
		return "", fmt.Errorf("openai chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil // empty completion is handled by the refusal contract
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAI) GenerateTitle(ctx context.Context, apiKey, userMessage, assistantResponse string) (string, error) {
	snippet := assistantResponse
	if runes := []rune(snippet); len(runes) > 200 {
		snippet = string(runes[:200])
	}
	prompt := fmt.Sprintf("Generate a very short, concise title (max 6 words) for this conversation. Do not use quotes or punctuation.\n\nUser: %s\n\nAssistant: %s...\n\nTitle:", userMessage, snippet)

	client := openai.NewClient(apiKey)
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Temperature: 0.3,
		MaxTokens:   titleMaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai title generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no title candidates")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
