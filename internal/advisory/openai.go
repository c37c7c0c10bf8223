package advisory

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const systemPrompt = "You are an agronomist writing brief, practical field advisories from satellite vegetation index analysis."

// OpenAINarrator rewrites summaries with the chat completions API.
type OpenAINarrator struct {
	client openai.Client
	model  openai.ChatModel
}

func NewOpenAINarrator(apiKey string, opts ...option.RequestOption) (*OpenAINarrator, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key not set")
	}
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &OpenAINarrator{
		client: client,
		model:  openai.ChatModelGPT4oMini,
	}, nil
}

func (n *OpenAINarrator) Rewrite(ctx context.Context, prompt string) (string, error) {
	resp, err := n.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: n.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
