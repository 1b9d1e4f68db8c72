package dialog

import (
	"context"
	"strings"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAI answers each turn with a single chat completion. It keeps no
// history; the system prompt frames every turn.
type OpenAI struct {
	client       openai.Client
	Model        string
	SystemPrompt string
}

// NewOpenAI builds a client. Extra request options (base URL, HTTP client)
// are appended after the API key.
func NewOpenAI(apiKey, model, systemPrompt string, opts ...option.RequestOption) *OpenAI {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAI{
		client:       openai.NewClient(opts...),
		Model:        model,
		SystemPrompt: systemPrompt,
	}
}

// Reply returns the first choice as a single segment.
func (o *OpenAI) Reply(ctx context.Context, _ int64, text string) (Reply, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if p := strings.TrimSpace(o.SystemPrompt); p != "" {
		msgs = append(msgs, openai.SystemMessage(p))
	}
	msgs = append(msgs, openai.UserMessage(text))

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.Model),
		Messages: msgs,
	})
	if err != nil {
		return Reply{}, err
	}

	var out Reply
	if len(resp.Choices) > 0 {
		if c := strings.TrimSpace(resp.Choices[0].Message.Content); c != "" {
			out.Messages = []string{c}
		}
	}
	return out, nil
}
