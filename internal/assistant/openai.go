package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const DefaultOpenAIModel = "gpt-5-nano"

// OpenAI asks a chat completion model. The SDK's retries are disabled.
type OpenAI struct {
	client   openai.Client
	model    string
	preamble string
	timeout  time.Duration
}

type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	baseURL  string
	model    string
	preamble string
	timeout  time.Duration
	http     *http.Client
}

func WithOpenAIBaseURL(u string) OpenAIOption {
	return func(c *openAIConfig) { c.baseURL = u }
}

func WithOpenAIModel(model string) OpenAIOption {
	return func(c *openAIConfig) { c.model = model }
}

func WithOpenAIHTTPClient(h *http.Client) OpenAIOption {
	return func(c *openAIConfig) { c.http = h }
}

func WithOpenAIPreamble(p string) OpenAIOption {
	return func(c *openAIConfig) { c.preamble = p }
}

func WithOpenAITimeout(d time.Duration) OpenAIOption {
	return func(c *openAIConfig) { c.timeout = d }
}

func NewOpenAI(apiKey string, opts ...OpenAIOption) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: api key must not be empty")
	}

	cfg := &openAIConfig{
		model:    DefaultOpenAIModel,
		preamble: DefaultPreamble,
		timeout:  DefaultTimeout,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.http != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.http))
	}

	return &OpenAI{
		client:   openai.NewClient(reqOpts...),
		model:    cfg.model,
		preamble: cfg.preamble,
		timeout:  cfg.timeout,
	}, nil
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Ask(ctx context.Context, transcript string) (string, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(o.preamble),
			openai.UserMessage(transcript),
		},
		Model: openai.ChatModel(o.model),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &Error{Provider: o.Name(), StatusCode: apiErr.StatusCode, Reason: apiErr.Message, Err: err}
		}
		return "", transportError(o.Name(), err)
	}

	if len(resp.Choices) == 0 {
		return "", &Error{Provider: o.Name(), Reason: "response has no choices"}
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", &Error{Provider: o.Name(), Reason: "empty reply"}
	}
	return text, nil
}
