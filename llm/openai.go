package llm

import (
	"context"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIConfig configures an OpenAI-compatible chat model.
type OpenAIConfig struct {
	Name        string
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// OpenAIProvider calls an OpenAI-compatible chat completions endpoint.
// SDK retries are disabled; the generation engine owns retry policy.
type OpenAIProvider struct {
	cfg    OpenAIConfig
	client openai.Client
}

func NewOpenAI(cfg OpenAIConfig) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Model
	}
	return &OpenAIProvider{cfg: cfg, client: openai.NewClient(opts...)}
}

func (p *OpenAIProvider) Name() string { return p.cfg.Name }

func (p *OpenAIProvider) params(req Request) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.cfg.Model),
		Messages: msgs,
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.cfg.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}
	temp := req.Temperature
	if temp <= 0 {
		temp = p.cfg.Temperature
	}
	if temp > 0 {
		params.Temperature = openai.Float(temp)
	}
	return params
}

func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.params(req))
	if err != nil {
		return "", Classify(p.Name(), err)
	}
	if len(resp.Choices) == 0 {
		return "", Classify(p.Name(), EmptyOutput)
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", Classify(p.Name(), EmptyOutput)
	}
	return out, nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request, onDelta func(string)) (string, error) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, p.params(req))
	defer stream.Close()

	var b strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		b.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}
	if err := stream.Err(); err != nil {
		return "", Classify(p.Name(), err)
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", Classify(p.Name(), EmptyOutput)
	}
	return out, nil
}
