package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/raphaelgruber/mmrag/internal/config"
	"github.com/raphaelgruber/mmrag/internal/metrics"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Options tune a single generation call.
type Options struct {
	System      string
	Temperature *float64
	MaxTokens   int
	JSON        bool
}

func (o Options) callOptions() []llms.CallOption {
	var opts []llms.CallOption
	if o.Temperature != nil {
		opts = append(opts, llms.WithTemperature(*o.Temperature))
	}
	if o.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(o.MaxTokens))
	}
	if o.JSON {
		opts = append(opts, llms.WithJSONMode())
	}
	return opts
}

func (o Options) messages(prompt string) []llms.MessageContent {
	var msgs []llms.MessageContent
	if o.System != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, o.System))
	}
	return append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, prompt))
}

// Model wraps a langchaingo model for text generation and image description.
type Model struct {
	llm       llms.Model
	modelName string
	metrics   *metrics.Collector
	logger    *slog.Logger
}

// NewModel creates an LLM model based on configuration.
func NewModel(ctx context.Context, cfg config.Config, mc *metrics.Collector) (*Model, error) {
	var model llms.Model
	var err error
	name := cfg.LLMModel

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, errors.New("OpenAI API key required")
		}
		opts := []openai.Option{
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		model, err = openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAzure:
		if cfg.AzureEndpoint == "" || cfg.AzureAPIKey == "" {
			return nil, errors.New("Azure OpenAI endpoint and API key required")
		}
		name = cfg.AzureDeployment
		model, err = openai.New(
			openai.WithAPIType(openai.APITypeAzure),
			openai.WithBaseURL(cfg.AzureEndpoint),
			openai.WithAPIVersion(cfg.AzureAPIVersion),
			openai.WithToken(cfg.AzureAPIKey),
			openai.WithModel(cfg.AzureDeployment),
		)
		if err != nil {
			return nil, fmt.Errorf("create azure openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, errors.New("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	case config.ProviderBedrock:
		awsCfg, awsErr := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if awsErr != nil {
			return nil, fmt.Errorf("load aws config: %w", awsErr)
		}
		name = cfg.BedrockModel
		model, err = bedrock.New(
			bedrock.WithClient(bedrockruntime.NewFromConfig(awsCfg)),
			bedrock.WithModel(cfg.BedrockModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create bedrock model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return NewModelFrom(model, name, mc), nil
}

// NewModelFrom wraps an existing langchaingo model.
func NewModelFrom(model llms.Model, name string, mc *metrics.Collector) *Model {
	return &Model{
		llm:       model,
		modelName: name,
		metrics:   mc,
		logger:    slog.Default().With("component", "llm", "model", name),
	}
}

// Generate produces a completion for prompt.
func (m *Model) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	start := time.Now()
	response, err := m.llm.GenerateContent(ctx, opts.messages(prompt), opts.callOptions()...)
	if err != nil {
		m.metrics.RecordError(metrics.OpLLMGenerate)
		return "", fmt.Errorf("generate: %w", wrapFatalError(err))
	}
	if len(response.Choices) == 0 {
		return "", errors.New("no response choices")
	}

	choice := response.Choices[0]
	in, out := tokenUsage(choice)
	m.metrics.RecordLLMUsage(metrics.OpLLMGenerate, time.Since(start), in, out)
	m.logger.Debug("generation complete", "duration_ms", time.Since(start).Milliseconds(), "output_len", len(choice.Content))
	return choice.Content, nil
}

// GenerateStream produces a completion and calls onToken for every streamed
// fragment. Returning an error from onToken aborts the stream.
func (m *Model) GenerateStream(ctx context.Context, prompt string, opts Options, onToken func(string) error) error {
	start := time.Now()
	callOpts := append(opts.callOptions(), llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		return onToken(string(chunk))
	}))

	response, err := m.llm.GenerateContent(ctx, opts.messages(prompt), callOpts...)
	if err != nil {
		m.metrics.RecordError(metrics.OpLLMStream)
		return fmt.Errorf("generate stream: %w", wrapFatalError(err))
	}

	var in, out int64
	if len(response.Choices) > 0 {
		in, out = tokenUsage(response.Choices[0])
	}
	m.metrics.RecordLLMUsage(metrics.OpLLMStream, time.Since(start), in, out)
	return nil
}

// DescribeImage sends an image with an instruction to a vision-capable model.
func (m *Model) DescribeImage(ctx context.Context, prompt, mimeType string, image []byte) (string, error) {
	start := time.Now()
	msgs := []llms.MessageContent{{
		Role: llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{
			llms.BinaryPart(mimeType, image),
			llms.TextPart(prompt),
		},
	}}

	response, err := m.llm.GenerateContent(ctx, msgs)
	if err != nil {
		m.metrics.RecordError(metrics.OpLLMVision)
		return "", fmt.Errorf("describe image: %w", wrapFatalError(err))
	}
	if len(response.Choices) == 0 {
		return "", errors.New("no response choices")
	}

	in, out := tokenUsage(response.Choices[0])
	m.metrics.RecordLLMUsage(metrics.OpLLMVision, time.Since(start), in, out)
	return response.Choices[0].Content, nil
}

// Model returns the LLM model name.
func (m *Model) Model() string {
	return m.modelName
}

// tokenUsage reads provider token counts from generation info. Providers
// disagree on key names, so the common ones are tried in order.
func tokenUsage(choice *llms.ContentChoice) (int64, int64) {
	if choice == nil || choice.GenerationInfo == nil {
		return 0, 0
	}
	return intInfo(choice.GenerationInfo, "PromptTokens", "InputTokens", "prompt_eval_count"),
		intInfo(choice.GenerationInfo, "CompletionTokens", "OutputTokens", "eval_count")
}

func intInfo(info map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return 0
}
