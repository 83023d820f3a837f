package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

var (
	// ErrUnsupportedModel is returned for an identifier outside the supported set.
	ErrUnsupportedModel = errors.New("unsupported model")
	// ErrMissingCredential is returned when a hosted model is requested without a key.
	ErrMissingCredential = errors.New("missing api key")
)

// Embedding model identifiers.
const (
	EmbeddingLlama3 = "llama3"
	EmbeddingOpenAI = "OpenAIEmbeddings"
)

// Chat model identifiers.
const (
	LLMDeepSeekV3 = "DeepSeek-V3"
	LLMGPT35Turbo = "gpt-3.5-turbo"
	LLMGPT4       = "gpt-4"
)

const deepSeekChatModel = "deepseek-chat"

// Options carries provider endpoints. Zero values fall back to provider defaults.
type Options struct {
	OllamaURL       string
	OpenAIBaseURL   string
	DeepSeekBaseURL string
	Retry           *RetryConfig
}

// SupportedEmbeddings lists the embedding identifiers BuildEmbedder accepts.
func SupportedEmbeddings() []string {
	return []string{EmbeddingLlama3, EmbeddingOpenAI}
}

// SupportedLLMs lists the chat identifiers BuildLLM accepts.
func SupportedLLMs() []string {
	return []string{LLMDeepSeekV3, LLMGPT35Turbo, LLMGPT4}
}

// BuildEmbedder returns an embedder for name. apiKey is only consulted for hosted models.
func BuildEmbedder(name, apiKey string, opts Options) (embeddings.Embedder, error) {
	switch name {
	case EmbeddingLlama3:
		ollamaOpts := []ollama.Option{ollama.WithModel("llama3")}
		if opts.OllamaURL != "" {
			ollamaOpts = append(ollamaOpts, ollama.WithServerURL(opts.OllamaURL))
		}
		llm, err := ollama.New(ollamaOpts...)
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		emb, err := embeddings.NewEmbedder(llm)
		if err != nil {
			return nil, fmt.Errorf("create ollama embedder: %w", err)
		}
		return emb, nil

	case EmbeddingOpenAI:
		if strings.TrimSpace(apiKey) == "" {
			return nil, fmt.Errorf("%s: %w", name, ErrMissingCredential)
		}
		emb, err := embeddings.NewEmbedder(NewOpenAIEmbeddingClient(apiKey, opts.OpenAIBaseURL))
		if err != nil {
			return nil, fmt.Errorf("create openai embedder: %w", err)
		}
		return emb, nil

	default:
		return nil, fmt.Errorf("%w: embedding model %q", ErrUnsupportedModel, name)
	}
}

// BuildLLM returns a chat model for name. Every supported model needs apiKey.
func BuildLLM(name, apiKey string, opts Options) (llms.Model, error) {
	var clientOpts []openai.Option

	switch name {
	case LLMDeepSeekV3:
		clientOpts = append(clientOpts, openai.WithModel(deepSeekChatModel))
		if opts.DeepSeekBaseURL != "" {
			clientOpts = append(clientOpts, openai.WithBaseURL(opts.DeepSeekBaseURL))
		}
	case LLMGPT35Turbo, LLMGPT4:
		clientOpts = append(clientOpts, openai.WithModel(name))
		if opts.OpenAIBaseURL != "" {
			clientOpts = append(clientOpts, openai.WithBaseURL(opts.OpenAIBaseURL))
		}
	default:
		return nil, fmt.Errorf("%w: llm %q", ErrUnsupportedModel, name)
	}

	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%s: %w", name, ErrMissingCredential)
	}
	clientOpts = append(clientOpts, openai.WithToken(apiKey))

	llm, err := openai.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", name, err)
	}
	return NewDeterministic(llm, opts.Retry), nil
}
