package translate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/text/language"
)

// unsupportedMarker is what the model is told to answer when it cannot
// produce the requested language.
const unsupportedMarker = "UNSUPPORTED_LANGUAGE"

const systemPrompt = "You are a translation engine. Translate the user's message into the language with BCP 47 tag %q (%s). " +
	"Reply with the translation only, no quotes or commentary. " +
	"If you cannot translate into that language, reply with exactly " + unsupportedMarker + "."

// OpenAIConfig configures the chat-completions backed provider.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// OpenAIProvider translates through the OpenAI chat completions API.
type OpenAIProvider struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAI builds a provider. Extra options (base URL, HTTP client) are
// appended after the ones derived from cfg.
func NewOpenAI(cfg OpenAIConfig, opts ...option.RequestOption) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	base := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	return &OpenAIProvider{
		client:  openai.NewClient(append(base, opts...)...),
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}
}

// Translate implements Provider.
func (p *OpenAIProvider) Translate(ctx context.Context, text string, target language.Tag) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(fmt.Sprintf(systemPrompt, target.String(), Label(target))),
			openai.UserMessage(text),
		},
	})
	if err != nil {
		return "", mapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", ErrFailed)
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	switch {
	case out == unsupportedMarker:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedLanguage, target)
	case out == "":
		return "", fmt.Errorf("%w: empty completion", ErrFailed)
	}
	return out, nil
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return fmt.Errorf("%w: provider status %d", ErrUnavailable, apiErr.StatusCode)
		default:
			return fmt.Errorf("%w: provider status %d", ErrFailed, apiErr.StatusCode)
		}
	}
	// Transport errors and timeouts mean the provider is unreachable.
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
