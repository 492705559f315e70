package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/genai"

	"github.com/horus-bot/firstAId-chat-bot-api/internal/config"
	"github.com/horus-bot/firstAId-chat-bot-api/internal/models"
	"github.com/horus-bot/firstAId-chat-bot-api/internal/tracing"
)

// ErrUpstream marks every failure of the completion endpoint: transport
// errors, non-2xx answers, and bodies without a usable reply.
var ErrUpstream = errors.New("completion upstream failure")

const claudeMaxTokens = 1024

// Completion is the outcome of one successful round trip.
type Completion struct {
	Reply string
	// Raw is the message the provider returned, response metadata included.
	Raw *schema.Message
}

// Gateway sends whole transcripts to a chat-completion endpoint. It keeps no
// conversation state of its own.
type Gateway struct {
	provider  string
	modelName string
	chatModel model.BaseChatModel
}

// NewGateway builds the client for the named provider.
func NewGateway(ctx context.Context, name string, cfg config.ProviderConfig) (*Gateway, error) {
	var (
		chatModel model.BaseChatModel
		err       error
	)
	if cfg.Model == "" {
		return nil, fmt.Errorf("provider %s: model is required", name)
	}
	kind := strings.ToLower(strings.TrimSpace(cfg.Type))
	if kind == "" {
		kind = "openai"
	}

	switch kind {
	case "openai":
		httpClient := tracing.HTTPClient()
		if cfg.TimeoutSeconds > 0 {
			httpClient.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
		}
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			APIKey:      cfg.APIKey,
			Temperature: cfg.Temperature,
			HTTPClient:  httpClient,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:     cfg.APIKey,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: tracing.HTTPClient(),
		})
		if err != nil {
			return nil, fmt.Errorf("provider %s: gemini client: %w", name, err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client:      client,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
		})
	case "claude":
		var baseURLPtr *string
		if cfg.BaseURL != "" {
			baseURLPtr = &cfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			BaseURL:     baseURLPtr,
			MaxTokens:   claudeMaxTokens,
			Temperature: cfg.Temperature,
		})
	default:
		return nil, fmt.Errorf("provider %s: invalid type %q", name, cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", name, err)
	}

	return &Gateway{
		provider:  name,
		modelName: cfg.Model,
		chatModel: chatModel,
	}, nil
}

// Provider returns the configured provider name.
func (g *Gateway) Provider() string { return g.provider }

// Model returns the model identifier sent with every request.
func (g *Gateway) Model() string { return g.modelName }

// Complete performs one blocking round trip with the full transcript.
func (g *Gateway) Complete(ctx context.Context, transcript models.Transcript) (*Completion, error) {
	ctx, span := tracing.Tracer().Start(ctx, "completion.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", g.provider),
		attribute.String("llm.model", g.modelName),
		attribute.Int("llm.turns", len(transcript)),
	)

	resp, err := g.chatModel.Generate(ctx, convertTurns(transcript))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate failed")
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	if resp == nil || resp.Content == "" {
		span.SetStatus(codes.Error, "empty reply")
		return nil, fmt.Errorf("%w: response carried no reply content", ErrUpstream)
	}
	return &Completion{Reply: resp.Content, Raw: resp}, nil
}

func convertTurns(transcript models.Transcript) []*schema.Message {
	messages := make([]*schema.Message, 0, len(transcript))
	for _, turn := range transcript {
		var role schema.RoleType
		switch turn.Role {
		case models.RoleUser:
			role = schema.User
		case models.RoleAssistant:
			role = schema.Assistant
		case models.RoleSystem:
			role = schema.System
		default:
			role = schema.User
		}
		messages = append(messages, &schema.Message{
			Role:    role,
			Content: turn.Content,
		})
	}
	return messages
}
