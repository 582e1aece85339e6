package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"clinicgo/internal/config"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// Service is the answer engine: a ReAct agent over the configured chat
// model with a web-search tool. It is the only network-facing component;
// there is no retry loop here, a failure is reported to the caller and
// retry is always user-initiated.
type Service struct {
	chatModel    model.ToolCallingChatModel
	agent        *react.Agent
	systemPrompt string
}

func NewService(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	provider := cfg.BasicConfig.Provider
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}
	modelName := cfg.BasicConfig.Model
	if modelName == "" {
		modelName = provCfg.Model
	}

	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(context.Background(), &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(context.Background(), &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("init gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(context.Background(), &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(context.Background(), &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init chat model: %w", err)
	}

	tools := initToolsChain(cfg.Search)
	var reactAgent *react.Agent
	if len(tools) > 0 {
		reactAgent, err = react.NewAgent(context.Background(), &react.AgentConfig{
			ToolCallingModel: chatModel,
			ToolsConfig: compose.ToolsNodeConfig{
				Tools: tools,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("init react agent: %w", err)
		}
	}

	lang := cfg.BasicConfig.AnswerLanguage
	if strings.TrimSpace(lang) == "" {
		lang = "Traditional Chinese"
	}
	return &Service{
		chatModel:    chatModel,
		agent:        reactAgent,
		systemPrompt: buildSystemPrompt(lang),
	}, nil
}

func buildSystemPrompt(lang string) string {
	return "You are Dr. AI, a professional clinical assistant.\n" +
		"Task: search the latest medical guidelines.\n" +
		"Core rules:\n" +
		"1. **Identity confirmation**: the first sentence of every answer must state which disease you are answering about.\n" +
		"2. **Spelling correction**: if the user misspelled a medical term, silently correct it before searching.\n" +
		"3. **International search**: search in English regardless of the input language; answer in " + lang + ".\n" +
		"4. **Medical terms**: prefer the English full name/abbreviation, each with an explanation in " + lang + ".\n" +
		"5. **Mandatory links**: every answer must end with its source URLs.\n" +
		"6. **Language**: " + lang + "."
}

// Invoke runs the query to completion and returns the final answer text.
func (s *Service) Invoke(ctx context.Context, query string) (string, error) {
	return s.Stream(ctx, query, nil)
}

// Stream runs the query, invoking cb with the accumulated output after each
// chunk when cb is non-nil. The call blocks until the agent finishes.
func (s *Service) Stream(ctx context.Context, query string, cb func(string) error) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", errors.New("query cannot be empty")
	}
	messages := []*schema.Message{
		{Role: schema.System, Content: s.systemPrompt},
		{Role: schema.User, Content: query},
	}

	var (
		streamReader *schema.StreamReader[*schema.Message]
		err          error
	)
	if s.agent != nil {
		streamReader, err = s.agent.Stream(ctx, messages)
	} else {
		streamReader, err = s.chatModel.Stream(ctx, messages)
	}
	if err != nil {
		return "", fmt.Errorf("generate answer stream: %w", err)
	}
	defer streamReader.Close()

	var fullContent string
	for {
		chunk, err := streamReader.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A mid-stream failure must not pass off the partial content as
			// the answer; the caller treats it like any other engine error.
			return "", fmt.Errorf("receive answer stream: %w", err)
		}
		fullContent += chunk.Content

		if cb != nil {
			if err := cb(fullContent); err != nil {
				return "", err
			}
		}
	}
	if strings.TrimSpace(fullContent) == "" {
		return "", errors.New("engine returned an empty answer")
	}
	return fullContent, nil
}
