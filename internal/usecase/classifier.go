package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"dispute-agent/internal/dialogue"
	"dispute-agent/internal/domain"
	"dispute-agent/internal/logging"
)

const defaultClassifierTimeout = 8 * time.Second

// ParamGetter loads several SSM parameters in one call.
type ParamGetter interface {
	GetParameters(ctx context.Context, names ...string) (map[string]string, error)
}

type LLMClient interface {
	Classify(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

// Classifier reads user messages through the LLM. It never returns an
// error: failures are folded into the Classification kind.
type Classifier struct {
	params      ParamGetter
	llm         LLMClient
	paramPrefix string
	timeout     time.Duration
	logger      *slog.Logger

	cacheMu      sync.RWMutex
	cacheLoaded  bool
	pinnedPrompt string
	openaiModel  string
}

func NewClassifier(p ParamGetter, llm LLMClient, paramPrefix string, timeout time.Duration) (*Classifier, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if timeout <= 0 {
		timeout = defaultClassifierTimeout
	}
	return &Classifier{
		params:      p,
		llm:         llm,
		paramPrefix: paramPrefix,
		timeout:     timeout,
		logger:      logging.New("classifier"),
	}, nil
}

// Classify asks the model for the intent of message given conv.
func (c *Classifier) Classify(ctx context.Context, conv domain.Conversation, message string) dialogue.Classification {
	if err := c.ensureConfig(ctx); err != nil {
		return dialogue.Unavailable(fmt.Errorf("usecase: load classifier config: %w", err))
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	raw, err := c.llm.Classify(callCtx, c.openaiModel, buildPromptMessages(c.pinnedPrompt, conv, message))
	if err != nil {
		c.logger.WarnContext(ctx, "classifier call failed",
			"session", conv.SessionID, "latency_ms", time.Since(start).Milliseconds(), "error", err)
		return dialogue.Unavailable(err)
	}

	sug, err := parseClassification(raw)
	if err != nil {
		c.logger.WarnContext(ctx, "classifier reply rejected", "session", conv.SessionID, "error", err)
		return dialogue.Malformed(err)
	}
	c.logger.DebugContext(ctx, "classified message",
		"session", conv.SessionID, "intent", string(sug.Intent), "latency_ms", time.Since(start).Milliseconds())
	return dialogue.OK(sug)
}

func (c *Classifier) ensureConfig(ctx context.Context) error {
	c.cacheMu.RLock()
	if c.cacheLoaded {
		c.cacheMu.RUnlock()
		return nil
	}
	c.cacheMu.RUnlock()

	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if c.cacheLoaded {
		return nil
	}

	modelName := c.paramPrefix + "/config/openai_model"
	promptName := c.paramPrefix + "/pinned_prompt"
	values, err := c.params.GetParameters(ctx, modelName, promptName)
	if err != nil {
		return fmt.Errorf("usecase: load ssm params: %w", err)
	}
	model := strings.TrimSpace(values[modelName])
	if model == "" {
		return errors.New("usecase: openai model parameter is empty")
	}

	c.openaiModel = model
	c.pinnedPrompt = values[promptName]
	c.cacheLoaded = true
	return nil
}
