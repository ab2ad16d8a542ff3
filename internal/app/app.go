// Package app wires the dispute agent's dependencies for the Lambda and dev
// server binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"dispute-agent/handler"
	"dispute-agent/internal/decision"
	"dispute-agent/internal/dialogue"
	"dispute-agent/internal/integrations/openai"
	"dispute-agent/internal/integrations/paramstore"
	"dispute-agent/internal/logging"
	"dispute-agent/internal/repository"
	"dispute-agent/internal/sessionlock"
	"dispute-agent/internal/usecase"
)

// App is a fully wired handler plus whatever must be released on shutdown.
type App struct {
	Handler *handler.Handler
	closers []func() error
}

// Close releases external connections.
func (a *App) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			slog.Warn("close failed", "err", err)
		}
	}
}

// New configures logging and builds every dependency from cfg.
func New(ctx context.Context, cfg Config) (*App, error) {
	logging.Init(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat, nil)

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load AWS config: %w", err)
	}

	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, fmt.Errorf("app: create SSM client: %w", err)
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
	if err != nil {
		return nil, fmt.Errorf("app: create state client: %w", err)
	}
	llm, err := openai.NewClient(params, cfg.ParamPrefix, openai.WithBaseURL(cfg.OpenAIBaseURL))
	if err != nil {
		return nil, fmt.Errorf("app: create OpenAI client: %w", err)
	}

	strategy, err := decision.ByName(cfg.DecisionStrategy)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a := &App{}
	locker, err := a.newLocker(cfg)
	if err != nil {
		return nil, err
	}

	machine, err := dialogue.NewMachine(store, store, store, strategy)
	if err != nil {
		return nil, fmt.Errorf("app: create state machine: %w", err)
	}
	classifier, err := usecase.NewClassifier(params, llm, cfg.ParamPrefix, cfg.ClassifierTimeout)
	if err != nil {
		return nil, fmt.Errorf("app: create classifier: %w", err)
	}
	chat, err := usecase.NewChatService(locker, store, classifier, machine, cfg.MaxMessageLength, cfg.LockWait)
	if err != nil {
		return nil, fmt.Errorf("app: create chat service: %w", err)
	}
	disputes, err := usecase.NewDisputeService(store, store, store, strategy)
	if err != nil {
		return nil, fmt.Errorf("app: create dispute service: %w", err)
	}

	h, err := handler.NewHandler(chat, disputes)
	if err != nil {
		return nil, fmt.Errorf("app: create handler: %w", err)
	}
	a.Handler = h

	slog.Info("dispute agent configured",
		"table", cfg.StateTable,
		"strategy", strategy.Name(),
		"distributed_lock", cfg.RedisURL != "",
	)
	return a, nil
}

func (a *App) newLocker(cfg Config) (sessionlock.Locker, error) {
	if cfg.RedisURL == "" {
		return sessionlock.NewLocal(), nil
	}
	client, err := sessionlock.Connect(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	locker, err := sessionlock.NewRedis(client, cfg.SessionLockTTL)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("app: %w", err)
	}
	return locker, nil
}
