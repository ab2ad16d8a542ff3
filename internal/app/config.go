package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is everything the binaries need to wire the agent.
type Config struct {
	StateTable        string
	ParamPrefix       string
	MaxMessageLength  int
	ClassifierTimeout time.Duration
	DecisionStrategy  string
	OpenAIBaseURL     string
	RedisURL          string
	SessionLockTTL    time.Duration
	LockWait          time.Duration
	LogLevel          string
	LogFormat         string
	ListenAddr        string
}

type configFile struct {
	Storage struct {
		StateTable string `yaml:"state_table"`
	} `yaml:"storage"`
	Params struct {
		Prefix string `yaml:"prefix"`
	} `yaml:"params"`
	Chat struct {
		MaxMessageLength    int    `yaml:"max_message_length"`
		ClassifierTimeoutMS int    `yaml:"classifier_timeout_ms"`
		DecisionStrategy    string `yaml:"decision_strategy"`
		OpenAIBaseURL       string `yaml:"openai_base_url"`
	} `yaml:"chat"`
	Lock struct {
		RedisURL string `yaml:"redis_url"`
		TTLMS    int    `yaml:"ttl_ms"`
		WaitMS   int    `yaml:"wait_ms"`
	} `yaml:"lock"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	HTTP struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"http"`
}

func defaultConfig() Config {
	return Config{
		MaxMessageLength:  1000,
		ClassifierTimeout: 8 * time.Second,
		SessionLockTTL:    30 * time.Second,
		LockWait:          5 * time.Second,
		LogFormat:         "json",
		ListenAddr:        ":8080",
	}
}

// LoadConfig reads the optional YAML file at path, then applies environment
// overrides. A missing file is not an error. STATE_TABLE and PARAM_PREFIX
// must end up set one way or the other.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := applyFile(&cfg, raw); err != nil {
				return Config{}, err
			}
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("app: read config file: %w", err)
		}
	}

	cfg.StateTable = envString("STATE_TABLE", cfg.StateTable)
	cfg.ParamPrefix = envString("PARAM_PREFIX", cfg.ParamPrefix)
	cfg.MaxMessageLength = envInt("MAX_MESSAGE_LENGTH", cfg.MaxMessageLength)
	cfg.ClassifierTimeout = envMillis("CLASSIFIER_TIMEOUT_MS", cfg.ClassifierTimeout)
	cfg.DecisionStrategy = envString("DECISION_STRATEGY", cfg.DecisionStrategy)
	cfg.OpenAIBaseURL = envString("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.RedisURL = envString("REDIS_URL", cfg.RedisURL)
	cfg.SessionLockTTL = envMillis("SESSION_LOCK_TTL_MS", cfg.SessionLockTTL)
	cfg.LockWait = envMillis("SESSION_LOCK_WAIT_MS", cfg.LockWait)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envString("LOG_FORMAT", cfg.LogFormat)
	cfg.ListenAddr = envString("LISTEN_ADDR", cfg.ListenAddr)

	if cfg.StateTable == "" {
		return Config{}, errors.New("app: STATE_TABLE is not set")
	}
	if cfg.ParamPrefix == "" {
		return Config{}, errors.New("app: PARAM_PREFIX is not set")
	}
	return cfg, nil
}

// ConfigFromEnv loads the file named by CONFIG_FILE, if any, plus the
// environment.
func ConfigFromEnv() (Config, error) {
	return LoadConfig(strings.TrimSpace(os.Getenv("CONFIG_FILE")))
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("app: parse config file: %w", err)
	}
	if f.Storage.StateTable != "" {
		cfg.StateTable = f.Storage.StateTable
	}
	if f.Params.Prefix != "" {
		cfg.ParamPrefix = f.Params.Prefix
	}
	if f.Chat.MaxMessageLength > 0 {
		cfg.MaxMessageLength = f.Chat.MaxMessageLength
	}
	if f.Chat.ClassifierTimeoutMS > 0 {
		cfg.ClassifierTimeout = time.Duration(f.Chat.ClassifierTimeoutMS) * time.Millisecond
	}
	if f.Chat.DecisionStrategy != "" {
		cfg.DecisionStrategy = f.Chat.DecisionStrategy
	}
	if f.Chat.OpenAIBaseURL != "" {
		cfg.OpenAIBaseURL = f.Chat.OpenAIBaseURL
	}
	if f.Lock.RedisURL != "" {
		cfg.RedisURL = f.Lock.RedisURL
	}
	if f.Lock.TTLMS > 0 {
		cfg.SessionLockTTL = time.Duration(f.Lock.TTLMS) * time.Millisecond
	}
	if f.Lock.WaitMS > 0 {
		cfg.LockWait = time.Duration(f.Lock.WaitMS) * time.Millisecond
	}
	if f.Log.Level != "" {
		cfg.LogLevel = f.Log.Level
	}
	if f.Log.Format != "" {
		cfg.LogFormat = f.Log.Format
	}
	if f.HTTP.ListenAddr != "" {
		cfg.ListenAddr = f.HTTP.ListenAddr
	}
	return nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envMillis(key string, def time.Duration) time.Duration {
	ms := envInt(key, 0)
	if ms == 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
