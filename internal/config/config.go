package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
		Mode string `yaml:"mode"`
	} `yaml:"server"`
	Log struct {
		Mode string `yaml:"mode"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
		Channel  string `yaml:"channel"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL             string `yaml:"ttl"`
		QuestionTimeout string `yaml:"question_timeout"`
	} `yaml:"quiz"`
	Leaderboard struct {
		// TimeMode is "durations" (default) or "span_plus_durations".
		TimeMode string `yaml:"time_mode"`
	} `yaml:"leaderboard"`
	LLM struct {
		GeminiAPIKey  string `yaml:"gemini_api_key"`
		GeminiModel   string `yaml:"gemini_model"`
		GeminiBaseURL string `yaml:"gemini_base_url"`
		OpenAIAPIKey  string `yaml:"openai_api_key"`
		OpenAIModel   string `yaml:"openai_model"`
		OpenAIBaseURL string `yaml:"openai_base_url"`
		Timeout       string `yaml:"timeout"`
	} `yaml:"llm"`
	Pinning struct {
		Endpoint string `yaml:"endpoint"`
		JWT      string `yaml:"jwt"`
	} `yaml:"pinning"`
	Chain struct {
		RPCURL          string `yaml:"rpc_url"`
		ChainID         int64  `yaml:"chain_id"`
		ContractAddress string `yaml:"contract_address"`
		PrivateKey      string `yaml:"private_key"`
		MaxAttempts     int    `yaml:"max_attempts"`
		Backoff         string `yaml:"backoff"`
		RequestTimeout  string `yaml:"request_timeout"`
	} `yaml:"chain"`
	Frames struct {
		PublicURL string `yaml:"public_url"`
		ImageURL  string `yaml:"image_url"`
	} `yaml:"frames"`
	Tracing struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"tracing"`
}

// Load reads YAML config from path and applies environment overrides.
// A missing file is not an error; the environment alone can configure the service.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv lets secrets and endpoints come from the environment (or a .env file).
func applyEnv(cfg *Config) {
	setString(&cfg.Postgres.URL, "DATABASE_URL")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.Log.Mode, "LOG_MODE")
	setString(&cfg.LLM.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&cfg.LLM.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&cfg.Pinning.JWT, "PINATA_JWT")
	setString(&cfg.Chain.RPCURL, "CHAIN_RPC_URL")
	setString(&cfg.Chain.PrivateKey, "CHAIN_PRIVATE_KEY")
	setString(&cfg.Chain.ContractAddress, "QUIZ_CONTRACT_ADDRESS")
	setString(&cfg.Frames.PublicURL, "PUBLIC_URL")
	if raw := os.Getenv("CHAIN_ID"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			cfg.Chain.ChainID = id
		}
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
