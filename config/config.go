// Package config handles loading and accessing application configuration
// using Viper, supporting environment variables and config files.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// validate is the package-level validator instance used by LoadConfig to
// enforce RuntimeConfig's `validate` struct tags, independent of the
// presence-aware required/min/max checks in load.go (which target the
// per-provider JSON configs loaded via Load[T]).
var validate = validator.New()

// RuntimeConfig holds the settings a worker process needs to connect to a
// Registry, size its Resource Pool, and bound its pipeline timers. Tags are
// used by Viper to map config file keys and environment variables; `validate`
// tags are enforced by LoadConfig.
type RuntimeConfig struct {
	Agent struct {
		Name         string   `mapstructure:"name" validate:"required"`
		Namespace    string   `mapstructure:"namespace"`
		Version      string   `mapstructure:"version"`
		Capabilities []string `mapstructure:"capabilities"`
	} `mapstructure:"agent"`

	Registry struct {
		URL               string        `mapstructure:"url" validate:"required,url"`
		Token             string        `mapstructure:"token"`
		LoadThreshold     float64       `mapstructure:"load_threshold" validate:"gt=0,lte=1"`
		MaxProcesses      int           `mapstructure:"max_processes" validate:"gte=1"`
		InitializeTimeout time.Duration `mapstructure:"initialize_timeout"`
		CloseTimeout      time.Duration `mapstructure:"close_timeout"`
		PingInterval      time.Duration `mapstructure:"ping_interval"`
		MaxRetry          int           `mapstructure:"max_retry" validate:"gte=0"`
		MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	} `mapstructure:"registry"`

	ResourcePool struct {
		ExecutorKind               string        `mapstructure:"executor_kind" validate:"oneof=thread process"`
		MaxResources               int           `mapstructure:"max_resources" validate:"gte=1"`
		NumIdleResources           int           `mapstructure:"num_idle_resources" validate:"gte=0"`
		DedicatedInferenceExecutor bool          `mapstructure:"dedicated_inference_executor"`
		HealthCheckInterval        time.Duration `mapstructure:"health_check_interval"`
	} `mapstructure:"resource_pool"`

	Pipeline struct {
		EndOfUtteranceTimeout time.Duration `mapstructure:"end_of_utterance_timeout"`
		TranscriptDebounce    time.Duration `mapstructure:"transcript_debounce"`
		TTSChannelCapacity    int           `mapstructure:"tts_channel_capacity" validate:"gte=1"`
		BargeInGracePeriod    time.Duration `mapstructure:"barge_in_grace_period"`
	} `mapstructure:"pipeline"`

	WaitForParticipant bool          `mapstructure:"wait_for_participant"`
	DrainDeadline      time.Duration `mapstructure:"drain_deadline"`
}

// Cfg is the process-wide configuration, populated by LoadConfig.
var Cfg RuntimeConfig

// LoadConfig reads configuration from file and environment variables into
// Cfg. Config files are named "config" (yaml/json/toml, resolved by Viper)
// and searched for in the current directory, /etc/agentrt/, $HOME/.agentrt,
// and any additional paths supplied by the caller.
func LoadConfig(configPaths ...string) error {
	v := viper.New()

	v.SetDefault("registry.load_threshold", 0.8)
	v.SetDefault("registry.max_processes", 10)
	v.SetDefault("registry.initialize_timeout", 10*time.Second)
	v.SetDefault("registry.close_timeout", 60*time.Second)
	v.SetDefault("registry.ping_interval", 15*time.Second)
	v.SetDefault("registry.max_retry", 5)
	v.SetDefault("registry.max_backoff", 30*time.Second)
	v.SetDefault("resource_pool.executor_kind", "thread")
	v.SetDefault("resource_pool.max_resources", 4)
	v.SetDefault("resource_pool.num_idle_resources", 2)
	v.SetDefault("resource_pool.health_check_interval", 10*time.Second)
	v.SetDefault("pipeline.end_of_utterance_timeout", 3*time.Second)
	v.SetDefault("pipeline.transcript_debounce", 200*time.Millisecond)
	v.SetDefault("pipeline.tts_channel_capacity", 50)
	v.SetDefault("pipeline.barge_in_grace_period", 500*time.Millisecond)
	v.SetDefault("drain_deadline", 30*time.Second)
	// Keys without a useful default are registered empty so that
	// AutomaticEnv can supply them when no config file sets them.
	v.SetDefault("agent.name", "")
	v.SetDefault("agent.namespace", "")
	v.SetDefault("agent.version", "")
	v.SetDefault("registry.url", "")
	v.SetDefault("registry.token", "")
	v.SetDefault("resource_pool.dedicated_inference_executor", false)
	v.SetDefault("wait_for_participant", false)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentrt/")
	v.AddConfigPath("$HOME/.agentrt")
	for _, path := range configPaths {
		v.AddConfigPath(path)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("config: no config file found, using defaults and environment variables")
		} else {
			return fmt.Errorf("config: reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("AGENTRT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&Cfg); err != nil {
		return fmt.Errorf("config: decoding into struct: %w", err)
	}

	if err := validate.Struct(&Cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	return nil
}
