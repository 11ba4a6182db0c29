// Package config provides configuration loading, validation, environment
// variable merging, and file watching for the agent execution runtime.
//
// Two loading paths coexist:
//
//   - [LoadConfig] populates the process-wide [RuntimeConfig] (worker
//     identity, registry connection, resource-pool sizing, pipeline
//     timers) from a Viper-resolved config file plus AGENTRT_-prefixed
//     environment variables, validated by struct tags.
//   - [Load] and [LoadFromEnv] handle free-form per-provider JSON blobs,
//     where "field absent" and "field zero" must be distinguished.
//
// # Runtime Configuration
//
//	if err := config.LoadConfig(); err != nil {
//	    log.Fatal(err)
//	}
//	sup := worker.NewFromRuntimeConfig(&config.Cfg, entrypoint, rooms, nil)
//
// # Provider Configuration
//
// [Load] reads a JSON file and unmarshals it into a typed struct. Defaults
// from struct tags are applied to zero-valued fields, and the result is
// validated:
//
//	type STTConfig struct {
//	    SampleRate int    `json:"sample_rate" default:"16000" min:"8000" max:"48000"`
//	    Language   string `json:"language" default:"en"`
//	    APIKey     string `json:"api_key" required:"true"`
//	}
//
//	cfg, err := config.Load[STTConfig]("stt.json")
//
// [LoadFromEnv] populates a config struct entirely from environment
// variables; each exported field maps to PREFIX_FIELDNAME (uppercase).
// [MergeEnv] overlays environment variable values onto an existing config,
// only overriding fields with corresponding set variables:
//
//	config.MergeEnv(&cfg, "AGENTRT")
//
// [ProviderConfig] holds the common shape every engine plug-in shares
// (provider name, API key, model, base URL, timeout) with a flexible
// Options map read through [GetOption]:
//
//	lang, ok := config.GetOption[string](cfg, "language")
//
// # Validation
//
// [Validate] checks a struct against its field tags:
//
//   - required:"true" — field must not be zero-valued
//   - min:"N" — numeric fields must be >= N
//   - max:"N" — numeric fields must be <= N
//
// Validation errors are returned as [*ValidationError] with the field name
// and descriptive message.
//
// # File Watching
//
// [FileWatcher] polls a file at regular intervals using SHA-256 content
// hashing, invoking a callback when changes are detected. [WatchRuntime]
// layers RuntimeConfig re-parsing on top, which is what the worker's
// WatchTuning uses to apply admission-knob changes without a restart.
package config
