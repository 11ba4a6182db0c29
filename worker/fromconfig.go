package worker

import (
	"context"
	"time"

	"github.com/beluga-voice/agentrt/config"
	jcIface "github.com/beluga-voice/agentrt/jobcontext/iface"
	"github.com/beluga-voice/agentrt/o11y"
	"github.com/beluga-voice/agentrt/resourcepool"
)

// NewFromRuntimeConfig builds a Supervisor and its Resource Pool from a
// loaded RuntimeConfig. The entrypoint and room factory remain
// caller-supplied; everything else comes from the config.
func NewFromRuntimeConfig(cfg *config.RuntimeConfig, entrypoint Entrypoint, roomFactory jcIface.RoomFactory, logger *o11y.Logger) *Supervisor {
	pool := resourcepool.New(
		resourcepool.WithExecutorKind(resourcepool.ExecutorKind(cfg.ResourcePool.ExecutorKind)),
		resourcepool.WithMaxResources(cfg.ResourcePool.MaxResources),
		resourcepool.WithNumIdleResources(cfg.ResourcePool.NumIdleResources),
		resourcepool.WithDedicatedInferenceExecutor(cfg.ResourcePool.DedicatedInferenceExecutor),
		resourcepool.WithHealthCheckInterval(cfg.ResourcePool.HealthCheckInterval),
	)

	opts := Options{
		AgentName:          cfg.Agent.Name,
		Namespace:          cfg.Agent.Namespace,
		Version:            cfg.Agent.Version,
		Capabilities:       cfg.Agent.Capabilities,
		LoadThreshold:      cfg.Registry.LoadThreshold,
		MaxProcesses:       cfg.Registry.MaxProcesses,
		Token:              cfg.Registry.Token,
		RegistryURL:        cfg.Registry.URL,
		InitializeTimeout:  cfg.Registry.InitializeTimeout,
		CloseTimeout:       cfg.Registry.CloseTimeout,
		PingInterval:       cfg.Registry.PingInterval,
		MaxRetry:           cfg.Registry.MaxRetry,
		MaxBackoff:         cfg.Registry.MaxBackoff,
		WaitForParticipant: cfg.WaitForParticipant,
		DrainDeadline:      cfg.DrainDeadline,
	}

	return New(opts, entrypoint, roomFactory, pool, logger)
}

// WatchTuning watches the config file at path and applies changed admission
// knobs (registry.load_threshold, registry.max_processes) to the running
// Supervisor without a restart. Out-of-range values are ignored. It blocks
// until ctx is cancelled.
func (s *Supervisor) WatchTuning(ctx context.Context, path string, interval time.Duration) error {
	return config.WatchRuntime(ctx, path, interval, func(cfg *config.RuntimeConfig) {
		s.applyTuning(cfg.Registry.LoadThreshold, cfg.Registry.MaxProcesses)
	})
}

func (s *Supervisor) applyTuning(loadThreshold float64, maxProcesses int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if loadThreshold > 0 && loadThreshold <= 1 {
		s.opts.LoadThreshold = loadThreshold
	}
	if maxProcesses >= 1 {
		s.opts.MaxProcesses = maxProcesses
	}
}
