package config

import (
	"github.com/NikhilSetiya/textbook-assistant/pkg/quality"
	"github.com/NikhilSetiya/textbook-assistant/pkg/resilience"
)

// ExecuteOptions returns the per-call defaults for the executor
func (r ResilienceConfig) ExecuteOptions() resilience.ExecuteOptions {
	return resilience.ExecuteOptions{
		Timeout:           r.AttemptTimeout,
		MaxAttempts:       r.MaxAttempts,
		BaseDelay:         r.BaseDelay,
		MaxDelay:          r.MaxDelay,
		BackoffMultiplier: r.BackoffMultiplier,
		QueueWhenOpen:     r.QueueWhenOpen,
	}
}

// ExecutorConfig builds the executor settings for the named dependency.
// The cache and logger are left for the caller to attach.
func (r ResilienceConfig) ExecutorConfig(name string) resilience.ExecutorConfig {
	return resilience.ExecutorConfig{
		Name: name,
		CircuitBreaker: resilience.CircuitBreakerConfig{
			Name:             name,
			FailureThreshold: uint32(r.FailureThreshold),
			ResetTimeout:     r.ResetTimeout,
			SuccessThreshold: uint32(r.SuccessThreshold),
		},
		Defaults: r.ExecuteOptions(),
		Queue: resilience.QueueConfig{
			InitialPoll:   r.QueueInitialPoll,
			DrainInterval: r.QueueDrainInterval,
		},
	}
}

// Rules converts the quality settings for the validator
func (q QualityConfig) Rules() quality.Rules {
	return quality.Rules{
		ConfidenceCheck:        q.ConfidenceCheck,
		ConfidenceThreshold:    q.ConfidenceThreshold,
		CitationRequired:       q.CitationRequired,
		HallucinationDetection: q.HallucinationDetection,
		ContradictionCheck:     q.ContradictionCheck,
		FactCheckEnabled:       q.FactCheckEnabled,
	}
}
