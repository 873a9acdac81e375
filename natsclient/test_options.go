package natsclient

import "time"

// Preset bundles for common test tiers.

// WithFastStartup tightens timeouts for unit-level tests.
func WithFastStartup() TestOption {
	return func(cfg *testConfig) {
		cfg.timeout = 2 * time.Second
		cfg.startTimeout = 10 * time.Second
	}
}

// WithIntegrationDefaults enables JetStream with timeouts suited to
// integration tests.
func WithIntegrationDefaults() TestOption {
	return func(cfg *testConfig) {
		cfg.timeout = 5 * time.Second
		cfg.startTimeout = 30 * time.Second
		cfg.jetstream = true
	}
}

// WithReplayDefaults enables JetStream and KV, matching what a full replay
// run with checkpointing needs.
func WithReplayDefaults() TestOption {
	return func(cfg *testConfig) {
		cfg.timeout = 10 * time.Second
		cfg.startTimeout = 60 * time.Second
		cfg.jetstream = true
		cfg.kv = true
	}
}
