package bus

import "github.com/opsagents/controlplane/runtime/agent/telemetry"

// Config holds the bus's tunable capacities. New starts from
// defaultConfig's defaults and applies each Option on top of them; a
// MaxHighPriorityPerAgent left at zero is derived from MaxQueuePerAgent.
type Config struct {
	// DedupCapacity bounds the FIFO-evicted set of recently seen
	// sourceEventIds. Default 10,000.
	DedupCapacity int
	// MaxQueuePerAgent bounds each agent's backlog before low/medium
	// priority entries start getting evicted. Default 500.
	MaxQueuePerAgent int
	// MaxHighPriorityPerAgent further bounds how many high-priority
	// entries a single agent's queue may hold. Default 2x MaxQueuePerAgent.
	MaxHighPriorityPerAgent int
	// GapWarningCapacity bounds the retained sequence-gap warning ring
	// buffer. Default 200.
	GapWarningCapacity int

	logger  telemetry.Logger
	metrics telemetry.Metrics
}

func defaultConfig() Config {
	return Config{
		DedupCapacity:           10_000,
		MaxQueuePerAgent:        500,
		MaxHighPriorityPerAgent: 0, // derived as 2x MaxQueuePerAgent in New
		GapWarningCapacity:      200,
		logger:                  telemetry.NewNoopLogger(),
		metrics:                 telemetry.NewNoopMetrics(),
	}
}

// Option configures a Bus at construction.
type Option func(*Config)

// WithDedupCapacity overrides the dedup window's capacity.
func WithDedupCapacity(n int) Option {
	return func(c *Config) { c.DedupCapacity = n }
}

// WithMaxQueuePerAgent overrides the per-agent queue bound.
func WithMaxQueuePerAgent(n int) Option {
	return func(c *Config) { c.MaxQueuePerAgent = n }
}

// WithMaxHighPriorityPerAgent overrides the per-agent high-priority bound.
func WithMaxHighPriorityPerAgent(n int) Option {
	return func(c *Config) { c.MaxHighPriorityPerAgent = n }
}

// WithGapWarningCapacity overrides the sequence-gap ring buffer size.
func WithGapWarningCapacity(n int) Option {
	return func(c *Config) { c.GapWarningCapacity = n }
}

// WithLogger overrides the bus's structured logger.
func WithLogger(logger telemetry.Logger) Option {
	return func(c *Config) { c.logger = logger }
}

// WithMetrics overrides the bus's metrics recorder.
func WithMetrics(metrics telemetry.Metrics) Option {
	return func(c *Config) { c.metrics = metrics }
}
