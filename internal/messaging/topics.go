package messaging

// Topic constants for the pool messaging system
const (
	// TopicShares carries every share verdict to recorders and payout
	TopicShares = "pool.shares"
	// TopicBlocks carries found-block announcements
	TopicBlocks = "pool.blocks"
	// TopicTelemetry carries operation measurements
	TopicTelemetry = "pool.telemetry"
)
