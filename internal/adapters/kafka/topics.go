package kafka

// Topic definitions for Kafka event streaming
const (
	// Feed relay
	TopicFeedTicks = "feed.ticks"

	// Analytics output
	TopicOptionCalc = "surface.option_calc"
	TopicStraddles  = "surface.straddles"
	TopicSnapshots  = "surface.snapshots"
)
