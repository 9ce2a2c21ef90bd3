package domain

// IngestMode identifies how blocks reach the monitor.
type IngestMode string

const (
	// IngestModePoll pulls the latest block over HTTP on an epoch-aligned cadence.
	IngestModePoll IngestMode = "poll"
	// IngestModePush consumes newHeads over WebSocket and reconciles against HTTP.
	IngestModePush IngestMode = "push"
)
