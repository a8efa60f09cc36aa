package metrics

// Observer receives relay outcomes for an external metrics backend.
type Observer interface {
	// RelaySucceeded records one answered message and its latency.
	RelaySucceeded(channel string, latencyMs int64)
	// RelayFailed records one message answered with the apology text.
	RelayFailed(channel string)
}
