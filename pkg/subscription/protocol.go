package subscription

const (
	// DefaultSubscribeChannel carries subscribe commands
	DefaultSubscribeChannel = "eth-engine-sub"
	// DefaultUnsubscribeChannel carries unsubscribe commands
	DefaultUnsubscribeChannel = "eth-engine-unsub"
)

// FailureResponse is published to the response channel of a subscribe
// command that could not be applied. Success is never acknowledged.
type FailureResponse struct {
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

// ResponseChannel returns the channel a requester listens on for the
// outcome of req.
func ResponseChannel(prefix string, req Request) string {
	return prefix + ContentHash(req)
}
