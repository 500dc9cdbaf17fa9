package chain

// Event is one decoded contract log.
type Event struct {
	// Address is the emitting contract (EIP-55 checksum form)
	Address string `json:"address"`

	// EventName is the ABI name of the event
	EventName string `json:"eventName"`

	// Args maps ABI field names to decoded values (*big.Int for wide
	// integers, common.Address for addresses, and so on)
	Args map[string]any `json:"args"`

	BlockNumber uint64 `json:"blockNumber"`
	BlockHash   string `json:"blockHash"`
	TxHash      string `json:"txHash"`
	LogIndex    uint   `json:"logIndex"`

	// Removed is set when the log was reverted by a chain reorganisation
	Removed bool `json:"removed"`
}

// Arg returns the decoded value of a field and whether it was present.
func (e Event) Arg(field string) (any, bool) {
	if e.Args == nil {
		return nil, false
	}
	v, ok := e.Args[field]
	return v, ok
}
