package messages

// Outgoing is anything a sensor hands back to the dispatcher for publishing.
type Outgoing interface {
	isOutgoing()
}

// Telemetry maps a sensor label to its reading, already rendered as text.
type Telemetry struct {
	Values map[string]string
}

// CommandReply answers a pending RPC request; ID is echoed back unchanged.
type CommandReply struct {
	ID    uint64
	Value string
}

func (Telemetry) isOutgoing()    {}
func (CommandReply) isOutgoing() {}
