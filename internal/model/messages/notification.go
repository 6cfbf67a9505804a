package messages

// Notification is one inbound publish received from the transport.
type Notification struct {
	Topic   string
	Payload []byte
}
