package messages

// Command is a request addressed to exactly one sensor.
// It is produced by the dispatcher and consumed once by the addressed sensor.
type Command interface {
	RequestID() uint64
	isCommand()
}

// GetValue asks a sensor for its current reading.
type GetValue struct {
	ID uint64
}

// SetValue asks a sensor to replace its reading with Value (still unparsed text).
type SetValue struct {
	ID    uint64
	Value string
}

func (g GetValue) RequestID() uint64 { return g.ID }
func (s SetValue) RequestID() uint64 { return s.ID }

func (GetValue) isCommand() {}
func (SetValue) isCommand() {}
