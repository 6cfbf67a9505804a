package model

import (
	"github.com/industruino/fleet-sim/internal/model/messages"
)

// Alias per esporre i tipi comuni ai servizi

type (
	Command      = messages.Command
	GetValue     = messages.GetValue
	SetValue     = messages.SetValue
	Outgoing     = messages.Outgoing
	Telemetry    = messages.Telemetry
	CommandReply = messages.CommandReply
	Notification = messages.Notification
	RPCRequest   = messages.RPCRequest
)

// DefaultInitialValue is the reading every sensor starts from unless configured otherwise.
const DefaultInitialValue = 21.5
