package sensor_simulator

import (
	"fmt"

	"github.com/industruino/fleet-sim/internal/model"
)

// DefaultInboundCapacity bounds the command backlog of a single sensor.
const DefaultInboundCapacity = 64

// Registrar is the side of the dispatcher that sensors are wired to.
type Registrar interface {
	Attach(label string, inbound chan<- model.Command) error
	Outbound() chan<- model.Outgoing
}

// SensorSpec describes one sensor of the fleet.
type SensorSpec struct {
	Label   string  `yaml:"label"`
	Initial float64 `yaml:"initial"`
}

// BuildFleet creates one sensor per SensorSpec and attaches its command channel to r.
// Sensors are returned unstarted, in input order.
func BuildFleet(r Registrar, specs []SensorSpec, inboundCapacity int, opts ...Option) ([]*SensorSimulator, error) {
	if inboundCapacity <= 0 {
		inboundCapacity = DefaultInboundCapacity
	}
	sensors := make([]*SensorSimulator, 0, len(specs))
	for _, spec := range specs {
		inbound := make(chan model.Command, inboundCapacity)
		if err := r.Attach(spec.Label, inbound); err != nil {
			return nil, fmt.Errorf("attach sensor %q: %w", spec.Label, err)
		}
		sensors = append(sensors, NewSensorSimulator(spec.Initial, spec.Label, r.Outbound(), inbound, opts...))
	}
	return sensors, nil
}
