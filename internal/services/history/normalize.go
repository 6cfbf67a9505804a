package history

import (
	"sort"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement is the InfluxDB measurement every reading is written to.
const Measurement = "sensor_reading"

// TelemetryToPoints converte una mappa di telemetria in un punto per sensore.
// Readings that are not numbers are skipped. Points are ordered by label.
func TelemetryToPoints(values map[string]string, at time.Time) []*write.Point {
	labels := make([]string, 0, len(values))
	for l := range values {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	points := make([]*write.Point, 0, len(labels))
	for _, label := range labels {
		v, err := strconv.ParseFloat(values[label], 64)
		if err != nil {
			continue
		}
		points = append(points, influxdb2.NewPoint(
			Measurement,
			map[string]string{"label": label},
			map[string]interface{}{"value": v},
			at,
		))
	}
	return points
}
