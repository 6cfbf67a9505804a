package history

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriteAPI struct {
	mu     sync.Mutex
	points []*write.Point
	errs   chan error
}

func (f *fakeWriteAPI) WritePoint(p *write.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, p)
}

func (f *fakeWriteAPI) Errors() <-chan error { return f.errs }

func TestTelemetryToPoints(t *testing.T) {
	at := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	points := TelemetryToPoints(map[string]string{"temp2": "18", "temp1": "21.5", "broken": "n/a"}, at)

	require.Len(t, points, 2)
	assert.Equal(t, Measurement, points[0].Name())
	assert.Equal(t, "temp1", points[0].TagList()[0].Value)
	assert.Equal(t, 21.5, points[0].FieldList()[0].Value)
	assert.Equal(t, at, points[0].Time())
	assert.Equal(t, "temp2", points[1].TagList()[0].Value)
}

func TestWriter_WriteTelemetry(t *testing.T) {
	api := &fakeWriteAPI{errs: make(chan error)}
	w := newWriter(api, nil)

	w.WriteTelemetry(map[string]string{"temp1": "30"}, time.Now())
	assert.Equal(t, int64(1), w.Written())
	assert.Len(t, api.points, 1)
	assert.Greater(t, w.LastErrorAge(), time.Hour)

	api.errs <- errors.New("bucket not found")
	assert.Eventually(t, func() bool { return w.LastErrorAge() < time.Minute }, time.Second, 5*time.Millisecond)
	close(api.errs)
}

func TestWriter_Nil(t *testing.T) {
	var w *Writer
	assert.Equal(t, int64(0), w.Written())
	assert.Greater(t, w.LastErrorAge(), time.Hour)
}
