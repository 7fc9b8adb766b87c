package history

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lrp/dvi2mqtt/internal/core/domain"
	"github.com/lrp/dvi2mqtt/pkg/dvi_modbus"

	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
)

type memorySink struct {
	mu       sync.Mutex
	readings []domain.Reading
}

func (s *memorySink) WriteReading(r domain.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, r)
}

func (s *memorySink) Close(context.Context) error {
	return nil
}

func reading() domain.Reading {
	return domain.NewReading().Merge(&dvi_modbus.Sample{
		Coils:    map[string]bool{"circ_pump_cv": true},
		Inputs:   map[string]float64{"cv_forward": 21},
		Settings: map[string]float64{"cv_mode": 1},
	}, time.Unix(1700000000, 0))
}

func TestReadingPoint(t *testing.T) {

	assert := assert.New(t)

	p := ReadingPoint("dvi_lv12", reading())
	assert.Equal(MEASUREMENT_READING, p.Name())
	assert.Equal(time.Unix(1700000000, 0), p.Time())

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal("heat", tags["mode"])

	fields := map[string]any{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(int64(1), fields["circ_pump_cv"])
	assert.Equal(21.0, fields["cv_forward"])
}

func TestSubscribe(t *testing.T) {

	assert := assert.New(t)

	es := &eventstream.EventStream{}
	sink := &memorySink{}
	sub := Subscribe(es, sink)

	es.Publish(domain.ReadingPublishedEvent{Reading: reading()})
	es.Publish(domain.BridgeStatusChangedEvent{})
	es.Unsubscribe(sub)
	es.Publish(domain.ReadingPublishedEvent{Reading: reading()})

	assert.Len(sink.readings, 1)
}
