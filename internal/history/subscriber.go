package history

import (
	"github.com/lrp/dvi2mqtt/internal/core/domain"
	"github.com/lrp/dvi2mqtt/internal/core/port"

	"github.com/asynkron/protoactor-go/eventstream"
)

// Subscribe forwards every ReadingPublishedEvent on es to sink.
func Subscribe(es *eventstream.EventStream, sink port.ReadingSink) *eventstream.Subscription {
	return es.Subscribe(func(evt any) {
		if e, ok := evt.(domain.ReadingPublishedEvent); ok {
			sink.WriteReading(e.Reading)
		}
	})
}
