package service

import (
	"time"

	"github.com/lrp/dvi2mqtt/internal/core/domain"
	"github.com/lrp/dvi2mqtt/pkg/dvi_modbus"
)

// StateTracker holds the current Reading and the last one handed out for
// publishing.
type StateTracker struct {
	current   domain.Reading
	published *domain.Reading
}

func NewStateTracker() *StateTracker {
	return &StateTracker{current: domain.NewReading()}
}

// Merge folds a poll sample into the current Reading and reports whether the
// result differs from the last published one. When it does, the Reading is
// recorded as published.
func (t *StateTracker) Merge(sample *dvi_modbus.Sample, at time.Time) (domain.Reading, bool) {
	t.current = t.current.Merge(sample, at)
	if t.current.Empty() {
		return t.current, false
	}
	if t.published != nil && t.published.Equal(t.current) {
		return t.current, false
	}
	published := t.current
	t.published = &published
	return t.current, true
}

func (t *StateTracker) Current() (domain.Reading, bool) {
	return t.current, !t.current.Empty()
}
