package port

import (
	"context"

	"github.com/lrp/dvi2mqtt/internal/core/domain"
)

// ReadingSink stores published readings.
type ReadingSink interface {
	WriteReading(r domain.Reading)
	Close(ctx context.Context) error
}
