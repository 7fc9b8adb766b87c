package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lrp/dvi2mqtt/internal/config"
	"github.com/lrp/dvi2mqtt/internal/core/domain"
	"github.com/lrp/dvi2mqtt/internal/core/events"
	"github.com/lrp/dvi2mqtt/internal/core/port"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"
)

const (
	MEASUREMENT_READING = "dvi_reading"

	connectTimeout = 10 * time.Second
)

var ErrConnectionFailed = errors.New("influxdb connection failed")

// InfluxSink writes every published Reading as one point through the
// non-blocking write API.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	device   string
	logger   *zap.Logger
}

var _ port.ReadingSink = (*InfluxSink)(nil)

func Connect(ctx context.Context, cfg config.InfluxConfig, device string, logger *zap.Logger) (*InfluxSink, error) {
	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = 50
	}
	flushInterval := cfg.FlushIntervalMillis
	if flushInterval == 0 {
		flushInterval = 10000
	}
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batchSize).
			SetFlushInterval(flushInterval),
	)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	sink := &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		device:   device,
		logger:   logger,
	}
	go sink.handleWriteErrors(sink.writeAPI.Errors())
	return sink, nil
}

func (s *InfluxSink) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		s.logger.Warn("history: write failed", zap.Error(err))
	}
}

func (s *InfluxSink) WriteReading(r domain.Reading) {
	s.writeAPI.WritePoint(ReadingPoint(s.device, r))
}

func (s *InfluxSink) Close(_ context.Context) error {
	s.writeAPI.Flush()
	s.client.Close()
	return nil
}

func ReadingPoint(device string, r domain.Reading) *write.Point {
	return write.NewPoint(
		MEASUREMENT_READING,
		map[string]string{"device": device, "mode": r.Mode()},
		events.ReadingFields(r),
		r.Time,
	)
}
