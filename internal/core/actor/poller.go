package actor

import (
	"context"
	"time"

	"github.com/lrp/dvi2mqtt/internal/config"
	"github.com/lrp/dvi2mqtt/pkg/dvi_modbus"

	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

// pollTick asks the bridge to poll one register group.
type pollTick struct {
	Group dvi_modbus.Group
}

// Poller runs one quartz job per register group. Every job only emits a
// pollTick, the bridge decides whether the device is polled.
type Poller struct {
	scheduler quartz.Scheduler
	cancel    context.CancelFunc
	logger    *zap.Logger
}

func PollIntervals(cfg config.PollConfig) map[dvi_modbus.Group]time.Duration {
	return map[dvi_modbus.Group]time.Duration{
		dvi_modbus.GroupCoils:    time.Duration(cfg.CoilsIntervalMillis) * time.Millisecond,
		dvi_modbus.GroupInputs:   time.Duration(cfg.InputsIntervalMillis) * time.Millisecond,
		dvi_modbus.GroupSettings: time.Duration(cfg.SettingsIntervalMillis) * time.Millisecond,
	}
}

func StartPoller(intervals map[dvi_modbus.Group]time.Duration, tick func(pollTick), logger *zap.Logger) (*Poller, error) {
	sched := quartz.NewStdScheduler()
	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)

	for group, interval := range intervals {
		group := group
		pollJob := job.NewFunctionJob(func(_ context.Context) (dvi_modbus.Group, error) {
			tick(pollTick{Group: group})
			return group, nil
		})
		detail := quartz.NewJobDetail(pollJob, quartz.NewJobKey("poll_"+string(group)))
		if err := sched.ScheduleJob(detail, quartz.NewSimpleTrigger(interval)); err != nil {
			cancel()
			return nil, err
		}
		logger.Debug("poller: scheduled", zap.String("group", string(group)), zap.Duration("interval", interval))
	}

	return &Poller{
		scheduler: sched,
		cancel:    cancel,
		logger:    logger,
	}, nil
}

func (p *Poller) Stop() {
	if p == nil {
		return
	}
	p.logger.Debug("poller: stop")
	p.scheduler.Stop()
	p.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.scheduler.Wait(ctx)
}
