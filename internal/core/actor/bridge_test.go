package actor

import (
	"strings"
	"sync"
	"testing"
	"time"

	adactor "github.com/lrp/dvi2mqtt/internal/adapter/actor"
	"github.com/lrp/dvi2mqtt/internal/core/domain"
	"github.com/lrp/dvi2mqtt/internal/core/events"
	"github.com/lrp/dvi2mqtt/internal/core/service"
	"github.com/lrp/dvi2mqtt/internal/util"
	"github.com/lrp/dvi2mqtt/internal/util/actorutil"
	"github.com/lrp/dvi2mqtt/pkg/dvi_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// recorder collects everything the test mqtt actor was asked to publish.
type recorder struct {
	mu       sync.Mutex
	states   []domain.Reading
	statuses []domain.BridgeStatus
}

func (r *recorder) run(published <-chan any) {
	for msg := range published {
		r.mu.Lock()
		switch m := msg.(type) {
		case domain.PublishStateRequest:
			r.states = append(r.states, m.Reading)
		case domain.PublishStatusRequest:
			r.statuses = append(r.statuses, m.Status)
		}
		r.mu.Unlock()
	}
}

func (r *recorder) statePayloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var payloads []string
	for _, reading := range r.states {
		p, _ := reading.Payload()
		payloads = append(payloads, string(p))
	}
	return payloads
}

func (r *recorder) stateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

func (r *recorder) lastStatus() (domain.BridgeStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return domain.BridgeStatus{}, false
	}
	return r.statuses[len(r.statuses)-1], true
}

type bridgeFixture struct {
	as       *actor.ActorSystem
	pid      *actor.PID
	sim      *dvi_modbus.Simulator
	recorder *recorder
	es       *eventstream.EventStream
}

func spawnBridge(t *testing.T) *bridgeFixture {
	cfg := util.LoadTestConfig()
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(logCfg.Build())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	sim := dvi_modbus.NewSimulator()
	es := &eventstream.EventStream{}
	published := make(chan any, 100)
	rec := &recorder{}
	go rec.run(published)

	validator := &service.DefaultCommandValidator{
		Limits: map[string]service.Limit{"vv_setpoint": {Min: 10, Max: 60}},
		Logger: logger,
	}
	descriptor := events.Descriptor(cfg.MQTT.BaseTopic, validator)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewBridgeActor(&cfg, validator, descriptor, es, func() *adactor.DeviceActor {
			device := dvi_modbus.NewDVIDevice(sim.Transport(), dvi_modbus.DefaultSlaveId, cfg.Serial.MaxTimeouts)
			backoff := service.NewBackoff(cfg.Serial.Reconnect.Initial(), cfg.Serial.Reconnect.Max(), cfg.Serial.Reconnect.Multiplier, 0)
			return adactor.NewDeviceActor(device, backoff, 2*time.Second, logger)
		}, func(_ *eventstream.EventStream) *adactor.MQTTActor {
			return adactor.NewTestMQTTActor(&cfg, published, logger)
		}, logger)
	})
	pid, err := as.Root.SpawnNamed(props, domain.ACTOR_ID_BRIDGE)
	require.NoError(t, err)

	t.Cleanup(func() {
		as.Root.StopFuture(pid).Wait()
		as.Shutdown()
	})
	return &bridgeFixture{as: as, pid: pid, sim: sim, recorder: rec, es: es}
}

func (f *bridgeFixture) status(t *testing.T) domain.BridgeStatus {
	res, err := f.as.Root.RequestFuture(f.pid, domain.GetStatusRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	return res.(domain.GetStatusResponse).Status
}

func (f *bridgeFixture) waitState(t *testing.T, state domain.BridgeState) {
	require.Eventually(t, func() bool {
		return f.status(t).State == state
	}, 5*time.Second, 50*time.Millisecond, "bridge never reached %s", state)
}

func (f *bridgeFixture) waitPayload(t *testing.T, fragment string) {
	require.Eventually(t, func() bool {
		for _, p := range f.recorder.statePayloads() {
			if strings.Contains(p, fragment) {
				return true
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond, "no state payload with %s", fragment)
}

func TestBridgePublishesState(t *testing.T) {

	assert := assert.New(t)

	f := spawnBridge(t)
	f.waitState(t, domain.BridgeRunning)
	f.waitPayload(t, `"mode":"heat","temp":21.0`)

	last, ok := f.recorder.lastStatus()
	assert.True(ok)
	assert.Equal(domain.BridgeRunning, last.State)
	assert.Equal(domain.LinkConnected, last.Serial)
	assert.Equal(domain.LinkConnected, last.MQTT)

	res, err := f.as.Root.RequestFuture(f.pid, domain.GetReadingRequest{}, time.Second).Result()
	assert.NoError(err)
	reading := res.(domain.GetReadingResponse)
	assert.True(reading.Valid)
	assert.Equal(21.0, reading.Reading.Inputs[dvi_modbus.InputCVForward])
}

func TestBridgePublishesOnlyChanges(t *testing.T) {

	assert := assert.New(t)

	f := spawnBridge(t)
	f.waitState(t, domain.BridgeRunning)
	f.waitPayload(t, `"mode":"heat"`)
	time.Sleep(500 * time.Millisecond)
	before := f.recorder.stateCount()

	// nothing changed on the device
	f.as.Root.Send(f.pid, pollTick{Group: dvi_modbus.GroupInputs})
	f.as.Root.Send(f.pid, pollTick{Group: dvi_modbus.GroupCoils})
	time.Sleep(500 * time.Millisecond)
	assert.Equal(before, f.recorder.stateCount(), "identical readings are not republished")

	f.sim.SetInput(dvi_modbus.InputCVForward, 22.5)
	f.as.Root.Send(f.pid, pollTick{Group: dvi_modbus.GroupInputs})
	f.waitPayload(t, `"temp":22.5`)
	assert.Equal(before+1, f.recorder.stateCount())
}

func TestBridgeAppliesCommand(t *testing.T) {

	assert := assert.New(t)

	f := spawnBridge(t)
	results := make(chan domain.CommandResultEvent, 10)
	sub := f.es.Subscribe(func(evt interface{}) {
		if e, ok := evt.(domain.CommandResultEvent); ok {
			results <- e
		}
	})
	defer f.es.Unsubscribe(sub)

	f.waitState(t, domain.BridgeRunning)

	f.as.Root.Send(f.pid, domain.CommandReceived{Command: domain.Command{Id: "1", Field: "vv_setpoint", Value: 70}})
	select {
	case res := <-results:
		assert.Equal(domain.COMMAND_RESULT_REJECTED, res.Result)
		assert.True(dvi_modbus.IsUnsupported(res.Error))
	case <-time.After(3 * time.Second):
		t.Fatal("no result for rejected command")
	}
	assert.Empty(f.sim.Writes(), "rejected command never reaches the device")

	f.as.Root.Send(f.pid, domain.CommandReceived{Command: domain.Command{Id: "2", Field: "vv_setpoint", Value: 53}})
	select {
	case res := <-results:
		assert.Equal(domain.COMMAND_RESULT_APPLIED, res.Result)
		assert.Equal("2", res.Command.Id)
	case <-time.After(3 * time.Second):
		t.Fatal("no result for valid command")
	}
	assert.Contains(f.sim.Writes(), dvi_modbus.WriteRegister{Address: 0x10B, Value: 53})

	// settings are polled again after the write
	f.waitPayload(t, `"vv_setpoint":53`)
	assert.Equal(domain.BridgeRunning, f.status(t).State)
}

func TestBridgeMalformedFrameKeepsRunning(t *testing.T) {

	assert := assert.New(t)

	f := spawnBridge(t)
	f.waitState(t, domain.BridgeRunning)

	f.sim.Inject(dvi_modbus.FaultCorrupt, dvi_modbus.FaultGarbage)
	f.as.Root.Send(f.pid, pollTick{Group: dvi_modbus.GroupInputs})
	time.Sleep(500 * time.Millisecond)
	assert.Equal(domain.BridgeRunning, f.status(t).State)

	f.sim.SetInput("outdoor", 4.0)
	f.as.Root.Send(f.pid, pollTick{Group: dvi_modbus.GroupInputs})
	f.waitPayload(t, `"outdoor":4`)
	assert.Equal(domain.BridgeRunning, f.status(t).State)
}

func TestBridgeRecoversFromUnplug(t *testing.T) {

	assert := assert.New(t)

	f := spawnBridge(t)
	f.waitState(t, domain.BridgeRunning)

	f.sim.Unplug()
	f.as.Root.Send(f.pid, pollTick{Group: dvi_modbus.GroupCoils})
	f.waitState(t, domain.BridgeDegraded)

	status := f.status(t)
	assert.NotEqual(domain.LinkConnected, status.Serial)
	assert.Equal(domain.LinkConnected, status.MQTT)

	f.sim.Plug()
	f.waitState(t, domain.BridgeRunning)

	last, ok := f.recorder.lastStatus()
	assert.True(ok)
	assert.Equal(domain.BridgeRunning, last.State)
}

func TestBridgeHealth(t *testing.T) {

	f := spawnBridge(t)
	f.waitState(t, domain.BridgeRunning)

	res, err := f.as.Root.RequestFuture(f.pid, domain.ActorHealthRequest{}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	healthResp, ok := res.(domain.ActorHealthResponse)
	assert.True(t, ok)
	assert.True(t, healthResp.Healthy, "healthy is true")
	assert.Equal(t, domain.ACTOR_ID_BRIDGE, healthResp.Id)
}

func TestBridgeShutdown(t *testing.T) {

	assert := assert.New(t)

	f := spawnBridge(t)
	f.waitState(t, domain.BridgeRunning)

	res, err := f.as.Root.RequestFuture(f.pid, domain.ShutdownRequest{}, 5*time.Second).Result()
	assert.NoError(err)
	assert.Equal(domain.BridgeStopping, res.(domain.ShutdownResponse).Status.State)

	require.Eventually(t, func() bool {
		last, ok := f.recorder.lastStatus()
		return ok && last.State == domain.BridgeStopping
	}, 2*time.Second, 20*time.Millisecond)
}

func TestBridgeChildFailureIsLogged(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	core, logs := observer.New(zap.WarnLevel)
	bridge := NewBridgeActor(&cfg, &service.DefaultCommandValidator{}, domain.DiscoveryDescriptor{}, &eventstream.EventStream{}, nil, nil, zap.New(core))

	assert.Equal(actor.RestartDirective, bridge.decideChildFailure("publish panicked"))
	entries := logs.FilterMessage("bridge: restarting failed child").All()
	if assert.Len(entries, 1) {
		assert.Equal("publish panicked", entries[0].ContextMap()["reason"])
	}
}
