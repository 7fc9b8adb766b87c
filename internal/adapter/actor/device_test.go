package actor

import (
	"testing"
	"time"

	"github.com/lrp/dvi2mqtt/internal/core/domain"
	"github.com/lrp/dvi2mqtt/internal/core/service"
	"github.com/lrp/dvi2mqtt/internal/util/actorutil"
	"github.com/lrp/dvi2mqtt/pkg/dvi_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func spawnDeviceActor(t *testing.T, sim *dvi_modbus.Simulator) (*actor.ActorSystem, *actor.PID) {
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	device := dvi_modbus.NewDVIDevice(sim.Transport(), dvi_modbus.DefaultSlaveId, 2)
	backoff := service.NewBackoff(20*time.Millisecond, 100*time.Millisecond, 2, 0)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewDeviceActor(device, backoff, 2*time.Second, logger)
	})
	pid := as.Root.Spawn(props)
	t.Cleanup(func() {
		as.Root.Stop(pid)
		as.Shutdown()
	})
	return as, pid
}

func poll(as *actor.ActorSystem, pid *actor.PID, group dvi_modbus.Group) (domain.PollResponse, error) {
	result, err := as.Root.RequestFuture(pid, domain.PollRequest{Group: group}, 3*time.Second).Result()
	if err != nil {
		return domain.PollResponse{}, err
	}
	return result.(domain.PollResponse), nil
}

func TestDeviceActorPoll(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	sim := dvi_modbus.NewSimulator()
	as, pid := spawnDeviceActor(t, sim)

	var resp domain.PollResponse
	require.Eventually(func() bool {
		var err error
		resp, err = poll(as, pid, dvi_modbus.GroupInputs)
		return err == nil && !resp.HasResponseError()
	}, 3*time.Second, 50*time.Millisecond)

	assert.Equal(dvi_modbus.GroupInputs, resp.Group)
	assert.Equal(21.0, resp.Sample.Inputs[dvi_modbus.InputCVForward])
	assert.Equal(-3.5, resp.Sample.Inputs["outdoor"])
}

func TestDeviceActorWriteCommand(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	sim := dvi_modbus.NewSimulator()
	as, pid := spawnDeviceActor(t, sim)

	var resp domain.WriteCommandResponse
	require.Eventually(func() bool {
		result, err := as.Root.RequestFuture(pid, domain.WriteCommandRequest{
			Command: domain.Command{Field: "vv_setpoint", Value: 53},
		}, 3*time.Second).Result()
		if err != nil {
			return false
		}
		resp = result.(domain.WriteCommandResponse)
		return !resp.HasResponseError()
	}, 3*time.Second, 50*time.Millisecond)

	assert.Equal(53.0, resp.Applied)
	assert.Equal(53.0, sim.Setting("vv_setpoint"))
	assert.Contains(sim.Writes(), dvi_modbus.WriteRegister{Address: 0x10B, Value: 53})
}

func TestDeviceActorReconnects(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	sim := dvi_modbus.NewSimulator()
	as, pid := spawnDeviceActor(t, sim)

	require.Eventually(func() bool {
		resp, err := poll(as, pid, dvi_modbus.GroupCoils)
		return err == nil && !resp.HasResponseError()
	}, 3*time.Second, 50*time.Millisecond)

	sim.Unplug()
	resp, err := poll(as, pid, dvi_modbus.GroupCoils)
	require.NoError(err)
	assert.True(resp.HasResponseError(), "poll fails while unplugged")
	assert.True(dvi_modbus.IsLinkFailure(resp.GetResponseError()))

	sim.Plug()
	require.Eventually(func() bool {
		resp, err := poll(as, pid, dvi_modbus.GroupCoils)
		return err == nil && !resp.HasResponseError()
	}, 5*time.Second, 50*time.Millisecond, "recovers after replug")
}

func TestDeviceActorHealth(t *testing.T) {

	assert := assert.New(t)

	sim := dvi_modbus.NewSimulator()
	sim.Unplug()
	as, pid := spawnDeviceActor(t, sim)

	result, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, time.Second).Result()
	assert.NoError(err)
	health := result.(domain.ActorHealthResponse)
	assert.False(health.Healthy, "unhealthy until connected")
	assert.Equal(domain.ACTOR_ID_DEVICE, health.Id)
}
