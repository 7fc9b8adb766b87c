package dvi_modbus

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goburrow/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSimulated(t *testing.T, sim *Simulator, maxTimeouts int) *DVIDevice {
	dev := NewDVIDevice(sim.Transport(), DefaultSlaveId, maxTimeouts)
	require.NoError(t, dev.Open())
	t.Cleanup(func() { dev.Close() })
	return dev
}

func TestPollGroups(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	sim := NewSimulator()
	sim.SetCoil("heating_element", true)
	sim.SetCoil("sum_alarm", true)
	dev := openSimulated(t, sim, 3)
	ctx := context.Background()

	coils, err := dev.Poll(ctx, GroupCoils)
	require.NoError(err)
	assert.Len(coils.Coils, len(Coils))
	assert.True(coils.Coils["heating_element"])
	assert.True(coils.Coils["sum_alarm"])
	assert.False(coils.Coils["soft_starter_compressor"])

	inputs, err := dev.Poll(ctx, GroupInputs)
	require.NoError(err)
	assert.Len(inputs.Inputs, len(Inputs))
	assert.Equal(21.0, inputs.Inputs[InputCVForward])
	assert.Equal(-3.5, inputs.Inputs["outdoor"])
	assert.Equal(1.2345, inputs.Inputs["em23_power"])

	settings, err := dev.Poll(ctx, GroupSettings)
	require.NoError(err)
	assert.Len(settings.Settings, len(Settings))
	assert.Equal(1.0, settings.Settings[SettingCVMode])
	assert.Equal(50.0, settings.Settings["vv_setpoint"])
	assert.Equal(6553.6, settings.Inputs[Energy.Id])
	assert.Empty(sim.Writes(), "echo reads are not command writes")
}

func TestWriteCommand(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	sim := NewSimulator()
	dev := openSimulated(t, sim, 3)

	res, err := dev.Write(context.Background(), "vv_setpoint", 53)
	require.NoError(err)
	assert.Equal(53.0, res.Value)
	assert.Equal([]WriteRegister{{Address: 0x10B, Value: 53}}, sim.Writes())
	assert.Equal(53.0, sim.Setting("vv_setpoint"))

	_, err = dev.Write(context.Background(), "vv_setpoint", 23.5)
	assert.True(IsUnsupported(err))
	assert.Len(sim.Writes(), 1, "unsupported command never reaches the wire")
}

func TestMalformedFrameIsNotLinkFailure(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	sim := NewSimulator()
	dev := openSimulated(t, sim, 3)

	sim.Inject(FaultCorrupt)
	sample, err := dev.Poll(context.Background(), GroupCoils)
	require.NoError(err)
	assert.Equal(1, sample.Malformed)
	assert.True(sample.Empty())

	sim.Inject(FaultGarbage)
	sample, err = dev.Poll(context.Background(), GroupCoils)
	require.NoError(err)
	assert.Equal(1, sample.Malformed)

	sample, err = dev.Poll(context.Background(), GroupCoils)
	require.NoError(err)
	assert.Zero(sample.Malformed)
	assert.Len(sample.Coils, len(Coils), "link recovers after resync")
}

func TestLateAnswerIsDiscarded(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	sim := NewSimulator()
	sim.SetInput("cv_return", 30.0)
	sim.SetInput("storage_tank_vv", 45.0)
	dev := openSimulated(t, sim, 3)

	// cv_forward answers after the read window closed
	sim.Inject(FaultLate)
	sample, err := dev.Poll(context.Background(), GroupInputs)
	require.NoError(err)
	assert.Equal(1, sample.Timeouts)
	assert.NotContains(sample.Inputs, InputCVForward)
	assert.Equal(30.0, sample.Inputs["cv_return"])
	assert.Equal(45.0, sample.Inputs["storage_tank_vv"])

	sample, err = dev.Poll(context.Background(), GroupInputs)
	require.NoError(err)
	assert.Zero(sample.Timeouts)
	assert.Equal(21.0, sample.Inputs[InputCVForward])
	assert.Equal(30.0, sample.Inputs["cv_return"])
	assert.Equal(45.0, sample.Inputs["storage_tank_vv"])
}

func TestExceptionSkipsRegister(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	sim := NewSimulator()
	dev := openSimulated(t, sim, 3)

	sim.Inject(FaultException)
	sample, err := dev.Poll(context.Background(), GroupInputs)
	require.NoError(err)
	assert.Len(sample.Inputs, len(Inputs)-1)
	require.Len(sample.Errors, 1)
	var mbErr *modbus.ModbusError
	assert.ErrorAs(sample.Errors[0], &mbErr)
}

func TestConsecutiveTimeoutsAreLinkFailure(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	sim := NewSimulator().WithReadTimeout(10 * time.Millisecond)
	dev := openSimulated(t, sim, 2)

	sim.Inject(FaultSilent)
	sample, err := dev.Poll(context.Background(), GroupCoils)
	require.NoError(err, "one timeout is tolerated")
	assert.Equal(1, sample.Timeouts)

	sim.Inject(FaultSilent, FaultSilent)
	_, err = dev.Poll(context.Background(), GroupInputs)
	assert.True(errors.Is(err, ErrConnection))
	assert.True(IsLinkFailure(err))
}

func TestUnplugAndReconnect(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	sim := NewSimulator()
	dev := openSimulated(t, sim, 3)

	sim.Unplug()
	_, err := dev.Poll(context.Background(), GroupCoils)
	assert.True(IsLinkFailure(err))

	dev.Close()
	assert.True(IsLinkFailure(dev.Open()), "device absent")

	sim.Plug()
	require.NoError(dev.Open())
	sample, err := dev.Poll(context.Background(), GroupCoils)
	require.NoError(err)
	assert.Len(sample.Coils, len(Coils))
}

func TestCancelInterruptsRead(t *testing.T) {

	assert := assert.New(t)

	sim := NewSimulator().WithReadTimeout(5 * time.Second)
	dev := openSimulated(t, sim, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	sim.Inject(FaultSilent)
	start := time.Now()
	_, err := dev.Poll(ctx, GroupCoils)
	assert.ErrorIs(err, context.DeadlineExceeded)
	assert.Less(time.Since(start), 2*time.Second)
}

func TestWaitForDevice(t *testing.T) {

	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "ttyACM0")
	attempts := 0
	next := func() (time.Duration, bool) {
		attempts++
		if attempts == 2 {
			os.WriteFile(path, nil, 0o600)
		}
		return time.Millisecond, attempts < 5
	}
	assert.NoError(WaitForDevice(context.Background(), path, next))
	assert.Equal(2, attempts)

	missing := filepath.Join(t.TempDir(), "missing")
	err := WaitForDevice(context.Background(), missing, func() (time.Duration, bool) { return 0, false })
	assert.True(errors.Is(err, ErrConnection))
}
