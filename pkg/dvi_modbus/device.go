package dvi_modbus

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Device reads and writes the DVI heatpump controller.
type Device interface {
	Open() error
	Close() error
	Poll(ctx context.Context, group Group) (*Sample, error)
	Write(ctx context.Context, field string, value float64) (*WriteResult, error)
}

// Sample is the outcome of one poll group. Registers that could not be read
// are missing from the maps; the reason is collected in Errors.
type Sample struct {
	Group     Group
	Coils     map[string]bool
	Inputs    map[string]float64
	Settings  map[string]float64
	Malformed int
	Timeouts  int
	Errors    []error
}

func (s *Sample) Empty() bool {
	return len(s.Coils) == 0 && len(s.Inputs) == 0 && len(s.Settings) == 0
}

type WriteResult struct {
	Field string
	Value float64
}

type Instrument struct {
	RecordTime   func(fnName string, duration time.Duration)
	RecordResult func(result string)
}

const (
	ResultOk        = "ok"
	ResultMalformed = "malformed"
	ResultTimeout   = "timeout"
	ResultException = "exception"
	ResultError     = "error"
)

type DVIDevice struct {
	codec       *Codec
	transport   Transport
	maxTimeouts int
	instrument  []Instrument

	timeouts int
}

var _ Device = (*DVIDevice)(nil)

func NewDVIDevice(transport Transport, slaveId byte, maxTimeouts int, instrument ...Instrument) *DVIDevice {
	if maxTimeouts <= 0 {
		maxTimeouts = 1
	}
	return &DVIDevice{
		codec:       NewCodec(slaveId),
		transport:   transport,
		maxTimeouts: maxTimeouts,
		instrument:  instrument,
	}
}

func (d *DVIDevice) Open() error {
	d.timeouts = 0
	return d.transport.Open()
}

func (d *DVIDevice) Close() error {
	return d.transport.Close()
}

func (d *DVIDevice) Poll(ctx context.Context, group Group) (*Sample, error) {
	sample := &Sample{Group: group}
	var err error
	switch group {
	case GroupCoils:
		err = d.pollCoils(ctx, sample)
	case GroupInputs:
		err = d.pollInputs(ctx, sample)
	case GroupSettings:
		err = d.pollSettings(ctx, sample)
	default:
		return nil, fmt.Errorf("dvi: unknown poll group %q", group)
	}
	if err != nil {
		return nil, err
	}
	return sample, nil
}

func (d *DVIDevice) pollCoils(ctx context.Context, sample *Sample) error {
	resp, err := d.transact(ctx, ReadCoils{Start: coilStart, Quantity: coilQuantity})
	if err := sample.record(err); err != nil {
		return err
	}
	status, ok := resp.(CoilStatus)
	if !ok {
		return nil
	}
	sample.Coils = make(map[string]bool, len(Coils))
	for _, c := range Coils {
		if c.Bit < len(status.Bits) {
			sample.Coils[c.Id] = status.Bits[c.Bit]
		}
	}
	return nil
}

func (d *DVIDevice) pollInputs(ctx context.Context, sample *Sample) error {
	sample.Inputs = make(map[string]float64, len(Inputs))
	for _, r := range Inputs {
		raw, err := d.readInput(ctx, r.Address)
		if err := sample.record(err); err != nil {
			return err
		}
		if err == nil {
			sample.Inputs[r.Id] = r.Value(raw)
		}
	}
	return nil
}

func (d *DVIDevice) pollSettings(ctx context.Context, sample *Sample) error {
	sample.Inputs = make(map[string]float64, 1)
	sample.Settings = make(map[string]float64, len(Settings))

	msw, errHigh := d.readInput(ctx, Energy.Address)
	if err := sample.record(errHigh); err != nil {
		return err
	}
	lsw, errLow := d.readInput(ctx, Energy.Low)
	if err := sample.record(errLow); err != nil {
		return err
	}
	if errHigh == nil && errLow == nil {
		sample.Inputs[Energy.Id] = Energy.Value32(msw, lsw)
	}

	for _, r := range Settings {
		resp, err := d.transact(ctx, WriteRegister{Address: r.Address, Value: 0})
		if err := sample.record(err); err != nil {
			return err
		}
		if echo, ok := resp.(RegisterEcho); ok {
			sample.Settings[r.Id] = r.Value(echo.Value)
		}
	}
	return nil
}

func (d *DVIDevice) readInput(ctx context.Context, address uint16) (uint16, error) {
	resp, err := d.transact(ctx, ReadInputRegisters{Start: address, Quantity: 1})
	if err != nil {
		return 0, err
	}
	return resp.(InputRegisters).Values[0], nil
}

func (d *DVIDevice) Write(ctx context.Context, field string, value float64) (*WriteResult, error) {
	cmd, ok := CommandById(field)
	if !ok {
		return nil, &UnsupportedCommandError{Field: field, Value: value, Reason: "unknown field"}
	}
	req, err := cmd.Encode(value)
	if err != nil {
		return nil, err
	}
	resp, err := d.transact(ctx, req)
	if err != nil {
		return nil, err
	}
	return &WriteResult{Field: field, Value: cmd.Decode(resp.(RegisterEcho))}, nil
}

// transact runs one request. A successful response is always the variant
// that belongs to req; exceptions come back as *modbus.ModbusError.
func (d *DVIDevice) transact(ctx context.Context, req Request) (Response, error) {
	defer d.recordTimer(requestName(req))()

	adu, err := d.codec.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	frame, err := d.transport.Transact(ctx, adu)
	if err == nil {
		if err = d.codec.Verify(adu, frame); err == nil {
			var resp Response
			resp, err = d.codec.DecodeResponse(req, frame)
			if err == nil {
				d.timeouts = 0
				if exc, ok := resp.(Exception); ok {
					d.recordResult(ResultException)
					return nil, exc.Err()
				}
				d.recordResult(ResultOk)
				return resp, nil
			}
		}
	}

	switch {
	case errors.Is(err, ErrTimeout):
		d.recordResult(ResultTimeout)
		d.timeouts++
		if d.timeouts >= d.maxTimeouts {
			return nil, fmt.Errorf("%w: %d consecutive timeouts", ErrConnection, d.timeouts)
		}
	case IsMalformed(err):
		d.recordResult(ResultMalformed)
	default:
		d.recordResult(ResultError)
	}
	return nil, err
}

func (d *DVIDevice) recordTimer(name string) func() {
	if d.instrument == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		duration := time.Since(start)
		for i := range d.instrument {
			if d.instrument[i].RecordTime != nil {
				d.instrument[i].RecordTime(name, duration)
			}
		}
	}
}

func requestName(req Request) string {
	switch req.(type) {
	case ReadCoils:
		return "ReadCoils"
	case ReadInputRegisters:
		return "ReadInputRegisters"
	case WriteRegister:
		return "WriteRegister"
	default:
		return "Unknown"
	}
}

func (d *DVIDevice) recordResult(result string) {
	for i := range d.instrument {
		if d.instrument[i].RecordResult != nil {
			d.instrument[i].RecordResult(result)
		}
	}
}

// record keeps per register failures on the sample and returns the error
// only when it ends the poll.
func (s *Sample) record(err error) error {
	switch {
	case err == nil:
		return nil
	case IsLinkFailure(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, ErrTimeout):
		s.Timeouts++
	case IsMalformed(err):
		s.Malformed++
	}
	s.Errors = append(s.Errors, err)
	return nil
}
