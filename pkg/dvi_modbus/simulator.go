package dvi_modbus

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/goburrow/serial"
)

type Fault int

const (
	// FaultCorrupt flips the CRC of the next response.
	FaultCorrupt Fault = iota + 1
	// FaultSilent drops the next response.
	FaultSilent
	// FaultException answers the next request with an illegal address exception.
	FaultException
	// FaultGarbage answers with a frame carrying an unknown function code.
	FaultGarbage
	// FaultLate answers the next request after the read timeout has passed.
	FaultLate
)

// Simulator is an in-memory DVI controller speaking RTU frames. It stands in
// for the serial port in tests.
type Simulator struct {
	mu          sync.Mutex
	codec       *Codec
	readTimeout time.Duration

	coils    []bool
	inputs   map[uint16]uint16
	settings map[uint16]uint16
	writes   []WriteRegister
	faults   []Fault
	plugged  bool
	ports    []*simPort
}

func NewSimulator() *Simulator {
	s := &Simulator{
		codec:       NewCodec(DefaultSlaveId),
		readTimeout: 50 * time.Millisecond,
		coils:       make([]bool, 16),
		inputs:      map[uint16]uint16{},
		settings:    map[uint16]uint16{},
		plugged:     true,
	}
	for _, r := range Inputs {
		s.inputs[r.Address] = 0
	}
	s.SetInput(InputCVForward, 21.0)
	s.SetInput("outdoor", -3.5)
	s.SetInput("em23_power", 1.2345)
	s.inputs[Energy.Address] = 0x0001
	s.inputs[Energy.Low] = 0x0000
	for _, r := range Settings {
		s.settings[r.Address] = 0
	}
	s.SetSetting(SettingCVMode, 1)
	s.SetSetting("cv_curve", 8)
	s.SetSetting("vv_setpoint", 50)
	return s
}

func (s *Simulator) WithReadTimeout(d time.Duration) *Simulator {
	s.readTimeout = d
	return s
}

// Transport returns a transport whose port is served by the simulator.
func (s *Simulator) Transport() *SerialTransport {
	return NewTransport(s.Open)
}

func (s *Simulator) Open() (io.ReadWriteCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.plugged {
		return nil, fmt.Errorf("open simulator: %w", os.ErrNotExist)
	}
	p := &simPort{sim: s, in: make(chan []byte, 8), closed: make(chan struct{})}
	s.ports = append(s.ports, p)
	return p, nil
}

// Unplug makes every open port fail and further opens return os.ErrNotExist.
func (s *Simulator) Unplug() {
	s.mu.Lock()
	ports := s.ports
	s.ports = nil
	s.plugged = false
	s.mu.Unlock()
	for _, p := range ports {
		p.Close()
	}
}

func (s *Simulator) Plug() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plugged = true
}

func (s *Simulator) Inject(faults ...Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, faults...)
}

func (s *Simulator) SetCoil(id string, value bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range Coils {
		if c.Id == id {
			s.coils[c.Bit] = value
		}
	}
}

func (s *Simulator) SetInput(id string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range Inputs {
		if r.Id == id {
			s.inputs[r.Address] = uint16(int16(math.Round(value / r.Scale)))
		}
	}
}

func (s *Simulator) SetSetting(id string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := SettingById(id); ok {
		s.settings[r.Address] = uint16(math.Round(value / r.Scale))
	}
}

func (s *Simulator) Setting(id string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, _ := SettingById(id)
	return r.Value(s.settings[r.Address])
}

// Writes returns the command writes applied so far, in order.
func (s *Simulator) Writes() []WriteRegister {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]WriteRegister(nil), s.writes...)
}

// handle answers one request frame. delay is non-zero when the answer should
// arrive late.
func (s *Simulator) handle(adu []byte) (frame []byte, delay time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fault Fault
	if len(s.faults) > 0 {
		fault, s.faults = s.faults[0], s.faults[1:]
	}

	req, err := s.codec.DecodeRequest(adu)
	if err != nil {
		return nil, 0, false
	}

	var resp Response
	switch r := req.(type) {
	case ReadCoils:
		resp = CoilStatus{Start: r.Start, Bits: append([]bool(nil), s.coils[:8*((int(r.Quantity)+7)/8)]...)}
	case ReadInputRegisters:
		values := make([]uint16, r.Quantity)
		for i := range values {
			v, ok := s.inputs[r.Start+uint16(i)]
			if !ok {
				resp = Exception{Function: modbus.FuncCodeReadInputRegisters, Code: modbus.ExceptionCodeIllegalDataAddress}
				break
			}
			values[i] = v
		}
		if resp == nil {
			resp = InputRegisters{Start: r.Start, Values: values}
		}
	case WriteRegister:
		if r.Address >= CommandRegisterOffset {
			s.settings[r.Address-CommandRegisterOffset] = r.Value
			s.writes = append(s.writes, r)
			resp = RegisterEcho{Address: r.Address, Value: r.Value}
		} else {
			resp = RegisterEcho{Address: r.Address, Value: s.settings[r.Address]}
		}
	}

	switch fault {
	case FaultSilent:
		return nil, 0, false
	case FaultException:
		resp = Exception{Function: req.PDU().FunctionCode, Code: modbus.ExceptionCodeIllegalDataAddress}
	case FaultGarbage:
		return []byte{DefaultSlaveId, 0x42, 0x00, 0x00, 0x00}, 0, true
	case FaultLate:
		delay = s.readTimeout + s.readTimeout/2
	}

	frame, err = s.codec.EncodeResponse(resp)
	if err != nil {
		return nil, 0, false
	}
	if fault == FaultCorrupt {
		frame[len(frame)-1] ^= 0xFF
	}
	return frame, delay, true
}

type simPort struct {
	sim     *Simulator
	in      chan []byte
	pending []byte
	once    sync.Once
	closed  chan struct{}
}

func (p *simPort) Write(b []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	frame, delay, ok := p.sim.handle(b)
	if !ok {
		return len(b), nil
	}
	if delay > 0 {
		time.AfterFunc(delay, func() {
			select {
			case p.in <- frame:
			case <-p.closed:
			}
		})
		return len(b), nil
	}
	select {
	case p.in <- frame:
	default:
		return 0, errors.New("simulator: response buffer full")
	}
	return len(b), nil
}

func (p *simPort) Read(b []byte) (int, error) {
	if len(p.pending) == 0 {
		select {
		case <-p.closed:
			return 0, io.EOF
		case frame := <-p.in:
			p.pending = frame
		case <-time.After(p.sim.readTimeout):
			return 0, serial.ErrTimeout
		}
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *simPort) Close() error {
	p.once.Do(func() {
		close(p.closed)
	})
	return nil
}
