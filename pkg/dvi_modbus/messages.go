package dvi_modbus

import (
	"encoding/binary"
	"fmt"

	"github.com/goburrow/modbus"
)

// Request is one of the closed set of requests the heatpump controller
// understands. Each variant owns its encode and decode rule.
type Request interface {
	PDU() *modbus.ProtocolDataUnit
	parse(pdu *modbus.ProtocolDataUnit) (Response, error)
	fmt.Stringer
}

// Response is one of CoilStatus, InputRegisters, RegisterEcho or Exception.
type Response interface {
	isResponse()
}

type ReadCoils struct {
	Start    uint16
	Quantity uint16
}

type ReadInputRegisters struct {
	Start    uint16
	Quantity uint16
}

// WriteRegister is a FC06 single register write. The DVI controller answers
// a write of 0 to a setting's read address with the current value of that
// setting, which is how settings are polled.
type WriteRegister struct {
	Address uint16
	Value   uint16
}

// CoilStatus holds every bit of the returned bytes, LSB first. The controller
// reports the alarm bit past the requested quantity, so padding bits are kept.
type CoilStatus struct {
	Start uint16
	Bits  []bool
}

type InputRegisters struct {
	Start  uint16
	Values []uint16
}

type RegisterEcho struct {
	Address uint16
	Value   uint16
}

type Exception struct {
	Function byte
	Code     byte
}

func (CoilStatus) isResponse()     {}
func (InputRegisters) isResponse() {}
func (RegisterEcho) isResponse()   {}
func (Exception) isResponse()      {}

func (e Exception) Err() error {
	return &modbus.ModbusError{FunctionCode: e.Function, ExceptionCode: e.Code}
}

// ReadCoils

func (r ReadCoils) PDU() *modbus.ProtocolDataUnit {
	return &modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeReadCoils,
		Data:         words(r.Start, r.Quantity),
	}
}

func (r ReadCoils) String() string {
	return fmt.Sprintf("ReadCoils(0x%02X, %d)", r.Start, r.Quantity)
}

func (r ReadCoils) parse(pdu *modbus.ProtocolDataUnit) (Response, error) {
	expected := (int(r.Quantity) + 7) / 8
	if len(pdu.Data) < 1 || int(pdu.Data[0]) != expected || len(pdu.Data) != 1+expected {
		return nil, malformed(pdu.Data, "coil byte count mismatch, want %d", expected)
	}
	return CoilStatus{Start: r.Start, Bits: unpackBits(pdu.Data[1:])}, nil
}

// ReadInputRegisters

func (r ReadInputRegisters) PDU() *modbus.ProtocolDataUnit {
	return &modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeReadInputRegisters,
		Data:         words(r.Start, r.Quantity),
	}
}

func (r ReadInputRegisters) String() string {
	return fmt.Sprintf("ReadInputRegisters(0x%02X, %d)", r.Start, r.Quantity)
}

func (r ReadInputRegisters) parse(pdu *modbus.ProtocolDataUnit) (Response, error) {
	expected := int(r.Quantity) * 2
	if len(pdu.Data) < 1 || int(pdu.Data[0]) != expected || len(pdu.Data) != 1+expected {
		return nil, malformed(pdu.Data, "register byte count mismatch, want %d", expected)
	}
	return InputRegisters{Start: r.Start, Values: unpackRegisters(pdu.Data[1:])}, nil
}

// WriteRegister

func (r WriteRegister) PDU() *modbus.ProtocolDataUnit {
	return &modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeWriteSingleRegister,
		Data:         words(r.Address, r.Value),
	}
}

func (r WriteRegister) String() string {
	return fmt.Sprintf("WriteRegister(0x%03X, %d)", r.Address, r.Value)
}

func (r WriteRegister) parse(pdu *modbus.ProtocolDataUnit) (Response, error) {
	if len(pdu.Data) != 4 {
		return nil, malformed(pdu.Data, "write echo length %d", len(pdu.Data))
	}
	addr := binary.BigEndian.Uint16(pdu.Data[0:2])
	if addr != r.Address {
		return nil, malformed(pdu.Data, "write echo address 0x%03X, want 0x%03X", addr, r.Address)
	}
	return RegisterEcho{Address: addr, Value: binary.BigEndian.Uint16(pdu.Data[2:4])}, nil
}

func words(values ...uint16) []byte {
	b := make([]byte, 2*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(b[2*i:], v)
	}
	return b
}

func unpackBits(data []byte) []bool {
	out := make([]bool, 0, len(data)*8)
	for _, b := range data {
		for i := 0; i < 8; i++ {
			out = append(out, (b>>i)&1 == 1)
		}
	}
	return out
}

func unpackRegisters(data []byte) []uint16 {
	out := make([]uint16, len(data)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(data[2*i:])
	}
	return out
}
