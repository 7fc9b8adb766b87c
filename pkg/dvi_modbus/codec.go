package dvi_modbus

import (
	"encoding/binary"
	"fmt"

	"github.com/goburrow/modbus"
)

const (
	rtuMinSize = 4
	rtuMaxSize = 256
)

// Codec frames Modbus RTU application data units for a single slave.
// It satisfies modbus.Packager so it can be paired with any modbus.Transporter.
type Codec struct {
	SlaveId byte
}

var _ modbus.Packager = (*Codec)(nil)

func NewCodec(slaveId byte) *Codec {
	return &Codec{SlaveId: slaveId}
}

func (c *Codec) Encode(pdu *modbus.ProtocolDataUnit) ([]byte, error) {
	size := len(pdu.Data) + 4
	if size > rtuMaxSize {
		return nil, fmt.Errorf("dvi: frame length %d exceeds %d", size, rtuMaxSize)
	}
	adu := make([]byte, 0, size)
	adu = append(adu, c.SlaveId, pdu.FunctionCode)
	adu = append(adu, pdu.Data...)
	return appendCRC(adu), nil
}

func (c *Codec) Decode(adu []byte) (*modbus.ProtocolDataUnit, error) {
	if len(adu) < rtuMinSize {
		return nil, malformed(adu, "frame too short")
	}
	if !checkCRC(adu) {
		return nil, malformed(adu, "crc mismatch")
	}
	return &modbus.ProtocolDataUnit{
		FunctionCode: adu[1],
		Data:         append([]byte(nil), adu[2:len(adu)-2]...),
	}, nil
}

func (c *Codec) Verify(aduRequest []byte, aduResponse []byte) error {
	if len(aduResponse) < rtuMinSize {
		return malformed(aduResponse, "frame too short")
	}
	if aduResponse[0] != aduRequest[0] {
		return malformed(aduResponse, "slave id %d, want %d", aduResponse[0], aduRequest[0])
	}
	fc := aduResponse[1] &^ 0x80
	if fc != aduRequest[1] {
		return malformed(aduResponse, "function code %d, want %d", aduResponse[1], aduRequest[1])
	}
	return nil
}

func (c *Codec) EncodeRequest(r Request) ([]byte, error) {
	return c.Encode(r.PDU())
}

// DecodeResponse decodes a response frame to r. Exception frames decode to an
// Exception value; everything that does not match r is a MalformedFrameError.
func (c *Codec) DecodeResponse(r Request, adu []byte) (Response, error) {
	pdu, err := c.Decode(adu)
	if err != nil {
		return nil, err
	}
	if adu[0] != c.SlaveId {
		return nil, malformed(adu, "slave id %d, want %d", adu[0], c.SlaveId)
	}
	fc := r.PDU().FunctionCode
	switch pdu.FunctionCode {
	case fc:
		return r.parse(pdu)
	case fc | 0x80:
		if len(pdu.Data) != 1 {
			return nil, malformed(adu, "exception length %d", len(pdu.Data))
		}
		return Exception{Function: fc, Code: pdu.Data[0]}, nil
	default:
		return nil, malformed(adu, "function code %d, want %d", pdu.FunctionCode, fc)
	}
}

// DecodeRequest is the inverse of EncodeRequest. It is what the device side
// of the link does with a frame.
func (c *Codec) DecodeRequest(adu []byte) (Request, error) {
	pdu, err := c.Decode(adu)
	if err != nil {
		return nil, err
	}
	if len(pdu.Data) != 4 {
		return nil, malformed(adu, "request length %d", len(pdu.Data))
	}
	a := binary.BigEndian.Uint16(pdu.Data[0:2])
	b := binary.BigEndian.Uint16(pdu.Data[2:4])
	switch pdu.FunctionCode {
	case modbus.FuncCodeReadCoils:
		return ReadCoils{Start: a, Quantity: b}, nil
	case modbus.FuncCodeReadInputRegisters:
		return ReadInputRegisters{Start: a, Quantity: b}, nil
	case modbus.FuncCodeWriteSingleRegister:
		return WriteRegister{Address: a, Value: b}, nil
	default:
		return nil, malformed(adu, "unsupported function code %d", pdu.FunctionCode)
	}
}

// EncodeResponse builds the device answer for a response value. Used by the
// simulator and by tests.
func (c *Codec) EncodeResponse(resp Response) ([]byte, error) {
	switch r := resp.(type) {
	case CoilStatus:
		data := packBits(r.Bits)
		return c.Encode(&modbus.ProtocolDataUnit{
			FunctionCode: modbus.FuncCodeReadCoils,
			Data:         append([]byte{byte(len(data))}, data...),
		})
	case InputRegisters:
		data := words(r.Values...)
		return c.Encode(&modbus.ProtocolDataUnit{
			FunctionCode: modbus.FuncCodeReadInputRegisters,
			Data:         append([]byte{byte(len(data))}, data...),
		})
	case RegisterEcho:
		return c.Encode(&modbus.ProtocolDataUnit{
			FunctionCode: modbus.FuncCodeWriteSingleRegister,
			Data:         words(r.Address, r.Value),
		})
	case Exception:
		return c.Encode(&modbus.ProtocolDataUnit{
			FunctionCode: r.Function | 0x80,
			Data:         []byte{r.Code},
		})
	default:
		return nil, fmt.Errorf("dvi: unknown response %T", resp)
	}
}

func packBits(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}
