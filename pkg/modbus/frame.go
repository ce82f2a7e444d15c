package modbus

import (
	"encoding/binary"
	"fmt"
)

// Function codes supported by the PZEM slaves. Only these five are ever
// produced or accepted; any other code on the wire is a protocol violation.
const (
	FuncReadInputRegisters   byte = 0x04
	FuncReadHoldingRegisters byte = 0x03
	FuncWriteSingleRegister  byte = 0x06
	FuncCalibrate            byte = 0x41
	FuncResetEnergy          byte = 0x42
)

// errorBit, OR'd into the function code of an exception response.
const errorBit byte = 0x80

// ExceptionCode is the single payload byte of an error response.
type ExceptionCode byte

const (
	ExcIllegalFunction    ExceptionCode = 0x01
	ExcIllegalDataAddress ExceptionCode = 0x02
	ExcIllegalDataValue   ExceptionCode = 0x03
	ExcSlaveDeviceFailure ExceptionCode = 0x04
)

// Frame is an outgoing request: slave address, function code and a
// function-specific payload. CRC16 is appended by Encode, never carried here.
type Frame struct {
	SlaveAddr byte
	Function  byte
	Payload   []byte
}

// Encode serializes f into a wire-ready byte slice with a trailing
// little-endian CRC16.
func (f Frame) Encode() []byte {
	buf := make([]byte, 2+len(f.Payload)+2)
	buf[0] = f.SlaveAddr
	buf[1] = f.Function
	copy(buf[2:], f.Payload)
	var c CRC16
	c.SetTrailing(buf)
	return buf
}

// NewReadFrame builds a Read Holding/Input Registers request.
func NewReadFrame(slaveAddr byte, function byte, startReg, qty uint16) Frame {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:2], startReg)
	binary.BigEndian.PutUint16(payload[2:4], qty)
	return Frame{SlaveAddr: slaveAddr, Function: function, Payload: payload}
}

// NewWriteSingleRegisterFrame builds a Write Single Register request.
func NewWriteSingleRegisterFrame(slaveAddr byte, reg, value uint16) Frame {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:2], reg)
	binary.BigEndian.PutUint16(payload[2:4], value)
	return Frame{SlaveAddr: slaveAddr, Function: FuncWriteSingleRegister, Payload: payload}
}

// NewCalibrateFrame builds the non-standard calibration request, gated by
// the fixed password the meter firmware expects.
func NewCalibrateFrame(slaveAddr byte, password uint16) Frame {
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, password)
	return Frame{SlaveAddr: slaveAddr, Function: FuncCalibrate, Payload: payload}
}

// NewResetEnergyFrame builds the non-standard energy-counter reset request.
// It carries no payload on the wire.
func NewResetEnergyFrame(slaveAddr byte) Frame {
	return Frame{SlaveAddr: slaveAddr, Function: FuncResetEnergy}
}

// Response is a decoded reply frame, or the decoding failure if Valid is
// false. Decode never panics on malformed input; it reports the failure via
// Valid/Err instead, so the RX path never raises an error up the callback.
type Response struct {
	Valid     bool
	Err       error
	SlaveAddr byte
	Function  byte
	IsError   bool
	Exception ExceptionCode
	Body      []byte // register/echo payload, CRC and length byte stripped
}

// Decode parses a raw RTU response frame, verifying length and CRC16 before
// interpreting the body. Malformed frames come back with Valid == false and
// a non-nil Err; they are never partially trusted.
func Decode(raw []byte) Response {
	if len(raw) < 5 {
		return Response{Valid: false, Err: fmt.Errorf("modbus: frame too short (%d bytes)", len(raw))}
	}
	var c CRC16
	if !c.Verify(raw) {
		return Response{Valid: false, Err: fmt.Errorf("modbus: crc16 mismatch")}
	}
	body := raw[:len(raw)-2]
	addr, function := body[0], body[1]
	rest := body[2:]

	if function&errorBit != 0 {
		if len(rest) < 1 {
			return Response{Valid: false, Err: fmt.Errorf("modbus: exception response missing code")}
		}
		return Response{
			Valid:     true,
			SlaveAddr: addr,
			Function:  function &^ errorBit,
			IsError:   true,
			Exception: ExceptionCode(rest[0]),
		}
	}

	switch function {
	case FuncReadInputRegisters, FuncReadHoldingRegisters:
		if len(rest) < 1 {
			return Response{Valid: false, Err: fmt.Errorf("modbus: read response missing byte count")}
		}
		n := int(rest[0])
		if len(rest)-1 != n {
			return Response{Valid: false, Err: fmt.Errorf("modbus: read response length mismatch: have %d want %d", len(rest)-1, n)}
		}
		return Response{Valid: true, SlaveAddr: addr, Function: function, Body: rest[1:]}
	case FuncWriteSingleRegister, FuncCalibrate, FuncResetEnergy:
		return Response{Valid: true, SlaveAddr: addr, Function: function, Body: rest}
	default:
		return Response{Valid: false, Err: fmt.Errorf("modbus: unsupported function code 0x%02x", function)}
	}
}

// Registers reinterprets Body as a sequence of big-endian 16-bit registers,
// as produced by a Read Holding/Input Registers response.
func (r Response) Registers() []uint16 {
	regs := make([]uint16, len(r.Body)/2)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(r.Body[i*2 : i*2+2])
	}
	return regs
}

// Word32 reconstructs the PZEM firmware's non-standard 32-bit layout from two
// consecutive registers: the lower-addressed register (lo) holds the low 16
// bits, the higher-addressed one (hi) the high 16 bits. This is bit-exact to
// the original firmware and must never be "corrected" to big-endian-u32.
func Word32(lo, hi uint16) uint32 {
	return uint32(lo) | uint32(hi)<<16
}
