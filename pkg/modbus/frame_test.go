package modbus_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vortigont/pzem-edl/pkg/modbus"
)

func TestEncodeReadHoldingRegistersRequest(t *testing.T) {
	req := modbus.NewReadFrame(0x01, modbus.FuncReadHoldingRegisters, 0x0000, 0x0002)
	raw := req.Encode()
	require.Len(t, raw, 8)
	require.True(t, modbus.CRC16{}.Verify(raw))
}

func TestDecodeReadResponse(t *testing.T) {
	// addr=1 func=0x04 bytecount=4 registers=[0x1234,0x5678]
	body := []byte{0x01, 0x04, 0x04, 0x12, 0x34, 0x56, 0x78}
	frame := make([]byte, len(body)+2)
	copy(frame, body)
	modbus.CRC16{}.SetTrailing(frame)

	resp := modbus.Decode(frame)
	require.True(t, resp.Valid)
	require.False(t, resp.IsError)
	require.Equal(t, byte(0x01), resp.SlaveAddr)
	require.Equal(t, modbus.FuncReadInputRegisters, resp.Function)
	require.Equal(t, []uint16{0x1234, 0x5678}, resp.Registers())
}

func TestDecodeExceptionResponse(t *testing.T) {
	body := []byte{0x01, modbus.FuncReadHoldingRegisters | 0x80, byte(modbus.ExcIllegalDataAddress)}
	frame := make([]byte, len(body)+2)
	copy(frame, body)
	modbus.CRC16{}.SetTrailing(frame)

	resp := modbus.Decode(frame)
	require.True(t, resp.Valid)
	require.True(t, resp.IsError)
	require.Equal(t, modbus.ExcIllegalDataAddress, resp.Exception)
	require.Equal(t, modbus.FuncReadHoldingRegisters, resp.Function)
}

func TestDecodeRejectsBadCRC(t *testing.T) {
	frame := []byte{0x01, 0x03, 0x02, 0x00, 0x01, 0xFF, 0xFF}
	resp := modbus.Decode(frame)
	require.False(t, resp.Valid)
	require.Error(t, resp.Err)
}

func TestWord32NonStandardOrder(t *testing.T) {
	// lower-addressed register carries the low bits.
	require.Equal(t, uint32(0x00020001), modbus.Word32(0x0001, 0x0002))
}
