package modbus_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vortigont/pzem-edl/pkg/modbus"
)

func TestCRC16ComputeKnownVector(t *testing.T) {
	// Read Holding Registers request, slave 1, addr 0, qty 2 - a classic
	// textbook CRC16/MODBUS vector.
	data := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x02}
	var c modbus.CRC16
	crc := c.Compute(data)
	require.Equal(t, uint16(0xC40B), crc)
}

func TestCRC16SetTrailingThenVerify(t *testing.T) {
	var c modbus.CRC16
	frame := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00}
	c.SetTrailing(frame)
	require.True(t, c.Verify(frame))
}

func TestCRC16VerifyRejectsCorruption(t *testing.T) {
	var c modbus.CRC16
	frame := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00}
	c.SetTrailing(frame)
	frame[2] ^= 0xFF
	require.False(t, c.Verify(frame))
}

func TestCRC16VerifyRejectsShortFrame(t *testing.T) {
	var c modbus.CRC16
	require.False(t, c.Verify([]byte{0x01, 0x02}))
}
