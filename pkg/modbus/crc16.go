// Package modbus implements the on-wire framing and CRC used by the PZEM
// Modbus-RTU slaves: a minimal request/response codec, not a general purpose
// Modbus master.
package modbus

import "github.com/sigurn/crc16"

var modbusTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// CRC16 computes and verifies the Modbus-RTU CRC16 checksum (poly 0xA001,
// init 0xFFFF, little-endian trailing word).
type CRC16 struct{}

// Compute returns the CRC16 of data.
func (CRC16) Compute(data []byte) uint16 {
	return crc16.Checksum(data, modbusTable)
}

// Verify reports whether the last two bytes of frame hold the correct
// little-endian CRC16 of the preceding bytes. A frame shorter than 3 bytes
// can never carry a verifiable CRC and is rejected.
func (c CRC16) Verify(frame []byte) bool {
	if len(frame) < 3 {
		return false
	}
	body := frame[:len(frame)-2]
	want := c.Compute(body)
	got := uint16(frame[len(frame)-2]) | uint16(frame[len(frame)-1])<<8
	return want == got
}

// SetTrailing computes the CRC16 over frame[:len(frame)-2] and writes it,
// little-endian, into the last two bytes of frame.
func (c CRC16) SetTrailing(frame []byte) {
	n := len(frame)
	if n < 2 {
		return
	}
	crc := c.Compute(frame[:n-2])
	frame[n-2] = byte(crc)
	frame[n-1] = byte(crc >> 8)
}
