package pzem

import "github.com/vortigont/pzem-edl/pkg/modbus"

// Input-register map for the AC (PZEM-004T-class) meter family, read via
// Read Input Registers (0x04).
const (
	pz004RegVoltage    uint16 = 0x0000
	pz004RegCurrentLo  uint16 = 0x0001
	pz004RegCurrentHi  uint16 = 0x0002
	pz004RegPowerLo    uint16 = 0x0003
	pz004RegPowerHi    uint16 = 0x0004
	pz004RegEnergyLo   uint16 = 0x0005
	pz004RegEnergyHi   uint16 = 0x0006
	pz004RegFrequency  uint16 = 0x0007
	pz004RegPowerFact  uint16 = 0x0008
	pz004RegAlarm      uint16 = 0x0009
	pz004InputRegCount uint16 = 10
)

// Holding-register map, read/written via 0x03/0x06. A Read Holding
// Registers request starts at pz004HoldAlarmThresh and reads pz004HoldCount
// registers, covering both regs in one round trip (there is no way to tell
// which single register a lone reply belongs to, so the firmware always
// returns both).
const (
	pz004HoldAlarmThresh uint16 = 0x0001
	pz004HoldAddr        uint16 = 0x0002
	pz004HoldCount       uint16 = 2
)

const pz004AlarmActive uint16 = 0xFFFF

// ACMetrics holds the live readings for a MeterA (AC) meter. Fixed-point
// register values are converted to engineering units with the divisors the
// firmware uses: voltage/10, current/1000, power/10, energy as-is,
// frequency/10, power factor/100.
type ACMetrics struct {
	VoltageV     float64
	CurrentA     float64
	PowerW       float64
	EnergyWh     float64
	FrequencyHz  float64
	PowerFactor  float64
	AlarmOverPwr bool
}

func (m *ACMetrics) Voltage() float64 { return m.VoltageV }
func (m *ACMetrics) Current() float64 { return m.CurrentA }
func (m *ACMetrics) Power() float64   { return m.PowerW }
func (m *ACMetrics) Energy() float64  { return m.EnergyWh }
func (m *ACMetrics) Clone() Metrics {
	c := *m
	return &c
}

// ACOptions holds the holding-register settings block read back by
// ACGetOptionsFrame: the over-power alarm threshold and the meter's own
// slave address.
type ACOptions struct {
	AlarmThresholdW uint16
	Addr            byte
}

// ParseACOptions decodes a Read Holding Registers response body into
// ACOptions.
func ParseACOptions(resp modbus.Response) (*ACOptions, error) {
	if resp.Function != modbus.FuncReadHoldingRegisters {
		return nil, newErr(ErrParse, "ParseACOptions", errWrongFunction(resp.Function))
	}
	regs := resp.Registers()
	if uint16(len(regs)) != pz004HoldCount {
		return nil, newErr(ErrParse, "ParseACOptions", errRegisterCount(len(regs), int(pz004HoldCount)))
	}
	return &ACOptions{
		AlarmThresholdW: regs[0],
		Addr:            byte(regs[1]),
	}, nil
}

// ParseACMetrics decodes a Read Input Registers response body into
// ACMetrics. The 32-bit current/power/energy fields use the PZEM firmware's
// non-standard word order (modbus.Word32): the lower-addressed register
// carries the low 16 bits.
func ParseACMetrics(resp modbus.Response) (*ACMetrics, error) {
	if resp.Function != modbus.FuncReadInputRegisters {
		return nil, newErr(ErrParse, "ParseACMetrics", errWrongFunction(resp.Function))
	}
	regs := resp.Registers()
	if uint16(len(regs)) != pz004InputRegCount {
		return nil, newErr(ErrParse, "ParseACMetrics", errRegisterCount(len(regs), int(pz004InputRegCount)))
	}
	return &ACMetrics{
		VoltageV:     float64(regs[pz004RegVoltage]) / 10,
		CurrentA:     float64(modbus.Word32(regs[pz004RegCurrentLo], regs[pz004RegCurrentHi])) / 1000,
		PowerW:       float64(modbus.Word32(regs[pz004RegPowerLo], regs[pz004RegPowerHi])) / 10,
		EnergyWh:     float64(modbus.Word32(regs[pz004RegEnergyLo], regs[pz004RegEnergyHi])),
		FrequencyHz:  float64(regs[pz004RegFrequency]) / 10,
		PowerFactor:  float64(regs[pz004RegPowerFact]) / 100,
		AlarmOverPwr: regs[pz004RegAlarm] == pz004AlarmActive,
	}, nil
}

// ACReadFrame builds the Read Input Registers request for a full metrics
// refresh on addr.
func ACReadFrame(addr byte) modbus.Frame {
	return modbus.NewReadFrame(addr, modbus.FuncReadInputRegisters, 0x0000, pz004InputRegCount)
}

// ACGetOptionsFrame builds the request to read the full AC holding-register
// block (alarm threshold + address) in one round trip. ACGetAlarmThresholdFrame
// and ACGetModbusAddressFrame are the same request under the names spec's
// per-purpose accessors use: there is no way to read just one of the two
// registers, so all three return an identical frame.
func ACGetOptionsFrame(addr byte) modbus.Frame {
	return modbus.NewReadFrame(addr, modbus.FuncReadHoldingRegisters, pz004HoldAlarmThresh, pz004HoldCount)
}

// ACGetAlarmThresholdFrame is an alias for ACGetOptionsFrame; see its doc.
func ACGetAlarmThresholdFrame(addr byte) modbus.Frame { return ACGetOptionsFrame(addr) }

// ACGetModbusAddressFrame is an alias for ACGetOptionsFrame; see its doc.
func ACGetModbusAddressFrame(addr byte) modbus.Frame { return ACGetOptionsFrame(addr) }

// ACSetAlarmThresholdFrame builds the request to write the over-power alarm
// threshold, in watts.
func ACSetAlarmThresholdFrame(addr byte, watts uint16) modbus.Frame {
	return modbus.NewWriteSingleRegisterFrame(addr, pz004HoldAlarmThresh, watts)
}

// ACSetAddressFrame builds the request to reassign the meter's slave
// address. newAddr outside [AddrMin, AddrMax] is rejected by the caller
// (see Meter.SetAddress); the wire layer does not re-validate it.
func ACSetAddressFrame(addr byte, newAddr byte) modbus.Frame {
	return modbus.NewWriteSingleRegisterFrame(addr, pz004HoldAddr, uint16(newAddr))
}

// ACResetEnergyFrame builds the non-standard energy-counter reset request
// (function 0x42). It must be sent to the meter's own address, never to a
// broadcast address, mirroring the firmware's restriction.
func ACResetEnergyFrame(addr byte) modbus.Frame {
	return modbus.NewResetEnergyFrame(addr)
}
