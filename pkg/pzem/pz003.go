package pzem

import "github.com/vortigont/pzem-edl/pkg/modbus"

// Input-register map for the DC/shunt (PZEM-003-class) meter family.
const (
	pz003RegVoltage    uint16 = 0x0000
	pz003RegCurrent    uint16 = 0x0001
	pz003RegPowerLo    uint16 = 0x0002
	pz003RegPowerHi    uint16 = 0x0003
	pz003RegEnergyLo   uint16 = 0x0004
	pz003RegEnergyHi   uint16 = 0x0005
	pz003RegAlarmHigh  uint16 = 0x0006
	pz003RegAlarmLow   uint16 = 0x0007
	pz003InputRegCount uint16 = 8
)

// Holding-register map. A Read Holding Registers request starts at
// pz003HoldAlarmHigh and reads pz003HoldCount registers, covering the
// whole block in one round trip.
const (
	pz003HoldAlarmHigh  uint16 = 0x0000
	pz003HoldAlarmLow   uint16 = 0x0001
	pz003HoldAddr       uint16 = 0x0002
	pz003HoldShuntRange uint16 = 0x0003
	pz003HoldCount      uint16 = 4
)

const pz003AlarmActive uint16 = 0xFFFF

// ShuntRange selects the DC meter's current-shunt range, written via
// DCSetShuntRangeFrame (holding register pz003HoldShuntRange).
type ShuntRange byte

const (
	Shunt100A ShuntRange = 0
	Shunt50A  ShuntRange = 1
	Shunt200A ShuntRange = 2
	Shunt300A ShuntRange = 3
)

// DCMetrics holds the live readings for a MeterDC meter. Divisors differ
// from the AC family: voltage/100, current/100, power/10, energy as-is.
// Unlike MeterA, alarms are two independent flags (over-voltage,
// under-voltage), not a single over-power bit.
type DCMetrics struct {
	VoltageV      float64
	CurrentA      float64
	PowerW        float64
	EnergyWh      float64
	AlarmHighVolt bool
	AlarmLowVolt  bool
}

func (m *DCMetrics) Voltage() float64 { return m.VoltageV }
func (m *DCMetrics) Current() float64 { return m.CurrentA }
func (m *DCMetrics) Power() float64   { return m.PowerW }
func (m *DCMetrics) Energy() float64  { return m.EnergyWh }
func (m *DCMetrics) Clone() Metrics {
	c := *m
	return &c
}

// DCOptions holds the holding-register settings block read back by
// DCGetOptionsFrame: both alarm thresholds (0.01V units), the meter's own
// slave address, and its configured shunt range.
type DCOptions struct {
	AlarmHighV uint16
	AlarmLowV  uint16
	Addr       byte
	Shunt      ShuntRange
}

// ParseDCOptions decodes a Read Holding Registers response body into
// DCOptions.
func ParseDCOptions(resp modbus.Response) (*DCOptions, error) {
	if resp.Function != modbus.FuncReadHoldingRegisters {
		return nil, newErr(ErrParse, "ParseDCOptions", errWrongFunction(resp.Function))
	}
	regs := resp.Registers()
	if uint16(len(regs)) != pz003HoldCount {
		return nil, newErr(ErrParse, "ParseDCOptions", errRegisterCount(len(regs), int(pz003HoldCount)))
	}
	return &DCOptions{
		AlarmHighV: regs[0],
		AlarmLowV:  regs[1],
		Addr:       byte(regs[2]),
		Shunt:      ShuntRange(regs[3]),
	}, nil
}

// ParseDCMetrics decodes a Read Input Registers response body into
// DCMetrics, using the same non-standard word order as the AC family for
// the 32-bit power/energy fields.
func ParseDCMetrics(resp modbus.Response) (*DCMetrics, error) {
	if resp.Function != modbus.FuncReadInputRegisters {
		return nil, newErr(ErrParse, "ParseDCMetrics", errWrongFunction(resp.Function))
	}
	regs := resp.Registers()
	if uint16(len(regs)) != pz003InputRegCount {
		return nil, newErr(ErrParse, "ParseDCMetrics", errRegisterCount(len(regs), int(pz003InputRegCount)))
	}
	return &DCMetrics{
		VoltageV:      float64(regs[pz003RegVoltage]) / 100,
		CurrentA:      float64(regs[pz003RegCurrent]) / 100,
		PowerW:        float64(modbus.Word32(regs[pz003RegPowerLo], regs[pz003RegPowerHi])) / 10,
		EnergyWh:      float64(modbus.Word32(regs[pz003RegEnergyLo], regs[pz003RegEnergyHi])),
		AlarmHighVolt: regs[pz003RegAlarmHigh] == pz003AlarmActive,
		AlarmLowVolt:  regs[pz003RegAlarmLow] == pz003AlarmActive,
	}, nil
}

// DCReadFrame builds the Read Input Registers request for a full metrics
// refresh on addr.
func DCReadFrame(addr byte) modbus.Frame {
	return modbus.NewReadFrame(addr, modbus.FuncReadInputRegisters, 0x0000, pz003InputRegCount)
}

// DCGetOptionsFrame builds the request to read the full DC holding-register
// block (both alarm thresholds, address, shunt range) in one round trip.
// DCGetAlarmThresholdFrame and DCGetModbusAddressFrame are the same request
// under the names spec's per-purpose accessors use.
func DCGetOptionsFrame(addr byte) modbus.Frame {
	return modbus.NewReadFrame(addr, modbus.FuncReadHoldingRegisters, pz003HoldAlarmHigh, pz003HoldCount)
}

// DCGetAlarmThresholdFrame is an alias for DCGetOptionsFrame; see its doc.
func DCGetAlarmThresholdFrame(addr byte) modbus.Frame { return DCGetOptionsFrame(addr) }

// DCGetModbusAddressFrame is an alias for DCGetOptionsFrame; see its doc.
func DCGetModbusAddressFrame(addr byte) modbus.Frame { return DCGetOptionsFrame(addr) }

// DCSetShuntRangeFrame builds the request to select the meter's
// current-shunt range.
func DCSetShuntRangeFrame(addr byte, shunt ShuntRange) modbus.Frame {
	return modbus.NewWriteSingleRegisterFrame(addr, pz003HoldShuntRange, uint16(shunt))
}

// DCSetAlarmThresholdsFrame builds the request to write both voltage alarm
// thresholds in one call; highVolt/lowVolt are in units of 0.01V.
func DCSetAlarmThresholdsFrame(addr byte, highVolt, lowVolt uint16) (hi, lo modbus.Frame) {
	return modbus.NewWriteSingleRegisterFrame(addr, pz003HoldAlarmHigh, highVolt),
		modbus.NewWriteSingleRegisterFrame(addr, pz003HoldAlarmLow, lowVolt)
}

// DCSetAddressFrame builds the request to reassign the meter's slave
// address.
func DCSetAddressFrame(addr byte, newAddr byte) modbus.Frame {
	return modbus.NewWriteSingleRegisterFrame(addr, pz003HoldAddr, uint16(newAddr))
}

// DCResetEnergyFrame builds the non-standard energy-counter reset request.
func DCResetEnergyFrame(addr byte) modbus.Frame {
	return modbus.NewResetEnergyFrame(addr)
}
