// Package pzem implements the two PZEM meter families (MeterA/AC and
// MeterDC) on top of pkg/modbus and pkg/transport: register maps, metric
// scaling, state tracking and the commands a caller can issue to a meter.
package pzem

import "fmt"

// Family distinguishes the two supported meter hardware lines. Their
// register maps, scale factors and alarm layouts differ; everything else
// (addressing, command set, transport) is shared.
type Family byte

const (
	FamilyAC Family = iota // PZEM-004T-class AC meter ("MeterA")
	FamilyDC                // PZEM-003-class DC/shunt meter ("MeterDC")
)

func (f Family) String() string {
	switch f {
	case FamilyAC:
		return "AC"
	case FamilyDC:
		return "DC"
	default:
		return "unknown"
	}
}

// Slave address range. 0xF8 is the factory "any address" value a freshly
// powered meter answers on before it has been assigned a unique address;
// it must never be used for more than one meter on the same bus at once.
const (
	AddrMin       byte = 0x01
	AddrMax       byte = 0xF7
	AddrAny       byte = 0xF8
	AddrBroadcast byte = 0x00
)

// Command identifies an operation a Meter can be asked to perform. It maps
// 1:1 onto a Modbus function code plus a register/payload shape.
type Command byte

const (
	CmdUpdateMetrics  Command = iota // read all live metrics
	CmdSetAddress                    // write a new slave address
	CmdResetEnergy                   // reset the cumulative energy counter
	CmdSetAlarmThresh                // write alarm thresholds: AC over-power, DC high/low voltage
	CmdCalibrate                     // factory calibration, password-gated
	CmdGetOptions                    // read the full holding-register settings block
	CmdSetShunt                      // DC only: select the current-shunt range
)

// ErrKind tags the taxonomy of failures a Meter/Port/Pool can surface
// through a callback without raising an exception up the call stack.
type ErrKind byte

const (
	ErrCRC ErrKind = iota
	ErrParse
	ErrModbus
	ErrQueueFull
	ErrTimeout
	ErrAllocation
	ErrInvalidConfig
)

func (k ErrKind) String() string {
	switch k {
	case ErrCRC:
		return "crc"
	case ErrParse:
		return "parse"
	case ErrModbus:
		return "modbus"
	case ErrQueueFull:
		return "queue_full"
	case ErrTimeout:
		return "timeout"
	case ErrAllocation:
		return "allocation"
	case ErrInvalidConfig:
		return "invalid_config"
	default:
		return "unknown"
	}
}

// Error is the tagged error type Meter's command methods and pool.Pool's
// AddMeter return; its Kind is meant to be switched on by callers, not
// string-matched. pkg/modbus decode failures and pkg/transport's
// ErrQueueFull are plain errors (Meter wraps the latter as ErrQueueFull).
type Error struct {
	Kind ErrKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pzem: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("pzem: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind ErrKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// State is the fields every meter, regardless of family, tracks about
// itself beyond the live metrics: its bus address and the last command
// outcome.
type State struct {
	Addr      byte
	Family    Family
	LastCmd   Command
	LastErr   error
	UpdatedAt int64 // unix millis of the last successful UpdateMetrics/GetOptions/write ack

	// ACOptions/DCOptions hold the settings block last read or written via
	// the holding registers; only the field matching Family is ever set.
	ACOptions *ACOptions
	DCOptions *DCOptions
}

// Metrics is implemented by ACMetrics and DCMetrics so that
// family-agnostic code (time-series, averaging) can handle either.
type Metrics interface {
	// Voltage in volts, Current in amps, Power in watts, Energy in
	// watt-hours (cumulative, never reset by averaging).
	Voltage() float64
	Current() float64
	Power() float64
	Energy() float64
	// Clone returns a deep copy safe to retain after the call returns.
	Clone() Metrics
}
